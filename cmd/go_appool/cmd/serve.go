package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/andrei-cloud/go_appool/internal/config"
	"github.com/andrei-cloud/go_appool/internal/ctl"
	"github.com/andrei-cloud/go_appool/internal/logging"
	"github.com/andrei-cloud/go_appool/internal/pool"
	"github.com/andrei-cloud/go_appool/internal/spawn"
)

var (
	serveAddr string
	debugMode bool
	humanLogs bool
	workerCmd string
	socketDir string
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the application pool server",
	Long:  `Start the application instance pool and its control server, spawning worker processes on demand.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.Initialize(); err != nil {
			return err
		}
		cfg := config.Get()

		level := cfg.Log.Level
		if debugMode {
			level = "debug"
		}
		logging.InitLogger(level, humanLogs || cfg.Log.Format == "human")

		if serveAddr == "" {
			serveAddr = cfg.Server.Addr
		}
		if workerCmd == "" {
			workerCmd = cfg.Spawn.Command
		}
		if socketDir == "" {
			socketDir = cfg.Spawn.SocketDir
		}

		manager, err := spawn.NewManager(spawn.Config{
			SocketDir:      socketDir,
			Command:        workerCmd,
			ConnectTimeout: time.Duration(cfg.Spawn.ConnectTimeout) * time.Second,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to initialize spawn manager")

			return err
		}

		p := pool.New(manager)
		defer p.Close()
		p.SetMax(cfg.Pool.Max)
		p.SetMaxPerApp(cfg.Pool.MaxPerApp)
		p.SetMaxIdleTime(time.Duration(cfg.Pool.MaxIdleTime) * time.Second)

		srv, err := ctl.NewServer(serveAddr, p)
		if err != nil {
			log.Error().Err(err).Msg("failed to initialize control server")

			return err
		}

		stopChan := make(chan os.Signal, 1)
		signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

		var g errgroup.Group
		g.Go(func() error {
			return srv.Start()
		})
		g.Go(func() error {
			sig := <-stopChan
			log.Info().Msgf("signal %v received, shutting down", sig)

			return srv.Stop()
		})

		if err := g.Wait(); err != nil {
			log.Error().Err(err).Msg("server terminated with error")

			return err
		}

		log.Info().Msg("server stopped gracefully")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "Control server address")
	serveCmd.Flags().StringVar(&workerCmd, "command", "", "Worker start command")
	serveCmd.Flags().StringVar(&socketDir, "socket-dir", "", "Rendezvous socket directory")
	serveCmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	serveCmd.Flags().BoolVar(&humanLogs, "human", false, "Enable human-readable logs")
}
