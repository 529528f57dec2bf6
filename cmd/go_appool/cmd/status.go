package cmd

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/andrei-cloud/go_appool/internal/ctl"
)

var (
	statusAddr string
	statusXML  bool
)

// statusCmd represents the status command.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running pool",
	Long:  `Query a running go_appool instance over its control channel and print the pool report.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// Disable logging for CLI commands
		log.Logger = log.Logger.Level(zerolog.Disabled)

		client, err := ctl.NewClient(statusAddr)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", statusAddr, err)
		}
		defer client.Close()

		command := ctl.CmdStatus
		if statusXML {
			command = ctl.CmdXML
		}

		reply, err := client.Send(ctl.Request{Cmd: command})
		if err != nil {
			return err
		}

		fmt.Fprint(cmd.OutOrStdout(), reply.Text)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVarP(&statusAddr, "addr", "a", "127.0.0.1:7832", "Control server address")
	statusCmd.Flags().BoolVar(&statusXML, "xml", false, "Output XML instead of text")
}
