package cmd

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/andrei-cloud/go_appool/internal/ctl"
)

var (
	monitorAddr     string
	monitorInterval int
)

type statusMsg struct {
	reply ctl.Reply
	err   error
}

type tickMsg time.Time

type monitorModel struct {
	client   *ctl.Client
	interval time.Duration
	reply    ctl.Reply
	err      error
}

func (m monitorModel) Init() tea.Cmd {
	return m.fetch
}

func (m monitorModel) fetch() tea.Msg {
	reply, err := m.client.Send(ctl.Request{Cmd: ctl.CmdStatus})

	return statusMsg{reply: reply, err: err}
}

func (m monitorModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	case statusMsg:
		m.reply = msg.reply
		m.err = msg.err

		return m, m.tick()
	case tickMsg:
		return m, m.fetch
	}

	return m, nil
}

func (m monitorModel) View() string {
	header := fmt.Sprintf("go_appool monitor: %s (q to quit)\n\n", monitorAddr)
	if m.err != nil {
		return header + fmt.Sprintf("error: %v\n", m.err)
	}

	return header + m.reply.Text
}

// monitorCmd represents the monitor command.
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live view of a running pool",
	Long:  `Poll a running go_appool instance and render its status full-screen, refreshing on an interval.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		// Disable logging for CLI commands
		log.Logger = log.Logger.Level(zerolog.Disabled)

		client, err := ctl.NewClient(monitorAddr)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", monitorAddr, err)
		}
		defer client.Close()

		model := monitorModel{
			client:   client,
			interval: time.Duration(monitorInterval) * time.Second,
		}

		p := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("monitor terminated: %w", err)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().StringVarP(&monitorAddr, "addr", "a", "127.0.0.1:7832", "Control server address")
	monitorCmd.Flags().IntVarP(&monitorInterval, "interval", "i", 1, "Refresh interval in seconds")
}
