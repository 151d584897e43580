package run

import (
	"github.com/spf13/cobra"

	"github.com/sipeed/mp3relay/cmd/mp3relay/internal"
)

func NewRunCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "run",
		Aliases: []string{"r"},
		Short:   "Start the Telegram bot and relay audio until interrupted",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRelay(cmd.Context(), debug)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().StringVarP(&internal.ConfigPathOverride, "config", "c", "", "Path to config.json")

	return cmd
}
