// mp3relay - Telegram bot that turns video links into MP3 attachments
// License: MIT
//
// Copyright (c) 2026 mp3relay contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sipeed/mp3relay/cmd/mp3relay/internal"
	"github.com/sipeed/mp3relay/cmd/mp3relay/internal/configcmd"
	"github.com/sipeed/mp3relay/cmd/mp3relay/internal/run"
	"github.com/sipeed/mp3relay/cmd/mp3relay/internal/version"
)

func NewMP3RelayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mp3relay",
		Short:         "Telegram bot that sends YouTube audio back as MP3",
		Version:       internal.FormatVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		run.NewRunCommand(),
		version.NewVersionCommand(),
		configcmd.NewConfigCommand(),
	)

	return cmd
}

func main() {
	if err := NewMP3RelayCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
