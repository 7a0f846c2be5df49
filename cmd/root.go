package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
)

// rootCmd is the entry point when devservers is invoked without a
// subcommand.
var rootCmd = &cobra.Command{
	Use:   "devservers",
	Short: "Run and manage local development processes as tmux windows",
	Long: `devservers is a local daemon that runs your project's dev processes
(API, frontend, workers, databases) as named tmux windows and exposes a
REST and WebSocket API for starting, stopping, and inspecting them.

Services come from two sources: a hand-edited configuration file and a
devservers-compose.yml discovered in each registered project.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from main to
// inject the build-time version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "devservers version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}
