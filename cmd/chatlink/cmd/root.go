package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nfrund/chatlink/internal/app"
	"github.com/nfrund/chatlink/internal/config"
	"github.com/nfrund/chatlink/internal/logging"
	"github.com/nfrund/chatlink/internal/reconcile"
)

var rootCmd = &cobra.Command{
	Use:   "chatlink",
	Short: "Terminal client for the chat backend",
	Long: `chatlink is a terminal client for a room-based realtime chat backend.

Available commands:
  login       Authenticate and store the session locally
  register    Create an account and log in
  logout      End the session and clear stored credentials
  rooms       List or create chat rooms
  chat        Join rooms and chat interactively

Use "chatlink [command] --help" for more information about a specific command.`,
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp builds the wired client for one command invocation.
func newApp(engineOpts ...reconcile.Option) *app.Dependencies {
	logging.New(os.Stderr)
	return app.New(config.New(), app.WithEngineOptions(engineOpts...))
}
