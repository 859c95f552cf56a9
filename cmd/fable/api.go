package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/fable/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running Fable server via HTTP.

These commands require a running server (fable serve).
Use --server to specify a custom server URL.

Examples:
  fable api health                  # Check server health
  fable api books generate "space"  # Submit a generation job
  fable api books watch <id>        # Stream generation progress`,
}

var booksCmd = &cobra.Command{
	Use:   "books",
	Short: "Book generation and management commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8080", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))

	// Books as subcommand group
	booksCmd.AddCommand((&endpoints.GenerateBookEndpoint{}).Command(getServerURL))
	booksCmd.AddCommand((&endpoints.RegenerateBookEndpoint{}).Command(getServerURL))
	booksCmd.AddCommand((&endpoints.CancelBookEndpoint{}).Command(getServerURL))
	booksCmd.AddCommand((&endpoints.ListBooksEndpoint{}).Command(getServerURL))
	booksCmd.AddCommand((&endpoints.GetBookEndpoint{}).Command(getServerURL))
	booksCmd.AddCommand((&endpoints.ProgressEndpoint{}).Command(getServerURL))
	booksCmd.AddCommand((&endpoints.ExportBookEndpoint{}).Command(getServerURL))
	booksCmd.AddCommand((&endpoints.WatchEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand(booksCmd)

	rootCmd.AddCommand(apiCmd)
}
