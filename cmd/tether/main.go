// Command tether runs a tether server and talks to one from the command line.
//
// Commands:
//
//	serve: starts a server, optionally with Lua handlers
//	call: sends one message to a server and prints the response
//	version: prints the version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "tether",
	Short: "Correlated request/response messaging over WebSockets",
	Long: `tether stands up a WebSocket server whose clients exchange JSON envelopes
	correlated by id. Handlers can be written in Lua and loaded at startup.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tether %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, callCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
