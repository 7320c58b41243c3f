package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	wserrors "github.com/vango-dev/worldsync/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "worldsyncd",
		Short: "Authoritative state replication server",
		Long: `worldsyncd runs a worldsync server.

It accepts clients over UDP or WebSocket, replicates the simulation's
world snapshots to them as full and delta frames, and exposes an admin
HTTP endpoint for health, metrics, connection diagnostics and bans.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		probeCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		wserrors.Print(os.Stderr, err)
		os.Exit(1)
	}
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}
