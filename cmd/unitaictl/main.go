// Command unitaictl is a diagnostic CLI for operators running the
// orchestration core locally. It is not the core's primary interface (that
// is the library API consumed by an MCP-style tool server) but a
// doctor-style harness for listing backends, exercising one, and tailing
// circuit/metric/audit state.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/unitai-dev/unitai-core/internal/logging"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
	cfgFile   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "unitaictl",
		Short: "Operate and inspect the unitai orchestration core",
		Long:  `unitaictl is a local diagnostic harness for the unitai AI backend orchestration core.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.unitai/config.json)")

	if err := logging.Init(logging.DefaultConfig()); err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logging:", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(
		newDoctorCmd(),
		newAskCmd(),
		newFanoutCmd(),
		newRedCmd(),
		newAuditCmd(),
		newServeCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print unitaictl version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("unitaictl %s (built %s)\n", version, buildTime)
			return nil
		},
	}
}

func rootLogger() *slog.Logger {
	return logging.WithComponent("unitaictl")
}
