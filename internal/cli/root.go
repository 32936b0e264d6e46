/*
PURPOSE:
  Defines the root Cobra command for the kali CLI.
  Handles global flags and command initialization.

REQUIREMENTS:
  User-specified:
  - Provide a CLI interface.
  - Support global flags like --config.

  Implementation-discovered:
  - Needs to expose an Execute() function for main.go.
  - The signal-aware context from main must reach the engine.

ARCHITECTURE INTEGRATION:
  - Called by: cmd/kali/main.go
  - Calls: Child commands (run, init, history)

ERROR HANDLING:
  - Returns error to main.go for exit code handling.

IMPLEMENTATION RULES:
  - Use `PersistentFlags()` for flags available to all subcommands.
  - Keep Run logic in subcommands, Root is usually empty or helps.

RELATED FILES:
  - cmd/kali/main.go
*/

package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/daryltucker/kali/internal/output"
)

var (
	// cfgFile stores the path to the config file (if specified via flag)
	cfgFile  string
	logLevel string

	rootCmd = &cobra.Command{
		Use:   "kali",
		Short: "TCP load generator",
		Long: `kali opens concurrent TCP connections against one or more hosts at a
configured rate, measures per-request latency and success, and writes a JSON
report. Use 'run --help' for load test options.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel == "" {
				return nil
			}
			l, err := output.NewLogger(os.Stdout, logLevel)
			if err != nil {
				return err
			}
			output.SetLogger(l)
			return nil
		},
	}
)

// Execute executes the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./kali.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}
