/*
PURPOSE:
  Defines the 'run' subcommand.
  Executes one load test and writes the report.

REQUIREMENTS:
  User-specified:
  - Flags: host, port, duration, rps, load test type, output file,
    payload, jitter (default 50).
  - Weighted multi-host mode via host=weight pairs.

  Implementation-discovered:
  - Need to load config first.
  - Apply only the flags the user actually set, so file values survive.
  - --host and --bias replace each other's file value.

ARCHITECTURE INTEGRATION:
  - Calls: internal/engine.Run()
  - Uses: internal/config

ERROR HANDLING:
  - Returns error if config load, validation or the run fails.
  - A run with only failed requests is not an error.

IMPLEMENTATION RULES:
  - Setup flags in init().
  - Logic: Load Config -> Override -> Validate -> Engine.Run.

USAGE:
  kali run -H 127.0.0.1 -p 8080 -d 5 -r 10 -l tcp -o output.json -P "Hello World"
  kali run --bias 10.0.0.1=70 --bias 10.0.0.2=30 -p 9000 -r 100

RELATED FILES:
  - internal/cli/root.go
*/

package cli

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/daryltucker/kali/internal/config"
	"github.com/daryltucker/kali/internal/engine"
	"github.com/daryltucker/kali/internal/output"
)

var runFlags = struct {
	host            string
	bias            map[string]int64
	port            uint16
	duration        uint64
	rps             uint32
	loadTestType    string
	outputFile      string
	payload         string
	payloadFile     string
	jitter          uint64
	concurrency     int
	seed            uint64
	requireResponse bool
	timeout         time.Duration
	csvFile         string
	historyDB       string
	metricsAddr     string
}{}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a load test",
	Long: `Runs a TCP load test for a fixed duration.

Each worker repeatedly connects to a target, writes the payload, performs one
bounded read and records the outcome, then sleeps so that all workers together
approximate the requested rate. Failed requests are recorded, never retried.
The report is written as JSON to the output file.`,
	Example: `  # Single target, 10 requests per second for 5 seconds
  kali run -H 127.0.0.1 -p 8080 -d 5 -r 10 -l tcp -o output.json -P "Hello World"

  # Two targets, 70/30 split
  kali run --bias 10.0.0.1=70 --bias 10.0.0.2=30 -p 9000 -d 30 -r 200

  # Use kali.yaml from the working directory, override the rate
  kali run -r 50`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. Load Config
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		// 2. Overrides
		if err := applyRunFlags(cmd.Flags(), cfg); err != nil {
			return err
		}
		if logLevel == "" && cfg.LogLevel != "" {
			l, err := output.NewLogger(os.Stdout, cfg.LogLevel)
			if err != nil {
				return err
			}
			output.SetLogger(l)
		}

		// 3. Validation
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		if _, err := engine.NewTargets(cfg.Host, cfg.Bias); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		// 4. Execution
		_, err = engine.Run(cmd.Context(), cfg)
		return err
	},
}

func applyRunFlags(flags *pflag.FlagSet, cfg *config.Config) error {
	f := runFlags

	if flags.Changed("host") {
		cfg.Host = f.host
		cfg.Bias = nil
	}
	if flags.Changed("bias") {
		bias, err := toWeights(f.bias)
		if err != nil {
			return err
		}
		cfg.Bias = bias
		if !flags.Changed("host") {
			cfg.Host = ""
		}
	}
	if flags.Changed("port") {
		cfg.Port = f.port
	}
	if flags.Changed("duration") {
		cfg.Duration = f.duration
	}
	if flags.Changed("rps") {
		cfg.RPS = f.rps
	}
	if flags.Changed("load-test-type") {
		cfg.LoadTestType = f.loadTestType
	}
	if flags.Changed("output-file") {
		cfg.OutputFile = f.outputFile
	}
	if flags.Changed("payload") {
		cfg.Payload = f.payload
	}
	if flags.Changed("payload-file") {
		data, err := os.ReadFile(f.payloadFile)
		if err != nil {
			return fmt.Errorf("failed to read payload file: %w", err)
		}
		cfg.Payload = string(data)
	}
	if flags.Changed("jitter") {
		cfg.Jitter = f.jitter
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = f.concurrency
	}
	if flags.Changed("seed") {
		cfg.Seed = f.seed
	}
	if flags.Changed("require-response") {
		cfg.RequireResponse = f.requireResponse
	}
	if flags.Changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if flags.Changed("csv") {
		cfg.CSVFile = f.csvFile
	}
	if flags.Changed("history-db") {
		cfg.HistoryDB = f.historyDB
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	return nil
}

// toWeights narrows flag values to uint32. Zero weights pass through so
// engine.NewTargets reports them.
func toWeights(in map[string]int64) (map[string]uint32, error) {
	out := make(map[string]uint32, len(in))
	for host, w := range in {
		if w < 0 || w > math.MaxUint32 {
			return nil, fmt.Errorf("invalid bias weight %d for %s", w, host)
		}
		out[host] = uint32(w)
	}
	return out, nil
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.StringVarP(&runFlags.host, "host", "H", "", "Target host (exclusive with --bias)")
	f.StringToInt64Var(&runFlags.bias, "bias", nil, "Weighted targets as host=weight (repeatable, exclusive with --host)")
	f.Uint16VarP(&runFlags.port, "port", "p", 0, "Target port")
	f.Uint64VarP(&runFlags.duration, "duration", "d", 0, "Test duration in seconds")
	f.Uint32VarP(&runFlags.rps, "rps", "r", 0, "Target requests per second")
	f.StringVarP(&runFlags.loadTestType, "load-test-type", "l", config.LoadTestTCP, "Load test type (tcp)")
	f.StringVarP(&runFlags.outputFile, "output-file", "o", "", "Path of the JSON report")
	f.StringVarP(&runFlags.payload, "payload", "P", "", "Bytes written on every connection")
	f.StringVar(&runFlags.payloadFile, "payload-file", "", "Read the payload from a file (overrides --payload)")
	f.Uint64VarP(&runFlags.jitter, "jitter", "j", 50, "Maximum random delay added to each pause, in milliseconds")
	f.IntVar(&runFlags.concurrency, "concurrency", 0, "Number of workers (default: one per rps slot)")
	f.Uint64Var(&runFlags.seed, "seed", 0, "Seed for target selection and jitter (0 = random)")
	f.BoolVar(&runFlags.requireResponse, "require-response", false, "Count a connection closed without data as a failure")
	f.DurationVar(&runFlags.timeout, "timeout", 0, "Dial and I/O timeout, e.g. 2s (default: none)")
	f.StringVar(&runFlags.csvFile, "csv", "", "Also write per-request metrics as CSV")
	f.StringVar(&runFlags.historyDB, "history-db", "", "Save the run to this SQLite database")
	f.StringVar(&runFlags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
}
