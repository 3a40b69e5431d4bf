package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/dcawatch/internal/audit"
	"github.com/ppiankov/dcawatch/internal/config"
	"github.com/ppiankov/dcawatch/internal/contract"
)

// Exit codes.
const (
	ExitFailure = 1
	ExitConfig  = 78 // EX_CONFIG
)

var (
	configPath    string
	flagContracts string
	flagLedger    string
	flagBackend   string
	flagLogLevel  string
	flagLogFormat string
)

// cfg and logger are set by the root PersistentPreRunE.
var (
	cfg    *config.Config
	logger *slog.Logger
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Path to config YAML (default ~/.dcawatch/config.yaml)")
	pf.StringVar(&flagContracts, "contracts", "", "Path to DCA contract file (overrides config)")
	pf.StringVar(&flagLedger, "ledger", "", "Path to audit ledger (overrides config)")
	pf.StringVar(&flagBackend, "backend", "", "Ledger backend: json|jsonl|sqlite|memory (overrides config)")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")
	pf.StringVar(&flagLogFormat, "log-format", "", "Log format: text|json (overrides config)")
}

var rootCmd = &cobra.Command{
	Use:           "dcawatch",
	Short:         "SLA governance and tamper-evident audit for debt collection agencies",
	Long:          "Evaluates collection cases against per-agency SLA contracts and records\nevery action in a hash-chained ledger that can be verified at any time.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
}

func loadConfig() error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if flagContracts != "" {
		c.Contracts = flagContracts
	}
	if flagLedger != "" {
		c.Ledger.Path = flagLedger
	}
	if flagBackend != "" {
		c.Ledger.Backend = flagBackend
	}
	if flagLogLevel != "" {
		c.Log.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		c.Log.Format = flagLogFormat
	}
	if err := c.Validate(); err != nil {
		return err
	}

	l, err := c.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	cfg, logger = c, l
	slog.SetDefault(l)
	return nil
}

// exitCode maps startup failures to EX_CONFIG and everything else to 1.
func exitCode(err error) int {
	var (
		parseErr *contract.ParseError
		initErr  *audit.InitError
	)
	switch {
	case errors.Is(err, config.ErrInvalid),
		errors.As(err, &parseErr),
		errors.As(err, &initErr):
		return ExitConfig
	default:
		return ExitFailure
	}
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errVerifyFailed) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}
