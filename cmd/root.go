package cmd

import (
	"fmt"
	"os"

	"github.com/op/go-logging"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/shiftq/internal/config"
)

var log = logging.MustGetLogger("log")

var (
	configPath string
	logLevel   string
	section    string

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "shiftq",
	Short: "shiftq – resilient shift action delivery for shop-floor kiosks",
	Long: `shiftq records shift start/end/cancel and quantity registrations against a
remote workflow backend. Actions that cannot be delivered are kept in a durable
queue and retried; the local view of who is active is reconciled with the
backend periodically. Configuration lives in ~/.shiftq/config.json.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute is the entry point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.shiftq/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: DEBUG, INFO, WARNING, ERROR (overrides config)")
	rootCmd.PersistentFlags().StringVar(&section, "section", "", "Section to act on (optional when only one is configured)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(switchCmd)
	rootCmd.AddCommand(endCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(flushCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	if err := InitLogger(level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.Debugf("config: %+v", cfg)
	return nil
}

// InitLogger parses logLevel and configures go-logging to write leveled,
// timestamped lines to stderr, keeping stdout for command output.
func InitLogger(logLevel string) error {
	baseBackend := logging.NewLogBackend(os.Stderr, "", 0)
	format := logging.MustStringFormatter(
		`%{time:2006-01-02 15:04:05} %{level:.5s}     %{message}`,
	)
	backendFormatter := logging.NewBackendFormatter(baseBackend, format)

	backendLeveled := logging.AddModuleLevel(backendFormatter)
	logLevelCode, err := logging.LogLevel(logLevel)
	if err != nil {
		return err
	}
	backendLeveled.SetLevel(logLevelCode, "")

	logging.SetBackend(backendLeveled)
	return nil
}
