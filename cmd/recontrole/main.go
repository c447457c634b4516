package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fentz26/recontrole/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "recontrole",
	Short: "Recontrole - occurrence reports and status monitor",
	Long: `Recontrole lists and files occurrence reports and runs a background monitor
that notifies you when the status of one of your reports changes.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLogging(logLevel); err != nil {
			return err
		}
		return loadConfig()
	},
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	configPath string
	dbPath     string
	logLevel   string
	apiAddr    string

	cfg *config.Config
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database DSN (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "", "API server address (default from config api.listen)")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(reportsCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(versionCmd)
}

func setupLogging(level string) error {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q, must be: debug, info, warn, or error", level)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}

func loadConfig() error {
	loaded, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		loaded.Database.DSN = dbPath
	}
	if apiAddr == "" {
		apiAddr = "http://" + loaded.API.Listen
	}
	cfg = loaded
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
