// Command hotelledger runs the hotel entitlement and billing ledger as a
// standalone HTTP service.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xraph/hotelledger/extension"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "hotelledger",
	Short:         "Hotel SaaS entitlement and billing ledger",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		extension.LoadEnv(slog.Default())
		slog.SetDefault(newLogger(extension.GetEnv("LOG_LEVEL", "info")))
		if storeFlags.driver == "" {
			storeFlags.driver = extension.GetEnv("STORE_DRIVER", "memory")
		}
		if storeFlags.dsn == "" {
			storeFlags.dsn = extension.GetEnv("DATABASE_URL", "")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storeFlags.driver, "store", "",
		"store backend: memory, sqlite or postgres (env STORE_DRIVER, default memory)")
	rootCmd.PersistentFlags().StringVar(&storeFlags.dsn, "dsn", "",
		"database connection string for sqlite or postgres (env DATABASE_URL)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hotelledger %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
