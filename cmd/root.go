package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/fallwatch/internal/config"
	"github.com/andresmejia3/fallwatch/internal/logger"
	"github.com/andresmejia3/fallwatch/internal/store"
	"github.com/andresmejia3/fallwatch/internal/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// defaultDBURL is used by commands that need the database when nothing is configured.
const defaultDBURL = "postgres://localhost:5432/fallwatch"

var (
	// DB is the database connection shared by subcommands. It is nil until a
	// command asks for it through openDB.
	DB *store.Store
	// dbURL is the connection string from --db
	dbURL string

	logLevel  string
	logFormat string

	// cfg and log are initialized in PersistentPreRunE.
	cfg *config.Config
	log = zap.NewNop()
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "fallwatch",
	Short:   "Debounced fall detection for video streams",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			utils.ShowError("Invalid environment configuration", err, nil)
			return err
		}
		if dbURL != "" {
			c.Database.URL = dbURL
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		if logFormat != "" {
			c.Log.Format = logFormat
		}

		l, err := logger.NewLogger(c.Log.Level, c.Log.Format, "fallwatch")
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg, log = c, l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
			DB = nil
		}
		_ = log.Sync()
	},
}

// openDB connects to Postgres. When required is false and no URL is configured it
// does nothing, so the database stays optional for watch and replay.
func openDB(ctx context.Context, required bool) error {
	if DB != nil {
		return nil
	}
	url := cfg.Database.URL
	if url == "" {
		if !required {
			return nil
		}
		// Fallback to local default if no env vars are present
		url = defaultDBURL
	}

	var err error
	DB, err = store.New(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: DATABASE_URL or POSTGRES_* env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: LOG_LEVEL or info)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: json or console (default: LOG_FORMAT or json)")
}
