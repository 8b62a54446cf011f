package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/skuscan/internal/logging"
	"github.com/andresmejia3/skuscan/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Options holds the flags of the run command
type Options struct {
	InputPath     string
	ConfigPath    string
	SkipFrames    int
	QueueCapacity int
	Backend       string
	Model         string
	Headless      bool
	Realtime      bool
	PreviewPath   string
	LogFile       string
}

var (
	// DB is the global database connection shared by subcommands. Nil when no database is configured.
	DB *store.Store
	// dbURL is the connection string
	dbURL    string
	logLevel string
)

// Version is the application version.
const Version = "0.1.0"

const defaultDBURL = "postgres://localhost:5432/skuscan"

// Commands declare their database needs through this annotation.
const (
	dbAnnotation = "db"
	dbRequired   = "required"
	dbOptional   = "optional"
)

var rootCmd = &cobra.Command{
	Use:     "skuscan",
	Short:   "Shelf video SKU detection pipeline",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(logLevel, os.Stderr)

		mode := cmd.Annotations[dbAnnotation]
		if mode == "" {
			return nil
		}
		url := resolveDBURL(dbURL, mode == dbRequired)
		if url == "" {
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		var err error
		DB, err = store.New(cmd.Context(), url)
		if err != nil {
			if mode == dbRequired {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			log.Warn().Err(err).Msg("database unavailable, using built-in SKU table")
			DB = nil
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

// resolveDBURL picks the connection string: flag, then POSTGRES_* environment,
// then the local default when fallback is set.
func resolveDBURL(flag string, fallback bool) string {
	if flag != "" {
		return flag
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		if name == "" {
			name = "skuscan"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	if fallback {
		return defaultDBURL
	}
	return ""
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
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: POSTGRES_* env, then "+defaultDBURL+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error (SKUSCAN_LOG_LEVEL overrides)")
}
