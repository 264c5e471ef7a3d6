package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/guidecam/internal/config"
	"github.com/andresmejia3/guidecam/internal/corpus"
	"github.com/andresmejia3/guidecam/internal/store"
	"github.com/andresmejia3/guidecam/internal/utils"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options holds shared configuration for build, guide, search and add commands
type Options struct {
	ImageDir    string
	NumEngines  int
	Renumber    bool
	KeepStale   bool
	TopK        int
	AddPolicy   string
	Input       string
	Format      string
	Width       int
	Height      int
	NoMirror    bool
	PreviewPath string
}

var (
	// DB is the guide corpus shared by subcommands
	DB *corpus.DB
	// PG is set when the corpus lives in PostgreSQL
	PG *store.Store
	// Cfg is the loaded tuning file
	Cfg *config.Config

	logger *zap.Logger

	dbURL        string
	corpusPath   string
	configPath   string
	inferenceURL string
	verbose      bool
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "guidecam",
	Short:   "Pose-guided camera: find a guide photo and match its pose live",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional
		_ = godotenv.Load()

		var err error
		logger, err = newLogger(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		Cfg, err = config.Load(configPath)
		if err != nil {
			utils.ShowError("Failed to load config", err, nil)
			return err
		}
		if inferenceURL != "" {
			Cfg.Worker.InferenceURL = inferenceURL
		}
		if err := Cfg.Validate(); err != nil {
			utils.ShowError("Invalid config", err, nil)
			return err
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = openCorpus(cmd.Context())
		if err != nil {
			utils.ShowError("Failed to open guide database", err, nil)
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if PG != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			PG.Close(context.Background())
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
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
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string; when unset the corpus is a local file")
	rootCmd.PersistentFlags().StringVar(&corpusPath, "corpus", "feature_db.gob", "Path to the local corpus file")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "guidecam.yaml", "Path to the YAML tuning file")
	rootCmd.PersistentFlags().StringVar(&inferenceURL, "inference-url", "", "Use the HTTP inference service at this URL instead of a local worker")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

// postgresURL resolves the connection string from the flag, GUIDECAM_DB, or
// the POSTGRES_* variables. Empty means use the local file.
func postgresURL() string {
	if dbURL != "" {
		return dbURL
	}
	if v := os.Getenv("GUIDECAM_DB"); v != "" {
		return v
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	return ""
}

func openCorpus(ctx context.Context) (*corpus.DB, error) {
	if url := postgresURL(); url != "" {
		var err error
		PG, err = store.New(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		logger.Debug("using postgres corpus")
		return corpus.Open(ctx, PG, logger)
	}
	logger.Debug("using file corpus", zap.String("path", corpusPath))
	return corpus.Open(ctx, corpus.NewFilePersister(corpusPath, logger), logger)
}
