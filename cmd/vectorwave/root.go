package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/becomeliminal/vectorwave-go/config"
	"github.com/becomeliminal/vectorwave-go/database"
	"github.com/becomeliminal/vectorwave-go/logging"
	"github.com/becomeliminal/vectorwave-go/search"
	"github.com/becomeliminal/vectorwave-go/store"
)

// app holds what every subcommand needs once the root has resolved
// settings and built the logger.
type app struct {
	logLevel string
	envFile  string
	backend  string
	dataDir  string

	settings *config.Settings
	logger   *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "vectorwave",
		Short: "Record Go function executions in a vector database and search them",
		Long: `vectorwave manages the function and execution collections written by
instrumented Go programs and queries them.

Connection settings are read from the environment and an optional .env
file (WEAVIATE_HOST, WEAVIATE_PORT, VECTORWAVE_BACKEND, ...).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (default from VECTORWAVE_LOG_LEVEL)")
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file to load; empty disables")
	flags.StringVar(&a.backend, "backend", "", "store backend: weaviate or chromem (default from VECTORWAVE_BACKEND)")
	flags.StringVar(&a.dataDir, "data-dir", "", "chromem data directory (default from VECTORWAVE_DATA_DIR)")

	root.AddCommand(
		newInitCmd(a),
		newFunctionsCmd(a),
		newExecutionsCmd(a),
		newErrorsCmd(a),
		newSlowestCmd(a),
		newTraceCmd(a),
		newDemoCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	bootstrap := logging.NewOrNop(loggerConfig("warn", false))
	s := config.NewResolver(config.WithLogger(bootstrap), config.WithEnvFile(a.envFile)).Get()

	if cmd.Flags().Changed("backend") {
		s.Backend = a.backend
	}
	if cmd.Flags().Changed("data-dir") {
		s.DataDir = a.dataDir
	}
	level := s.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}

	logger, err := logging.New(loggerConfig(level, s.LogDevelopment))
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	a.settings = s
	a.logger = logger
	return nil
}

// loggerConfig starts from the production defaults, which log to stderr
// so command output on stdout stays clean.
func loggerConfig(level string, development bool) logging.Config {
	cfg := logging.DefaultConfig()
	if level != "" {
		cfg.Level = level
	}
	cfg.Development = development
	return cfg
}

// open connects to the store and makes sure the collections exist.
func (a *app) open(ctx context.Context) (store.Client, error) {
	client, err := database.Open(ctx, a.settings, database.WithLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return client, nil
}

// withSearcher runs fn with a searcher over a freshly opened client.
func (a *app) withSearcher(ctx context.Context, fn func(*search.Searcher) error) error {
	client, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	s, err := search.New(client, a.settings, search.WithLogger(a.logger))
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the function and execution collections if missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "Collections ready: %s, %s\n",
				a.settings.CollectionName, a.settings.ExecutionCollectionName)
			return nil
		},
	}
}

// parseFilters turns key=value pairs into equality filters. Values that
// parse as integers, floats or booleans keep that type.
func parseFilters(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filters := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q, want key=value", pair)
		}
		filters[key] = parseValue(value)
	}
	return filters, nil
}

func parseValue(s string) any {
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
