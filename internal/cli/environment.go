package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/vvka-141/detloader/internal/batch"
	"github.com/vvka-141/detloader/internal/config"
	"github.com/vvka-141/detloader/internal/db"
	"github.com/vvka-141/detloader/internal/extract"
	"github.com/vvka-141/detloader/internal/loader"
	"github.com/vvka-141/detloader/internal/logging"
	"github.com/vvka-141/detloader/internal/metrics"
	"github.com/vvka-141/detloader/internal/services"
	"github.com/vvka-141/detloader/internal/staging"
	"github.com/vvka-141/detloader/internal/state"
	"github.com/vvka-141/detloader/internal/transform"
	"github.com/vvka-141/detloader/internal/warehouse"
	"github.com/vvka-141/detloader/pkg/detloader"
)

// environment is the resolved configuration and logger of one command invocation.
type environment struct {
	cfg    *config.Config
	logger detloader.Logger
}

// loadEnvironment reads .env, the config file and DETLOADER_* overrides, then validates.
func loadEnvironment(cmd *cobra.Command) (*environment, error) {
	if err := config.LoadEnvFile(); err != nil {
		return nil, fmt.Errorf("%w: %v", detloader.ErrInvalidConfig, err)
	}

	cfg, err := config.Load(globalFlags.configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", detloader.ErrInvalidConfig, err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	verbose := getVerboseFlag(cmd)
	logger := logging.NewConsoleLogger(verbose)
	if verbose {
		path := globalFlags.configPath
		if path == "" {
			path = config.ConfigFileName
		}
		logger.Verbose("Config: %s (staging %s, state %s)", path, cfg.StagingDir, cfg.StateFile)
	}
	return &environment{cfg: cfg, logger: logger}, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// retryPolicy is shared by the connector and the loader.
func (e *environment) retryPolicy() loader.RetryPolicy {
	return loader.RetryPolicy{
		MaxAttempts:  e.cfg.Retry.MaxAttempts,
		InitialDelay: e.cfg.Retry.InitialDelay,
		MaxDelay:     e.cfg.Retry.MaxDelay,
		Multiplier:   e.cfg.Retry.Multiplier,
	}
}

// resolveConnection applies flag > environment > config precedence.
func (e *environment) resolveConnection() (*detloader.ConnectionConfig, error) {
	granular := &db.GranularConnFlags{
		Host:     globalFlags.host,
		Port:     globalFlags.port,
		Username: globalFlags.username,
		Database: globalFlags.database,
		SSLMode:  globalFlags.sslMode,
	}
	cloud := &db.CloudFlags{
		Auth:           globalFlags.auth,
		AWSRegion:      globalFlags.awsRegion,
		GoogleInstance: globalFlags.googleInstance,
		AzureTenantID:  globalFlags.azureTenantID,
		AzureClientID:  globalFlags.azureClientID,
	}
	return db.ResolveConnectionParams(globalFlags.connection, granular, cloud, db.LoadFromEnvironment(), &e.cfg.Warehouse)
}

// connect opens the warehouse pool. The returned release closes the pool
// and any dialer the connector holds.
func (e *environment) connect(ctx context.Context) (*pgxpool.Pool, func(), error) {
	connConfig, err := e.resolveConnection()
	if err != nil {
		return nil, nil, err
	}
	logConnectionVerbose(e.logger, connConfig)

	connector, err := db.NewConnector(connConfig,
		db.WithLogger(e.logger),
		db.WithRetry(e.retryPolicy().Executor()),
	)
	if err != nil {
		return nil, nil, err
	}

	pool, err := connector.Connect(ctx)
	if err != nil {
		if c, ok := connector.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, nil, err
	}

	release := func() {
		pool.Close()
		if c, ok := connector.(io.Closer); ok {
			_ = c.Close()
		}
	}
	return pool, release, nil
}

func (e *environment) sink(pool *pgxpool.Pool) *warehouse.Sink {
	return warehouse.New(pool, warehouse.Options{
		Schema:       e.cfg.Warehouse.Schema,
		Table:        e.cfg.Warehouse.Table,
		RejectsTable: e.cfg.Warehouse.RejectsTable,
	}, e.logger)
}

func (e *environment) store() *state.Store {
	return state.NewStore(e.cfg.StateFile, e.logger, state.WithOptions(state.Options{
		LedgerMaxEntries:  e.cfg.Ledger.MaxEntries,
		LedgerRetention:   e.cfg.Ledger.Retention,
		QuarantineMaxRows: e.cfg.Quarantine.MaxRows,
	}))
}

func (e *environment) stagingProvider() staging.Provider {
	return staging.NewOSProvider()
}

// pipeline assembles the ETL stages over sink. m may be nil.
func (e *environment) pipeline(sink detloader.Sink, m *metrics.Metrics) *services.Pipeline {
	extractor := extract.New(e.stagingProvider(), e.cfg.StagingDir, e.logger)
	transformer := transform.New(transform.Options{
		MinConfidence: e.cfg.Transform.MinConfidence,
		ClampEpsilon:  e.cfg.Transform.ClampEpsilon,
	})
	ld := loader.New(sink, e.retryPolicy().Executor(), e.logger)

	return services.NewPipeline(extractor, transformer, ld, e.store(), e.logger, services.Options{
		Tracks: map[detloader.SourceType]batch.TrackConfig{
			detloader.SourceImage: {
				CountThreshold: e.cfg.Tracks.Image.CountThreshold,
				Interval:       e.cfg.Tracks.Image.Interval,
			},
			detloader.SourceVideo: {
				CountThreshold: e.cfg.Tracks.Video.CountThreshold,
				Interval:       e.cfg.Tracks.Video.Interval,
			},
		},
		CheckInterval: e.cfg.Daemon.CheckInterval,
		DrainTimeout:  e.cfg.Daemon.DrainTimeout,
		Metrics:       m,
	})
}

// logConnectionVerbose logs connection details when verbose mode is enabled.
func logConnectionVerbose(logger detloader.Logger, c *detloader.ConnectionConfig) {
	logger.Verbose("Connection resolved:")
	logger.Verbose("  Host: %s", c.Host)
	logger.Verbose("  Port: %d", c.Port)
	logger.Verbose("  User: %s", c.Username)
	logger.Verbose("  Database: %s", c.Database)
	logger.Verbose("  SSL Mode: %s", c.SSLMode)
	logger.Verbose("  Auth Method: %s", c.AuthMethod)
}
