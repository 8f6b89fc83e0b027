package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vvka-141/detloader/internal/logging"
	"github.com/vvka-141/detloader/internal/retry"
	"github.com/vvka-141/detloader/pkg/detloader"
)

// Connection pool configuration constants
const (
	// DefaultMaxConns covers two concurrent track flushes plus stats queries.
	DefaultMaxConns = 4

	// DefaultMinConns maintains at least one connection in the pool.
	DefaultMinConns = 1

	// DefaultMaxConnIdleTime keeps connections alive across daemon ticks.
	DefaultMaxConnIdleTime = 30 * time.Minute
)

// Option configures a connector.
type Option func(*options)

type options struct {
	logger   detloader.Logger
	executor *retry.Executor
}

// WithLogger routes server notices and token warnings to logger.
func WithLogger(logger detloader.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRetry replaces the default connect retry policy.
func WithRetry(executor *retry.Executor) Option {
	return func(o *options) { o.executor = executor }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NewNullLogger()
	}
	if o.executor == nil {
		o.executor = retry.NewExecutor(
			retry.NewSinkErrorClassifier(),
			retry.ForTotalAttempts(detloader.DefaultRetryMaxAttempts,
				retry.WithInitialDelay(detloader.DefaultRetryInitialDelay),
				retry.WithMaxDelay(detloader.DefaultRetryMaxDelay),
			),
		)
	}
	return o
}

func configurePool(poolConfig *pgxpool.Config, logger detloader.Logger) {
	poolConfig.MaxConns = DefaultMaxConns
	poolConfig.MinConns = DefaultMinConns
	poolConfig.MaxConnIdleTime = DefaultMaxConnIdleTime
	poolConfig.ConnConfig.OnNotice = func(_ *pgconn.PgConn, notice *pgconn.Notice) {
		logger.Verbose("warehouse notice: %s", notice.Message)
	}
}

// openPool parses connStr, opens a pool and pings it. Failures are wrapped
// with connection guidance.
func openPool(ctx context.Context, cfg *detloader.ConnectionConfig, connStr string, logger detloader.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}
	configurePool(poolConfig, logger)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, wrapConnectionError(err, cfg.Host, cfg.Port, cfg.Database)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrapConnectionError(err, cfg.Host, cfg.Port, cfg.Database)
	}
	return pool, nil
}

// StandardConnector implements the Connector interface for standard
// username/password authentication with automatic retry on transient failures.
type StandardConnector struct {
	config        *detloader.ConnectionConfig
	logger        detloader.Logger
	retryExecutor *retry.Executor
}

// NewStandardConnector creates a new StandardConnector with the given configuration.
func NewStandardConnector(config *detloader.ConnectionConfig, opts ...Option) *StandardConnector {
	o := buildOptions(opts)
	return &StandardConnector{
		config:        config,
		logger:        o.logger,
		retryExecutor: o.executor,
	}
}

// Connect establishes a connection pool using standard authentication with automatic retry.
func (c *StandardConnector) Connect(ctx context.Context) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	connStr := BuildConnectionString(c.config)

	_, err := c.retryExecutor.Execute(ctx, func(ctx context.Context) error {
		p, err := openPool(ctx, c.config, connStr, c.logger)
		if err != nil {
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// NewConnector is a factory function that creates the appropriate Connector
// based on the ConnectionConfig's AuthMethod.
func NewConnector(config *detloader.ConnectionConfig, opts ...Option) (detloader.Connector, error) {
	switch config.AuthMethod {
	case detloader.AuthMethodStandard:
		return NewStandardConnector(config, opts...), nil
	case detloader.AuthMethodAWSIAM:
		return newAWSConnector(config, opts)
	case detloader.AuthMethodGoogleIAM:
		return newGoogleConnector(config, opts)
	case detloader.AuthMethodAzureEntraID:
		return newAzureConnector(config, opts)
	default:
		return nil, fmt.Errorf("unsupported auth method %v: %w", config.AuthMethod, detloader.ErrUnsupportedAuthMethod)
	}
}

// connectionHint turns a recognised dial or handshake failure into operator guidance.
type connectionHint struct {
	matches []string
	explain func(host string, port int, database string) string
}

var connectionHints = []connectionHint{
	{
		matches: []string{"connection refused", "actively refused"},
		explain: func(host string, port int, _ string) string {
			return fmt.Sprintf("connection refused to %s:%d\n\n"+
				"Is the warehouse running? Check with: pg_isready -h %s -p %d\n"+
				"Otherwise verify --host/--port or warehouse.host/port in detloader.yaml.", host, port, host, port)
		},
	},
	{
		matches: []string{"no such host", "no host"},
		explain: func(host string, _ int, _ string) string {
			return fmt.Sprintf("cannot resolve host %q\n\nCheck the hostname and DNS from the loader machine.", host)
		},
	},
	{
		matches: []string{"password authentication failed"},
		explain: func(_ string, _ int, database string) string {
			return fmt.Sprintf("password authentication failed for database %q\n\n"+
				"Set $PGPASSWORD, use ~/.pgpass, or put the password in the connection string.\n"+
				"For cloud IAM auth pass --auth aws|google|azure.", database)
		},
	},
	{
		matches: []string{"does not exist"},
		explain: func(_ string, _ int, database string) string {
			return fmt.Sprintf("database %q does not exist\n\nCreate it, then run: detloader init-schema", database)
		},
	},
	{
		matches: []string{"timeout", "timed out"},
		explain: func(host string, port int, _ string) string {
			return fmt.Sprintf("connection timed out to %s:%d\n\n"+
				"The server is unresponsive or a firewall drops packets silently.", host, port)
		},
	},
	{
		matches: []string{"ssl", "tls"},
		explain: func(string, int, string) string {
			return "SSL/TLS connection error\n\nCheck --sslmode (or $PGSSLMODE) against the server's TLS settings."
		},
	},
	{
		matches: []string{"too many connections"},
		explain: func(_ string, _ int, database string) string {
			return fmt.Sprintf("too many connections to database %q\n\n"+
				"max_connections is exhausted; another loader instance may still hold its pool.", database)
		},
	},
}

// wrapConnectionError adds guidance for the first matching hint. The result
// matches both the original error and detloader.ErrConnectionFailed.
func wrapConnectionError(err error, host string, port int, database string) error {
	msg := strings.ToLower(err.Error())
	for _, h := range connectionHints {
		for _, m := range h.matches {
			if strings.Contains(msg, m) {
				return fmt.Errorf("%s\n\nOriginal error: %w: %w", h.explain(host, port, database), detloader.ErrConnectionFailed, err)
			}
		}
	}
	return fmt.Errorf("failed to connect to warehouse %s:%d/%s: %w: %w", host, port, database, detloader.ErrConnectionFailed, err)
}

// newAWSConnector creates a token-based connector with the AWS IAM token provider.
func newAWSConnector(config *detloader.ConnectionConfig, opts []Option) (detloader.Connector, error) {
	endpoint := fmt.Sprintf("%s:%d", config.Host, config.Port)

	tokenProvider, err := NewAWSIAMTokenProvider(endpoint, config.AWSRegion, config.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS IAM token provider: %w", err)
	}
	return NewTokenBasedConnector(config, tokenProvider, "AWS IAM", opts...), nil
}

// newGoogleConnector creates a GoogleCloudSQLConnector for Google Cloud SQL IAM authentication.
func newGoogleConnector(config *detloader.ConnectionConfig, opts []Option) (detloader.Connector, error) {
	if config.GoogleInstance == "" {
		return nil, fmt.Errorf("Google Cloud SQL IAM auth requires --google-instance (project:region:instance)")
	}
	if config.Username == "" {
		return nil, fmt.Errorf("Google Cloud SQL IAM auth requires username (-U)")
	}
	return NewGoogleCloudSQLConnector(config, config.GoogleInstance, opts...), nil
}

// newAzureConnector creates a token-based connector with the Azure Entra ID token provider.
// If explicit credentials (tenant, client, secret) are provided, uses Service Principal auth.
// Otherwise, falls back to DefaultAzureCredential chain.
func newAzureConnector(config *detloader.ConnectionConfig, opts []Option) (detloader.Connector, error) {
	var tokenProvider TokenProvider
	var err error

	if config.AzureTenantID != "" && config.AzureClientID != "" && config.AzureClientSecret != "" {
		tokenProvider, err = NewAzureServicePrincipalProvider(
			config.AzureTenantID,
			config.AzureClientID,
			config.AzureClientSecret,
		)
	} else {
		tokenProvider, err = NewAzureDefaultCredentialProvider()
	}
	if err != nil {
		return nil, err
	}
	return NewTokenBasedConnector(config, tokenProvider, "Azure", opts...), nil
}
