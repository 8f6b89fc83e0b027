package db

import (
	"context"
	"fmt"
	"net"
	"sync"

	"cloud.google.com/go/cloudsqlconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vvka-141/detloader/pkg/detloader"
)

// GoogleCloudSQLConnector implements the Connector interface for Google Cloud SQL
// using IAM database authentication via the Cloud SQL Go Connector.
//
// Close must be called after the pool is closed to release the dialer.
type GoogleCloudSQLConnector struct {
	config   *detloader.ConnectionConfig
	instance string
	logger   detloader.Logger

	mu     sync.Mutex
	dialer *cloudsqlconn.Dialer
}

// NewGoogleCloudSQLConnector creates a connector for Google Cloud SQL IAM authentication.
// instance is the instance connection name in format: project:region:instance
func NewGoogleCloudSQLConnector(config *detloader.ConnectionConfig, instance string, opts ...Option) *GoogleCloudSQLConnector {
	o := buildOptions(opts)
	return &GoogleCloudSQLConnector{
		config:   config,
		instance: instance,
		logger:   o.logger,
	}
}

// Connect establishes a connection pool through the Cloud SQL dialer, which
// handles IAM authentication and TLS. The dialer retries internally.
func (c *GoogleCloudSQLConnector) Connect(ctx context.Context) (*pgxpool.Pool, error) {
	dialer, err := cloudsqlconn.NewDialer(ctx, cloudsqlconn.WithIAMAuthN())
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloud SQL dialer: %w", err)
	}

	dsn := fmt.Sprintf("user=%s dbname=%s sslmode=disable", c.config.Username, c.config.Database)
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		dialer.Close()
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}

	poolConfig.ConnConfig.DialFunc = func(ctx context.Context, _, _ string) (net.Conn, error) {
		return dialer.Dial(ctx, c.instance)
	}
	configurePool(poolConfig, c.logger)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		dialer.Close()
		return nil, fmt.Errorf("cloud sql %s: %w: %w", c.instance, detloader.ErrConnectionFailed, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		dialer.Close()
		return nil, fmt.Errorf("cloud sql %s: %w: %w", c.instance, detloader.ErrConnectionFailed, err)
	}

	c.mu.Lock()
	if c.dialer != nil {
		c.dialer.Close()
	}
	c.dialer = dialer
	c.mu.Unlock()
	return pool, nil
}

// Close releases the Cloud SQL dialer resources.
func (c *GoogleCloudSQLConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dialer != nil {
		err := c.dialer.Close()
		c.dialer = nil
		return err
	}
	return nil
}
