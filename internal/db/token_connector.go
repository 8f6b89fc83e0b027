package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vvka-141/detloader/internal/retry"
	"github.com/vvka-141/detloader/pkg/detloader"
)

// tokenExpiryWarning is the remaining lifetime below which a fresh token is logged as a warning.
const tokenExpiryWarning = 5 * time.Minute

// TokenBasedConnector implements the Connector interface for cloud providers
// that authenticate via short-lived tokens (AWS IAM, Azure Entra ID).
// The token is acquired from a TokenProvider and used as the PostgreSQL password.
type TokenBasedConnector struct {
	config        *detloader.ConnectionConfig
	tokenProvider TokenProvider
	logger        detloader.Logger
	retryExecutor *retry.Executor
	providerName  string
}

// NewTokenBasedConnector creates a connector that uses a TokenProvider for authentication.
// providerName is used in error/warning messages (e.g., "AWS IAM", "Azure").
func NewTokenBasedConnector(config *detloader.ConnectionConfig, tokenProvider TokenProvider, providerName string, opts ...Option) *TokenBasedConnector {
	o := buildOptions(opts)
	return &TokenBasedConnector{
		config:        config,
		tokenProvider: tokenProvider,
		logger:        o.logger,
		retryExecutor: o.executor,
		providerName:  providerName,
	}
}

// Connect acquires a fresh token for every attempt and opens a pool with it.
func (c *TokenBasedConnector) Connect(ctx context.Context) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool

	_, err := c.retryExecutor.Execute(ctx, func(ctx context.Context) error {
		token, expiresOn, err := c.tokenProvider.GetToken(ctx)
		if err != nil {
			return fmt.Errorf("failed to acquire %s token from %s: %w", c.providerName, c.tokenProvider, err)
		}
		if remaining := time.Until(expiresOn); remaining < tokenExpiryWarning {
			c.logger.Warn("%s token expires in %v", c.providerName, remaining.Round(time.Second))
		}

		withToken := c.config.DeepCopy()
		withToken.Password = token

		p, err := openPool(ctx, c.config, BuildConnectionString(&withToken), c.logger)
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
