package db

import (
	"fmt"
	"os"
	"strconv"

	"github.com/vvka-141/detloader/internal/config"
	"github.com/vvka-141/detloader/pkg/detloader"
)

// DefaultAppName is reported to the server as application_name.
const DefaultAppName = "detloader"

// GranularConnFlags represents connection parameters from CLI flags.
// These follow PostgreSQL standard flag conventions (-h, -p, -U, -d).
//
// Password is not a flag; use $PGPASSWORD or a connection string.
type GranularConnFlags struct {
	Host     string
	Port     int
	Username string
	Database string
	SSLMode  string
}

// IsEmpty returns true if no connection-related granular flags were provided by the user.
// Database is excluded because it may override the database of a connection string.
func (g *GranularConnFlags) IsEmpty() bool {
	return g.Host == "" && g.Port == 0 && g.Username == "" && g.SSLMode == ""
}

// CloudFlags selects and parameterises cloud IAM authentication.
// Client secrets are never flags; Azure reads AZURE_CLIENT_SECRET.
type CloudFlags struct {
	Auth           string // standard, aws, google, azure
	AWSRegion      string
	GoogleInstance string
	AzureTenantID  string
	AzureClientID  string
}

// EnvVars represents PostgreSQL standard environment variables plus the
// cloud SDK variables detloader reads.
// See: https://www.postgresql.org/docs/current/libpq-envars.html
type EnvVars struct {
	PGHOST       string
	PGPORT       string
	PGUSER       string
	PGPASSWORD   string
	PGDATABASE   string
	PGSSLMODE    string
	DATABASE_URL string

	AWS_REGION string

	AZURE_TENANT_ID     string
	AZURE_CLIENT_ID     string
	AZURE_CLIENT_SECRET string
}

// LoadFromEnvironment reads EnvVars from the process environment.
func LoadFromEnvironment() *EnvVars {
	return &EnvVars{
		PGHOST:              os.Getenv("PGHOST"),
		PGPORT:              os.Getenv("PGPORT"),
		PGUSER:              os.Getenv("PGUSER"),
		PGPASSWORD:          os.Getenv("PGPASSWORD"),
		PGDATABASE:          os.Getenv("PGDATABASE"),
		PGSSLMODE:           os.Getenv("PGSSLMODE"),
		DATABASE_URL:        os.Getenv("DATABASE_URL"),
		AWS_REGION:          os.Getenv("AWS_REGION"),
		AZURE_TENANT_ID:     os.Getenv("AZURE_TENANT_ID"),
		AZURE_CLIENT_ID:     os.Getenv("AZURE_CLIENT_ID"),
		AZURE_CLIENT_SECRET: os.Getenv("AZURE_CLIENT_SECRET"),
	}
}

// ResolveConnectionParams resolves the warehouse connection using
// PostgreSQL-standard precedence:
//
//  1. --connection flag
//  2. granular flags (-h, -p, -U, -d), each falling back to PG* variables,
//     then detloader.yaml, then defaults
//  3. warehouse.connection from detloader.yaml (or $DETLOADER_CONNECTION)
//  4. $DATABASE_URL
//
// Path 2 is used whenever any granular flag is set, or when none of 1, 3
// and 4 are available. A connection string and granular flags together are
// rejected. -d may still override the database of a connection string.
func ResolveConnectionParams(
	connStringFlag string,
	granularFlags *GranularConnFlags,
	cloudFlags *CloudFlags,
	envVars *EnvVars,
	warehouse *config.WarehouseConfig,
) (*detloader.ConnectionConfig, error) {
	if granularFlags == nil {
		granularFlags = &GranularConnFlags{}
	}
	if cloudFlags == nil {
		cloudFlags = &CloudFlags{}
	}
	if envVars == nil {
		envVars = &EnvVars{}
	}
	if warehouse == nil {
		warehouse = &config.WarehouseConfig{}
	}

	if connStringFlag != "" && !granularFlags.IsEmpty() {
		return nil, fmt.Errorf(
			"cannot specify both --connection and granular flags (-h, -p, -U, --sslmode)\n"+
				"Choose one approach:\n"+
				"  1. Connection string: --connection \"postgresql://user@localhost:5432/warehouse\"\n"+
				"  2. Granular flags: -h localhost -p 5432 -U loader -d warehouse\n"+
				"  3. Environment variables: export PGHOST=localhost PGPORT=5432 PGUSER=loader: %w",
			detloader.ErrInvalidConfig,
		)
	}

	var cfg *detloader.ConnectionConfig
	var err error

	switch {
	case connStringFlag != "":
		cfg, err = resolveFromConnectionString(connStringFlag, envVars)
	case granularFlags.IsEmpty() && warehouse.Connection != "":
		cfg, err = resolveFromConnectionString(warehouse.Connection, envVars)
	case granularFlags.IsEmpty() && envVars.DATABASE_URL != "":
		cfg, err = resolveFromConnectionString(envVars.DATABASE_URL, envVars)
	default:
		cfg, err = resolveFromGranularParams(granularFlags, envVars, warehouse)
	}
	if err != nil {
		return nil, err
	}

	if granularFlags.Database != "" {
		cfg.Database = granularFlags.Database
	}
	if cfg.AppName == "" {
		cfg.AppName = DefaultAppName
	}

	if err := applyAuth(cfg, cloudFlags, envVars, warehouse); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyAuth selects the authentication method and attaches cloud credentials.
// Precedence for every value: flag > detloader.yaml > environment. Azure
// variables in the environment switch to Entra ID auth when no method was
// chosen explicitly.
func applyAuth(cfg *detloader.ConnectionConfig, flags *CloudFlags, env *EnvVars, wh *config.WarehouseConfig) error {
	method := firstNonEmpty(flags.Auth, wh.AuthMethod)
	auth, err := detloader.ParseAuthMethod(method)
	if err != nil {
		return err
	}

	tenantID := firstNonEmpty(flags.AzureTenantID, wh.AzureTenantID, env.AZURE_TENANT_ID)
	clientID := firstNonEmpty(flags.AzureClientID, wh.AzureClientID, env.AZURE_CLIENT_ID)
	if method == "" && (tenantID != "" || clientID != "") {
		auth = detloader.AuthMethodAzureEntraID
	}

	cfg.AuthMethod = auth
	switch auth {
	case detloader.AuthMethodAWSIAM:
		cfg.AWSRegion = firstNonEmpty(flags.AWSRegion, wh.AWSRegion, env.AWS_REGION)
	case detloader.AuthMethodGoogleIAM:
		cfg.GoogleInstance = firstNonEmpty(flags.GoogleInstance, wh.GoogleInstance)
	case detloader.AuthMethodAzureEntraID:
		cfg.AzureTenantID = tenantID
		cfg.AzureClientID = clientID
		cfg.AzureClientSecret = env.AZURE_CLIENT_SECRET
	}
	return nil
}

// resolveFromConnectionString parses a connection string. PGSSLMODE fills in
// an sslmode the string leaves out, as libpq does.
func resolveFromConnectionString(connStr string, envVars *EnvVars) (*detloader.ConnectionConfig, error) {
	cfg, err := ParseConnectionString(connStr)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w: %w", err, detloader.ErrInvalidConfig)
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = firstNonEmpty(envVars.PGSSLMODE, "prefer")
	}
	if cfg.Password == "" {
		cfg.Password = envVars.PGPASSWORD
	}
	return cfg, nil
}

// resolveFromGranularParams builds a ConnectionConfig from granular flags.
// Each parameter falls back: flag > PG* variable > detloader.yaml > default.
func resolveFromGranularParams(
	flags *GranularConnFlags,
	envVars *EnvVars,
	wh *config.WarehouseConfig,
) (*detloader.ConnectionConfig, error) {
	cfg := &detloader.ConnectionConfig{
		AuthMethod:       detloader.AuthMethodStandard,
		AdditionalParams: make(map[string]string),
	}

	cfg.Host = firstNonEmpty(flags.Host, envVars.PGHOST, wh.Host, "localhost")

	switch {
	case flags.Port != 0:
		cfg.Port = flags.Port
	case envVars.PGPORT != "":
		port, err := strconv.Atoi(envVars.PGPORT)
		if err != nil {
			return nil, fmt.Errorf("invalid $PGPORT value '%s': must be an integer: %w", envVars.PGPORT, detloader.ErrInvalidConfig)
		}
		cfg.Port = port
	case wh.Port != 0:
		cfg.Port = wh.Port
	default:
		cfg.Port = 5432
	}

	// Username falls back to the current OS user, like psql.
	cfg.Username = firstNonEmpty(flags.Username, envVars.PGUSER, wh.Username, os.Getenv("USER"), os.Getenv("USERNAME"))
	cfg.Password = envVars.PGPASSWORD
	cfg.Database = firstNonEmpty(flags.Database, envVars.PGDATABASE, wh.Database, detloader.DefaultManagementDB)
	cfg.SSLMode = firstNonEmpty(flags.SSLMode, envVars.PGSSLMODE, wh.SSLMode, "prefer")

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
