package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "detloader",
	Short: "Batch loader for object-detection results",
	Long: `detloader moves object-detection records from CSV files in a staging
directory into a PostgreSQL warehouse.

Image detections are flushed in batches by count, video detections by time
window. Every committed batch is recorded in a local state file, so re-running
over the same staging directory never loads a file twice.

Configuration is read from detloader.yaml (or --config), then .env and
DETLOADER_* / PG* environment variables, then command-line flags.

Exit Codes:
  0  - Success (including a run with nothing to do)
  1  - General error
  2  - CLI usage error (invalid arguments or flags)
  3  - Panic or unexpected system error
  10 - Invalid configuration
  11 - Warehouse unreachable
  12 - Warehouse rejected a batch
  20 - State file corrupt (run 'detloader reset-state')`,
	SilenceUsage: true,
}

// globalFlagValues holds the persistent flags shared by every command.
type globalFlagValues struct {
	configPath string

	connection string
	host       string
	port       int
	username   string
	database   string
	sslMode    string

	auth           string
	awsRegion      string
	googleInstance string
	azureTenantID  string
	azureClientID  string
}

var globalFlags globalFlagValues

// Execute runs the root command
func Execute() error {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		printVersionInfo()
		return nil
	}
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()

	// -h belongs to --host, as in psql
	pf.Bool("help", false, "Help for detloader")
	pf.BoolP("verbose", "v", false, "Enable verbose output for all commands")
	pf.StringVar(&globalFlags.configPath, "config", "",
		"Path to the configuration file (default: ./detloader.yaml when present)")

	pf.StringVar(&globalFlags.connection, "connection", "",
		"PostgreSQL connection string (URI or ADO.NET format).\n"+
			"Mutually exclusive with granular flags (--host, --port, --username).\n"+
			"Alternative: DETLOADER_CONNECTION or DATABASE_URL environment variable.")
	pf.StringVarP(&globalFlags.host, "host", "h", "",
		"PostgreSQL server host\n"+
			"Precedence: --host > $PGHOST > detloader.yaml > localhost")
	pf.IntVarP(&globalFlags.port, "port", "p", 0,
		"PostgreSQL server port\n"+
			"Precedence: --port > $PGPORT > detloader.yaml > 5432")
	pf.StringVarP(&globalFlags.username, "username", "U", "",
		"PostgreSQL user (default: $PGUSER or current OS user)")
	pf.StringVarP(&globalFlags.database, "database", "d", "",
		"Warehouse database name (overrides the connection string database)")
	pf.StringVar(&globalFlags.sslMode, "sslmode", "",
		"SSL mode: disable|allow|prefer|require|verify-ca|verify-full\n"+
			"(default: prefer, or $PGSSLMODE)")

	pf.StringVar(&globalFlags.auth, "auth", "",
		"Authentication method: standard|aws|google|azure (default: standard)")
	pf.StringVar(&globalFlags.awsRegion, "aws-region", "",
		"AWS region for RDS IAM authentication (default: $AWS_REGION)")
	pf.StringVar(&globalFlags.googleInstance, "google-instance", "",
		"Cloud SQL instance connection name (project:region:instance)")
	pf.StringVar(&globalFlags.azureTenantID, "azure-tenant-id", "",
		"Azure tenant ID for Entra ID authentication (default: $AZURE_TENANT_ID)")
	pf.StringVar(&globalFlags.azureClientID, "azure-client-id", "",
		"Azure client ID for Entra ID authentication (default: $AZURE_CLIENT_ID)")
}

// getVerboseFlag safely retrieves the verbose flag value
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to get verbose flag: %v\n", err)
		return false
	}
	return verbose
}
