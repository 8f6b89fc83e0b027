package detloader

import "time"

// Exit codes for semantic error classification.
// These follow Unix/GNU conventions:
//   - 0: Success (including a run with no pending work)
//   - 1: General error
//   - 2: CLI usage error (misuse of command line)
//   - 3+: Application-specific errors
const (
	ExitSuccess         = 0  // Run completed (possibly with quarantined rows/files)
	ExitGeneralError    = 1  // Unknown or unclassified error
	ExitUsageError      = 2  // CLI usage error (missing args, invalid flags)
	ExitPanic           = 3  // Internal panic (unexpected crash)
	ExitConfigError     = 10 // Invalid configuration
	ExitSinkUnreachable = 11 // Warehouse unreachable after retry exhaustion
	ExitSinkRejected    = 12 // Warehouse refused a whole batch
	ExitStateCorrupt    = 20 // Persisted state unreadable; reset required
)

const (
	// DefaultImageBatchSize is the image track count trigger.
	DefaultImageBatchSize = 100

	// DefaultVideoWindow is the video track time trigger.
	DefaultVideoWindow = 300 * time.Second

	// DefaultCheckInterval is how often the daemon wakes up to discover files
	// and evaluate the time trigger.
	DefaultCheckInterval = 60 * time.Second

	// DefaultDrainTimeout bounds how long shutdown waits for an in-flight flush.
	DefaultDrainTimeout = 2 * time.Minute

	// DefaultRetryInitialDelay is the default initial delay before the first retry attempt.
	DefaultRetryInitialDelay = 100 * time.Millisecond

	// DefaultRetryMaxDelay is the default maximum delay between retry attempts.
	DefaultRetryMaxDelay = 1 * time.Minute

	// DefaultRetryMaxAttempts is the default maximum number of retry attempts.
	DefaultRetryMaxAttempts = 3

	// DefaultLedgerMaxEntries caps the cross-run fingerprint ledger.
	DefaultLedgerMaxEntries = 100_000

	// DefaultLedgerRetention drops ledger entries older than this at commit time.
	DefaultLedgerRetention = 7 * 24 * time.Hour

	// DefaultQuarantineMaxRows caps the quarantined-row list kept in the state file.
	DefaultQuarantineMaxRows = 10_000

	// DefaultConfidenceClampEpsilon is how far outside [0,1] a confidence may be
	// and still be clamped instead of rejected.
	DefaultConfidenceClampEpsilon = 1e-3

	// DefaultWarehouseRetention is how long stored detections are kept by cleanup.
	DefaultWarehouseRetention = 30 * 24 * time.Hour

	// DefaultStateFile is the state location relative to the working directory.
	DefaultStateFile = "data/etl_state.json"

	// DefaultStagingDir is the staging location relative to the working directory.
	DefaultStagingDir = "data/staging"

	// DefaultWarehouseSchema and DefaultWarehouseTable name the target table.
	DefaultWarehouseSchema = "public"
	DefaultWarehouseTable  = "detections"

	// DefaultManagementDB is the database used when none is configured.
	DefaultManagementDB = "postgres"
)
