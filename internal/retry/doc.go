// Package retry provides bounded retries with exponential backoff for
// warehouse operations.
//
// # Example Usage
//
//	classifier := retry.NewSinkErrorClassifier()
//	strategy := retry.NewExponentialBackoff(2)
//	executor := retry.NewExecutor(classifier, strategy)
//
//	attempts, err := executor.Execute(ctx, func(ctx context.Context) error {
//	    return sink.UpsertBatch(ctx, records, info)
//	})
//
// # Error Classification
//
// SinkErrorClassifier treats PostgreSQL connection, resource and operator
// intervention classes, serialization failures and deadlocks, network errors
// and *detloader.ConnectivityError as transient. Row rejections, data and
// integrity errors, cancellations and everything else are fatal.
//
// # Thread Safety
//
// Executor instances are safe for concurrent use. WithOnRetry and WithSleep
// return independent copies.
package retry
