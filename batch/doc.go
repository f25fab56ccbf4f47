/*
Package batch runs bulk writes against a datastore within its limits.

Records are split into chunks of the store's MaxBatchSize and submitted to an
ants worker pool bounded by MaxParallelism. When the store declares a request
rate, chunk submission is paced with a token bucket.

	exec := batch.New(store, batch.WithLogger(logger))
	n, err := exec.Execute(ctx, datastore.OpInsert, records)

Failure policy:
  - a non-fatal chunk error is logged, the other chunks still run, and the
    applied count is returned with an *errors.BatchError
  - a fatal error (errors.IsFatal) stops scheduling and is returned with the
    count committed so far
  - cancelling the context stops scheduling; committed chunks stay committed
*/
package batch
