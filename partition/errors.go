package partition

import "github.com/cockroachdb/errors"

// Sentinels for the validation/conflict error paths, exactly
// kv/txn_errors.go's and store/store.go's one-var-per-failure-mode
// convention. Status classification (§7a) maps these to the wire.Status
// taxonomy at the verb-dispatch boundary; nothing below this package ever
// returns a wire.Status directly.
var (
	ErrKeyNotFound         = errors.New("partition: key not found")
	ErrWrongPartition      = errors.New("partition: key does not belong to this partition's collection")
	ErrBadParameter        = errors.New("partition: bad parameter")
	ErrOutsideRetention    = errors.New("partition: timestamp precedes the retention window")
	ErrSchemaUnknown       = errors.New("partition: unknown schema")
	ErrAbortRequestTooOld  = errors.New("partition: write timestamp is not newer than a prior read or write")
	ErrOperationNotAllowed = errors.New("partition: operation not allowed")
	ErrAbortConflict       = errors.New("partition: lost PUSH arbitration")
	ErrRequestTimeout      = errors.New("partition: request deadline exceeded")
	ErrCollectionStale     = errors.New("partition: cached partition map epoch is stale")
)
