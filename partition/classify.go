package partition

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/k2platform/k23si/mvcc"
	"github.com/k2platform/k23si/wire"
)

// classify maps a typed Go error to the client-visible status taxonomy
// (§6/§7a). This is the one boundary where an error becomes a wire.Status;
// everything upstream of it deals in typed errors via errors.Is/As.
func classify(err error) wire.Status {
	if err == nil {
		return wire.StatusOK
	}

	switch {
	case errors.Is(err, ErrKeyNotFound):
		return wire.StatusKeyNotFound
	case errors.Is(err, ErrCollectionStale):
		return wire.StatusRefreshCollection
	case errors.Is(err, ErrBadParameter),
		errors.Is(err, ErrWrongPartition),
		errors.Is(err, ErrOutsideRetention):
		return wire.StatusBadParameter
	case errors.Is(err, ErrAbortRequestTooOld):
		return wire.StatusAbortRequestTooOld
	case errors.Is(err, ErrOperationNotAllowed),
		errors.Is(err, ErrSchemaUnknown),
		errors.Is(err, wire.ErrFieldMaskMismatch),
		errors.Is(err, wire.ErrFieldMaskOutOfRange),
		errors.Is(err, wire.ErrSchemaVersionMismatch):
		return wire.StatusOperationNotAllowed
	case errors.Is(err, ErrAbortConflict):
		return wire.StatusAbortConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrRequestTimeout):
		return wire.StatusRequestTimeout
	case errors.Is(err, context.Canceled):
		return wire.StatusServiceUnavailable
	default:
		return wire.StatusInternalError
	}
}

// isAssertionFault reports whether err is a broken structural invariant that
// must halt the partition rather than be surfaced to a client (§7: assertion
// faults are fatal).
func isAssertionFault(err error) bool {
	return errors.Is(err, mvcc.ErrInvariantBroken)
}
