package wire

// Status is the client-visible outcome taxonomy (§6). Internal code paths
// use typed Go errors and cockroachdb/errors wrapping; errors are only
// classified into a Status at the partition verb-dispatch boundary.
type Status uint8

const (
	StatusOK Status = iota
	StatusKeyNotFound
	StatusRefreshCollection
	StatusBadParameter
	StatusAbortRequestTooOld
	StatusOperationNotAllowed
	StatusAbortConflict
	StatusRequestTimeout
	StatusGone
	StatusServiceUnavailable
	StatusInternalError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusKeyNotFound:
		return "KeyNotFound"
	case StatusRefreshCollection:
		return "RefreshCollection"
	case StatusBadParameter:
		return "BadParameter"
	case StatusAbortRequestTooOld:
		return "AbortRequestTooOld"
	case StatusOperationNotAllowed:
		return "OperationNotAllowed"
	case StatusAbortConflict:
		return "AbortConflict"
	case StatusRequestTimeout:
		return "RequestTimeout"
	case StatusGone:
		return "Gone"
	case StatusServiceUnavailable:
		return "ServiceUnavailable"
	default:
		return "InternalError"
	}
}

// Retryable reports whether a client should retry this status with backoff
// rather than surface it as a terminal failure.
func (s Status) Retryable() bool {
	return s == StatusRequestTimeout || s == StatusServiceUnavailable || s == StatusRefreshCollection
}
