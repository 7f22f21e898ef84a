package txn

import "github.com/cockroachdb/errors"

var (
	ErrTxnNotFound     = errors.New("txn: transaction record not found")
	ErrNotTRH          = errors.New("txn: this partition is not the TRH for this transaction")
	ErrAlreadyTerminal = errors.New("txn: transaction already in a terminal state")
	ErrChallengerLost  = errors.New("txn: challenger lost PUSH arbitration")
	ErrPeerUnavailable = errors.New("txn: peer partition unavailable")
)
