package mvcc

import (
	"github.com/cockroachdb/errors"

	"github.com/k2platform/k23si/wire"
)

var ErrIntentConflict = errors.New("mvcc: intent conflict")

// ErrInvariantBroken tags a structural-invariant violation (duplicate
// committed timestamp, two intents on one key) — an assertion fault per §7:
// fatal, not a condition any caller should recover from.
var ErrInvariantBroken = errors.New("mvcc: invariant broken")

// IntentConflict carries the incumbent owner so the caller can PUSH it.
type IntentConflict struct {
	Owner wire.TxnId
}

func (e *IntentConflict) Error() string {
	return "mvcc: intent conflict"
}

func (e *IntentConflict) Unwrap() error {
	return ErrIntentConflict
}

func newIntentConflict(owner wire.TxnId) error {
	return errors.WithStack(&IntentConflict{Owner: owner})
}

// errInvariant reports a broken structural invariant (duplicate timestamp,
// two intents on one key). Per §7, assertion faults are fatal: the caller
// (package partition) halts the partition rather than attempting to
// continue with corrupted state.
func errInvariant(msg string) error {
	return errors.WithStack(errors.Wrap(ErrInvariantBroken, msg))
}
