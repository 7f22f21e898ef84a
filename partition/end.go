package partition

import (
	"context"

	"github.com/k2platform/k23si/wire"
)

// HandleEnd implements the TxnEnd verb (§4.3): commits or aborts a
// transaction and fans Finalize out to every key it wrote. The transaction
// manager owns the state machine and the fan-out goroutine; this handler
// delegates to it without validation of its own and maps the error to a
// status.
func (m *Module) HandleEnd(ctx context.Context, req wire.EndRequest) (wire.EndResponse, error) {
	var err error
	defer m.guardAssertions("End", &err)

	final, herr := m.txns.HandleEnd(ctx, req.TxnId, req.Action, req.WriteKeys)
	if herr != nil {
		err = herr
		return wire.EndResponse{Status: classify(err)}, nil
	}
	return wire.EndResponse{Status: wire.StatusOK, FinalState: final}, nil
}

// HandleHeartbeat implements the Heartbeat verb: extends a live
// transaction's expiry deadline, or reports its terminal state.
func (m *Module) HandleHeartbeat(_ context.Context, req wire.HeartbeatRequest) (wire.HeartbeatResponse, error) {
	state, err := m.txns.HandleHeartbeat(req.TxnId)
	if err != nil {
		// ErrTxnNotFound: treat as already gone rather than surfacing an
		// internal error for a heartbeat racing finalize's cleanup.
		return wire.HeartbeatResponse{Status: wire.TxnDeleted}, nil
	}
	return wire.HeartbeatResponse{Status: state}, nil
}
