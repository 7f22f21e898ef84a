package partition

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/k2platform/k23si/txn"
	"github.com/k2platform/k23si/wire"
)

// Resolve implements txn.PeerResolver. This demo runs one partition per
// process, so every key resolves to this Module itself; a multi-partition
// deployment would resolve through m.cpo instead, the seam txn.PeerResolver
// exists to preserve (kv/leader_proxy.go's local-vs-forwarded call seam).
func (m *Module) Resolve(wire.Key) (txn.Peer, error) {
	return m, nil
}

// Push implements txn.Peer for an incoming PUSH directed at a transaction
// whose TRH is this partition.
func (m *Module) Push(_ context.Context, req wire.PushRequest) (wire.PushResponse, error) {
	// No Module-level lock here: HandlePush only touches the transaction
	// manager's own state (guarded by its own mutex), and resolveRead/
	// HandleWrite release m.mtx before issuing a PUSH RPC (§5 suspension
	// points) specifically so this call never nests under it.
	resp, err := m.txns.HandlePush(req.Challenger, req.Incumbent, req.Key)
	if err != nil {
		return wire.PushResponse{}, err
	}
	if m.metrics != nil {
		result := "incumbent_survives"
		if resp.ChallengerWins {
			result = "challenger_wins"
		}
		m.metrics.PushOutcomes.WithLabelValues(result).Inc()
	}
	return resp, nil
}

// Finalize implements txn.Peer: durably converts the write-intent on req.Key
// into a committed version (or removes it, on abort). Idempotent per §4.8/§8
// invariant 5 — a repeated Finalize for a key whose intent has already been
// resolved is a no-op success.
func (m *Module) Finalize(_ context.Context, req wire.FinalizeRequest) (wire.FinalizeResponse, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	head, ok := m.ix.IntentHead(req.Key)
	if !ok || !sameTxn(head.Owner, req.TxnId) {
		return wire.FinalizeResponse{Status: wire.StatusOK}, nil
	}

	if req.Action == wire.FinalizeAbort {
		if err := m.log.AppendTxnTransition(req.TxnId, wire.TxnAborted, nil); err != nil {
			return wire.FinalizeResponse{}, err
		}
		if err := m.log.Flush(); err != nil {
			return wire.FinalizeResponse{}, err
		}
		if err := m.ix.AbortIntent(req.Key); err != nil {
			return wire.FinalizeResponse{}, err
		}
		return wire.FinalizeResponse{Status: wire.StatusOK}, nil
	}

	committed := wire.DataRecord{
		Key:       req.Key,
		Timestamp: req.TxnId.MTR.Timestamp,
		Payload:   head.Payload,
		Kind:      wire.KindData,
	}
	if head.PendingDelete {
		committed.Kind = wire.KindTombstone
	}
	if err := m.log.AppendIntent(committed); err != nil {
		return wire.FinalizeResponse{}, err
	}
	if err := m.log.Flush(); err != nil {
		return wire.FinalizeResponse{}, err
	}
	if err := m.ix.CommitIntent(req.Key, committed.Timestamp, committed.Payload, head.PendingDelete); err != nil {
		return wire.FinalizeResponse{}, errors.WithStack(err)
	}
	return wire.FinalizeResponse{Status: wire.StatusOK}, nil
}

func sameTxn(a, b wire.TxnId) bool {
	return a.MTR.Timestamp == b.MTR.Timestamp &&
		a.MTR.Priority == b.MTR.Priority &&
		a.MTR.TxnIDHash == b.MTR.TxnIDHash
}
