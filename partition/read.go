package partition

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/k2platform/k23si/mvcc"
	"github.com/k2platform/k23si/wire"
)

// HandleRead implements the Read verb (§4.5/§8 S1/S2).
func (m *Module) HandleRead(ctx context.Context, req wire.ReadRequest) (wire.ReadResponse, error) {
	var err error
	defer m.guardAssertions("Read", &err)

	if err = m.validateOwnership(ctx, "", req.Key); err != nil {
		return wire.ReadResponse{Status: classify(err)}, nil
	}
	if err = m.validateSchemaExists(req.Key.Schema); err != nil {
		return wire.ReadResponse{Status: classify(err)}, nil
	}
	if err = m.validateRetention(req.MTR.Timestamp); err != nil {
		return wire.ReadResponse{Status: classify(err)}, nil
	}

	m.cache.MarkInterval(req.Key.Encode(), req.Key.Encode(), req.MTR.Timestamp)

	rec, found, rerr := m.resolveRead(ctx, req.Key, req.MTR)
	if rerr != nil {
		err = rerr
		return wire.ReadResponse{Status: classify(err)}, nil
	}
	if !found || rec.IsTombstone() {
		return wire.ReadResponse{Status: wire.StatusKeyNotFound}, nil
	}
	return wire.ReadResponse{Status: wire.StatusOK, Record: rec, HasData: true}, nil
}

// resolveRead returns the version of key visible at mtr.Timestamp, retrying
// through PUSH when the lookup hits a live write-intent, and through the
// clock facade's uncertainty-window bump when the visible version's
// timestamp can't be certainly ordered against the read (§9a). Shared by
// HandleRead and HandleQuery's per-row resolution.
func (m *Module) resolveRead(ctx context.Context, key wire.Key, mtr wire.MTR) (wire.DataRecord, bool, error) {
	ts := mtr.Timestamp

	for attempt := 0; attempt <= m.cfg.PushRetryMax; attempt++ {
		if err := ctx.Err(); err != nil {
			return wire.DataRecord{}, false, errors.WithStack(ErrRequestTimeout)
		}

		m.mtx.Lock()
		rec, found, err := m.ix.GetVersionNotNewerThan(key, ts)
		m.mtx.Unlock()

		var conflict *mvcc.IntentConflict
		if errors.As(err, &conflict) {
			won, rerr := m.pushIncumbent(ctx, mtr, conflict.Owner, key)
			if rerr != nil {
				return wire.DataRecord{}, false, rerr
			}
			if won {
				continue
			}
			return wire.DataRecord{}, false, errors.WithStack(ErrAbortConflict)
		}
		if err != nil {
			return wire.DataRecord{}, false, err
		}

		if found && m.tso != nil && m.tso.Uncertain(ts, rec.Timestamp, m.cfg.ClockSkewMillis) && rec.Timestamp != ts {
			bumped := m.tso.Next()
			m.tso.Observe(bumped)
			ts = bumped
			continue
		}

		return rec, found, nil
	}
	return wire.DataRecord{}, false, errors.WithStack(ErrRequestTimeout)
}

// pushIncumbent challenges an intent's owner with challenger's MTR. It is
// called with m.mtx released — PUSH RPC is a suspension point (§5) — and
// reports whether the challenger won. A win only force-aborts the incumbent
// at its TRH; the intent still sits at the head of this key's version list
// until someone finalizes it, so the winner finalizes it itself here before
// reporting success, the same cleanup a real Finalize retry would eventually
// perform — this just does it inline instead of waiting for it.
func (m *Module) pushIncumbent(ctx context.Context, challenger wire.MTR, incumbent wire.TxnId, key wire.Key) (bool, error) {
	peer, err := m.Resolve(incumbent.TRHKey)
	if err != nil {
		return false, err
	}
	resp, err := peer.Push(ctx, wire.PushRequest{Challenger: challenger, Incumbent: incumbent, Key: key})
	if err != nil {
		return false, err
	}
	if !resp.ChallengerWins {
		return false, nil
	}

	target, err := m.Resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := target.Finalize(ctx, wire.FinalizeRequest{TxnId: incumbent, Key: key, Action: wire.FinalizeAbort}); err != nil {
		return false, err
	}
	return true, nil
}
