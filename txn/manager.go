// Package txn implements the Transaction Record Holder role (§4.3) and the
// PUSH conflict resolver (§4.4).
package txn

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/k2platform/k23si/wire"
)

const finalizeFanoutLimit = 16

// Persister is the subset of the persistence facade (§4.8) the transaction
// manager needs: durably recording state transitions before they take
// effect. Accepting an interface here, rather than importing package
// persist directly, matches the teacher's store.Store/MVCCStore seam.
type Persister interface {
	AppendTxnTransition(id wire.TxnId, state wire.TxnState, writeKeys []wire.WriteKey) error
	Flush() error
}

// Manager holds the authoritative state for every transaction whose routing
// key lies on this partition.
type Manager struct {
	mtx      sync.Mutex
	records  map[string]*record // encoded TxnId -> record
	expiry   time.Duration
	persist  Persister
	resolver PeerResolver
	log      *slog.Logger
}

func NewManager(expiry time.Duration, persist Persister, resolver PeerResolver) *Manager {
	return &Manager{
		records:  make(map[string]*record),
		expiry:   expiry,
		persist:  persist,
		resolver: resolver,
		log: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}
}

func txnID(id wire.TxnId) string {
	return string(wire.EncodeTxnId(id))
}

// EnsureInProgress creates the transaction record in InProgress if this is
// the first write for the transaction on this partition (§4.6 step 4). The
// caller decides whether this partition is the TRH; no such check is made
// here. It is a no-op if the record already exists.
func (m *Manager) EnsureInProgress(id wire.TxnId) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	key := txnID(id)
	if _, ok := m.records[key]; ok {
		return nil
	}

	rec := newRecord(id, time.Now(), m.expiry)
	if err := m.persistLocked(id, wire.TxnInProgress, nil); err != nil {
		return err
	}
	m.records[key] = rec
	return nil
}

// HandleHeartbeat extends the expiry deadline for an InProgress transaction,
// or returns the current terminal state without mutating it.
func (m *Manager) HandleHeartbeat(id wire.TxnId) (wire.TxnState, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	rec, ok := m.records[txnID(id)]
	if !ok {
		return wire.TxnDeleted, errors.WithStack(ErrTxnNotFound)
	}
	if rec.state != wire.TxnInProgress {
		return rec.state, nil
	}
	rec.lastHeartbeat = time.Now()
	rec.expiryDeadline = rec.lastHeartbeat.Add(m.expiry)
	return rec.state, nil
}

// HandleEnd transitions the transaction per the table in §4.3, persists the
// transition, and — on Commit/Abort — dispatches Finalize to every
// (collection,key) in writeKeys. Finalize fan-out happens in the background:
// the caller gets the transition outcome immediately, and finalize retries
// indefinitely per §7 liveness-fault handling.
func (m *Manager) HandleEnd(ctx context.Context, id wire.TxnId, action wire.EndAction, writeKeys []wire.WriteKey) (wire.TxnState, error) {
	m.mtx.Lock()
	rec, ok := m.records[txnID(id)]
	if !ok {
		rec = newRecord(id, time.Now(), m.expiry)
		m.records[txnID(id)] = rec
	}
	rec.addWriteKeys(writeKeys)

	final := wire.TxnCommitted
	if action == wire.EndAbort || rec.state == wire.TxnForceAborted {
		// ForceAborted -> end(*) always settles to Aborted (the client
		// learns of the abort regardless of which action it requested).
		final = wire.TxnAborted
	}
	if rec.state.Terminal() {
		// Duplicate EndTxn with the same action is accepted as a no-op.
		current := rec.state
		m.mtx.Unlock()
		return current, nil
	}

	wks := make([]wire.WriteKey, 0, len(rec.writeKeys))
	for _, wk := range rec.writeKeys {
		wks = append(wks, wk)
	}
	if err := m.persistLocked(id, final, wks); err != nil {
		m.mtx.Unlock()
		return wire.TxnInProgress, err
	}
	rec.state = final
	m.mtx.Unlock()

	go m.finalizeAll(context.WithoutCancel(ctx), id, final, wks)

	return final, nil
}

func (m *Manager) finalizeAction(state wire.TxnState) wire.FinalizeAction {
	if state == wire.TxnCommitted {
		return wire.FinalizeCommit
	}
	return wire.FinalizeAbort
}

func (m *Manager) finalizeAll(ctx context.Context, id wire.TxnId, final wire.TxnState, wks []wire.WriteKey) {
	action := m.finalizeAction(final)

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(finalizeFanoutLimit)

	for _, wk := range wks {
		wk := wk
		eg.Go(func() error {
			m.finalizeOneWithRetry(egctx, id, wk, action)
			return nil
		})
	}
	_ = eg.Wait()

	m.mtx.Lock()
	rec, ok := m.records[txnID(id)]
	if ok && rec.allAcked() {
		rec.state = wire.TxnDeleted
		delete(m.records, txnID(id))
	}
	m.mtx.Unlock()
}

func (m *Manager) finalizeOneWithRetry(ctx context.Context, id wire.TxnId, wk wire.WriteKey, action wire.FinalizeAction) {
	backoff := 10 * time.Millisecond
	const maxBackoff = 2 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		peer, err := m.resolver.Resolve(wk.Key)
		if err == nil {
			_, err = peer.Finalize(ctx, wire.FinalizeRequest{TxnId: id, Key: wk.Key, Action: action})
			if err == nil {
				m.ackFinalize(id, wk)
				return
			}
		}
		m.log.Warn("finalize retry", slog.String("collection", wk.Collection), slog.Any("err", err))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (m *Manager) ackFinalize(id wire.TxnId, wk wire.WriteKey) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	rec, ok := m.records[txnID(id)]
	if !ok {
		return
	}
	rec.acked[writeKeyID(wk)] = true
}

// HandlePush arbitrates between a challenger and the incumbent transaction
// holding a write-intent on key (§4.4).
func (m *Manager) HandlePush(challenger wire.MTR, incumbentID wire.TxnId, key wire.Key) (wire.PushResponse, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	rec, ok := m.records[txnID(incumbentID)]
	if !ok {
		// No record: either already finalized-and-deleted (safe to treat as
		// committed/aborted-unknown) or never created. Conservatively allow
		// the challenger through — there is nothing left to protect.
		return wire.PushResponse{IncumbentState: wire.TxnDeleted, ChallengerWins: true, RetryAllowed: true}, nil
	}

	if rec.state.Terminal() {
		return wire.PushResponse{IncumbentState: rec.state, ChallengerWins: false, RetryAllowed: rec.state != wire.TxnCommitted}, nil
	}

	if wire.ComparePriority(challenger, rec.mtr) > 0 {
		rec.state = wire.TxnForceAborted
		if err := m.persistLocked(incumbentID, wire.TxnForceAborted, nil); err != nil {
			return wire.PushResponse{}, err
		}
		return wire.PushResponse{IncumbentState: wire.TxnForceAborted, ChallengerWins: true, RetryAllowed: true}, nil
	}

	return wire.PushResponse{IncumbentState: rec.state, ChallengerWins: false, RetryAllowed: false}, nil
}

// ExpiryTick transitions every InProgress record past its expiry deadline to
// ForceAborted. Intended to be driven by a time.Ticker on the partition's
// single goroutine (§9 "Retention timer" applies equally to the expiry
// watchdog: a scheduled message, not a detached thread holding locks across
// suspensions).
func (m *Manager) ExpiryTick(now time.Time) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	for _, rec := range m.records {
		if rec.state == wire.TxnInProgress && now.After(rec.expiryDeadline) {
			rec.state = wire.TxnForceAborted
			if err := m.persistLocked(rec.id, wire.TxnForceAborted, nil); err != nil {
				m.log.Error("expiry persist failed", slog.Any("err", err))
			}
		}
	}
}

// ReplayTransition applies a transition read back from the durable log
// during recovery, without re-persisting it (§4.8 "replay rebuilds... the
// transaction manager").
func (m *Manager) ReplayTransition(id wire.TxnId, state wire.TxnState, writeKeys []wire.WriteKey) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	key := txnID(id)
	if state == wire.TxnDeleted {
		delete(m.records, key)
		return nil
	}

	rec, ok := m.records[key]
	if !ok {
		rec = newRecord(id, time.Now(), m.expiry)
		m.records[key] = rec
	}
	rec.addWriteKeys(writeKeys)
	rec.state = state
	return nil
}

func (m *Manager) persistLocked(id wire.TxnId, state wire.TxnState, wks []wire.WriteKey) error {
	if m.persist == nil {
		return nil
	}
	if err := m.persist.AppendTxnTransition(id, state, wks); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(m.persist.Flush())
}

// Inspect supports InspectTxn / InspectAllTxns.
func (m *Manager) Inspect(id wire.TxnId) (wire.InspectTxnResponse, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	rec, ok := m.records[txnID(id)]
	if !ok {
		return wire.InspectTxnResponse{}, false
	}
	return wire.InspectTxnResponse{Found: true, State: rec.state, MTR: rec.mtr}, true
}

func (m *Manager) InspectAll() []wire.InspectTxnResponse {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	out := make([]wire.InspectTxnResponse, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, wire.InspectTxnResponse{Found: true, State: rec.state, MTR: rec.mtr})
	}
	return out
}
