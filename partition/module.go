// Package partition implements the per-partition verb dispatcher (§4.5–4.7):
// the single entry point that validates a request, orchestrates the
// indexer/readcache/transaction-manager/persistence components, and
// translates the result into a wire.Status response, grounded on
// adapter/internal.go's Forward handler shape.
package partition

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/k2platform/k23si/cpo"
	"github.com/k2platform/k23si/metrics"
	"github.com/k2platform/k23si/mvcc"
	"github.com/k2platform/k23si/persist"
	"github.com/k2platform/k23si/readcache"
	"github.com/k2platform/k23si/tso"
	"github.com/k2platform/k23si/txn"
	"github.com/k2platform/k23si/wire"
)

// Module owns one partition's entire in-memory and durable state. Every
// mutator is expected to run on the single goroutine driving this partition
// (§5); mtx exists only to serialize verb handlers in this demo, standing in
// for a real event-loop's natural single-threading.
type Module struct {
	mtx sync.Mutex

	cfg         Config
	collection  string
	partitionID string

	ix      *mvcc.Indexer
	cache   *readcache.Cache
	txns    *txn.Manager
	log     *persist.Log
	cpo     *cpo.Client
	tso     *tso.Oracle
	metrics *metrics.Metrics

	schemas map[string]wire.Schema

	logger *slog.Logger
}

// New constructs a partition serving a single collection under partitionID
// (its own identity in the CPO's partition map). log, cpoClient and
// tsoOracle are injected process-scoped dependencies (§9 design note), not
// ambient singletons.
func New(cfg Config, collection, partitionID string, log *persist.Log, cpoClient *cpo.Client, tsoOracle *tso.Oracle, m *metrics.Metrics) *Module {
	mod := &Module{
		cfg:         cfg,
		collection:  collection,
		partitionID: partitionID,
		ix:          mvcc.New(),
		cache:       readcache.New(cfg.ReadCacheSize),
		log:         log,
		cpo:         cpoClient,
		tso:         tsoOracle,
		metrics:     m,
		schemas:     make(map[string]wire.Schema),
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}
	mod.txns = txn.NewManager(cfg.TxnExpiry, log, mod)
	return mod
}

// Recover replays the durable log to rebuild the indexer and transaction
// manager after a restart (§4.8 "On recovery, replay rebuilds..." and
// "commits/aborts fold intents into versions").
//
// A commit durably appends a second record on the same key (the committed
// version, written by Finalize after the original write-intent record); if
// that second record were installed via InsertCommitted it would land
// alongside the original intent rather than replace it, leaving a stale
// intent head for an already-committed transaction. onIntent folds it via
// CommitIntent instead whenever a live intent head is already standing on
// the incoming record's key.
//
// An abort has no equivalent second record to fold against during replay —
// Finalize only appends a transition frame for it, and a challenger that
// wins a PUSH finalizes the loser directly rather than through a
// transition carrying that key in its write-key list, so there's no single
// frame during the walk itself that safely identifies every abort. Instead,
// foldTerminalIntents sweeps the indexer once replay has rebuilt both the
// version history and the transaction manager, and removes any intent
// whose owner's final state turned out to be an abort.
func (m *Module) Recover() error {
	if err := m.log.Replay(
		func(rec wire.DataRecord) error {
			if rec.IsIntent() {
				return m.ix.InstallIntent(rec.Key, rec)
			}
			if _, ok := m.ix.IntentHead(rec.Key); ok {
				return m.ix.CommitIntent(rec.Key, rec.Timestamp, rec.Payload, rec.Kind == wire.KindTombstone)
			}
			return m.ix.InsertCommitted(rec.Key, rec)
		},
		func(id wire.TxnId, state wire.TxnState, writeKeys []wire.WriteKey) error {
			return m.txns.ReplayTransition(id, state, writeKeys)
		},
	); err != nil {
		return err
	}
	return m.foldTerminalIntents()
}

// foldTerminalIntents removes every live intent whose owning transaction's
// replayed state is terminal and not a commit (a commit is already folded
// while replaying its key's committed record; see Recover). A transaction
// stuck at TxnForceAborted is left alone — it is not yet terminal, and a
// future PUSH against its intent resolves it exactly as it would have
// without the restart.
func (m *Module) foldTerminalIntents() error {
	for _, rec := range m.ix.AllIntents() {
		resp, ok := m.txns.Inspect(rec.Owner)
		if !ok || !resp.State.Terminal() || resp.State == wire.TxnCommitted {
			continue
		}
		if err := m.ix.AbortIntent(rec.Key); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) retentionTS() uint64 {
	now := m.tso.Now()
	if now == 0 {
		now = m.tso.Next()
	}
	windowTicks := m.cfg.RetentionWindow.Milliseconds() << 16
	if windowTicks < 0 || uint64(windowTicks) > now {
		return 0
	}
	return now - uint64(windowTicks)
}

func (m *Module) validateOwnership(ctx context.Context, collection string, key wire.Key) error {
	if collection != "" && collection != m.collection {
		return errors.WithStack(ErrWrongPartition)
	}
	if key.Empty() {
		return errors.WithStack(ErrBadParameter)
	}
	if m.cpo == nil {
		return nil
	}

	owner, err := m.cpo.Resolve(ctx, m.collection, key)
	if err != nil {
		if errors.Is(err, cpo.ErrCollectionUnknown) {
			return errors.WithStack(ErrCollectionStale)
		}
		return err
	}
	if owner.PartitionID != m.partitionID {
		// The CPO's map has moved this key to another partition since our
		// cached snapshot was taken; the client must refresh and retry
		// rather than being told the key simply doesn't exist here.
		return errors.WithStack(ErrCollectionStale)
	}
	return nil
}

// validateSchemaExists enforces §4.5 step 1: a read or write against a
// collection with no registered schema is rejected up front rather than
// only when a field mask or projection later needs the schema to exist.
func (m *Module) validateSchemaExists(collection string) error {
	if _, ok := m.schemaForCollection(collection); !ok {
		return errors.WithStack(ErrSchemaUnknown)
	}
	return nil
}

func (m *Module) validateRetention(ts uint64) error {
	if ts < m.retentionTS() {
		return errors.WithStack(ErrOutsideRetention)
	}
	return nil
}

// RetentionTick truncates versions older than the retention window. Meant
// to be driven by a periodic scheduled message on the partition's own
// goroutine, not a detached thread (§9 design note).
func (m *Module) RetentionTick() {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.ix.Truncate(m.retentionTS())
}

// ExpiryTick drives the transaction manager's heartbeat watchdog.
func (m *Module) ExpiryTick() {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.txns.ExpiryTick(time.Now())
}

// HandlePushSchema registers (or replaces) a schema definition used by
// field-mask reconciliation and query projection.
func (m *Module) HandlePushSchema(_ context.Context, req wire.PushSchemaRequest) (wire.PushSchemaResponse, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.schemas[req.Schema.Name] = req.Schema
	return wire.PushSchemaResponse{Status: wire.StatusOK}, nil
}

// InspectRecords, InspectTxn, InspectAllTxns, InspectWriteIntents and
// InspectAllKeys are read-only test/ops hooks exposed verbatim from the
// owning component; no validation, no state mutation.

func (m *Module) InspectRecords(req wire.InspectRecordsRequest) wire.InspectRecordsResponse {
	return wire.InspectRecordsResponse{Versions: m.ix.AllVersions(req.Key)}
}

func (m *Module) InspectTxn(req wire.InspectTxnRequest) wire.InspectTxnResponse {
	resp, _ := m.txns.Inspect(req.TxnId)
	return resp
}

func (m *Module) InspectAllTxns(wire.InspectAllTxnsRequest) wire.InspectAllTxnsResponse {
	return wire.InspectAllTxnsResponse{Txns: m.txns.InspectAll()}
}

func (m *Module) InspectWriteIntents(wire.InspectWriteIntentsRequest) wire.InspectWriteIntentsResponse {
	return wire.InspectWriteIntentsResponse{Intents: m.ix.AllIntents()}
}

func (m *Module) InspectAllKeys(wire.InspectAllKeysRequest) wire.InspectAllKeysResponse {
	return wire.InspectAllKeysResponse{Keys: m.ix.AllKeys()}
}
