package partition

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/k2platform/k23si/clock"
	"github.com/k2platform/k23si/cpo"
	"github.com/k2platform/k23si/metrics"
	"github.com/k2platform/k23si/persist"
	"github.com/k2platform/k23si/tso"
	"github.com/k2platform/k23si/wire"
)

func newTestModule(t *testing.T) *Module {
	t.Helper()
	log, err := persist.Open(t.TempDir() + "/log.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	cfg := DefaultConfig()
	cfg.RetentionWindow = 100 * 365 * 24 * time.Hour
	cfg.PushRetryMax = 4

	m := New(cfg, "t", "p0", log, cpo.New(fixedSingleSource{}), tso.New(clock.New()), metrics.New())
	_, err = m.HandlePushSchema(context.Background(), wire.PushSchemaRequest{
		Collection: "t",
		Schema:     wire.Schema{Name: "t", Version: 1, Fields: []string{"v"}},
	})
	require.NoError(t, err)
	return m
}

// fixedSingleSource stands in for the control plane in tests: one partition
// owns the whole key space for collection "t".
type fixedSingleSource struct{}

func (fixedSingleSource) Fetch(_ context.Context, collection string) (cpo.Snapshot, error) {
	return cpo.Snapshot{Epoch: 1, Partitions: []cpo.PartitionRange{{PartitionID: "p0"}}}, nil
}

func testKey(pk string) wire.Key {
	return wire.Key{Schema: "t", PartitionKey: []byte(pk)}
}

func mtr(ts uint64, prio uint8) wire.MTR {
	return wire.MTR{Timestamp: ts, Priority: prio, TxnIDHash: ts}
}

func writeAndCommit(t *testing.T, m *Module, id wire.TxnId, key wire.Key, payload []byte) {
	t.Helper()
	ctx := context.Background()
	wresp, err := m.HandleWrite(ctx, wire.WriteRequest{
		MTR:        id.MTR,
		TxnId:      id,
		Collection: "t",
		Mutation:   wire.Mutation{Key: key, Payload: payload},
	})
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, wresp.Status)

	eresp, err := m.HandleEnd(ctx, wire.EndRequest{
		TxnId:     id,
		Action:    wire.EndCommit,
		WriteKeys: []wire.WriteKey{{Collection: "t", Key: key}},
	})
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, eresp.Status)
	require.Equal(t, wire.TxnCommitted, eresp.FinalState)
}

func requireIntentGone(t *testing.T, m *Module, key wire.Key) {
	t.Helper()
	require.Eventually(t, func() bool {
		intents := m.InspectWriteIntents(wire.InspectWriteIntentsRequest{}).Intents
		for _, in := range intents {
			if in.Key.Compare(key) == 0 {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond, "finalize fan-out did not clear the intent in time")
}

// S1 — basic read-your-write.
func TestBasicReadYourWrite(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()
	key := testKey("a")
	t1 := wire.TxnId{MTR: mtr(100, 0), TRHKey: key}

	writeAndCommit(t, m, t1, key, []byte("v1"))
	requireIntentGone(t, m, key)

	resp, err := m.HandleRead(ctx, wire.ReadRequest{MTR: mtr(200, 0), Key: key})
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, resp.Status)
	require.True(t, resp.HasData)
	require.Equal(t, []byte("v1"), resp.Record.Payload)
}

// S2 — snapshot isolation: a read below an uncommitted (or just-committed)
// intent's timestamp never observes it.
func TestSnapshotIsolationHidesFutureWrite(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()
	key := testKey("a")
	t1 := wire.TxnId{MTR: mtr(100, 0), TRHKey: key}

	wresp, err := m.HandleWrite(ctx, wire.WriteRequest{
		MTR:        t1.MTR,
		TxnId:      t1,
		Collection: "t",
		Mutation:   wire.Mutation{Key: key, Payload: []byte("v1")},
	})
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, wresp.Status)

	// While T1 is uncommitted, a read at ts=50 sits below the intent's
	// timestamp, so the intent is skipped without a PUSH and nothing older
	// exists.
	presp, err := m.HandleRead(ctx, wire.ReadRequest{MTR: mtr(50, 0), Key: key})
	require.NoError(t, err)
	require.Equal(t, wire.StatusKeyNotFound, presp.Status)

	eresp, err := m.HandleEnd(ctx, wire.EndRequest{
		TxnId:     t1,
		Action:    wire.EndCommit,
		WriteKeys: []wire.WriteKey{{Collection: "t", Key: key}},
	})
	require.NoError(t, err)
	require.Equal(t, wire.TxnCommitted, eresp.FinalState)
	requireIntentGone(t, m, key)

	resp, err := m.HandleRead(ctx, wire.ReadRequest{MTR: mtr(50, 0), Key: key})
	require.NoError(t, err)
	require.Equal(t, wire.StatusKeyNotFound, resp.Status)
}

// S3 — PUSH loses: a lower-timestamp (more senior) challenger force-aborts
// the incumbent and installs its own intent.
func TestPushOlderChallengerWins(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()
	key := testKey("a")
	t1 := wire.TxnId{MTR: mtr(100, 0), TRHKey: key}
	t2 := wire.TxnId{MTR: mtr(80, 0), TRHKey: key}

	wresp1, err := m.HandleWrite(ctx, wire.WriteRequest{
		MTR: t1.MTR, TxnId: t1, Collection: "t",
		Mutation: wire.Mutation{Key: key, Payload: []byte("v1")},
	})
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, wresp1.Status)

	wresp2, err := m.HandleWrite(ctx, wire.WriteRequest{
		MTR: t2.MTR, TxnId: t2, Collection: "t",
		Mutation: wire.Mutation{Key: key, Payload: []byte("v2")},
	})
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, wresp2.Status)

	head, ok := m.ix.IntentHead(key)
	require.True(t, ok)
	require.Equal(t, t2, head.Owner)

	eresp, err := m.HandleEnd(ctx, wire.EndRequest{
		TxnId: t1, Action: wire.EndCommit, WriteKeys: []wire.WriteKey{{Collection: "t", Key: key}},
	})
	require.NoError(t, err)
	require.Equal(t, wire.TxnAborted, eresp.FinalState)
}

// S4 — stale write: a write whose timestamp does not exceed a prior read's
// timestamp over the same key is rejected.
func TestStaleWriteRejected(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()
	key := testKey("a")

	readResp, err := m.HandleRead(ctx, wire.ReadRequest{MTR: mtr(200, 0), Key: key})
	require.NoError(t, err)
	require.Equal(t, wire.StatusKeyNotFound, readResp.Status)

	t2 := wire.TxnId{MTR: mtr(100, 0), TRHKey: key}
	wresp, err := m.HandleWrite(ctx, wire.WriteRequest{
		MTR: t2.MTR, TxnId: t2, Collection: "t",
		Mutation: wire.Mutation{Key: key, Payload: []byte("v2")},
	})
	require.NoError(t, err)
	require.Equal(t, wire.StatusAbortRequestTooOld, wresp.Status)
}

// S5 — scan across intent: a query observes only committed versions, never
// a trace of an intent that PUSH aborted out from under it.
func TestQuerySkipsAbortedIntent(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()
	key := testKey("c")
	t1 := wire.TxnId{MTR: mtr(100, 0), TRHKey: key}

	wresp, err := m.HandleWrite(ctx, wire.WriteRequest{
		MTR: t1.MTR, TxnId: t1, Collection: "t",
		Mutation: wire.Mutation{Key: key, Payload: []byte("v1")},
	})
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, wresp.Status)

	qresp, err := m.HandleQuery(ctx, wire.QueryRequest{
		MTR:      mtr(200, 1),
		StartKey: testKey("a"),
		EndKey:   wire.Key{Schema: "t", PartitionKey: []byte("z")},
	})
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, qresp.Status)
	require.Empty(t, qresp.Rows)

	_, ok := m.ix.IntentHead(key)
	require.False(t, ok, "higher-priority query must have force-aborted the incumbent")
}

// S6 — finalize idempotence: a repeated Finalize for an already-resolved
// intent is a safe no-op.
func TestFinalizeIsIdempotent(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()
	key := testKey("k1")
	t1 := wire.TxnId{MTR: mtr(100, 0), TRHKey: key}

	wresp, err := m.HandleWrite(ctx, wire.WriteRequest{
		MTR: t1.MTR, TxnId: t1, Collection: "t",
		Mutation: wire.Mutation{Key: key, Payload: []byte("v1")},
	})
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, wresp.Status)

	req := wire.FinalizeRequest{TxnId: t1, Key: key, Action: wire.FinalizeCommit}
	for i := 0; i < 3; i++ {
		resp, err := m.Finalize(ctx, req)
		require.NoError(t, err)
		require.Equal(t, wire.StatusOK, resp.Status)
	}

	versions := m.ix.AllVersions(key)
	require.Len(t, versions, 1)
	require.Equal(t, []byte("v1"), versions[0].Payload)
}

func TestHeartbeatExtendsExpiry(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()
	key := testKey("a")
	t1 := wire.TxnId{MTR: mtr(100, 0), TRHKey: key}

	_, err := m.HandleWrite(ctx, wire.WriteRequest{
		MTR: t1.MTR, TxnId: t1, Collection: "t",
		Mutation: wire.Mutation{Key: key, Payload: []byte("v1")},
	})
	require.NoError(t, err)

	resp, err := m.HandleHeartbeat(ctx, wire.HeartbeatRequest{TxnId: t1})
	require.NoError(t, err)
	require.Equal(t, wire.TxnInProgress, resp.Status)
}
