package mvcc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/k2platform/k23si/wire"
)

func key(pk string) wire.Key {
	return wire.Key{Schema: "t", PartitionKey: []byte(pk)}
}

func TestInsertCommittedThenGet(t *testing.T) {
	t.Parallel()

	ix := New()
	k := key("a")
	require.NoError(t, ix.InsertCommitted(k, wire.DataRecord{Key: k, Timestamp: 100, Payload: []byte("v1"), Kind: wire.KindData}))

	rec, ok, err := ix.GetVersionNotNewerThan(k, 200)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), rec.Payload)
}

func TestDuplicateTimestampRejected(t *testing.T) {
	t.Parallel()

	ix := New()
	k := key("a")
	require.NoError(t, ix.InsertCommitted(k, wire.DataRecord{Key: k, Timestamp: 100, Kind: wire.KindData}))
	err := ix.InsertCommitted(k, wire.DataRecord{Key: k, Timestamp: 100, Kind: wire.KindData})
	require.Error(t, err)
}

func TestIntentHeadBlocksSecondIntent(t *testing.T) {
	t.Parallel()

	ix := New()
	k := key("a")
	owner := wire.TxnId{MTR: wire.MTR{Timestamp: 100}}
	require.NoError(t, ix.InstallIntent(k, wire.DataRecord{Key: k, Timestamp: 100, Kind: wire.KindWriteIntent, Owner: owner}))

	err := ix.InstallIntent(k, wire.DataRecord{Key: k, Timestamp: 110, Kind: wire.KindWriteIntent})
	require.Error(t, err)
	var conflict *IntentConflict
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, owner, conflict.Owner)
}

func TestReadBelowIntentIsKeyNotFound(t *testing.T) {
	t.Parallel()

	// S2: T1(ts=100) writes k="a" (intent, not committed). T2(ts=50) reads
	// k="a": the snapshot is below the intent, so GetVersionNotNewerThan
	// finds nothing (the intent is invisible at ts=50) rather than a
	// conflict or a value.
	ix := New()
	k := key("a")
	owner := wire.TxnId{MTR: wire.MTR{Timestamp: 100}}
	require.NoError(t, ix.InstallIntent(k, wire.DataRecord{Key: k, Timestamp: 100, Kind: wire.KindWriteIntent, Owner: owner}))

	rec, ok, err := ix.GetVersionNotNewerThan(k, 50)
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, rec)
}

func TestReadAtOrAboveIntentIsConflict(t *testing.T) {
	t.Parallel()

	ix := New()
	k := key("a")
	owner := wire.TxnId{MTR: wire.MTR{Timestamp: 100}}
	require.NoError(t, ix.InstallIntent(k, wire.DataRecord{Key: k, Timestamp: 100, Kind: wire.KindWriteIntent, Owner: owner}))

	_, _, err := ix.GetVersionNotNewerThan(k, 200)
	require.Error(t, err)
	var conflict *IntentConflict
	require.ErrorAs(t, err, &conflict)
}

func TestCommitIntentFoldsIntoHistory(t *testing.T) {
	t.Parallel()

	ix := New()
	k := key("a")
	owner := wire.TxnId{MTR: wire.MTR{Timestamp: 100}}
	require.NoError(t, ix.InstallIntent(k, wire.DataRecord{Key: k, Timestamp: 100, Kind: wire.KindWriteIntent, Owner: owner}))
	require.NoError(t, ix.CommitIntent(k, 100, []byte("v1"), false))

	rec, ok, err := ix.GetVersionNotNewerThan(k, 200)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), rec.Payload)
}

func TestFinalizeIdempotence(t *testing.T) {
	t.Parallel()

	// S6: committing the same intent 3x must match a single application.
	ix := New()
	k := key("a")
	owner := wire.TxnId{MTR: wire.MTR{Timestamp: 100}}
	require.NoError(t, ix.InstallIntent(k, wire.DataRecord{Key: k, Timestamp: 100, Kind: wire.KindWriteIntent, Owner: owner}))

	for i := 0; i < 3; i++ {
		require.NoError(t, ix.CommitIntent(k, 100, []byte("v1"), false))
	}

	versions := ix.AllVersions(k)
	require.Len(t, versions, 1)
	require.Equal(t, []byte("v1"), versions[0].Payload)
}

func TestAbortIntentIsIdempotent(t *testing.T) {
	t.Parallel()

	ix := New()
	k := key("a")
	require.NoError(t, ix.AbortIntent(k)) // no-op on empty key
	require.NoError(t, ix.InstallIntent(k, wire.DataRecord{Key: k, Timestamp: 100, Kind: wire.KindWriteIntent}))
	require.NoError(t, ix.AbortIntent(k))
	require.NoError(t, ix.AbortIntent(k))
	require.Empty(t, ix.AllVersions(k))
}

func TestScanSkipsIntentsAndTombstones(t *testing.T) {
	t.Parallel()

	ix := New()
	a, b, c := key("a"), key("b"), key("c")
	require.NoError(t, ix.InsertCommitted(a, wire.DataRecord{Key: a, Timestamp: 50, Payload: []byte("va"), Kind: wire.KindData}))
	require.NoError(t, ix.InsertCommitted(b, wire.DataRecord{Key: b, Timestamp: 50, Kind: wire.KindTombstone}))
	require.NoError(t, ix.InstallIntent(c, wire.DataRecord{Key: c, Timestamp: 60, Kind: wire.KindWriteIntent}))

	out := ix.Scan(wire.Key{}, wire.Key{}, false, 200, 0)
	require.Len(t, out, 1)
	require.Equal(t, []byte("va"), out[0].Payload)
}

func TestTruncateKeepsNewestVersionBelowRetention(t *testing.T) {
	t.Parallel()

	ix := New()
	k := key("a")
	require.NoError(t, ix.InsertCommitted(k, wire.DataRecord{Key: k, Timestamp: 10, Payload: []byte("v1"), Kind: wire.KindData}))
	require.NoError(t, ix.InsertCommitted(k, wire.DataRecord{Key: k, Timestamp: 30, Payload: []byte("v2"), Kind: wire.KindData}))
	require.NoError(t, ix.InsertCommitted(k, wire.DataRecord{Key: k, Timestamp: 50, Payload: []byte("v3"), Kind: wire.KindData}))

	ix.Truncate(40)

	out := ix.AllVersions(k)
	require.Len(t, out, 2)
	require.Equal(t, uint64(50), out[0].Timestamp)
	require.Equal(t, uint64(30), out[1].Timestamp)

	rec, ok, err := ix.GetVersionNotNewerThan(k, 35)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), rec.Payload)
}

func TestTruncateNeverRemovesIntentHead(t *testing.T) {
	t.Parallel()

	ix := New()
	k := key("a")
	require.NoError(t, ix.InsertCommitted(k, wire.DataRecord{Key: k, Timestamp: 10, Kind: wire.KindData}))
	require.NoError(t, ix.InstallIntent(k, wire.DataRecord{Key: k, Timestamp: 90, Kind: wire.KindWriteIntent}))

	ix.Truncate(80)

	head, ok := ix.IntentHead(k)
	require.True(t, ok)
	require.Equal(t, uint64(90), head.Timestamp)
}
