package partition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/k2platform/k23si/wire"
)

func TestWriteTombstoneThenReadMissing(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()
	key := testKey("a")

	t1 := wire.TxnId{MTR: mtr(100, 0), TRHKey: key}
	writeAndCommit(t, m, t1, key, []byte("v1"))
	requireIntentGone(t, m, key)

	t2 := wire.TxnId{MTR: mtr(200, 0), TRHKey: key}
	wresp, err := m.HandleWrite(ctx, wire.WriteRequest{
		MTR: t2.MTR, TxnId: t2, Collection: "t",
		Mutation: wire.Mutation{Key: key, Tombstone: true},
	})
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, wresp.Status)

	head, ok := m.ix.IntentHead(key)
	require.True(t, ok)
	require.True(t, head.PendingDelete)

	eresp, err := m.HandleEnd(ctx, wire.EndRequest{
		TxnId: t2, Action: wire.EndCommit, WriteKeys: []wire.WriteKey{{Collection: "t", Key: key}},
	})
	require.NoError(t, err)
	require.Equal(t, wire.TxnCommitted, eresp.FinalState)
	requireIntentGone(t, m, key)

	resp, err := m.HandleRead(ctx, wire.ReadRequest{MTR: mtr(300, 0), Key: key})
	require.NoError(t, err)
	require.Equal(t, wire.StatusKeyNotFound, resp.Status)
}

func TestWriteFieldMaskReconcilesAgainstPriorVersion(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()
	key := testKey("a")

	_, err := m.HandlePushSchema(ctx, wire.PushSchemaRequest{
		Collection: "t",
		Schema:     wire.Schema{Name: "t", Version: 1, Fields: []string{"name", "age"}},
	})
	require.NoError(t, err)

	t1 := wire.TxnId{MTR: mtr(100, 0), TRHKey: key}
	writeAndCommit(t, m, t1, key, wire.JoinFields([][]byte{[]byte("alice"), []byte("30")}))
	requireIntentGone(t, m, key)

	t2 := wire.TxnId{MTR: mtr(200, 0), TRHKey: key}
	wresp, err := m.HandleWrite(ctx, wire.WriteRequest{
		MTR: t2.MTR, TxnId: t2, Collection: "t",
		Mutation: wire.Mutation{
			Key:      key,
			Mask:     &wire.FieldMask{SchemaVersion: 1, Fields: []uint32{1}},
			MaskVals: [][]byte{[]byte("31")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, wresp.Status)

	head, ok := m.ix.IntentHead(key)
	require.True(t, ok)
	require.Equal(t, [][]byte{[]byte("alice"), []byte("31")}, wire.DecodeFields(head.Payload))
}
