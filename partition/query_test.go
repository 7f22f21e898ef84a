package partition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/k2platform/k23si/wire"
)

func TestQueryRespectsRowLimitAndContinuationToken(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()

	for _, pk := range []string{"a", "b", "c"} {
		key := testKey(pk)
		id := wire.TxnId{MTR: mtr(100, 0), TRHKey: key}
		writeAndCommit(t, m, id, key, []byte("v-"+pk))
	}
	for _, pk := range []string{"a", "b", "c"} {
		requireIntentGone(t, m, testKey(pk))
	}

	resp, err := m.HandleQuery(ctx, wire.QueryRequest{
		MTR:      mtr(200, 0),
		StartKey: testKey("a"),
		EndKey:   wire.Key{Schema: "t", PartitionKey: []byte("z")},
		Limit:    2,
	})
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, resp.Status)
	require.Len(t, resp.Rows, 2)
	require.NotEmpty(t, resp.ContinueToken)

	resp2, err := m.HandleQuery(ctx, wire.QueryRequest{
		MTR:      mtr(200, 0),
		StartKey: testKey("a"),
		EndKey:   wire.Key{Schema: "t", PartitionKey: []byte("z")},
		Limit:    2,
		Token:    resp.ContinueToken,
	})
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, resp2.Status)
	require.Len(t, resp2.Rows, 1)
	require.Empty(t, resp2.ContinueToken)
}

func TestQueryProjectsNamedFields(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()

	_, err := m.HandlePushSchema(ctx, wire.PushSchemaRequest{
		Collection: "t",
		Schema:     wire.Schema{Name: "t", Version: 1, Fields: []string{"name", "age"}},
	})
	require.NoError(t, err)

	key := testKey("a")
	payload := wire.JoinFields([][]byte{[]byte("alice"), []byte("30")})
	id := wire.TxnId{MTR: mtr(100, 0), TRHKey: key}
	writeAndCommit(t, m, id, key, payload)
	requireIntentGone(t, m, key)

	resp, err := m.HandleQuery(ctx, wire.QueryRequest{
		MTR:      mtr(200, 0),
		StartKey: testKey("a"),
		EndKey:   wire.Key{Schema: "t", PartitionKey: []byte("z")},
		Project:  []string{"name"},
	})
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, resp.Status)
	require.Len(t, resp.Rows, 1)
	require.Equal(t, [][]byte{[]byte("alice")}, wire.DecodeFields(resp.Rows[0].Payload))
}
