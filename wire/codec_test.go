package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyRoundTrip(t *testing.T) {
	t.Parallel()

	k := Key{Schema: "orders", PartitionKey: []byte("p1"), RangeKey: []byte("r1")}
	got, rest, err := DecodeKey(EncodeKey(k))
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, k, got)
}

func TestMTRRoundTrip(t *testing.T) {
	t.Parallel()

	m := MTR{Timestamp: 100, Priority: 5, TxnIDHash: 0xdeadbeef}
	got, err := DecodeMTR(EncodeMTR(m))
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestTxnIdRoundTrip(t *testing.T) {
	t.Parallel()

	id := TxnId{
		MTR:    MTR{Timestamp: 100, Priority: 1, TxnIDHash: 7},
		TRHKey: Key{Schema: "orders", PartitionKey: []byte("p1")},
	}
	got, err := DecodeTxnId(EncodeTxnId(id))
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestDataRecordRoundTrip(t *testing.T) {
	t.Parallel()

	rec := DataRecord{
		Key:       Key{Schema: "orders", PartitionKey: []byte("p1"), RangeKey: []byte("r1")},
		Timestamp: 42,
		Payload:   []byte("v1"),
		Kind:      KindWriteIntent,
		Owner: TxnId{
			MTR:    MTR{Timestamp: 42, Priority: 2, TxnIDHash: 9},
			TRHKey: Key{Schema: "orders", PartitionKey: []byte("p1")},
		},
	}
	got, err := DecodeDataRecord(EncodeDataRecord(rec))
	require.NoError(t, err)
	require.Equal(t, rec, got)
}

func TestComparePriority(t *testing.T) {
	t.Parallel()

	higherPriority := MTR{Priority: 5, Timestamp: 100}
	lowerPriority := MTR{Priority: 1, Timestamp: 50}
	require.Positive(t, ComparePriority(higherPriority, lowerPriority))

	older := MTR{Priority: 1, Timestamp: 50}
	younger := MTR{Priority: 1, Timestamp: 100}
	require.Positive(t, ComparePriority(older, younger))

	tieA := MTR{Priority: 1, Timestamp: 50, TxnIDHash: 9}
	tieB := MTR{Priority: 1, Timestamp: 50, TxnIDHash: 1}
	require.Positive(t, ComparePriority(tieA, tieB))
}

func TestReconcileSameVersion(t *testing.T) {
	t.Parallel()

	prev := DataRecord{Payload: joinFields([][]byte{[]byte("a"), []byte("b")})}
	out, err := Reconcile(prev, 1, FieldMask{SchemaVersion: 1, Fields: []uint32{1}}, [][]byte{[]byte("z")}, 2)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("a"), []byte("z")}, decodeFields(out.Payload))
}

func TestReconcileMaskOutOfRange(t *testing.T) {
	t.Parallel()

	prev := DataRecord{Payload: joinFields([][]byte{[]byte("a")})}
	_, err := Reconcile(prev, 1, FieldMask{SchemaVersion: 1, Fields: []uint32{5}}, [][]byte{[]byte("z")}, 1)
	require.ErrorIs(t, err, ErrFieldMaskOutOfRange)
}
