// Package wire holds the request/response shapes, data types, and binary
// codec shared by every partition component and by the RPC verbs in §6. No
// .proto/generated client was retrieved for this domain, so these are plain
// Go structs rather than fabricated generated protobuf code; a real
// transport can marshal them however it likes.
package wire

import "bytes"

// Key is the triple (schemaName, partitionKey, rangeKey). Partition
// ownership is decided by PartitionKey; range scans are ordered
// lexicographically over (Schema, PartitionKey, RangeKey).
type Key struct {
	Schema       string
	PartitionKey []byte
	RangeKey     []byte
}

// Compare implements the total order range scans and the indexer rely on.
func (k Key) Compare(other Key) int {
	if c := bytes.Compare([]byte(k.Schema), []byte(other.Schema)); c != 0 {
		return c
	}
	if c := bytes.Compare(k.PartitionKey, other.PartitionKey); c != 0 {
		return c
	}
	return bytes.Compare(k.RangeKey, other.RangeKey)
}

// Encode produces a byte string preserving Key's total order, used as the
// treemap key in readcache and mvcc. The persistence log is keyed by LSN and
// stores keys with EncodeKey instead.
func (k Key) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteString(k.Schema)
	buf.WriteByte(0)
	buf.Write(k.PartitionKey)
	buf.WriteByte(0)
	buf.Write(k.RangeKey)
	return buf.Bytes()
}

// Empty reports whether the key carries no partition key. Read and Write
// reject such a key with BadParameter; Query treats an empty bound as open.
func (k Key) Empty() bool {
	return len(k.PartitionKey) == 0
}

// KeyComparator orders []byte-encoded Keys for gods/treemap, matching the
// byteSliceComparator convention used throughout the teacher's store package.
func KeyComparator(a, b interface{}) int {
	ab, _ := a.([]byte)
	bb, _ := b.([]byte)
	return bytes.Compare(ab, bb)
}
