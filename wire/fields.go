package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// DecodeFields splits a payload into its length-prefixed fields, the same
// layout Reconcile uses internally. Exported for the query path's
// filter/projection step, which needs field boundaries without going
// through a FieldMask.
func DecodeFields(payload []byte) [][]byte {
	return decodeFields(payload)
}

// JoinFields is DecodeFields' inverse.
func JoinFields(fields [][]byte) []byte {
	return joinFields(fields)
}

// decodeFields/joinFields implement the same length-prefixed field layout as
// the rest of the codec in codec.go: a payload is a sequence of
// BigEndian-length-prefixed byte fields.
func decodeFields(payload []byte) [][]byte {
	var fields [][]byte
	r := bytes.NewReader(payload)
	for r.Len() > 0 {
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return fields
		}
		buf := make([]byte, n)
		if _, err := r.Read(buf); err != nil {
			return fields
		}
		fields = append(fields, buf)
	}
	return fields
}

func joinFields(fields [][]byte) []byte {
	var buf bytes.Buffer
	for _, f := range fields {
		_ = binary.Write(&buf, binary.BigEndian, uint32(len(f)))
		buf.Write(f)
	}
	return buf.Bytes()
}

var (
	ErrFieldMaskMismatch     = errors.New("wire: field mask length does not match values")
	ErrFieldMaskOutOfRange   = errors.New("wire: field mask index out of range")
	ErrSchemaVersionMismatch = errors.New("wire: schema version mismatch with no field count to reconcile against")
)
