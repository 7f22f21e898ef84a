package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// Versioned binary encoding for persistence-log frames and PUSH/Finalize
// wire payloads: a leading version byte followed by BigEndian
// length-prefixed fields, the same shape kv/txn_codec.go used for TxnMeta
// and intent records.
const (
	keyVersion        byte = 1
	mtrVersion        byte = 1
	txnIdVersion      byte = 1
	dataRecordVersion byte = 1
)

func EncodeKey(k Key) []byte {
	var buf bytes.Buffer
	buf.WriteByte(keyVersion)
	writeLenPrefixed(&buf, []byte(k.Schema))
	writeLenPrefixed(&buf, k.PartitionKey)
	writeLenPrefixed(&buf, k.RangeKey)
	return buf.Bytes()
}

func DecodeKey(b []byte) (Key, []byte, error) {
	if len(b) < 1 || b[0] != keyVersion {
		return Key{}, nil, errors.WithStack(errUnsupportedVersion("key", b))
	}
	r := bytes.NewReader(b[1:])
	schema, err := readLenPrefixed(r)
	if err != nil {
		return Key{}, nil, errors.WithStack(err)
	}
	pk, err := readLenPrefixed(r)
	if err != nil {
		return Key{}, nil, errors.WithStack(err)
	}
	rk, err := readLenPrefixed(r)
	if err != nil {
		return Key{}, nil, errors.WithStack(err)
	}
	return Key{Schema: string(schema), PartitionKey: pk, RangeKey: rk}, remaining(r), nil
}

func EncodeMTR(m MTR) []byte {
	var buf bytes.Buffer
	buf.WriteByte(mtrVersion)
	_ = binary.Write(&buf, binary.BigEndian, m.Timestamp)
	buf.WriteByte(m.Priority)
	_ = binary.Write(&buf, binary.BigEndian, m.TxnIDHash)
	return buf.Bytes()
}

func DecodeMTR(b []byte) (MTR, error) {
	if len(b) < 1 || b[0] != mtrVersion {
		return MTR{}, errors.WithStack(errUnsupportedVersion("mtr", b))
	}
	r := bytes.NewReader(b[1:])
	var m MTR
	if err := binary.Read(r, binary.BigEndian, &m.Timestamp); err != nil {
		return MTR{}, errors.WithStack(err)
	}
	prio, err := r.ReadByte()
	if err != nil {
		return MTR{}, errors.WithStack(err)
	}
	m.Priority = prio
	if err := binary.Read(r, binary.BigEndian, &m.TxnIDHash); err != nil {
		return MTR{}, errors.WithStack(err)
	}
	return m, nil
}

func EncodeTxnId(id TxnId) []byte {
	var buf bytes.Buffer
	buf.WriteByte(txnIdVersion)
	mtrBytes := EncodeMTR(id.MTR)
	writeLenPrefixed(&buf, mtrBytes)
	keyBytes := EncodeKey(id.TRHKey)
	writeLenPrefixed(&buf, keyBytes)
	return buf.Bytes()
}

func DecodeTxnId(b []byte) (TxnId, error) {
	if len(b) < 1 || b[0] != txnIdVersion {
		return TxnId{}, errors.WithStack(errUnsupportedVersion("txnid", b))
	}
	r := bytes.NewReader(b[1:])
	mtrBytes, err := readLenPrefixed(r)
	if err != nil {
		return TxnId{}, errors.WithStack(err)
	}
	mtr, err := DecodeMTR(mtrBytes)
	if err != nil {
		return TxnId{}, errors.WithStack(err)
	}
	keyBytes, err := readLenPrefixed(r)
	if err != nil {
		return TxnId{}, errors.WithStack(err)
	}
	key, _, err := DecodeKey(keyBytes)
	if err != nil {
		return TxnId{}, errors.WithStack(err)
	}
	return TxnId{MTR: mtr, TRHKey: key}, nil
}

func EncodeDataRecord(rec DataRecord) []byte {
	var buf bytes.Buffer
	buf.WriteByte(dataRecordVersion)
	writeLenPrefixed(&buf, EncodeKey(rec.Key))
	_ = binary.Write(&buf, binary.BigEndian, rec.Timestamp)
	buf.WriteByte(byte(rec.Kind))
	writeLenPrefixed(&buf, rec.Payload)
	writeLenPrefixed(&buf, EncodeTxnId(rec.Owner))
	if rec.PendingDelete {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func DecodeDataRecord(b []byte) (DataRecord, error) {
	if len(b) < 1 || b[0] != dataRecordVersion {
		return DataRecord{}, errors.WithStack(errUnsupportedVersion("data_record", b))
	}
	r := bytes.NewReader(b[1:])
	keyBytes, err := readLenPrefixed(r)
	if err != nil {
		return DataRecord{}, errors.WithStack(err)
	}
	key, _, err := DecodeKey(keyBytes)
	if err != nil {
		return DataRecord{}, errors.WithStack(err)
	}
	var ts uint64
	if err := binary.Read(r, binary.BigEndian, &ts); err != nil {
		return DataRecord{}, errors.WithStack(err)
	}
	kindByte, err := r.ReadByte()
	if err != nil {
		return DataRecord{}, errors.WithStack(err)
	}
	payload, err := readLenPrefixed(r)
	if err != nil {
		return DataRecord{}, errors.WithStack(err)
	}
	ownerBytes, err := readLenPrefixed(r)
	if err != nil {
		return DataRecord{}, errors.WithStack(err)
	}
	var owner TxnId
	if len(ownerBytes) > 1 {
		owner, err = DecodeTxnId(ownerBytes)
		if err != nil {
			return DataRecord{}, errors.WithStack(err)
		}
	}
	var pendingDelete bool
	if r.Len() > 0 {
		b, err := r.ReadByte()
		if err != nil {
			return DataRecord{}, errors.WithStack(err)
		}
		pendingDelete = b == 1
	}
	return DataRecord{
		Key:           key,
		Timestamp:     ts,
		Kind:          RecordKind(kindByte),
		Payload:       payload,
		Owner:         owner,
		PendingDelete: pendingDelete,
	}, nil
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(b)))
	buf.Write(b)
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, errors.WithStack(err)
	}
	if int(n) > r.Len() {
		return nil, errors.New("wire: length-prefixed field truncated")
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf, nil
}

func remaining(r *bytes.Reader) []byte {
	buf := make([]byte, r.Len())
	_, _ = r.Read(buf)
	return buf
}

func errUnsupportedVersion(what string, b []byte) error {
	if len(b) < 1 {
		return errors.Newf("wire: %s: empty", what)
	}
	return errors.Newf("wire: %s: unsupported version %d", what, b[0])
}
