package persist

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/k2platform/k23si/wire"
)

// frameKind tags the payload that follows the LSN key in the log bucket,
// mirroring how kv/bolt_store.go treats every record as an opaque
// versioned blob under a single bucket.
type frameKind byte

const (
	frameIntentAppend frameKind = iota + 1
	frameTxnTransition
	frameCheckpoint
)

const frameVersion byte = 1

type intentFrame struct {
	Record wire.DataRecord
}

type txnTransitionFrame struct {
	ID        wire.TxnId
	State     wire.TxnState
	WriteKeys []wire.WriteKey
}

type checkpointFrame struct {
	UpToLSN uint64
}

func encodeFrame(kind frameKind, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(frameVersion)
	buf.WriteByte(byte(kind))
	buf.Write(payload)
	return buf.Bytes()
}

func decodeFrame(b []byte) (frameKind, []byte, error) {
	if len(b) < 2 || b[0] != frameVersion {
		return 0, nil, errors.Newf("persist: frame: unsupported version")
	}
	return frameKind(b[1]), b[2:], nil
}

func encodeIntentFrame(f intentFrame) []byte {
	return encodeFrame(frameIntentAppend, wire.EncodeDataRecord(f.Record))
}

func decodeIntentFrame(b []byte) (intentFrame, error) {
	rec, err := wire.DecodeDataRecord(b)
	if err != nil {
		return intentFrame{}, errors.WithStack(err)
	}
	return intentFrame{Record: rec}, nil
}

func encodeTxnTransitionFrame(f txnTransitionFrame) []byte {
	var buf bytes.Buffer
	idBytes := wire.EncodeTxnId(f.ID)
	writeLenPrefixed(&buf, idBytes)
	buf.WriteByte(byte(f.State))
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(f.WriteKeys)))
	for _, wk := range f.WriteKeys {
		writeLenPrefixed(&buf, []byte(wk.Collection))
		writeLenPrefixed(&buf, wire.EncodeKey(wk.Key))
	}
	return encodeFrame(frameTxnTransition, buf.Bytes())
}

func decodeTxnTransitionFrame(b []byte) (txnTransitionFrame, error) {
	r := bytes.NewReader(b)
	idBytes, err := readLenPrefixed(r)
	if err != nil {
		return txnTransitionFrame{}, errors.WithStack(err)
	}
	id, err := wire.DecodeTxnId(idBytes)
	if err != nil {
		return txnTransitionFrame{}, errors.WithStack(err)
	}
	stateByte, err := r.ReadByte()
	if err != nil {
		return txnTransitionFrame{}, errors.WithStack(err)
	}
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return txnTransitionFrame{}, errors.WithStack(err)
	}
	wks := make([]wire.WriteKey, 0, n)
	for i := uint32(0); i < n; i++ {
		collBytes, err := readLenPrefixed(r)
		if err != nil {
			return txnTransitionFrame{}, errors.WithStack(err)
		}
		keyBytes, err := readLenPrefixed(r)
		if err != nil {
			return txnTransitionFrame{}, errors.WithStack(err)
		}
		key, _, err := wire.DecodeKey(keyBytes)
		if err != nil {
			return txnTransitionFrame{}, errors.WithStack(err)
		}
		wks = append(wks, wire.WriteKey{Collection: string(collBytes), Key: key})
	}
	return txnTransitionFrame{ID: id, State: wire.TxnState(stateByte), WriteKeys: wks}, nil
}

func encodeCheckpointFrame(f checkpointFrame) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, f.UpToLSN)
	return encodeFrame(frameCheckpoint, buf.Bytes())
}

func decodeCheckpointFrame(b []byte) (checkpointFrame, error) {
	r := bytes.NewReader(b)
	var f checkpointFrame
	if err := binary.Read(r, binary.BigEndian, &f.UpToLSN); err != nil {
		return checkpointFrame{}, errors.WithStack(err)
	}
	return f, nil
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
		return nil, errors.New("persist: length-prefixed field truncated")
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(buf); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return buf, nil
}

func lsnKey(lsn uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, lsn)
	return b
}

func decodeLSNKey(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
