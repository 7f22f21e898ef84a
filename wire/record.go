package wire

// RecordKind tags a DataRecord variant. A tagged-variant record is
// preferable to a class hierarchy here (design note 9).
type RecordKind uint8

const (
	KindData RecordKind = iota
	KindTombstone
	KindWriteIntent
)

// DataRecord is a single version in a key's history.
type DataRecord struct {
	Key       Key
	Timestamp uint64
	Payload   []byte
	Kind      RecordKind
	// Owner is set only when Kind == KindWriteIntent: the transaction that
	// installed this intent and that a PUSH must be directed at.
	Owner TxnId
	// PendingDelete is set only when Kind == KindWriteIntent: it records
	// that finalize must turn this intent into a KindTombstone rather than a
	// KindData version on commit, since WriteIntent and Tombstone are
	// otherwise mutually exclusive Kind values.
	PendingDelete bool
}

func (r DataRecord) IsIntent() bool {
	return r.Kind == KindWriteIntent
}

func (r DataRecord) IsTombstone() bool {
	return r.Kind == KindTombstone
}

// FieldMask names the fields a partial update applies, by schema field
// index. Reconcile folds a partial update onto the previous full record
// image — the schema/field-mask reconciliation behavior recovered from
// original_source/ (§9a) that the distillation dropped.
type FieldMask struct {
	SchemaVersion uint32
	Fields        []uint32
}

// Reconcile applies mask/values onto prev's payload fields, producing a full
// record image. prevVersion is the schema version prev was written under.
// Same-version masks are a straight field overwrite; a version mismatch is
// only reconcilable when every masked field index is still valid in the new
// schema version (callers pass that bound in as fieldCount) — otherwise the
// caller must reject the write with OperationNotAllowed.
func Reconcile(prev DataRecord, prevVersion uint32, mask FieldMask, values [][]byte, fieldCount uint32) (DataRecord, error) {
	if len(mask.Fields) != len(values) {
		return DataRecord{}, ErrFieldMaskMismatch
	}

	fields, err := splitFields(prev.Payload, prevVersion, mask.SchemaVersion, fieldCount)
	if err != nil {
		return DataRecord{}, err
	}

	for i, idx := range mask.Fields {
		if idx >= uint32(len(fields)) {
			return DataRecord{}, ErrFieldMaskOutOfRange
		}
		fields[idx] = values[i]
	}

	out := prev
	out.Payload = joinFields(fields)
	out.Kind = KindData
	return out, nil
}

func splitFields(payload []byte, prevVersion, maskVersion, fieldCount uint32) ([][]byte, error) {
	fields := decodeFields(payload)
	if prevVersion == maskVersion {
		return fields, nil
	}
	// Cross-version reconciliation: pad/truncate to the field count named by
	// the new schema version. A genuinely incompatible rename is the
	// caller's job to detect before calling Reconcile.
	if fieldCount == 0 {
		return nil, ErrSchemaVersionMismatch
	}
	resized := make([][]byte, fieldCount)
	copy(resized, fields)
	return resized, nil
}
