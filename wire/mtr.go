package wire

// MTR (meta-transaction-record) identifies a transaction cluster-wide. It is
// immutable once assigned.
type MTR struct {
	Timestamp uint64
	Priority  uint8
	TxnIDHash uint64
}

// TxnId is (MTR, trhKey): the trhKey names the partition that owns this
// transaction's authoritative state (its Transaction Record Holder).
type TxnId struct {
	MTR    MTR
	TRHKey Key
}

// ComparePriority orders two MTRs by the PUSH priority tuple:
// (priority, timestamp, transactionIdHash). Higher priority wins; on equal
// priority, the lower timestamp wins (the older transaction has seniority);
// the hash breaks remaining ties. Returns >0 if a outranks b, <0 if b
// outranks a, 0 only for identical tuples.
func ComparePriority(a, b MTR) int {
	if a.Priority != b.Priority {
		if a.Priority > b.Priority {
			return 1
		}
		return -1
	}
	if a.Timestamp != b.Timestamp {
		if a.Timestamp < b.Timestamp {
			return 1
		}
		return -1
	}
	switch {
	case a.TxnIDHash > b.TxnIDHash:
		return 1
	case a.TxnIDHash < b.TxnIDHash:
		return -1
	default:
		return 0
	}
}
