package txn

import (
	"time"

	"github.com/k2platform/k23si/wire"
)

// record is the transaction record living at the TRH (§3 "Transaction
// record").
type record struct {
	id             wire.TxnId
	mtr            wire.MTR
	state          wire.TxnState
	writeKeys      map[string]wire.WriteKey
	acked          map[string]bool
	lastHeartbeat  time.Time
	expiryDeadline time.Time
	hasIntent      bool
}

func newRecord(id wire.TxnId, now time.Time, expiry time.Duration) *record {
	return &record{
		id:             id,
		mtr:            id.MTR,
		state:          wire.TxnInProgress,
		writeKeys:      make(map[string]wire.WriteKey),
		acked:          make(map[string]bool),
		lastHeartbeat:  now,
		expiryDeadline: now.Add(expiry),
	}
}

func writeKeyID(wk wire.WriteKey) string {
	return wk.Collection + "\x00" + string(wk.Key.Encode())
}

func (r *record) addWriteKeys(keys []wire.WriteKey) {
	for _, wk := range keys {
		id := writeKeyID(wk)
		if _, ok := r.writeKeys[id]; !ok {
			r.writeKeys[id] = wk
		}
	}
	if len(keys) > 0 {
		r.hasIntent = true
	}
}

func (r *record) allAcked() bool {
	for id := range r.writeKeys {
		if !r.acked[id] {
			return false
		}
	}
	return true
}
