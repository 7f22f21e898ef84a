// Package persist implements the persistence facade (§4.8): an append-only
// log whose flush() is the durable fence that every externally visible
// decision (RPC reply, propagated PUSH outcome) must follow.
package persist

import (
	"log/slog"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"go.etcd.io/bbolt"

	"github.com/k2platform/k23si/wire"
)

var logBucket = []byte("log")

const mode = 0666

// Log is the durable, replayable append-only store backing a single
// partition. AppendIntent/AppendTxnTransition stage frames in memory under
// the next LSN; Flush commits every staged frame in one bbolt transaction,
// whose commit is the durable fence (bbolt fsyncs on commit by default).
type Log struct {
	mtx     sync.Mutex
	db      *bbolt.DB
	nextLSN uint64
	pending [][2][]byte // [lsnKey, frameBytes] pairs awaiting Flush
	log     *slog.Logger
}

func Open(path string) (*Log, error) {
	db, err := bbolt.Open(path, mode, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(logBucket)
		return errors.WithStack(err)
	}); err != nil {
		return nil, err
	}

	l := &Log{
		db:  db,
		log: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}
	if err := l.loadNextLSN(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) loadNextLSN() error {
	return l.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(logBucket)
		k, _ := b.Cursor().Last()
		if k == nil {
			l.nextLSN = 1
			return nil
		}
		l.nextLSN = decodeLSNKey(k) + 1
		return nil
	})
}

func (l *Log) stage(payload []byte) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.pending = append(l.pending, [2][]byte{lsnKey(l.nextLSN), payload})
	l.nextLSN++
}

// AppendIntent stages a write-intent or committed/tombstone record. Per
// §4.6 step 5, the caller must Flush before installing the record into the
// in-memory indexer.
func (l *Log) AppendIntent(rec wire.DataRecord) error {
	l.stage(encodeIntentFrame(intentFrame{Record: rec}))
	return nil
}

// AppendTxnTransition stages a transaction-state transition. Satisfies
// txn.Persister.
func (l *Log) AppendTxnTransition(id wire.TxnId, state wire.TxnState, writeKeys []wire.WriteKey) error {
	l.stage(encodeTxnTransitionFrame(txnTransitionFrame{ID: id, State: state, WriteKeys: writeKeys}))
	return nil
}

// Checkpoint stages a marker recording that replay may skip everything at
// or below upToLSN once this frame itself has been durably flushed.
func (l *Log) Checkpoint(upToLSN uint64) error {
	l.stage(encodeCheckpointFrame(checkpointFrame{UpToLSN: upToLSN}))
	return nil
}

// Flush commits every staged frame in a single bbolt transaction. A
// successful return is the durable fence: any state derived from the
// flushed frames may now be acknowledged externally.
func (l *Log) Flush() error {
	l.mtx.Lock()
	batch := l.pending
	l.pending = nil
	l.mtx.Unlock()

	if len(batch) == 0 {
		return nil
	}

	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(logBucket)
		for _, kv := range batch {
			if err := b.Put(kv[0], kv[1]); err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	})
	if err != nil {
		l.log.Error("flush failed", slog.Any("err", err))
		return errors.WithStack(err)
	}
	return nil
}

func (l *Log) Close() error {
	return errors.WithStack(l.db.Close())
}

// Replay walks every frame from the last checkpoint onward in LSN order,
// invoking onIntent for intent/data frames and onTransition for
// transaction-state frames. It is the recovery-time counterpart to
// AppendIntent/AppendTxnTransition (§4.8 "On recovery, replay rebuilds the
// indexer... the transaction manager...").
func (l *Log) Replay(onIntent func(wire.DataRecord) error, onTransition func(wire.TxnId, wire.TxnState, []wire.WriteKey) error) error {
	var startAfter uint64

	err := l.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(logBucket)
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			kind, payload, err := decodeFrame(v)
			if err != nil {
				return err
			}
			if kind == frameCheckpoint {
				cp, err := decodeCheckpointFrame(payload)
				if err != nil {
					return err
				}
				startAfter = cp.UpToLSN
				break
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return l.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(logBucket)
		return b.ForEach(func(k, v []byte) error {
			if decodeLSNKey(k) <= startAfter {
				return nil
			}
			kind, payload, err := decodeFrame(v)
			if err != nil {
				return err
			}
			switch kind {
			case frameIntentAppend:
				f, err := decodeIntentFrame(payload)
				if err != nil {
					return err
				}
				return onIntent(f.Record)
			case frameTxnTransition:
				f, err := decodeTxnTransitionFrame(payload)
				if err != nil {
					return err
				}
				return onTransition(f.ID, f.State, f.WriteKeys)
			case frameCheckpoint:
				return nil
			default:
				return errors.Newf("persist: replay: unknown frame kind %d", kind)
			}
		})
	})
}
