// Package mvcc implements the versioned indexer (§4.2): an ordered mapping
// key -> descending list of committed record versions plus an optional
// write-intent head.
package mvcc

import (
	"log/slog"
	"os"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"

	"github.com/k2platform/k23si/wire"
)

// Indexer holds one partition's key-version history. Mutators are expected
// to be called from the single goroutine that owns the partition (§5); the
// mutex exists so read-only inspection (InspectRecords et al.) can run
// concurrently with it, matching store/mvcc_store.go's lock discipline.
type Indexer struct {
	mtx  sync.RWMutex
	tree *treemap.Map // encoded wire.Key -> []wire.DataRecord, descending by Timestamp
	log  *slog.Logger
}

func New() *Indexer {
	return &Indexer{
		tree: treemap.NewWith(wire.KeyComparator),
		log: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}
}

func (ix *Indexer) versionsLocked(key wire.Key) []wire.DataRecord {
	v, ok := ix.tree.Get(key.Encode())
	if !ok {
		return nil
	}
	vs, _ := v.([]wire.DataRecord)
	return vs
}

// GetVersionNotNewerThan returns the first version with timestamp <= ts
// (certain comparison). A write-intent head whose timestamp is <= ts is a
// live conflict, not a value, and is returned via ErrIntentConflict rather
// than as data — the caller must PUSH the owner before retrying.
func (ix *Indexer) GetVersionNotNewerThan(key wire.Key, ts uint64) (wire.DataRecord, bool, error) {
	ix.mtx.RLock()
	defer ix.mtx.RUnlock()

	versions := ix.versionsLocked(key)
	for _, v := range versions {
		if v.IsIntent() {
			if v.Timestamp <= ts {
				return wire.DataRecord{}, false, newIntentConflict(v.Owner)
			}
			continue
		}
		if v.Timestamp <= ts {
			return v, true, nil
		}
	}
	return wire.DataRecord{}, false, nil
}

// InsertCommitted inserts a committed or tombstone version into sorted
// position. Duplicate timestamps are rejected — the indexer invariant
// forbids two committed records sharing a timestamp.
func (ix *Indexer) InsertCommitted(key wire.Key, rec wire.DataRecord) error {
	if rec.IsIntent() {
		return errInvariant("InsertCommitted called with a write-intent record")
	}

	ix.mtx.Lock()
	defer ix.mtx.Unlock()

	versions := ix.versionsLocked(key)
	insertAt := 0
	for insertAt < len(versions) {
		if versions[insertAt].IsIntent() {
			insertAt++
			continue
		}
		if versions[insertAt].Timestamp == rec.Timestamp {
			return errInvariant("duplicate committed timestamp for key")
		}
		if versions[insertAt].Timestamp < rec.Timestamp {
			break
		}
		insertAt++
	}

	versions = insertAt2(versions, insertAt, rec)
	ix.tree.Put(key.Encode(), versions)
	ix.log.Debug("insert_committed",
		slog.String("key", string(key.Encode())),
		slog.Uint64("ts", rec.Timestamp),
	)
	return nil
}

// InstallIntent installs a write-intent as the head of key's version list.
// Fails with ErrIntentConflict(owner) if an intent already exists.
func (ix *Indexer) InstallIntent(key wire.Key, rec wire.DataRecord) error {
	if !rec.IsIntent() {
		return errInvariant("InstallIntent called with a non-intent record")
	}

	ix.mtx.Lock()
	defer ix.mtx.Unlock()

	versions := ix.versionsLocked(key)
	if len(versions) > 0 && versions[0].IsIntent() {
		return newIntentConflict(versions[0].Owner)
	}

	versions = insertAt2(versions, 0, rec)
	ix.tree.Put(key.Encode(), versions)
	return nil
}

// CommitIntent replaces the intent head with a committed version at finalTs.
func (ix *Indexer) CommitIntent(key wire.Key, finalTs uint64, payload []byte, tombstone bool) error {
	ix.mtx.Lock()
	defer ix.mtx.Unlock()

	versions := ix.versionsLocked(key)
	if len(versions) == 0 || !versions[0].IsIntent() {
		// Finalize must be idempotent: a commit applied after a previous
		// commit already folded the intent is a no-op, not an error.
		return nil
	}

	kind := wire.KindData
	if tombstone {
		kind = wire.KindTombstone
	}
	committed := wire.DataRecord{
		Key:       key,
		Timestamp: finalTs,
		Payload:   payload,
		Kind:      kind,
	}

	rest := versions[1:]
	insertAt := 0
	for insertAt < len(rest) && rest[insertAt].Timestamp > finalTs {
		insertAt++
	}
	merged := make([]wire.DataRecord, 0, len(rest)+1)
	merged = append(merged, rest[:insertAt]...)
	merged = append(merged, committed)
	merged = append(merged, rest[insertAt:]...)

	ix.tree.Put(key.Encode(), merged)
	return nil
}

// AbortIntent removes the intent head, leaving committed history untouched.
// Idempotent: aborting a key with no intent head is a no-op.
func (ix *Indexer) AbortIntent(key wire.Key) error {
	ix.mtx.Lock()
	defer ix.mtx.Unlock()

	versions := ix.versionsLocked(key)
	if len(versions) == 0 || !versions[0].IsIntent() {
		return nil
	}
	ix.tree.Put(key.Encode(), versions[1:])
	return nil
}

// Scan yields committed versions visible at ts within [startKey, endKey),
// in ascending key order unless reverse is set. Intents are skipped without
// any PUSH: for a key whose head is an intent, the newest committed version
// at or below ts is returned. partition.HandleQuery does not use Scan.
func (ix *Indexer) Scan(startKey, endKey wire.Key, reverse bool, ts uint64, limit int) []wire.DataRecord {
	ix.mtx.RLock()
	defer ix.mtx.RUnlock()

	var out []wire.DataRecord
	ix.tree.Each(func(k interface{}, v interface{}) {
		if limit > 0 && len(out) >= limit {
			return
		}
		enc, ok := k.([]byte)
		if !ok {
			return
		}
		if !withinRange(enc, startKey, endKey) {
			return
		}
		versions, _ := v.([]wire.DataRecord)
		for _, ver := range versions {
			if ver.IsIntent() {
				continue
			}
			if ver.Timestamp <= ts {
				if !ver.IsTombstone() {
					out = append(out, ver)
				}
				break
			}
		}
	})

	if reverse {
		reverseInPlace(out)
	}
	return out
}

// IntentHead returns the intent at key's head, if any.
func (ix *Indexer) IntentHead(key wire.Key) (wire.DataRecord, bool) {
	ix.mtx.RLock()
	defer ix.mtx.RUnlock()

	versions := ix.versionsLocked(key)
	if len(versions) == 0 || !versions[0].IsIntent() {
		return wire.DataRecord{}, false
	}
	return versions[0], true
}

// AllIntents supports InspectWriteIntents.
func (ix *Indexer) AllIntents() []wire.DataRecord {
	ix.mtx.RLock()
	defer ix.mtx.RUnlock()

	var out []wire.DataRecord
	ix.tree.Each(func(_ interface{}, v interface{}) {
		versions, _ := v.([]wire.DataRecord)
		if len(versions) > 0 && versions[0].IsIntent() {
			out = append(out, versions[0])
		}
	})
	return out
}

// AllVersions supports InspectRecords.
func (ix *Indexer) AllVersions(key wire.Key) []wire.DataRecord {
	ix.mtx.RLock()
	defer ix.mtx.RUnlock()
	return append([]wire.DataRecord(nil), ix.versionsLocked(key)...)
}

// AllKeys supports InspectAllKeys.
func (ix *Indexer) AllKeys() []wire.Key {
	ix.mtx.RLock()
	defer ix.mtx.RUnlock()

	var out []wire.Key
	ix.tree.Each(func(_ interface{}, v interface{}) {
		versions, _ := v.([]wire.DataRecord)
		if len(versions) > 0 {
			out = append(out, versions[0].Key)
		}
	})
	return out
}

// Truncate drops committed versions older than retentionTS, per key, except
// the single newest version below retentionTS — the one still needed to
// answer a read at exactly ts == retentionTS. A write-intent head, if
// present, is never touched (design note "Retention timer").
func (ix *Indexer) Truncate(retentionTS uint64) {
	ix.mtx.Lock()
	defer ix.mtx.Unlock()

	ix.tree.Each(func(k interface{}, v interface{}) {
		versions, _ := v.([]wire.DataRecord)
		kept := truncateVersions(versions, retentionTS)
		if len(kept) != len(versions) {
			ix.tree.Put(k, kept)
		}
	})
}

func truncateVersions(versions []wire.DataRecord, retentionTS uint64) []wire.DataRecord {
	keptOld := false
	out := make([]wire.DataRecord, 0, len(versions))
	for _, v := range versions {
		if v.IsIntent() || v.Timestamp >= retentionTS {
			out = append(out, v)
			continue
		}
		if !keptOld {
			out = append(out, v)
			keptOld = true
		}
	}
	return out
}

func withinRange(encoded []byte, start, end wire.Key) bool {
	if len(start.Schema) > 0 || len(start.PartitionKey) > 0 || len(start.RangeKey) > 0 {
		if wire.KeyComparator(encoded, start.Encode()) < 0 {
			return false
		}
	}
	if len(end.Schema) > 0 || len(end.PartitionKey) > 0 || len(end.RangeKey) > 0 {
		if wire.KeyComparator(encoded, end.Encode()) >= 0 {
			return false
		}
	}
	return true
}

func insertAt2(versions []wire.DataRecord, at int, rec wire.DataRecord) []wire.DataRecord {
	out := make([]wire.DataRecord, 0, len(versions)+1)
	out = append(out, versions[:at]...)
	out = append(out, rec)
	out = append(out, versions[at:]...)
	return out
}

func reverseInPlace(recs []wire.DataRecord) {
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
}
