package partition

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/k2platform/k23si/wire"
)

// HandleWrite implements the Write verb (§4.6): installs a write-intent at
// req.MTR.Timestamp after checking the stale-write invariant, retrying
// through PUSH on an existing intent exactly like the read path.
func (m *Module) HandleWrite(ctx context.Context, req wire.WriteRequest) (wire.WriteResponse, error) {
	var err error
	defer m.guardAssertions("Write", &err)

	key := req.Mutation.Key
	if err = m.validateOwnership(ctx, req.Collection, key); err != nil {
		return wire.WriteResponse{Status: classify(err)}, nil
	}
	if err = m.validateSchemaExists(req.Collection); err != nil {
		return wire.WriteResponse{Status: classify(err)}, nil
	}
	if err = m.validateRetention(req.MTR.Timestamp); err != nil {
		return wire.WriteResponse{Status: classify(err)}, nil
	}

	rec, werr := m.buildRecord(req)
	if werr != nil {
		err = werr
		return wire.WriteResponse{Status: classify(err)}, nil
	}

	trh := m.isTRH(ctx, req.TxnId)

	for attempt := 0; attempt <= m.cfg.PushRetryMax; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			err = errors.WithStack(ErrRequestTimeout)
			return wire.WriteResponse{Status: classify(err)}, nil
		}

		serr := m.tryInstall(req, rec, trh)

		var conflict *intentConflictPeer
		if errors.As(serr, &conflict) {
			won, perr := m.pushIncumbent(ctx, req.MTR, conflict.owner, key)
			if perr != nil {
				err = perr
				return wire.WriteResponse{Status: classify(err)}, nil
			}
			if won {
				continue
			}
			err = errors.WithStack(ErrAbortConflict)
			return wire.WriteResponse{Status: classify(err)}, nil
		}
		if serr != nil {
			err = serr
			return wire.WriteResponse{Status: classify(err)}, nil
		}
		return wire.WriteResponse{Status: wire.StatusOK}, nil
	}

	err = errors.WithStack(ErrRequestTimeout)
	return wire.WriteResponse{Status: classify(err)}, nil
}

// intentConflictPeer mirrors mvcc.IntentConflict's shape without importing
// package mvcc's error type directly into the retry-loop control flow below;
// tryInstall converts the mvcc error at its own boundary.
type intentConflictPeer struct {
	owner wire.TxnId
}

func (e *intentConflictPeer) Error() string { return "partition: write-intent conflict" }

// buildRecord applies the stale-write check and, for a partial update,
// field-mask reconciliation against the current newest version.
func (m *Module) buildRecord(req wire.WriteRequest) (wire.DataRecord, error) {
	key := req.Mutation.Key
	ts := req.MTR.Timestamp

	m.mtx.Lock()
	newest, found, err := m.ix.GetVersionNotNewerThan(key, ^uint64(0))
	readFloor := m.cache.CheckInterval(key.Encode(), key.Encode())
	m.mtx.Unlock()

	if err != nil {
		// An intent head is surfaced to the caller's own PUSH retry loop, not
		// resolved here: buildRecord only needs the newest committed version.
		newest, found = wire.DataRecord{}, false
		m.mtx.Lock()
		for _, v := range m.ix.AllVersions(key) {
			if !v.IsIntent() {
				newest, found = v, true
				break
			}
		}
		m.mtx.Unlock()
	}

	if ts <= readFloor {
		return wire.DataRecord{}, errors.WithStack(ErrAbortRequestTooOld)
	}
	if found && ts <= newest.Timestamp {
		return wire.DataRecord{}, errors.WithStack(ErrAbortRequestTooOld)
	}

	rec := wire.DataRecord{
		Key:       key,
		Timestamp: ts,
		Payload:   req.Mutation.Payload,
		Kind:      wire.KindWriteIntent,
		Owner:     req.TxnId,
	}

	if req.Mutation.Tombstone {
		rec.PendingDelete = true
		return rec, nil
	}

	if req.Mutation.Mask != nil {
		schema, ok := m.schemaForCollection(req.Collection)
		if !ok {
			return wire.DataRecord{}, errors.WithStack(ErrSchemaUnknown)
		}
		prevVersion := schema.Version
		reconciled, rerr := wire.Reconcile(newest, prevVersion, *req.Mutation.Mask, req.Mutation.MaskVals, uint32(len(schema.Fields)))
		if rerr != nil {
			return wire.DataRecord{}, errors.WithStack(rerr)
		}
		rec.Payload = reconciled.Payload
	}

	return rec, nil
}

func (m *Module) schemaForCollection(collection string) (wire.Schema, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	s, ok := m.schemas[collection]
	return s, ok
}

// isTRH reports whether this partition owns the transaction record for id,
// the §4.6 step 4 guard on creating it ("...and this partition is the
// TRH"). When the CPO can't answer — no client wired, or a resolve error —
// it defaults to true rather than silently skipping the one place a
// transaction's InProgress record gets seeded.
func (m *Module) isTRH(ctx context.Context, id wire.TxnId) bool {
	if m.cpo == nil {
		return true
	}
	owner, err := m.cpo.Resolve(ctx, m.collection, id.TRHKey)
	if err != nil {
		return true
	}
	return owner.PartitionID == m.partitionID
}

// tryInstall registers the transaction and installs the intent under a
// single critical section, persisting before the indexer mutation takes
// effect (§4.8 persist-before-install). On an existing intent it returns an
// *intentConflictPeer rather than the raw mvcc error, so HandleWrite's retry
// loop doesn't need to import package mvcc. trh is whether this partition is
// req.TxnId's TRH (§4.6 step 4); EnsureInProgress only runs there.
func (m *Module) tryInstall(req wire.WriteRequest, rec wire.DataRecord, trh bool) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if head, ok := m.ix.IntentHead(rec.Key); ok {
		return &intentConflictPeer{owner: head.Owner}
	}

	if trh {
		if err := m.txns.EnsureInProgress(req.TxnId); err != nil {
			return err
		}
	}
	if err := m.log.AppendIntent(rec); err != nil {
		return errors.WithStack(err)
	}
	if err := m.log.Flush(); err != nil {
		return errors.WithStack(err)
	}
	if err := m.ix.InstallIntent(rec.Key, rec); err != nil {
		return err
	}
	return nil
}
