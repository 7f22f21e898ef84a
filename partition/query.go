package partition

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/k2platform/k23si/wire"
)

// HandleQuery implements the scan/query verb (§4.7). It walks keys in this
// partition one at a time, resolving each through the same PUSH-retry path
// as a single-key read — the indexer's own Scan skips intents outright,
// which is wrong here: a scan crossing a live write-intent must PUSH its
// owner exactly like Read would.
func (m *Module) HandleQuery(ctx context.Context, req wire.QueryRequest) (wire.QueryResponse, error) {
	var err error
	defer m.guardAssertions("Query", &err)

	if err = m.validateQueryRange(ctx, req); err != nil {
		return wire.QueryResponse{Status: classify(err)}, nil
	}
	if err = m.validateRetention(req.MTR.Timestamp); err != nil {
		return wire.QueryResponse{Status: classify(err)}, nil
	}

	m.cache.MarkInterval(req.StartKey.Encode(), req.EndKey.Encode(), req.MTR.Timestamp)

	var after wire.Key
	haveAfter := false
	if len(req.Token) > 0 {
		tk, _, derr := wire.DecodeKey(req.Token)
		if derr != nil {
			err = errors.WithStack(ErrBadParameter)
			return wire.QueryResponse{Status: classify(err)}, nil
		}
		after = tk
		haveAfter = true
	}

	m.mtx.Lock()
	keys := m.ix.AllKeys()
	m.mtx.Unlock()

	keys = filterKeysInRange(keys, req.StartKey, req.EndKey)
	if req.Reverse {
		reverseKeys(keys)
	}

	rowLimit := req.Limit
	if rowLimit <= 0 {
		rowLimit = m.cfg.ScanPageRows
	}
	byteLimit := req.ByteLimit
	if byteLimit <= 0 {
		byteLimit = m.cfg.ScanPageBytes
	}

	var rows []wire.DataRecord
	usedBytes := 0
	var continueToken []byte
	var lastIncluded wire.Key
	haveLastIncluded := false

	for _, k := range keys {
		if cerr := ctx.Err(); cerr != nil {
			err = errors.WithStack(ErrRequestTimeout)
			return wire.QueryResponse{Status: classify(err)}, nil
		}
		if haveAfter {
			if !req.Reverse && k.Compare(after) <= 0 {
				continue
			}
			if req.Reverse && k.Compare(after) >= 0 {
				continue
			}
		}

		rec, found, rerr := m.resolveRead(ctx, k, req.MTR)
		if rerr != nil {
			err = rerr
			return wire.QueryResponse{Status: classify(err)}, nil
		}
		if !found || rec.IsTombstone() {
			continue
		}

		fields := wire.DecodeFields(rec.Payload)
		if req.Filter != nil {
			schema, _ := m.schemaForCollection(k.Schema)
			if !req.Filter.Eval(fields, schema) {
				continue
			}
		}
		if len(req.Project) > 0 {
			schema, ok := m.schemaForCollection(k.Schema)
			if !ok {
				err = errors.WithStack(ErrSchemaUnknown)
				return wire.QueryResponse{Status: classify(err)}, nil
			}
			rec.Payload = projectFields(fields, schema, req.Project)
		}

		if len(rows) >= rowLimit || usedBytes+len(rec.Payload) > byteLimit {
			if haveLastIncluded {
				continueToken = wire.EncodeKey(lastIncluded)
			}
			break
		}

		rows = append(rows, rec)
		usedBytes += len(rec.Payload)
		lastIncluded = rec.Key
		haveLastIncluded = true
	}

	return wire.QueryResponse{Status: wire.StatusOK, Rows: rows, ContinueToken: continueToken}, nil
}

// validateQueryRange checks that the scanned range belongs to this
// partition, the same §4.5.1 ownership gate Read and Write apply to a
// single key. A bound that is set (non-empty) is checked exactly like a
// single key would be; a bound left at its zero value means "from the
// beginning" or "to the end" and has no key to resolve against the CPO, so
// only the collection name carried on whichever bound is set is checked
// against this partition's own collection.
func (m *Module) validateQueryRange(ctx context.Context, req wire.QueryRequest) error {
	collection := req.StartKey.Schema
	if collection == "" {
		collection = req.EndKey.Schema
	}

	if !req.StartKey.Empty() {
		return m.validateOwnership(ctx, collection, req.StartKey)
	}
	if !req.EndKey.Empty() {
		return m.validateOwnership(ctx, collection, req.EndKey)
	}
	if collection != "" && collection != m.collection {
		return errors.WithStack(ErrWrongPartition)
	}
	return nil
}

func filterKeysInRange(keys []wire.Key, start, end wire.Key) []wire.Key {
	startSet := start.Schema != "" || len(start.PartitionKey) > 0 || len(start.RangeKey) > 0
	endSet := end.Schema != "" || len(end.PartitionKey) > 0 || len(end.RangeKey) > 0

	out := make([]wire.Key, 0, len(keys))
	for _, k := range keys {
		if startSet && k.Compare(start) < 0 {
			continue
		}
		if endSet && k.Compare(end) >= 0 {
			continue
		}
		out = append(out, k)
	}
	return out
}

func reverseKeys(keys []wire.Key) {
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
}

// projectFields keeps only the named fields, in the order the request names
// them (the schema only maps each name to its field index; unknown names are
// dropped), and re-joins them into a payload of the same length-prefixed
// shape a client already knows how to decode.
func projectFields(fields [][]byte, schema wire.Schema, project []string) []byte {
	out := make([][]byte, 0, len(project))
	for _, name := range project {
		idx, ok := schema.FieldIndex(name)
		if !ok || int(idx) >= len(fields) {
			continue
		}
		out = append(out, fields[idx])
	}
	return wire.JoinFields(out)
}
