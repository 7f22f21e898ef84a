package wire

import "time"

// WriteKey is a (collection, key) pair, the element type of a transaction's
// writeKeys set.
type WriteKey struct {
	Collection string
	Key        Key
}

type ReadRequest struct {
	MTR      MTR
	Key      Key
	Deadline time.Time
}

type ReadResponse struct {
	Status  Status
	Record  DataRecord
	HasData bool
}

type Mutation struct {
	Key       Key
	Payload   []byte
	Tombstone bool
	Mask      *FieldMask
	MaskVals  [][]byte
}

type WriteRequest struct {
	MTR        MTR
	TxnId      TxnId
	Collection string
	Mutation   Mutation
	Deadline   time.Time
}

type WriteResponse struct {
	Status Status
}

type QueryRequest struct {
	MTR       MTR
	StartKey  Key
	EndKey    Key
	Reverse   bool
	Limit     int
	ByteLimit int
	Filter    Predicate
	Project   []string
	Token     []byte
	Deadline  time.Time
}

type QueryResponse struct {
	Status        Status
	Rows          []DataRecord
	ContinueToken []byte
}

type PushRequest struct {
	Challenger MTR
	Incumbent  TxnId
	Key        Key
}

type PushResponse struct {
	IncumbentState TxnState
	ChallengerWins bool
	RetryAllowed   bool
}

type EndRequest struct {
	TxnId     TxnId
	Action    EndAction
	WriteKeys []WriteKey
}

type EndResponse struct {
	Status     Status
	FinalState TxnState
}

type HeartbeatRequest struct {
	TxnId TxnId
}

type HeartbeatResponse struct {
	Status State
}

// State aliases TxnState so HeartbeatResponse reads naturally; kept distinct
// from a plain Status because a heartbeat reports transaction state, not a
// request-outcome status.
type State = TxnState

type FinalizeRequest struct {
	TxnId  TxnId
	Key    Key
	Action FinalizeAction
}

type FinalizeResponse struct {
	Status Status
}

type PushSchemaRequest struct {
	Collection string
	Schema     Schema
}

type PushSchemaResponse struct {
	Status Status
}

// Schema is a minimal named-field schema, enough to drive FieldMask
// reconciliation and the query filter/projection steps.
type Schema struct {
	Name    string
	Version uint32
	Fields  []string
}

func (s Schema) FieldIndex(name string) (uint32, bool) {
	for i, f := range s.Fields {
		if f == name {
			return uint32(i), true
		}
	}
	return 0, false
}

// Predicate is a small expression tree over schema fields, used by the scan
// filter step (§4.7).
type Predicate interface {
	Eval(fields [][]byte, schema Schema) bool
}

// Inspection verbs (test-only, read internal state without mutation).

type InspectRecordsRequest struct{ Key Key }
type InspectRecordsResponse struct{ Versions []DataRecord }

type InspectTxnRequest struct{ TxnId TxnId }
type InspectTxnResponse struct {
	Found bool
	State TxnState
	MTR   MTR
}

type InspectWriteIntentsRequest struct{}
type InspectWriteIntentsResponse struct{ Intents []DataRecord }

type InspectAllTxnsRequest struct{}
type InspectAllTxnsResponse struct{ Txns []InspectTxnResponse }

type InspectAllKeysRequest struct{}
type InspectAllKeysResponse struct{ Keys []Key }
