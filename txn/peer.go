package txn

import (
	"context"

	"github.com/k2platform/k23si/wire"
)

// Peer is the cross-partition RPC seam for PUSH and Finalize. In the demo
// binary it resolves to an in-process call into another partition.Module;
// a real deployment would implement it over gRPC without the transaction
// manager knowing the difference, the same seam kv/leader_proxy.go leaves
// between a local call and a forwarded one.
type Peer interface {
	Push(ctx context.Context, req wire.PushRequest) (wire.PushResponse, error)
	Finalize(ctx context.Context, req wire.FinalizeRequest) (wire.FinalizeResponse, error)
}

// PeerResolver locates the Peer owning a given key — a stand-in for asking
// the CPO for the partition(s) that own a key, scoped down to exactly the
// lookup the transaction manager needs.
type PeerResolver interface {
	Resolve(key wire.Key) (Peer, error)
}
