package main

import (
	"context"
	"encoding/binary"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/spaolacci/murmur3"
	"github.com/tidwall/redcon"

	"github.com/k2platform/k23si/partition"
	"github.com/k2platform/k23si/tso"
	"github.com/k2platform/k23si/wire"
)

//nolint:gomnd
var argsLen = map[string]int{
	"GET":    2,
	"SET":    3,
	"DEL":    2,
	"EXISTS": 2,
	"PING":   1,
}

const (
	indexKey   = 1
	indexValue = 2
)

// redisServer fronts one partition with the subset of the Redis protocol
// that maps onto single-key operations at a freshly minted timestamp: SET
// and DEL each open a transaction, issue one Write and end it immediately,
// matching the verb sequence a real client would drive by hand (§4.3–§4.6);
// GET and EXISTS issue one Read with no transaction to end; PING touches no
// partition state.
type redisServer struct {
	listen net.Listener
	mod    *partition.Module
	tso    *tso.Oracle
	logger *slog.Logger
	seq    atomic.Uint64

	route map[string]func(conn redcon.Conn, cmd redcon.Command)
}

func newRedisServer(listen net.Listener, mod *partition.Module, tsoOracle *tso.Oracle, logger *slog.Logger) *redisServer {
	r := &redisServer{listen: listen, mod: mod, tso: tsoOracle, logger: logger}
	r.route = map[string]func(conn redcon.Conn, cmd redcon.Command){
		"PING":   r.ping,
		"SET":    r.set,
		"GET":    r.get,
		"DEL":    r.del,
		"EXISTS": r.exists,
	}
	return r
}

func (r *redisServer) Run() error {
	err := redcon.Serve(r.listen,
		func(conn redcon.Conn, cmd redcon.Command) {
			name := strings.ToUpper(string(cmd.Args[0]))
			if err := r.validateCmd(name, cmd); err != nil {
				conn.WriteError(err.Error())
				return
			}
			f, ok := r.route[name]
			if !ok {
				conn.WriteError("ERR unsupported command '" + name + "'")
				return
			}
			f(conn, cmd)
		},
		func(conn redcon.Conn) bool { return true },
		func(conn redcon.Conn, err error) {},
	)
	return errors.WithStack(err)
}

func (r *redisServer) Stop() {
	_ = r.listen.Close()
}

func (r *redisServer) validateCmd(name string, cmd redcon.Command) error {
	want, ok := argsLen[name]
	if !ok {
		return nil
	}
	if len(cmd.Args) != want {
		return errors.New("ERR wrong number of arguments for '" + name + "' command")
	}
	return nil
}

func (r *redisServer) key(raw []byte) wire.Key {
	return wire.Key{Schema: *collection, PartitionKey: raw}
}

// txnId mints a single-shot transaction identity for an auto-commit command.
// TxnIDHash is the last tiebreaker in PUSH's priority comparison (§4.4), so it
// only needs to be unique per transaction, not globally meaningful; a
// server-wide sequence number hashed with murmur3 is enough for that.
func (r *redisServer) txnId(ts uint64) wire.TxnId {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], r.seq.Add(1))
	hash := murmur3.Sum64(buf[:])
	return wire.TxnId{
		MTR:    wire.MTR{Timestamp: ts, Priority: 0, TxnIDHash: hash},
		TRHKey: wire.Key{Schema: *collection, PartitionKey: []byte("trh")},
	}
}

func (r *redisServer) ping(conn redcon.Conn, _ redcon.Command) {
	conn.WriteString("PONG")
}

func (r *redisServer) get(conn redcon.Conn, cmd redcon.Command) {
	ctx := context.Background()
	ts := r.tso.Next()
	resp, err := r.mod.HandleRead(ctx, wire.ReadRequest{MTR: wire.MTR{Timestamp: ts}, Key: r.key(cmd.Args[indexKey])})
	if err != nil {
		conn.WriteError(err.Error())
		return
	}
	switch resp.Status {
	case wire.StatusOK:
		conn.WriteBulk(resp.Record.Payload)
	case wire.StatusKeyNotFound:
		conn.WriteNull()
	default:
		conn.WriteError(resp.Status.String())
	}
}

func (r *redisServer) set(conn redcon.Conn, cmd redcon.Command) {
	ctx := context.Background()
	ts := r.tso.Next()
	id := r.txnId(ts)
	key := r.key(cmd.Args[indexKey])

	wresp, err := r.mod.HandleWrite(ctx, wire.WriteRequest{
		MTR:        id.MTR,
		TxnId:      id,
		Collection: *collection,
		Mutation:   wire.Mutation{Key: key, Payload: cmd.Args[indexValue]},
	})
	if err != nil {
		conn.WriteError(err.Error())
		return
	}
	if wresp.Status != wire.StatusOK {
		conn.WriteError(wresp.Status.String())
		return
	}
	if !r.commit(conn, id, key) {
		return
	}
	conn.WriteString("OK")
}

func (r *redisServer) del(conn redcon.Conn, cmd redcon.Command) {
	ctx := context.Background()
	ts := r.tso.Next()
	id := r.txnId(ts)
	key := r.key(cmd.Args[indexKey])

	wresp, err := r.mod.HandleWrite(ctx, wire.WriteRequest{
		MTR:        id.MTR,
		TxnId:      id,
		Collection: *collection,
		Mutation:   wire.Mutation{Key: key, Tombstone: true},
	})
	if err != nil {
		conn.WriteError(err.Error())
		return
	}
	if wresp.Status != wire.StatusOK {
		conn.WriteError(wresp.Status.String())
		return
	}
	if !r.commit(conn, id, key) {
		return
	}
	conn.WriteInt(1)
}

func (r *redisServer) exists(conn redcon.Conn, cmd redcon.Command) {
	ctx := context.Background()
	ts := r.tso.Next()
	resp, err := r.mod.HandleRead(ctx, wire.ReadRequest{MTR: wire.MTR{Timestamp: ts}, Key: r.key(cmd.Args[indexKey])})
	if err != nil {
		conn.WriteError(err.Error())
		return
	}
	if resp.Status == wire.StatusOK {
		conn.WriteInt(1)
		return
	}
	conn.WriteInt(0)
}

func (r *redisServer) commit(conn redcon.Conn, id wire.TxnId, key wire.Key) bool {
	eresp, err := r.mod.HandleEnd(context.Background(), wire.EndRequest{
		TxnId:     id,
		Action:    wire.EndCommit,
		WriteKeys: []wire.WriteKey{{Collection: *collection, Key: key}},
	})
	if err != nil {
		conn.WriteError(err.Error())
		return false
	}
	if eresp.FinalState != wire.TxnCommitted {
		conn.WriteError("ERR transaction did not commit: " + eresp.FinalState.String())
		return false
	}
	return true
}
