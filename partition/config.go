package partition

import "time"

// Config holds the recognized partition options (§6a), a plain struct built
// in code: cmd/partitiond uses DefaultConfig as is, and its command-line
// flags set only listener addresses, the data directory and the collection,
// never a Config field — no third-party config/env library appears anywhere
// in the retrieved pack.
type Config struct {
	RetentionWindow time.Duration
	HeartbeatInterval time.Duration
	TxnExpiry       time.Duration
	ReadCacheSize   int
	ScanPageBytes   int
	ScanPageRows    int
	PushRetryMax    int
	// PersistenceFlushBatch is recognized for configuration-surface parity
	// with the spec's option list; the write/commit/finalize paths always
	// flush synchronously before acknowledging (the persist-before-install
	// mandate leaves no room for batching on that path). No code reads it:
	// the expiry ticker also flushes each force-abort transition on its own.
	PersistenceFlushBatch int
	// ClockSkewMillis bounds the uncertainty window used by the read path's
	// uncertain-vs-certain retry branch (§9a).
	ClockSkewMillis uint64
}

// DefaultConfig matches the values shard_config.go would hard-code for a
// single demo partition.
func DefaultConfig() Config {
	return Config{
		RetentionWindow:       10 * time.Minute,
		HeartbeatInterval:     1 * time.Second,
		TxnExpiry:             30 * time.Second,
		ReadCacheSize:         100_000,
		ScanPageBytes:         1 << 20,
		ScanPageRows:          1000,
		PushRetryMax:          8,
		PersistenceFlushBatch: 64,
		ClockSkewMillis:       250,
	}
}
