// Package tso is the client-side stand-in for the Timestamp Oracle (§6a):
// every partition component that needs a new or observed timestamp goes
// through this facade rather than touching package clock directly, the same
// seam the CPO client gives the partition map.
package tso

import "github.com/k2platform/k23si/clock"

// Oracle issues and observes hybrid logical timestamps.
type Oracle struct {
	hlc *clock.HLC
}

func New(hlc *clock.HLC) *Oracle {
	return &Oracle{hlc: hlc}
}

// Next issues a fresh timestamp strictly greater than every timestamp this
// Oracle has issued or observed so far — the MTR timestamp stamped on a new
// transaction or read snapshot.
func (o *Oracle) Next() uint64 {
	return o.hlc.Next()
}

// Now returns the clock's current value without advancing it — the "TSO.now()"
// used by the retention-window check (§3), distinct from Next's guarantee of
// producing a fresh, never-before-issued timestamp.
func (o *Oracle) Now() uint64 {
	return o.hlc.Current()
}

// Observe folds a remote high-water-mark into the local clock, used after a
// PUSH reply or an uncertainty-window retry bump (§9a).
func (o *Oracle) Observe(ts uint64) {
	o.hlc.Observe(ts)
}

// Uncertain reports whether candidate lies within the clock-skew bound of
// readTS, the uncertain-vs-certain distinction the read path's retry branch
// needs (§9a).
func (o *Oracle) Uncertain(readTS, candidate uint64, skewMs uint64) bool {
	return clock.UncertainWindow(readTS, candidate, skewMs)
}
