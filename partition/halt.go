package partition

import "log/slog"

// guardAssertions wraps a verb handler so that an assertion fault (a broken
// structural invariant) halts the partition rather than returning a
// malformed response to the client. It logs at slog.LevelError and then
// panics with the fault (nothing recovers it), matching "partition halts for operator intervention" (§7a)
// without hiding the failure from a supervising process manager that
// restarts the partition.
func (m *Module) guardAssertions(verb string, err *error) {
	if *err == nil {
		return
	}
	if !isAssertionFault(*err) {
		return
	}
	m.logger.Error("assertion fault, halting partition",
		slog.String("verb", verb),
		slog.Any("err", *err),
	)
	if m.metrics != nil {
		m.metrics.AssertionHalts.Inc()
	}
	panic(*err)
}
