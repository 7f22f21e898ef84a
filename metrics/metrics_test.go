package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRegisterSucceedsOncePerRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New()
	require.NoError(t, m.Register(reg))

	m2 := New()
	require.NoError(t, m2.Register(prometheus.NewRegistry()))
}
