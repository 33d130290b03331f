package keepalive

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/orrn/netprint/internal/metrics"
)

func TestLockCountsReferences(t *testing.T) {
	m := metrics.NewNop()
	l := New(zap.NewNop(), m)

	l.Acquire()
	l.Acquire()
	assert.True(t, l.Held())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KeepAliveHeld))

	l.Release()
	assert.True(t, l.Held())

	l.Release()
	assert.False(t, l.Held())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.KeepAliveHeld))

	l.Release()
	assert.False(t, l.Held())
}
