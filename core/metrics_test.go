package core

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSessionMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	s := NewSession(newTestRegistry(t), SessionOptions{Metrics: m})

	s.Dispatch(testFrame(1, discLP, 0x05, 0xaa))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PendingReassemblies))

	s.Dispatch(testFrame(2, discLP, 0xbb, 0xcc, 0xdd))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.PendingReassemblies))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Reassembly.WithLabelValues("opened")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Reassembly.WithLabelValues("completed")))

	s.Dispatch(testFrame(2, discLP, 0x01))
	s.Dispatch(testFrame(3, discLP, 0x09))
	s.Flush()

	assert.Equal(t, float64(3), testutil.ToFloat64(m.Frames.WithLabelValues("decoded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Frames.WithLabelValues("out_of_order")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.Dispatches.WithLabelValues(protoLP)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Reassembly.WithLabelValues("abandoned")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.PendingReassemblies))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Annotations.WithLabelValues("error", "incomplete")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.frame("decoded")
		m.dispatched(protoLP)
		m.annotations(NewRoot("frame"))
		m.reassembly("opened", 1)
	})
}
