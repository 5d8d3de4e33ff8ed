package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectors_Observe(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.ObserveDecision("allowed", "token-bucket")
	c.ObserveDecision("allowed", "token-bucket")
	c.ObserveDecision("denied", "token-bucket")
	c.ObserveStoreError()
	c.ObserveSecurityEvent("HIGH")
	c.ObserveAuditFailure()
	c.ObserveStoreCircuit(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Decisions.WithLabelValues("allowed", "token-bucket")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Decisions.WithLabelValues("denied", "token-bucket")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StoreErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SecurityEvents.WithLabelValues("HIGH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.AuditFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StoreCircuit))
}

func TestCollectors_NilIsNoop(t *testing.T) {
	var c *Collectors
	assert.NotPanics(t, func() {
		c.ObserveDecision("allowed", "fixed-window")
		c.ObserveStoreError()
		c.ObserveSecurityEvent("LOW")
		c.ObserveAuditFailure()
		c.ObserveStoreCircuit(0)
	})
}
