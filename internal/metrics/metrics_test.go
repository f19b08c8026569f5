package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.MeterSync(true)
	m.MeterSync(true)
	m.MeterSync(false)
	m.Webhook("paystack", "settled")
	m.Notification("email", false)
	m.AnalyticsDuration(1500 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.meterSyncs.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.meterSyncs.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhooks.WithLabelValues("paystack", "settled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("email", "failure")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TokenRefresh(true)
		m.MeterSync(false)
		m.UpstreamFailure("sales")
		m.Webhook("ivorypay", "ignored")
		m.Notification("sms", true)
		m.AnalyticsDuration(time.Second)
	})
}
