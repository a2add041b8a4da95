package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestIncHelpers(t *testing.T) {
	before := testutil.ToFloat64(Fallbacks.WithLabelValues("buyer", "oracle_error"))
	IncFallback("buyer", "oracle_error")
	assert.Equal(t, before+1, testutil.ToFloat64(Fallbacks.WithLabelValues("buyer", "oracle_error")))

	before = testutil.ToFloat64(PaymentCaptures.WithLabelValues("stripe", "declined"))
	IncPaymentCapture("stripe", "declined")
	assert.Equal(t, before+1, testutil.ToFloat64(PaymentCaptures.WithLabelValues("stripe", "declined")))
}

func TestRecordOutcome(t *testing.T) {
	before := testutil.ToFloat64(NegotiationOutcomes.WithLabelValues("accepted", "GPU"))
	RecordOutcome("accepted", "GPU", 3)
	assert.Equal(t, before+1, testutil.ToFloat64(NegotiationOutcomes.WithLabelValues("accepted", "GPU")))
}

func TestObserveDuration_IgnoresCounters(t *testing.T) {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "x_total"}, []string{"l"})
	ObserveDuration(c, time.Now(), "a")
	assert.Equal(t, 0, testutil.CollectAndCount(c))

	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "x_seconds"}, []string{"l"})
	ObserveDuration(h, time.Now().Add(-time.Second), "a")
	assert.Equal(t, 1, testutil.CollectAndCount(h))
}

func TestSetLastJobRun(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	SetLastJobRun("reservation_sweeper", now)
	assert.Equal(t, float64(now.Unix()), testutil.ToFloat64(LastJobRun.WithLabelValues("reservation_sweeper")))
}
