package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("outcome", OutcomeMatched),
		attribute.String("reference", "ABC123"),
		attribute.String("endpoint", "/sms-webhook"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("outcome"), attrs[0].Key)
	assert.Equal(t, attribute.Key("endpoint"), attrs[1].Key)
}

func TestRecordNotificationCountsByOutcome(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(Config{ServiceName: "upimatch-test"}, provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordNotification(ctx, OutcomeMatched)
	m.RecordNotification(ctx, OutcomeMatched)
	m.RecordNotification(ctx, OutcomeNoAmount)
	m.RecordIntentCreated(ctx)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				outcome, _ := dp.Attributes.Value("outcome")
				counts[fmt.Sprintf("%s/%s", md.Name, outcome.AsString())] += dp.Value
			}
		}
	}
	assert.Equal(t, int64(2), counts["upimatch_notifications_total/matched"])
	assert.Equal(t, int64(1), counts["upimatch_notifications_total/no_amount"])
	assert.Equal(t, int64(1), counts["upimatch_intents_created_total/"])
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordIntentCreated(context.Background())
	m.RecordNotification(context.Background(), OutcomeUnmatched)
	m.RecordExpired(context.Background(), 3)
	m.RecordMatchLatency(context.Background(), time.Second)
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newHTTPMetrics(prometheus.NewRegistry(), Config{Environment: "test"})

	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/api/payments/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/payments/7", nil))

	got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "/api/payments/:id", "404"))
	assert.Equal(t, float64(1), got)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.inflight))

	var hist dto.Metric
	require.NoError(t, m.duration.WithLabelValues("GET", "/api/payments/:id").(prometheus.Metric).Write(&hist))
	assert.Equal(t, uint64(1), hist.GetHistogram().GetSampleCount())

	labels := map[string]string{}
	for _, pair := range hist.GetLabel() {
		labels[pair.GetName()] = pair.GetValue()
	}
	assert.Equal(t, "upimatch", labels["service"])
	assert.Equal(t, "test", labels["env"])
}

func TestSweeperMetrics(t *testing.T) {
	m := NewSweeperMetrics(prometheus.NewRegistry(), Config{ServiceName: "upimatch", Environment: "test"})

	m.IncJobRun(JobExpirePending)
	m.AddProcessed(JobExpirePending, 3)
	m.AddProcessed(JobExpirePending, 0)
	m.IncJobError(JobPurgeTerminal, context.DeadlineExceeded)
	m.SetPending(4)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.jobRuns.WithLabelValues(JobExpirePending)))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.itemsProcessed.WithLabelValues(JobExpirePending)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.jobErrors.WithLabelValues(JobPurgeTerminal, JobReasonDeadlineExceeded)))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.pending))
}

func TestClassifyJobReason(t *testing.T) {
	assert.Equal(t, JobReasonDeadlineExceeded, ClassifyJobReason(fmt.Errorf("wrap: %w", context.DeadlineExceeded)))
	assert.Equal(t, JobReasonCanceled, ClassifyJobReason(context.Canceled))
	assert.Equal(t, JobReasonUnknown, ClassifyJobReason(errors.New("boom")))
	assert.Equal(t, JobReasonUnknown, ClassifyJobReason(nil))
}
