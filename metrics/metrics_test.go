package metrics

import (
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(recordsRouted.WithLabelValues("Zoom", "archive"))
	IncRouted("Zoom", "archive")
	IncRouted("Zoom", "archive")
	assert.Equal(t, before+2, testutil.ToFloat64(recordsRouted.WithLabelValues("Zoom", "archive")))
}

func TestHandlerExposesPipelineMetrics(t *testing.T) {
	IncIngested("Teams")
	ObserveDuration("Teams", 30)
	IncOIDCInitSuccess(2)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, name := range []string{
		`callpipe_records_ingested_total{source="Teams"}`,
		"callpipe_call_duration_minutes_bucket",
		"callpipe_oidc_last_init_attempts 2",
	} {
		assert.True(t, strings.Contains(text, name), "missing %s", name)
	}
}

func TestSourceLabelsAreBounded(t *testing.T) {
	IncRouted("Teams", "bounded")
	IncIngested("Teams")
	ObserveDuration("Teams", 1)
	routed := testutil.CollectAndCount(recordsRouted)
	ingested := testutil.CollectAndCount(recordsIngested)
	durations := testutil.CollectAndCount(callDuration)

	for i := 0; i < 300; i++ {
		source := fmt.Sprintf("made-up-%d", i)
		IncRouted(source, "bounded")
		IncIngested(source)
		IncTransformed(source)
		ObserveDuration(source, i)
	}
	IncRouted("tEaMs", "bounded")

	assert.LessOrEqual(t, testutil.CollectAndCount(recordsRouted), routed+1)
	assert.LessOrEqual(t, testutil.CollectAndCount(recordsIngested), ingested+1)
	assert.LessOrEqual(t, testutil.CollectAndCount(callDuration), durations+1)
	assert.Equal(t, 300.0, testutil.ToFloat64(recordsRouted.WithLabelValues("other", "bounded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(recordsRouted.WithLabelValues("Teams", "bounded")))
}
