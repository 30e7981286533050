package observability

import (
	"strings"
	"testing"
	"time"

	"github.com/lorcan2440/Mario-Kart-Controller/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	log := testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("GET", "/health", 200, 12*time.Millisecond)
	RecordSessionStart()
	RecordFrame("answered", 2048, 3*time.Millisecond)
	RecordFrame("decode_error", 10, 0)
	RecordSinkError("capture")
	RecordSessionEnd("eof")

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	seen := map[string]bool{}
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "kartctl_") {
			seen[mf.GetName()] = true
		}
	}
	for _, name := range []string{
		"kartctl_stream_sessions_total",
		"kartctl_stream_session_active",
		"kartctl_stream_frames_total",
		"kartctl_stream_frame_bytes",
		"kartctl_stream_decision_duration_seconds",
		"kartctl_stream_sink_errors_total",
		"kartctl_http_requests_total",
	} {
		if !seen[name] {
			t.Fatalf("metric %s not registered", name)
		}
	}
	log.Info().Int("families", len(seen)).Msg("observability/metrics: registration idempotent and recording paths executed")
}
