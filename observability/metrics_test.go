package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLedgerMetricsRecordOutcomes(t *testing.T) {
	m := newLedgerMetrics()
	m.RecordOperation("create_survey", "", time.Millisecond)
	m.RecordOperation("create_survey", "replay", time.Millisecond)
	m.RecordOperation("", "value", time.Millisecond)
	m.RecordReward("fixed")
	m.RecordReward("fixed")

	if got := testutil.ToFloat64(m.operations.WithLabelValues("create_survey", "success")); got != 1 {
		t.Fatalf("success count %v", got)
	}
	if got := testutil.ToFloat64(m.errors.WithLabelValues("create_survey", "replay")); got != 1 {
		t.Fatalf("replay count %v", got)
	}
	if got := testutil.ToFloat64(m.errors.WithLabelValues("unknown", "value")); got != 1 {
		t.Fatalf("unknown op count %v", got)
	}
	if got := testutil.ToFloat64(m.rewards.WithLabelValues("fixed")); got != 2 {
		t.Fatalf("reward count %v", got)
	}
}

func TestStatusLabels(t *testing.T) {
	for status, want := range map[int]string{0: "200", 404: "404", 502: "502", 42: "other"} {
		if got := strconvStatus(status); got != want {
			t.Fatalf("status %d: got %s want %s", status, got, want)
		}
	}
	var nilMetrics *LedgerMetrics
	nilMetrics.RecordOperation("x", "", 0)
}
