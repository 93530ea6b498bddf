package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHelpersAreSafeBeforeInit(t *testing.T) {
	ObserveTick(1, time.Millisecond)
	IncAlert("")
	IncSuppressed("SMOKE")
	SetZoneState("z", 2)
	ResetZoneStates()
	ObserveSinkDelivery("voice", ResultError, time.Second)
	IncSinkDropped("")
	IncAdvice("llm")
	IncFrame("http", "")
	IncSettingsUpdate("")
}

func TestCountersAfterInit(t *testing.T) {
	Init(nil, nil)

	before := testutil.ToFloat64(alertsTotal.WithLabelValues("SMOKE"))
	IncAlert("SMOKE")
	if got := testutil.ToFloat64(alertsTotal.WithLabelValues("SMOKE")); got != before+1 {
		t.Fatalf("expected %v, got %v", before+1, got)
	}

	SetZoneState("Front Left", 3)
	if got := testutil.ToFloat64(zoneState.WithLabelValues("Front Left")); got != 3 {
		t.Fatalf("expected rank 3, got %v", got)
	}

	IncSinkDropped("webhook")
	if got := testutil.ToFloat64(sinkDropped.WithLabelValues("webhook")); got < 1 {
		t.Fatalf("expected drop counted, got %v", got)
	}
}
