package observability

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestSlackNotifier_DisabledDoesNotPanic(t *testing.T) {
	n := NewSlackNotifier(DefaultSlackConfig(""), zerolog.Nop())
	n.NotifyBatchStarted(1, "operator")
	n.NotifyJobExhausted("webhook-intake", "job-1", 3, nil)
	n.NotifyReaperAction("stalled", 0)
}

func TestNewMetrics_RegistersWithoutPanic(t *testing.T) {
	m := NewMetrics(zerolog.Nop())
	m.WebhooksReceived.WithLabelValues("cruiseline_pricing_updated").Inc()
	m.FTPBreakerState.WithLabelValues("ftp.example.com").Set(BreakerStateValue("open"))
	if m.Handler() == nil {
		t.Fatal("expected non-nil metrics handler")
	}
}

func TestBreakerStateValue(t *testing.T) {
	cases := map[string]float64{"closed": 0, "half-open": 1, "open": 2, "": 0}
	for state, want := range cases {
		if got := BreakerStateValue(state); got != want {
			t.Errorf("BreakerStateValue(%q) = %v, want %v", state, got, want)
		}
	}
}
