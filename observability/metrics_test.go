package observability

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestReasonLabelKeepsSentinelPrefix(t *testing.T) {
	base := errors.New("sale: contribution above maximum")
	wrapped := fmt.Errorf("%w: contributor 0xabc total 500", base)
	if got := reasonLabel(wrapped); got != "sale: contribution above maximum" {
		t.Fatalf("unexpected reason %q", got)
	}
}

func TestSettlementCounters(t *testing.T) {
	m := Settlement()
	before := counterValue(t, m.finalizations.WithLabelValues("success"))
	m.RecordFinalization("SUCCESS")
	if got := counterValue(t, m.finalizations.WithLabelValues("success")); got != before+1 {
		t.Fatalf("expected finalization counter to increase, got %v", got)
	}
	m.Observe("escrow", "deposit", time.Millisecond, nil)
	m.Observe("escrow", "deposit", time.Millisecond, errors.New("escrow: zero amount"))
	if got := counterValue(t, m.errors.WithLabelValues("escrow", "deposit", "escrow: zero amount")); got < 1 {
		t.Fatalf("expected error counter, got %v", got)
	}
	m.AddVolume("bonding", "buy", big.NewInt(1_000))
	if got := counterValue(t, m.volume.WithLabelValues("bonding", "buy")); got < 1_000 {
		t.Fatalf("expected volume, got %v", got)
	}
	var nilMetrics *SettlementMetrics
	nilMetrics.RecordSwap("buy")
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}
