package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shopspring/decimal"

	"liqflow/internal/models"
)

func TestRegistryCounters(t *testing.T) {
	r := NewRegistry()
	ev, err := models.NewLiquidation(models.Bybit, "BTCUSDT", models.Short, decimal.NewFromInt(1), decimal.NewFromInt(61000), time.Now())
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	r.ObserveLiquidation(ev)
	r.ObserveLiquidation(ev)
	r.Connected(models.Bybit)
	r.DecodeError(models.Bybit)
	r.SubscriberDrop()

	if got := testutil.ToFloat64(r.liquidations.WithLabelValues("Bybit", "Short")); got != 2 {
		t.Fatalf("liquidations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.notional.WithLabelValues("Bybit")); got != 122000 {
		t.Fatalf("notional = %v, want 122000", got)
	}
	if got := testutil.ToFloat64(r.decodeErrors.WithLabelValues("Bybit")); got != 1 {
		t.Fatalf("decode errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.drops); got != 1 {
		t.Fatalf("drops = %v, want 1", got)
	}
}

func TestRegistryHandlerExposesGauge(t *testing.T) {
	r := NewRegistry()
	r.RegisterActiveSubscribers(func() float64 { return 3 })

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "liqflow_active_subscribers 3") {
		t.Fatalf("gauge missing from output:\n%s", body)
	}
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	r.Connected(models.OKX)
	r.Reconnecting(models.OKX)
	r.Frame(models.OKX)
	r.SubscriberDrop()
	r.RegisterActiveSubscribers(func() float64 { return 1 })
	if r.Handler() == nil {
		t.Fatalf("nil registry should still return a handler")
	}
}

func TestReporterFields(t *testing.T) {
	resetMetricHandlers()
	prevCPU, prevMem := cpuPercentFn, memoryStatsFn
	cpuPercentFn = func(context.Context) ([]float64, error) { return []float64{12.5}, nil }
	memoryStatsFn = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Used: 256 * 1024 * 1024}, nil
	}
	t.Cleanup(func() { cpuPercentFn, memoryStatsFn = prevCPU, prevMem })

	seen := map[string]float64{}
	id := RegisterMetricHandler(func(m Metric) { seen[m.Name] = m.Value })
	t.Cleanup(func() { UnregisterMetricHandler(id) })

	r := NewReporter(nil, time.Second, func() HubCounters {
		return HubCounters{ActiveSubscribers: 2, TotalLiquidations: 10, DroppedDeliveries: 1}
	})
	fields := r.report(context.Background())

	if fields["cpu_percent"] != 12.5 || fields["memory_mb"] != 256.0 {
		t.Fatalf("unexpected host fields: %v", fields)
	}
	if seen["total_liquidations"] != 10 || seen["active_subscribers"] != 2 {
		t.Fatalf("unexpected emitted metrics: %v", seen)
	}
}
