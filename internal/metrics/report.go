package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"liqflow/logger"
)

// HubCounters is the slice of hub state included in the runtime report.
type HubCounters struct {
	ActiveSubscribers int
	TotalLiquidations uint64
	DroppedDeliveries uint64
}

var (
	cpuPercentFn = func(ctx context.Context) ([]float64, error) {
		return cpu.PercentWithContext(ctx, 0, false)
	}
	memoryStatsFn = mem.VirtualMemoryWithContext
)

// Reporter periodically logs host usage together with hub counters and emits
// each value as a gauge.
type Reporter struct {
	interval time.Duration
	counters func() HubCounters
	log      *logger.Log
}

func NewReporter(log *logger.Log, interval time.Duration, counters func() HubCounters) *Reporter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Reporter{interval: interval, counters: counters, log: log}
}

func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report(ctx)
		}
	}
}

func (r *Reporter) report(ctx context.Context) logger.Fields {
	cpuPct := 0.0
	if pct, err := cpuPercentFn(ctx); err == nil && len(pct) > 0 {
		cpuPct = pct[0]
	}
	memoryMB := 0.0
	if vm, err := memoryStatsFn(ctx); err == nil && vm != nil {
		memoryMB = float64(vm.Used) / 1024 / 1024
	}

	var hub HubCounters
	if r.counters != nil {
		hub = r.counters()
	}

	fields := logger.Fields{
		"cpu_percent":        cpuPct,
		"memory_mb":          memoryMB,
		"goroutines":         runtime.NumGoroutine(),
		"active_subscribers": hub.ActiveSubscribers,
		"total_liquidations": hub.TotalLiquidations,
		"dropped_deliveries": hub.DroppedDeliveries,
	}
	r.log.WithComponent("report").WithFields(fields).Info("runtime report")

	EmitMetric(r.log, "report", "cpu_percent", cpuPct, "gauge", logger.Fields{"unit": "percent"})
	EmitMetric(r.log, "report", "memory_mb", memoryMB, "gauge", logger.Fields{"unit": "megabytes"})
	EmitMetric(r.log, "report", "goroutines", float64(runtime.NumGoroutine()), "gauge", nil)
	EmitMetric(r.log, "report", "active_subscribers", float64(hub.ActiveSubscribers), "gauge", nil)
	EmitMetric(r.log, "report", "total_liquidations", float64(hub.TotalLiquidations), "gauge", nil)
	EmitMetric(r.log, "report", "dropped_deliveries", float64(hub.DroppedDeliveries), "gauge", nil)
	return fields
}
