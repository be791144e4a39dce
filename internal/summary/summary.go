package summary

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"liqflow/internal/channel"
	"liqflow/internal/models"
	"liqflow/internal/store"
)

// DefaultTimeframes are the rolling windows reported when none are configured.
var DefaultTimeframes = []time.Duration{time.Hour, 4 * time.Hour, 12 * time.Hour, 24 * time.Hour}

// Totals sums quantity in base units and notional in quote units.
type Totals struct {
	Quantity decimal.Decimal `json:"quantity"`
	Notional decimal.Decimal `json:"notional"`
	Count    int             `json:"count"`
}

func (t Totals) add(ev models.Liquidation) Totals {
	return Totals{
		Quantity: t.Quantity.Add(ev.Quantity),
		Notional: t.Notional.Add(ev.Notional),
		Count:    t.Count + 1,
	}
}

func (t Totals) plus(o Totals) Totals {
	return Totals{
		Quantity: t.Quantity.Add(o.Quantity),
		Notional: t.Notional.Add(o.Notional),
		Count:    t.Count + o.Count,
	}
}

// SideTotals splits a window by liquidated side. Total is Long + Short.
type SideTotals struct {
	Long  Totals `json:"long"`
	Short Totals `json:"short"`
	Total Totals `json:"total"`
}

func (s SideTotals) add(ev models.Liquidation) SideTotals {
	if ev.Side == models.Long {
		s.Long = s.Long.add(ev)
	} else {
		s.Short = s.Short.add(ev)
	}
	s.Total = s.Long.plus(s.Short)
	return s
}

type Window struct {
	Timeframe string                         `json:"timeframe"`
	From      time.Time                      `json:"from"`
	To        time.Time                      `json:"to"`
	Totals    SideTotals                     `json:"totals"`
	Exchanges map[models.Exchange]SideTotals `json:"exchanges"`
}

type Summary struct {
	GeneratedAt time.Time `json:"generated_at"`
	Windows     []Window  `json:"windows"`
}

// Window returns the window for timeframe label tf, e.g. "4h".
func (s Summary) Window(tf string) (Window, bool) {
	for _, w := range s.Windows {
		if w.Timeframe == tf {
			return w, true
		}
	}
	return Window{}, false
}

// Compute reduces events into one Window per timeframe. An event belongs to
// a window when now-d < observed_at <= now. The result depends only on the
// arguments.
func Compute(events []models.Liquidation, now time.Time, timeframes []time.Duration) Summary {
	if len(timeframes) == 0 {
		timeframes = DefaultTimeframes
	}
	out := Summary{GeneratedAt: now, Windows: make([]Window, len(timeframes))}
	for i, d := range timeframes {
		w := Window{
			Timeframe: Label(d),
			From:      now.Add(-d),
			To:        now,
			Exchanges: make(map[models.Exchange]SideTotals, len(models.Exchanges)),
		}
		for _, ex := range models.Exchanges {
			w.Exchanges[ex] = SideTotals{}
		}
		for _, ev := range events {
			if !ev.ObservedAt.After(w.From) || ev.ObservedAt.After(now) {
				continue
			}
			w.Totals = w.Totals.add(ev)
			w.Exchanges[ev.Exchange] = w.Exchanges[ev.Exchange].add(ev)
		}
		out.Windows[i] = w
	}
	return out
}

// Label renders whole hours as "4h" and whole minutes as "15m".
func Label(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return d.String()
	}
}

type StatsSource interface {
	Stats(now time.Time) channel.Stats
}

// Aggregator answers summary and stats queries. It reads a fresh store
// snapshot on every call and keeps no state of its own.
type Aggregator struct {
	store      store.Store
	timeframes []time.Duration
	stats      StatsSource
}

func NewAggregator(st store.Store, stats StatsSource, timeframes []time.Duration) *Aggregator {
	if len(timeframes) == 0 {
		timeframes = DefaultTimeframes
	}
	return &Aggregator{store: st, timeframes: timeframes, stats: stats}
}

func (a *Aggregator) Summary(ctx context.Context, now time.Time) (Summary, error) {
	events, err := a.store.Snapshot(ctx, a.store.Capacity())
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read store snapshot: %w", err)
	}
	return Compute(events, now, a.timeframes), nil
}

func (a *Aggregator) Stats(now time.Time) channel.Stats {
	if a.stats == nil {
		return channel.Stats{}
	}
	return a.stats.Stats(now)
}
