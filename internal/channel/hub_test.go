package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"liqflow/internal/models"
	"liqflow/internal/store"
)

func liquidation(t *testing.T, exchange models.Exchange, qty int64) models.Liquidation {
	t.Helper()
	ev, err := models.NewLiquidation(exchange, "BTCUSDT", models.Long, decimal.NewFromInt(qty), decimal.NewFromInt(60000), time.Now())
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	return ev
}

func receive(t *testing.T, sub *Subscriber) models.Liquidation {
	t.Helper()
	select {
	case ev := <-sub.C:
		return ev
	case <-time.After(time.Second):
		t.Fatalf("subscriber %d received nothing", sub.ID)
	}
	return models.Liquidation{}
}

func TestHubFanOut(t *testing.T) {
	h := NewHub(store.NewRing(10), 4)
	a := h.Register()
	b := h.Register()
	if a.ID == b.ID {
		t.Fatalf("subscribers share id %d", a.ID)
	}

	ev := liquidation(t, models.Binance, 1)
	h.Publish(ev)

	if got := receive(t, a); got.ID != ev.ID {
		t.Fatalf("a received %s, want %s", got.ID, ev.ID)
	}
	if got := receive(t, b); got.ID != ev.ID {
		t.Fatalf("b received %s, want %s", got.ID, ev.ID)
	}
	if len(a.C) != 0 || len(b.C) != 0 {
		t.Fatalf("expected exactly one event per subscriber")
	}
}

func TestHubUnregisterBeforePublish(t *testing.T) {
	h := NewHub(store.NewRing(10), 4)
	a := h.Register()
	b := h.Register()

	h.Unregister(a.ID)
	h.Unregister(a.ID)

	h.Publish(liquidation(t, models.OKX, 1))

	if len(a.C) != 0 {
		t.Fatalf("unregistered subscriber received an event")
	}
	receive(t, b)
	if h.ActiveSubscribers() != 1 {
		t.Fatalf("active = %d, want 1", h.ActiveSubscribers())
	}
}

func TestHubSlowConsumerIsolation(t *testing.T) {
	const buffer = 3
	h := NewHub(store.NewRing(10), buffer)
	slow := h.Register()
	fast := h.Register()

	var received []models.Liquidation
	for i := 0; i < buffer+1; i++ {
		ev := liquidation(t, models.Bybit, int64(i+1))
		h.Publish(ev)
		received = append(received, receive(t, fast))
	}

	if len(slow.C) != buffer {
		t.Fatalf("slow buffer = %d, want %d", len(slow.C), buffer)
	}
	if slow.Dropped() != 1 {
		t.Fatalf("slow dropped = %d, want 1", slow.Dropped())
	}
	if fast.Dropped() != 0 || len(received) != buffer+1 {
		t.Fatalf("fast subscriber lost events: dropped=%d received=%d", fast.Dropped(), len(received))
	}
	for i, ev := range received {
		if !ev.Quantity.Equal(decimal.NewFromInt(int64(i + 1))) {
			t.Fatalf("fast subscriber out of order at %d: %s", i, ev.Quantity)
		}
	}
	if h.DroppedDeliveries() != 1 {
		t.Fatalf("hub dropped = %d, want 1", h.DroppedDeliveries())
	}
}

func TestHubAppendsToStoreAndCounts(t *testing.T) {
	ring := store.NewRing(10)
	h := NewHub(ring, 1)
	for i := 0; i < 3; i++ {
		h.Publish(liquidation(t, models.HTX, int64(i+1)))
	}
	if ring.Len() != 3 {
		t.Fatalf("store len = %d, want 3", ring.Len())
	}
	if h.TotalLiquidations() != 3 {
		t.Fatalf("total = %d, want 3", h.TotalLiquidations())
	}
}

type failingStore struct{ store.Store }

func (failingStore) Append(context.Context, models.Liquidation) error {
	return errors.New("unavailable")
}

func TestHubStoreErrorDoesNotBlockDelivery(t *testing.T) {
	h := NewHub(failingStore{}, 1)
	sub := h.Register()
	h.Publish(liquidation(t, models.BitMEX, 1))
	receive(t, sub)
	if h.TotalLiquidations() != 1 {
		t.Fatalf("total = %d, want 1", h.TotalLiquidations())
	}
}

func TestHubConcurrentRegisterPublish(t *testing.T) {
	h := NewHub(store.NewRing(100), 8)
	ev := liquidation(t, models.Binance, 1)
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				h.Publish(ev)
			}
		}()
	}
	for s := 0; s < 4; s++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				sub := h.Register()
				h.Unregister(sub.ID)
			}
		}()
	}
	wg.Wait()
	if h.TotalLiquidations() != 400 {
		t.Fatalf("total = %d, want 400", h.TotalLiquidations())
	}
	if h.ActiveSubscribers() != 0 {
		t.Fatalf("active = %d, want 0", h.ActiveSubscribers())
	}
}

func TestHubStats(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewHub(store.NewRing(10), 1, WithStartTime(start))
	h.Register()
	h.Publish(liquidation(t, models.Binance, 1))

	st := h.Stats(start.Add(90 * time.Second))
	if st.UptimeSeconds != 90 || st.Uptime != "1m30s" {
		t.Fatalf("uptime = %v (%s)", st.UptimeSeconds, st.Uptime)
	}
	if st.ActiveSubscribers != 1 || st.TotalLiquidations != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	c := h.Counters()
	if c.TotalLiquidations != 1 || c.ActiveSubscribers != 1 {
		t.Fatalf("unexpected counters: %+v", c)
	}
}
