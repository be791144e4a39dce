package channel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"liqflow/internal/metrics"
	"liqflow/internal/models"
	"liqflow/internal/store"
	"liqflow/logger"
)

// SubscriberID is unique for the lifetime of a Hub.
type SubscriberID uint64

// Subscriber is a registered delivery channel. The hub never closes C; a
// session stops reading once it unregisters.
type Subscriber struct {
	ID SubscriberID
	C  <-chan models.Liquidation

	ch      chan models.Liquidation
	dropped atomic.Uint64
}

// Dropped returns how many events were not delivered because C was full.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// Stats is the operational view returned by the stats endpoint.
type Stats struct {
	StartedAt         time.Time `json:"started_at"`
	UptimeSeconds     float64   `json:"uptime_seconds"`
	Uptime            string    `json:"uptime"`
	ActiveSubscribers int       `json:"active_subscribers"`
	TotalLiquidations uint64    `json:"total_liquidations"`
	DroppedDeliveries uint64    `json:"dropped_deliveries"`
}

type Option func(*Hub)

func WithMetrics(r *metrics.Registry) Option {
	return func(h *Hub) { h.metrics = r }
}

// WithStoreTimeout bounds each store append.
func WithStoreTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.storeTimeout = d
		}
	}
}

func WithStartTime(t time.Time) Option {
	return func(h *Hub) { h.started = t }
}

// Hub fans every published liquidation out to all registered subscribers and
// appends it to the store. Publish never blocks on a subscriber: a full
// channel drops the event for that subscriber only.
type Hub struct {
	mu     sync.RWMutex
	subs   map[SubscriberID]*Subscriber
	nextID SubscriberID
	buffer int

	store        store.Store
	storeTimeout time.Duration

	total        atomic.Uint64
	dropped      atomic.Uint64
	pendingDrops atomic.Int64
	dropLog      *rate.Limiter

	started time.Time
	metrics *metrics.Registry
	log     *logger.Log
}

func NewHub(st store.Store, bufferSize int, opts ...Option) *Hub {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	h := &Hub{
		subs:         make(map[SubscriberID]*Subscriber),
		buffer:       bufferSize,
		store:        st,
		storeTimeout: 2 * time.Second,
		dropLog:      rate.NewLimiter(rate.Every(time.Second), 1),
		started:      time.Now(),
		log:          logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.metrics.RegisterActiveSubscribers(func() float64 { return float64(h.ActiveSubscribers()) })

	h.log.WithComponent("hub").WithFields(logger.Fields{
		"subscriber_buffer": bufferSize,
	}).Info("broadcast hub initialized")
	return h
}

// Register allocates a new subscriber with a bounded delivery channel.
func (h *Hub) Register() *Subscriber {
	ch := make(chan models.Liquidation, h.buffer)

	h.mu.Lock()
	h.nextID++
	sub := &Subscriber{ID: h.nextID, C: ch, ch: ch}
	h.subs[sub.ID] = sub
	active := len(h.subs)
	h.mu.Unlock()

	h.log.WithComponent("hub").WithFields(logger.Fields{
		"subscriber_id": sub.ID,
		"active":        active,
	}).Debug("subscriber registered")
	return sub
}

// Unregister removes the subscriber. Unknown or already removed ids are ignored.
func (h *Hub) Unregister(id SubscriberID) {
	h.mu.Lock()
	_, ok := h.subs[id]
	delete(h.subs, id)
	active := len(h.subs)
	h.mu.Unlock()

	if ok {
		h.log.WithComponent("hub").WithFields(logger.Fields{
			"subscriber_id": id,
			"active":        active,
		}).Debug("subscriber unregistered")
	}
}

// Publish delivers ev to every subscriber registered at the time of the call
// and then appends it to the store. Safe for concurrent use.
func (h *Hub) Publish(ev models.Liquidation) {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
			h.dropped.Add(1)
			h.pendingDrops.Add(1)
			h.metrics.SubscriberDrop()
		}
	}
	if h.pendingDrops.Load() > 0 && h.dropLog.Allow() {
		metrics.EmitDropMetric(h.log, metrics.DropMetricSubscriber, h.pendingDrops.Swap(0), string(ev.Exchange), "hub")
	}

	h.total.Add(1)
	h.metrics.ObserveLiquidation(ev)

	if h.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.storeTimeout)
	err := h.store.Append(ctx, ev)
	cancel()
	if err != nil {
		h.log.WithComponent("hub").WithError(err).WithFields(logger.Fields{
			"exchange": ev.Exchange,
			"id":       ev.ID,
		}).Warn("failed to append liquidation to store")
	}
}

func (h *Hub) ActiveSubscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// TotalLiquidations is monotonic for the lifetime of the hub.
func (h *Hub) TotalLiquidations() uint64 {
	return h.total.Load()
}

func (h *Hub) DroppedDeliveries() uint64 {
	return h.dropped.Load()
}

func (h *Hub) Stats(now time.Time) Stats {
	uptime := now.Sub(h.started)
	if uptime < 0 {
		uptime = 0
	}
	return Stats{
		StartedAt:         h.started,
		UptimeSeconds:     uptime.Seconds(),
		Uptime:            uptime.Truncate(time.Second).String(),
		ActiveSubscribers: h.ActiveSubscribers(),
		TotalLiquidations: h.TotalLiquidations(),
		DroppedDeliveries: h.DroppedDeliveries(),
	}
}

// Counters adapts the hub to the runtime reporter.
func (h *Hub) Counters() metrics.HubCounters {
	return metrics.HubCounters{
		ActiveSubscribers: h.ActiveSubscribers(),
		TotalLiquidations: h.TotalLiquidations(),
		DroppedDeliveries: h.DroppedDeliveries(),
	}
}
