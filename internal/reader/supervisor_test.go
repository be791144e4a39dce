package reader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"liqflow/internal/models"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// feedServer accepts websocket clients, records the first message each sends
// and then writes frames. When closeAfter is set the connection is dropped
// after the frames are written.
type feedServer struct {
	*httptest.Server
	frames     []string
	closeAfter bool

	mu       sync.Mutex
	received []string
	conns    atomic.Int32
}

func newFeedServer(t *testing.T, frames []string, closeAfter bool) *feedServer {
	t.Helper()
	fs := &feedServer{frames: frames, closeAfter: closeAfter}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		fs.conns.Add(1)

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		fs.record(string(msg))
		for _, f := range fs.frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		if fs.closeAfter {
			return
		}
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fs.record(string(msg))
		}
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *feedServer) record(msg string) {
	fs.mu.Lock()
	fs.received = append(fs.received, msg)
	fs.mu.Unlock()
}

func (fs *feedServer) messages() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.received...)
}

func (fs *feedServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.URL, "http")
}

// lineConnector turns "qty" frames into Binance long events and rejects
// anything starting with "bad".
type lineConnector struct {
	url      string
	interval time.Duration
}

func (c *lineConnector) Exchange() models.Exchange { return models.Binance }
func (c *lineConnector) Endpoint() string          { return c.url }

func (c *lineConnector) Subscribe(w Writer) error {
	return w.WriteJSON(map[string]string{"op": "subscribe"})
}

func (c *lineConnector) Handle(f Frame, _ Writer) ([]models.Liquidation, error) {
	s := string(f.Data)
	if strings.HasPrefix(s, "bad") {
		return nil, errors.New("malformed")
	}
	if s == "ignore" {
		return nil, nil
	}
	qty, err := models.ParseDecimal(s)
	if err != nil {
		return nil, err
	}
	ev, err := models.NewLiquidation(models.Binance, "BTCUSDT", models.Long, qty, decimal.NewFromInt(100), time.Now())
	if err != nil {
		return nil, err
	}
	return []models.Liquidation{ev}, nil
}

type pingingConnector struct{ lineConnector }

func (c *pingingConnector) PingInterval() time.Duration { return c.interval }
func (c *pingingConnector) Ping(w Writer) error {
	return w.WriteJSON(map[string]string{"op": "ping"})
}

type collector struct {
	mu     sync.Mutex
	events []models.Liquidation
}

func (c *collector) Publish(ev models.Liquidation) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) snapshot() []models.Liquidation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Liquidation(nil), c.events...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestSupervisorSkipsBadFramesInOrder(t *testing.T) {
	fs := newFeedServer(t, []string{"1", "bad{", "ignore", "2", "3"}, false)
	out := &collector{}
	sup := NewSupervisor(Settings{ReconnectDelay: 50 * time.Millisecond}, out, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx, &lineConnector{url: fs.wsURL()})
		close(done)
	}()

	waitFor(t, func() bool { return len(out.snapshot()) == 3 })
	for i, ev := range out.snapshot() {
		if !ev.Quantity.Equal(decimal.NewFromInt(int64(i + 1))) {
			t.Fatalf("event %d quantity = %s", i, ev.Quantity)
		}
	}
	if msgs := fs.messages(); len(msgs) == 0 || !strings.Contains(msgs[0], "subscribe") {
		t.Fatalf("expected subscribe handshake, got %v", msgs)
	}
	if fs.conns.Load() != 1 {
		t.Fatalf("decode errors should not reconnect, conns = %d", fs.conns.Load())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestSupervisorReconnectsAfterDrop(t *testing.T) {
	fs := newFeedServer(t, []string{"1"}, true)
	out := &collector{}
	sup := NewSupervisor(Settings{ReconnectDelay: 20 * time.Millisecond}, out, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx, &lineConnector{url: fs.wsURL()})

	waitFor(t, func() bool { return fs.conns.Load() >= 3 })
	waitFor(t, func() bool { return len(out.snapshot()) >= 3 })
}

func TestSupervisorRetriesUnreachableEndpoint(t *testing.T) {
	fs := newFeedServer(t, nil, false)
	url := fs.wsURL()
	fs.Close()

	sup := NewSupervisor(Settings{ReconnectDelay: 10 * time.Millisecond}, &collector{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	sup.Run(ctx, &lineConnector{url: url})
	if time.Since(start) < 90*time.Millisecond {
		t.Fatalf("Run returned before its context ended")
	}
}

func TestSupervisorSendsApplicationPings(t *testing.T) {
	fs := newFeedServer(t, nil, false)
	sup := NewSupervisor(Settings{}, &collector{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &pingingConnector{lineConnector{url: fs.wsURL(), interval: 20 * time.Millisecond}}
	go sup.Run(ctx, c)

	waitFor(t, func() bool {
		pings := 0
		for _, m := range fs.messages() {
			if strings.Contains(m, `"ping"`) {
				pings++
			}
		}
		return pings >= 2
	})
}

func TestSupervisorStartStop(t *testing.T) {
	fs := newFeedServer(t, []string{"5"}, false)
	out := &collector{}
	sup := NewSupervisor(Settings{}, out, nil)

	if err := sup.Start(context.Background()); err == nil {
		t.Fatalf("expected error without connectors")
	}
	if err := sup.Start(context.Background(), &lineConnector{url: fs.wsURL()}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sup.Start(context.Background(), &lineConnector{url: fs.wsURL()}); err == nil {
		t.Fatalf("expected error on second start")
	}
	waitFor(t, func() bool { return len(out.snapshot()) == 1 })
	sup.Stop()
	sup.Stop()
}
