package reader

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"liqflow/logger"
)

const (
	defaultReconnectDelay = 3 * time.Second
	defaultReadTimeout    = 60 * time.Second
	writeTimeout          = 5 * time.Second
)

// connWriter serializes writes; gorilla connections allow a single writer.
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *connWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteJSON(v)
}

func (w *connWriter) WriteMessage(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteMessage(messageType, data)
}

// keepReadAlive refreshes the read deadline on pings and pongs and answers
// control pings.
func keepReadAlive(conn *websocket.Conn, timeout time.Duration) {
	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(timeout)) }
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
}

// controlPinger sends websocket ping frames; the pong refreshes the read
// deadline on quiet feeds.
type controlPinger struct {
	interval time.Duration
}

func (p controlPinger) PingInterval() time.Duration { return p.interval }

func (p controlPinger) Ping(w Writer) error {
	return w.WriteMessage(websocket.PingMessage, nil)
}

func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

// startPingLoop sends application pings until ctx ends or a write fails. A
// failed ping closes the connection so the read loop returns.
func startPingLoop(ctx context.Context, conn *websocket.Conn, w Writer, p Pinger, log *logger.Entry) {
	interval := p.PingInterval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.Ping(w); err != nil {
					log.WithError(err).Warn("failed to send websocket ping")
					conn.Close()
					return
				}
			}
		}
	}()
}
