package reader

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"liqflow/internal/metrics"
	"liqflow/logger"
)

type Settings struct {
	ReconnectDelay   time.Duration
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration
}

// Supervisor runs connectors: dial, subscribe, keep alive, read, and after
// any transport failure wait ReconnectDelay and start over. It only stops
// when its context is cancelled.
type Supervisor struct {
	settings  Settings
	publisher Publisher
	metrics   *metrics.Registry
	dialer    *websocket.Dialer
	log       *logger.Log

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewSupervisor(settings Settings, publisher Publisher, reg *metrics.Registry) *Supervisor {
	if settings.ReconnectDelay <= 0 {
		settings.ReconnectDelay = defaultReconnectDelay
	}
	if settings.ReadTimeout <= 0 {
		settings.ReadTimeout = defaultReadTimeout
	}
	if settings.HandshakeTimeout <= 0 {
		settings.HandshakeTimeout = 10 * time.Second
	}
	return &Supervisor{
		settings:  settings,
		publisher: publisher,
		metrics:   reg,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: settings.HandshakeTimeout,
		},
		log: logger.GetLogger(),
	}
}

// Start launches one goroutine per connector.
func (s *Supervisor) Start(ctx context.Context, connectors ...Connector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("supervisor already running")
	}
	if len(connectors) == 0 {
		return fmt.Errorf("no connectors configured")
	}
	s.running = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for _, c := range connectors {
		s.wg.Add(1)
		go func(c Connector) {
			defer s.wg.Done()
			s.Run(runCtx, c)
		}(c)
	}
	return nil
}

// Stop cancels every connector and waits for them to return.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.log.WithComponent("supervisor").Info("all connectors stopped")
}

// Run blocks until ctx is cancelled, reconnecting c with a fixed delay and no
// retry limit.
func (s *Supervisor) Run(ctx context.Context, c Connector) {
	log := s.log.WithComponent(componentName(c)).WithFields(logger.Fields{
		"exchange": c.Exchange(),
		"url":      c.Endpoint(),
	})
	decodeLog := rate.NewLimiter(rate.Every(10*time.Second), 3)

	log.Info("starting liquidation connector")
	for {
		if ctx.Err() != nil {
			break
		}
		err := s.session(ctx, c, log, decodeLog)
		if ctx.Err() != nil {
			break
		}
		log.WithError(err).WithField("retry_in", s.settings.ReconnectDelay.String()).Warn("connection ended, reconnecting")
		s.metrics.Reconnecting(c.Exchange())
		if waitForReconnect(ctx, s.settings.ReconnectDelay) {
			break
		}
	}
	log.Info("liquidation connector stopped")
}

func (s *Supervisor) session(ctx context.Context, c Connector, log *logger.Entry, decodeLog *rate.Limiter) error {
	conn, _, err := s.dialer.DialContext(ctx, c.Endpoint(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessCtx.Done()
		conn.Close()
	}()

	w := &connWriter{conn: conn}
	keepReadAlive(conn, s.settings.ReadTimeout)

	if err := c.Subscribe(w); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.metrics.Connected(c.Exchange())
	log.Info("connected and subscribed")

	p, ok := c.(Pinger)
	if !ok {
		p = controlPinger{interval: s.settings.ReadTimeout / 3}
	}
	startPingLoop(sessCtx, conn, w, p, log)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
		s.metrics.Frame(c.Exchange())

		events, err := c.Handle(Frame{Type: mt, Data: data}, w)
		if err != nil {
			s.metrics.DecodeError(c.Exchange())
			if decodeLog.Allow() {
				log.WithError(err).WithField("bytes", len(data)).Warn("skipping undecodable frame")
			}
		}
		for _, ev := range events {
			s.publisher.Publish(ev)
		}
	}
}

func componentName(c Connector) string {
	return strings.ToLower(string(c.Exchange())) + "_liq_reader"
}
