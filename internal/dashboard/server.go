package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"liqflow/config"
	"liqflow/internal/channel"
	"liqflow/internal/metrics"
	"liqflow/internal/summary"
	"liqflow/logger"
)

// Broadcaster hands out live subscriptions.
type Broadcaster interface {
	Register() *channel.Subscriber
	Unregister(id channel.SubscriberID)
}

// Reporter answers the summary and stats queries.
type Reporter interface {
	Summary(ctx context.Context, now time.Time) (summary.Summary, error)
	Stats(now time.Time) channel.Stats
}

// Server is the HTTP shell: the SSE liquidation feed, the summary and stats
// queries, Prometheus metrics and a recent warnings view.
type Server struct {
	address    string
	asset      string
	hub        Broadcaster
	reporter   Reporter
	promHTTP   http.Handler
	log        *logger.Log
	now        func() time.Time
	httpServer *http.Server

	logs          *logHistory
	metrics       *metricHistory
	metricHandler metrics.MetricHandlerID
}

func NewServer(cfg config.ServerConfig, asset string, hub Broadcaster, reporter Reporter, promHTTP http.Handler, log *logger.Log) *Server {
	if log == nil {
		log = logger.GetLogger()
	}
	s := &Server{
		address:  normalizeAddress(cfg.Address),
		asset:    asset,
		hub:      hub,
		reporter: reporter,
		promHTTP: promHTTP,
		log:      log,
		now:      time.Now,
		logs:     newLogHistory(cfg.History),
		metrics:  newMetricHistory(cfg.History),
	}
	s.metricHandler = metrics.RegisterMetricHandler(s.metrics.handle)
	log.AddHook(s.logs)
	return s
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	defer s.cleanup()

	s.httpServer = &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.WithComponent("http").WithFields(logger.Fields{"address": s.address}).Info("http server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	s.logs.close()
}

func (s *Server) Address() string {
	return s.address
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), allowAnyOrigin)

	router.GET("/events", s.streamEvents)
	router.GET("/api/summary", s.getSummary)
	router.GET("/api/stats", s.getStats)
	router.GET("/api/logs", s.getLogs)
	router.GET("/api/metrics", s.getMetrics)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": s.now().UTC()})
	})
	if s.promHTTP != nil {
		router.GET("/metrics", gin.WrapH(s.promHTTP))
	}
	return router
}

func allowAnyOrigin(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}

// streamEvents holds one subscriber for the lifetime of the request.
func (s *Server) streamEvents(c *gin.Context) {
	sub := s.hub.Register()
	defer s.hub.Unregister(sub.ID)

	log := s.log.WithComponent("sse_session").WithFields(logger.Fields{
		"subscriber_id": sub.ID,
		"remote":        c.ClientIP(),
	})
	log.Info("sse session opened")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			log.WithFields(logger.Fields{"dropped": sub.Dropped()}).Info("sse session closed")
			return
		case ev := <-sub.C:
			c.SSEvent("message", ev.Line(s.asset))
			c.Writer.Flush()
		}
	}
}

func (s *Server) getSummary(c *gin.Context) {
	sum, err := s.reporter.Summary(c.Request.Context(), s.now())
	if err != nil {
		s.log.WithComponent("http").WithError(err).Warn("summary query failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.reporter.Stats(s.now()))
}

func (s *Server) getLogs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"logs": s.logs.snapshot()})
}

func (s *Server) getMetrics(c *gin.Context) {
	snapshot := s.metrics.snapshot()
	payload := make([]gin.H, 0, len(snapshot))
	for _, m := range snapshot {
		payload = append(payload, gin.H{
			"timestamp": m.Timestamp.Format(time.RFC3339Nano),
			"component": m.Component,
			"name":      m.Name,
			"value":     m.Value,
			"type":      m.Type,
			"fields":    m.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"metrics": payload})
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8000"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if parsed.Host != "" {
				addr = parsed.Host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8000"
		}
		return net.JoinHostPort(host, port)
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), "8000")
}
