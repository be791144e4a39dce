package dashboard

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"liqflow/internal/metrics"
)

// history keeps the last limit items in arrival order.
type history[T any] struct {
	mu    sync.RWMutex
	items []T
	limit int
}

func newHistory[T any](limit int) *history[T] {
	if limit <= 0 {
		limit = 200
	}
	return &history[T]{limit: limit}
}

func (h *history[T]) add(item T) {
	h.mu.Lock()
	h.items = append(h.items, item)
	if len(h.items) > h.limit {
		h.items = append([]T(nil), h.items[len(h.items)-h.limit:]...)
	}
	h.mu.Unlock()
}

func (h *history[T]) snapshot() []T {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]T, len(h.items))
	copy(out, h.items)
	return out
}

// logRecord is a captured warning or error, e.g. a connector dropping its
// connection.
type logRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// logHistory is a logrus hook retaining recent warnings and errors.
type logHistory struct {
	*history[logRecord]
	enabled atomic.Bool
}

func newLogHistory(limit int) *logHistory {
	lh := &logHistory{history: newHistory[logRecord](limit)}
	lh.enabled.Store(true)
	return lh
}

func (h *logHistory) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}
}

func (h *logHistory) Fire(entry *logrus.Entry) error {
	if !h.enabled.Load() {
		return nil
	}
	record := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}
	if component, ok := entry.Data["component"].(string); ok {
		record.Component = component
	}
	for k, v := range entry.Data {
		if k == "component" {
			continue
		}
		if record.Fields == nil {
			record.Fields = make(map[string]interface{}, len(entry.Data))
		}
		switch val := v.(type) {
		case error:
			record.Fields[k] = val.Error()
		case fmt.Stringer:
			record.Fields[k] = val.String()
		default:
			record.Fields[k] = val
		}
	}
	h.add(record)
	return nil
}

func (h *logHistory) close() {
	h.enabled.Store(false)
}

// metricHistory retains metrics emitted through metrics.EmitMetric, such as
// the periodic runtime report.
type metricHistory struct {
	*history[metrics.Metric]
}

func newMetricHistory(limit int) *metricHistory {
	return &metricHistory{history: newHistory[metrics.Metric](limit)}
}

func (h *metricHistory) handle(m metrics.Metric) {
	h.add(m)
}
