package metrics

import "liqflow/logger"

// WriterStats holds counters for sink components such as the Kafka writer.
type WriterStats struct {
	MessagesWritten int64
	BytesWritten    int64
	ErrorsCount     int64
	Dropped         int64
	BufferLen       int
	BufferCap       int
}

// ReportWriter emits common writer metrics using the provided logger and component name.
func ReportWriter(log *logger.Log, component string, stats WriterStats) {
	if log == nil {
		log = logger.GetLogger()
	}
	l := log.WithComponent(component)

	errorRate := float64(0)
	if stats.MessagesWritten+stats.ErrorsCount > 0 {
		errorRate = float64(stats.ErrorsCount) / float64(stats.MessagesWritten+stats.ErrorsCount)
	}

	EmitMetric(log, component, "messages_written", float64(stats.MessagesWritten), "gauge", nil)
	EmitMetric(log, component, "errors_count", float64(stats.ErrorsCount), "gauge", nil)
	EmitMetric(log, component, "error_rate", errorRate, "gauge", logger.Fields{"unit": "none"})

	entry := l.WithFields(logger.Fields{
		"messages_written": stats.MessagesWritten,
		"bytes_written":    stats.BytesWritten,
		"errors_count":     stats.ErrorsCount,
		"error_rate":       errorRate,
		"dropped":          stats.Dropped,
		"buffer_len":       stats.BufferLen,
		"buffer_cap":       stats.BufferCap,
	})

	if stats.ErrorsCount > 0 {
		entry.Warn(component + " metrics")
		return
	}

	entry.Info(component + " metrics")
}
