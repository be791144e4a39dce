package metrics

import (
	"liqflow/logger"
)

// DropMetric identifies the metric name emitted when deliveries are dropped.
type DropMetric string

const (
	// DropMetricSubscriber records events dropped for a full subscriber buffer.
	DropMetricSubscriber DropMetric = "subscriber_deliveries_dropped"
	// DropMetricKafka records events the Kafka sink could not hand to its writer.
	DropMetricKafka DropMetric = "kafka_messages_dropped"
)

// EmitDropMetric reports count drops accumulated since the previous call.
// Optional exchange and stage values become metric dimensions.
func EmitDropMetric(log *logger.Log, metric DropMetric, count int64, exchange, stage string) {
	if count <= 0 {
		return
	}
	fields := logger.Fields{}
	if exchange != "" {
		fields["exchange"] = exchange
	}
	if stage != "" {
		fields["stage"] = stage
	}

	EmitMetric(log, "channel_drops", string(metric), float64(count), "counter", fields)
}
