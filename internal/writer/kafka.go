package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	appconfig "liqflow/config"
	"liqflow/internal/channel"
	"liqflow/internal/metrics"
	"liqflow/internal/models"
	"liqflow/logger"
)

const (
	component           = "kafka_writer"
	defaultBatchSize    = 100
	defaultFlushEvery   = time.Second
	defaultReportEvery  = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// Subscriptions is the part of the hub the writer needs.
type Subscriptions interface {
	Register() *channel.Subscriber
	Unregister(id channel.SubscriberID)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWriter republishes every live liquidation to a Kafka topic as JSON,
// keyed by exchange. It reads from its own hub subscription, so a slow broker
// loses events the same way a slow SSE client does.
type KafkaWriter struct {
	hub           Subscriptions
	producer      messageWriter
	topic         string
	batchSize     int
	flushInterval time.Duration
	reportEvery   time.Duration
	log           *logger.Log

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	sub     *channel.Subscriber
	buffer  []kafka.Message

	written atomic.Int64
	bytes   atomic.Int64
	errors  atomic.Int64
	lost    atomic.Int64
}

func NewKafkaWriter(cfg appconfig.KafkaConfig, hub Subscriptions) (*KafkaWriter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	producer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	w := newKafkaWriter(producer, cfg.Topic, hub, cfg.BatchSize, cfg.FlushInterval)

	w.log.WithComponent(component).WithFields(logger.Fields{
		"brokers":    cfg.Brokers,
		"topic":      cfg.Topic,
		"batch_size": w.batchSize,
	}).Info("kafka writer initialized")
	return w, nil
}

func newKafkaWriter(producer messageWriter, topic string, hub Subscriptions, batchSize int, flushInterval time.Duration) *KafkaWriter {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = defaultFlushEvery
	}
	return &KafkaWriter{
		hub:           hub,
		producer:      producer,
		topic:         topic,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		reportEvery:   defaultReportEvery,
		log:           logger.GetLogger(),
	}
}

// Start subscribes to the hub and launches the publishing worker.
func (w *KafkaWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("kafka writer already running")
	}
	w.running = true

	ctx, w.cancel = context.WithCancel(ctx)
	w.sub = w.hub.Register()
	w.buffer = make([]kafka.Message, 0, w.batchSize)

	w.wg.Add(1)
	go w.worker(ctx, w.sub)

	w.log.WithComponent(component).WithFields(logger.Fields{
		"subscriber_id":  w.sub.ID,
		"flush_interval": w.flushInterval.String(),
	}).Info("starting kafka writer")
	return nil
}

// Stop flushes what is buffered, releases the subscription and closes the
// producer.
func (w *KafkaWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	sub := w.sub
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
	w.hub.Unregister(sub.ID)

	w.flush(context.Background(), "stop")
	if err := w.producer.Close(); err != nil {
		w.log.WithComponent(component).WithError(err).Warn("failed to close kafka producer")
	}
	w.report(sub)
	w.log.WithComponent(component).Info("kafka writer stopped")
}

func (w *KafkaWriter) worker(ctx context.Context, sub *channel.Subscriber) {
	defer w.wg.Done()

	flushTicker := time.NewTicker(w.flushInterval)
	defer flushTicker.Stop()
	reportTicker := time.NewTicker(w.reportEvery)
	defer reportTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.C:
			w.add(ctx, ev)
		case <-flushTicker.C:
			w.flush(ctx, "interval")
		case <-reportTicker.C:
			w.report(sub)
		}
	}
}

func (w *KafkaWriter) add(ctx context.Context, ev models.Liquidation) {
	msg, err := buildMessage(ev)
	if err != nil {
		w.errors.Add(1)
		w.log.WithComponent(component).WithError(err).WithFields(logger.Fields{"id": ev.ID}).Warn("failed to encode liquidation")
		return
	}

	w.mu.Lock()
	w.buffer = append(w.buffer, msg)
	full := len(w.buffer) >= w.batchSize
	w.mu.Unlock()

	if full {
		w.flush(ctx, "batch_full")
	}
}

func (w *KafkaWriter) flush(ctx context.Context, reason string) {
	w.mu.Lock()
	batch := w.buffer
	w.buffer = make([]kafka.Message, 0, w.batchSize)
	w.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultWriteTimeout)
	defer cancel()
	if err := w.producer.WriteMessages(ctx, batch...); err != nil {
		w.errors.Add(1)
		w.lost.Add(int64(len(batch)))
		metrics.EmitDropMetric(w.log, metrics.DropMetricKafka, int64(len(batch)), "", "kafka_write")
		w.log.WithComponent(component).WithError(err).WithFields(logger.Fields{
			"topic":  w.topic,
			"count":  len(batch),
			"reason": reason,
		}).Warn("failed to write liquidations to kafka")
		return
	}

	var size int64
	for _, m := range batch {
		size += int64(len(m.Key) + len(m.Value))
	}
	w.written.Add(int64(len(batch)))
	w.bytes.Add(size)
}

func (w *KafkaWriter) report(sub *channel.Subscriber) {
	w.mu.Lock()
	bufLen := len(w.buffer)
	w.mu.Unlock()

	metrics.ReportWriter(w.log, component, metrics.WriterStats{
		MessagesWritten: w.written.Load(),
		BytesWritten:    w.bytes.Load(),
		ErrorsCount:     w.errors.Load(),
		Dropped:         w.lost.Load() + int64(sub.Dropped()),
		BufferLen:       bufLen,
		BufferCap:       w.batchSize,
	})
}

// buildMessage encodes ev as JSON keyed by exchange so one venue's events
// stay ordered within a partition.
func buildMessage(ev models.Liquidation) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal liquidation: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.Exchange),
		Value: value,
		Time:  ev.ObservedAt,
		Headers: []kafka.Header{
			{Key: "side", Value: []byte(ev.Side)},
			{Key: "symbol", Value: []byte(ev.Symbol)},
		},
	}, nil
}
