package metrics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"liqflow/config"
	"liqflow/logger"
)

// maxDatumsPerCall keeps each PutMetricData request well under the API limit.
const maxDatumsPerCall = 500

type cloudWatchAPI interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch aggregates emitted metrics and publishes them in batches.
// Counters are summed and gauges keep their latest value between flushes.
// Handle never performs I/O, so it is safe to call from hot paths.
type CloudWatch struct {
	client    cloudWatchAPI
	namespace string
	interval  time.Duration

	mu      sync.Mutex
	pending map[string]*cwtypes.MetricDatum

	log *logger.Entry
}

// NewCloudWatch loads AWS configuration for the given region. Static keys are
// used when configured, otherwise the default credential chain applies.
func NewCloudWatch(ctx context.Context, cfg config.CloudWatchConfig, interval time.Duration) (*CloudWatch, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	cw := newCloudWatch(cloudwatch.NewFromConfig(awsCfg), cfg.Namespace, interval)
	cw.log.WithFields(logger.Fields{
		"region":    awsCfg.Region,
		"namespace": cw.namespace,
	}).Info("initialized CloudWatch client")
	return cw, nil
}

func newCloudWatch(client cloudWatchAPI, namespace string, interval time.Duration) *CloudWatch {
	if namespace == "" {
		namespace = "Liqflow"
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &CloudWatch{
		client:    client,
		namespace: namespace,
		interval:  interval,
		pending:   make(map[string]*cwtypes.MetricDatum),
		log:       logger.GetLogger().WithComponent("cloudwatch"),
	}
}

// Handle is a MetricHandler.
func (c *CloudWatch) Handle(m Metric) {
	dims := dimensions(m)
	key := metricKey(m.Name, dims)

	c.mu.Lock()
	defer c.mu.Unlock()

	if d, ok := c.pending[key]; ok {
		if m.Type == "counter" {
			d.Value = aws.Float64(aws.ToFloat64(d.Value) + m.Value)
		} else {
			d.Value = aws.Float64(m.Value)
		}
		d.Timestamp = aws.Time(m.Timestamp)
		return
	}
	c.pending[key] = &cwtypes.MetricDatum{
		MetricName: aws.String(m.Name),
		Dimensions: dims,
		Unit:       unitFor(m),
		Value:      aws.Float64(m.Value),
		Timestamp:  aws.Time(m.Timestamp),
	}
}

// Run flushes on every interval until ctx is cancelled, then flushes once more.
func (c *CloudWatch) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.Flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			c.Flush(ctx)
		}
	}
}

// Flush publishes everything accumulated since the previous flush.
func (c *CloudWatch) Flush(ctx context.Context) {
	c.mu.Lock()
	data := make([]cwtypes.MetricDatum, 0, len(c.pending))
	for _, d := range c.pending {
		data = append(data, *d)
	}
	c.pending = make(map[string]*cwtypes.MetricDatum)
	c.mu.Unlock()

	if len(data) == 0 {
		return
	}

	for start := 0; start < len(data); start += maxDatumsPerCall {
		end := start + maxDatumsPerCall
		if end > len(data) {
			end = len(data)
		}
		if _, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(c.namespace),
			MetricData: data[start:end],
		}); err != nil {
			c.log.WithError(err).Warn("failed to publish CloudWatch metrics")
			return
		}
	}
	c.log.WithField("count", len(data)).Debug("published metrics to CloudWatch")
}

func dimensions(m Metric) []cwtypes.Dimension {
	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(m.Component)}}
	keys := make([]string, 0, len(m.Fields))
	for k := range m.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "unit" {
			continue
		}
		if s, ok := m.Fields[k].(string); ok && s != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}
	return dims
}

func metricKey(name string, dims []cwtypes.Dimension) string {
	var b strings.Builder
	b.WriteString(name)
	for _, d := range dims {
		b.WriteByte('|')
		b.WriteString(aws.ToString(d.Name))
		b.WriteByte('=')
		b.WriteString(aws.ToString(d.Value))
	}
	return b.String()
}

func unitFor(m Metric) cwtypes.StandardUnit {
	unit, _ := m.Fields["unit"].(string)
	switch strings.ToLower(unit) {
	case "percent":
		return cwtypes.StandardUnitPercent
	case "megabytes":
		return cwtypes.StandardUnitMegabytes
	case "seconds":
		return cwtypes.StandardUnitSeconds
	case "none":
		return cwtypes.StandardUnitNone
	default:
		return cwtypes.StandardUnitCount
	}
}
