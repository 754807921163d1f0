// Package telemetry publishes service metrics to CloudWatch.
//
// Metrics emitted:
//   - APILatency: Dims {Endpoint, Method} -- request duration in milliseconds
//   - APIRequestCount: Dims {Endpoint, Method, Status}
//   - PredictionDefaulted: Dims {City} -- a day fell back to the default record
//   - ArtifactLoad: Dims {City, Result} -- an artifact pair was read from the store
//   - ArtifactLoadLatency: Dims {City}
//
// Datums are buffered in memory and sent in batches by Run or Flush so the
// request path never waits on CloudWatch.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"citycast/internal/types"
)

const (
	// maxBatch is the PutMetricData datum limit per call.
	maxBatch = 1000
	// maxPending caps the buffer while CloudWatch is unreachable.
	maxPending = 20000
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Collector buffers metric datums and publishes them to one namespace.
type Collector struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending []cwtypes.MetricDatum
	dropped int
}

// NewCollector creates a collector. An empty namespace uses the default.
func NewCollector(client CloudWatchClient, namespace string, logger *slog.Logger) *Collector {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		client:    client,
		namespace: namespace,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordRequest records the latency and count of one API request.
func (c *Collector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	c.add(
		c.datum(types.MetricAPILatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds,
			dim(types.DimEndpoint, endpoint),
			dim(types.DimMethod, method),
		),
		c.datum(types.MetricAPIRequestCount, 1, cwtypes.StandardUnitCount,
			dim(types.DimEndpoint, endpoint),
			dim(types.DimMethod, method),
			dim(types.DimStatus, status),
		),
	)
}

// RecordPredictionDefaulted counts a day that fell back to the default record.
func (c *Collector) RecordPredictionDefaulted(_ context.Context, city, _ string) {
	c.add(c.datum(types.MetricPredictionDefaulted, 1, cwtypes.StandardUnitCount,
		dim(types.DimCity, city),
	))
}

// RecordArtifactLoad counts a store read of a city's pair and its duration.
func (c *Collector) RecordArtifactLoad(_ context.Context, city, result string, duration time.Duration) {
	c.add(
		c.datum(types.MetricArtifactLoad, 1, cwtypes.StandardUnitCount,
			dim(types.DimCity, city),
			dim(types.DimResult, result),
		),
		c.datum(fmt.Sprintf("%sLatency", types.MetricArtifactLoad), float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds,
			dim(types.DimCity, city),
		),
	)
}

// Pending returns the number of buffered datums.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Flush sends all buffered datums. Batches that fail are logged and dropped;
// the last error is returned.
func (c *Collector) Flush(ctx context.Context) error {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	dropped := c.dropped
	c.dropped = 0
	c.mu.Unlock()

	if dropped > 0 {
		c.logger.Warn("metric buffer overflowed", "dropped", dropped)
	}

	var lastErr error
	for start := 0; start < len(batch); start += maxBatch {
		end := min(start+maxBatch, len(batch))
		_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(c.namespace),
			MetricData: batch[start:end],
		})
		if err != nil {
			c.logger.Error("failed to publish metrics",
				"error", err.Error(),
				"namespace", c.namespace,
				"datums", end-start,
			)
			lastErr = err
		}
	}
	return lastErr
}

// Run flushes every interval until ctx is cancelled, then flushes once more
// with a short detached deadline.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.Flush(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			_ = c.Flush(flushCtx)
			cancel()
			return
		}
	}
}

func (c *Collector) add(datums ...cwtypes.MetricDatum) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending)+len(datums) > maxPending {
		c.dropped += len(datums)
		return
	}
	c.pending = append(c.pending, datums...)
}

func (c *Collector) datum(name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(c.now()),
		Dimensions: dims,
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// Noop discards all metrics. It is used when metrics are disabled.
type Noop struct{}

func (Noop) RecordRequest(_, _, _ string, _ time.Duration)                     {}
func (Noop) RecordPredictionDefaulted(context.Context, string, string)         {}
func (Noop) RecordArtifactLoad(context.Context, string, string, time.Duration) {}
