// Package metrics records per-run publish metrics and optionally pushes
// them to a Prometheus Pushgateway.
//
// A sensorpub process lives for a single publish, so there is nothing to
// scrape. Metrics are kept in a private registry and pushed once at exit.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/nugget/sensorpub/internal/config"
	"github.com/nugget/sensorpub/internal/httpkit"
)

// Outcome labels for sensorpub_publish_total.
const (
	OutcomeSuccess       = "success"
	OutcomeConfiguration = "configuration"
	OutcomeSerialization = "serialization"
	OutcomeConnection    = "connection"
	OutcomePublish       = "publish"
	OutcomeConfirmation  = "confirmation"
	OutcomeError         = "error"
)

const namespace = "sensorpub"

// A Pushgateway that is restarting gets a couple more tries.
const (
	pushRetries    = 2
	pushRetryDelay = 200 * time.Millisecond
)

// Recorder holds the collectors for one run.
type Recorder struct {
	registry *prometheus.Registry

	publishTotal    *prometheus.CounterVec
	publishDuration prometheus.Histogram
	lastSuccess     prometheus.Gauge
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		publishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_total",
				Help:      "Publish attempts by outcome.",
			},
			[]string{"outcome"},
		),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Time from connect to confirmation or failure.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last confirmed publish.",
		}),
	}
	r.registry.MustRegister(r.publishTotal, r.publishDuration, r.lastSuccess)
	return r
}

// Registry exposes the private registry for tests and embedding.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Observe records the outcome of one publish attempt.
func (r *Recorder) Observe(outcome string, elapsed time.Duration) {
	r.publishTotal.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		r.publishDuration.Observe(elapsed.Seconds())
	}
	if outcome == OutcomeSuccess {
		r.lastSuccess.SetToCurrentTime()
	}
}

// Push sends the registry to the configured Pushgateway, grouped by
// topic. It is a no-op when no gateway URL is set.
func (r *Recorder) Push(ctx context.Context, cfg config.MetricsConfig, topic string) error {
	if cfg.PushgatewayURL == "" {
		return nil
	}
	job := cfg.Job
	if job == "" {
		job = config.DefaultMetricsJob
	}

	err := push.New(cfg.PushgatewayURL, job).
		Gatherer(r.registry).
		Grouping("topic", topic).
		Client(httpkit.NewClient(httpkit.WithRetry(pushRetries, pushRetryDelay))).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics to %s: %w", cfg.PushgatewayURL, err)
	}
	return nil
}
