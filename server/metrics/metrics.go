// Package metrics records the outcome of a run and pushes it to a
// Prometheus Pushgateway.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/fleetdm/certwatch/pkg/certhttp"
	"github.com/fleetdm/certwatch/server/certwatch"
	"github.com/fleetdm/certwatch/server/contexts/ctxerr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "certwatch"

// DefaultJob is the Pushgateway job name used when none is configured.
const DefaultJob = "certwatch"

// Recorder holds the gauges describing the last run.
type Recorder struct {
	reg         *prometheus.Registry
	extracted   prometheus.Gauge
	notified    *prometheus.GaugeVec
	duration    prometheus.Gauge
	lastSuccess prometheus.Gauge
}

// NewRecorder returns a Recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		extracted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "extracted_certificates",
			Help:      "Number of distinct certificates extracted by the last run.",
		}),
		notified: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notified_certificates",
			Help:      "Number of certificates notified by each channel in the last run.",
		}, []string{"channel"}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of the last run.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the end of the last completed run.",
		}),
	}
	r.reg.MustRegister(r.extracted, r.notified, r.duration, r.lastSuccess)
	return r
}

// Observe records a completed run.
func (r *Recorder) Observe(extracted int, outcome certwatch.NotificationOutcome, started, finished time.Time) {
	r.extracted.Set(float64(extracted))
	r.notified.Reset()
	for typ, certs := range outcome {
		r.notified.WithLabelValues(string(typ)).Set(float64(len(certs)))
	}
	r.duration.Set(finished.Sub(started).Seconds())
	r.lastSuccess.Set(float64(finished.Unix()))
}

// Gatherer returns the registry of the recorder.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.reg
}

// PushOptions configures the Pushgateway client.
type PushOptions struct {
	URL      string
	Job      string
	Username string
	Password string
	Timeout  time.Duration
}

// Pusher sends the gauges of a Recorder to a Pushgateway.
type Pusher struct {
	opts   PushOptions
	client *http.Client
}

// NewPusher returns a Pusher. It returns nil if no URL is configured.
func NewPusher(opts PushOptions) *Pusher {
	if opts.URL == "" {
		return nil
	}
	if opts.Job == "" {
		opts.Job = DefaultJob
	}
	return &Pusher{
		opts:   opts,
		client: certhttp.NewClient(certhttp.WithTimeout(opts.Timeout)),
	}
}

// Push replaces the metrics of the job with the ones of r. It is a no-op on
// a nil Pusher.
func (p *Pusher) Push(ctx context.Context, r *Recorder) error {
	if p == nil {
		return nil
	}
	pu := push.New(p.opts.URL, p.opts.Job).Gatherer(r.Gatherer()).Client(p.client)
	if p.opts.Username != "" {
		pu = pu.BasicAuth(p.opts.Username, p.opts.Password)
	}
	if err := pu.PushContext(ctx); err != nil {
		return ctxerr.Wrap(ctx, err, "push metrics")
	}
	return nil
}
