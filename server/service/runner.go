// Package service drives a certificate monitoring run.
package service

import (
	"context"
	"sort"
	"strings"

	"github.com/WatchBeam/clock"
	"github.com/fleetdm/certwatch/server/certwatch"
	"github.com/fleetdm/certwatch/server/contexts/ctxerr"
	"github.com/fleetdm/certwatch/server/metrics"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// DefaultDays is the default notification window, in days.
const DefaultDays = 31

// ScratchArea is the local working area of the discovery step.
type ScratchArea interface {
	Prepare(ctx context.Context) error
}

// CertificateExtractor returns the deduplicated certificates of every
// enabled source.
type CertificateExtractor interface {
	Extract(ctx context.Context) []*certwatch.Certificate
}

// CertificateNotifier dispatches certificates to the enabled channels.
type CertificateNotifier interface {
	Notify(ctx context.Context, certs []*certwatch.Certificate, days int) certwatch.NotificationOutcome
}

// MetricsPusher publishes the metrics of a run.
type MetricsPusher interface {
	Push(ctx context.Context, r *metrics.Recorder) error
}

// RunSummary is the outcome of a run.
type RunSummary struct {
	Extracted int
	Outcome   certwatch.NotificationOutcome
}

// Runner executes one monitoring run.
type Runner struct {
	scratch   ScratchArea
	extractor CertificateExtractor
	notifier  CertificateNotifier
	recorder  *metrics.Recorder
	pusher    MetricsPusher
	clock     clock.Clock
	days      int
	logger    kitlog.Logger
}

// RunnerOption configures optional collaborators of a Runner.
type RunnerOption func(*Runner)

// WithScratchArea makes the run prepare the scratch area before extracting.
func WithScratchArea(s ScratchArea) RunnerOption {
	return func(r *Runner) { r.scratch = s }
}

// WithMetrics makes the run record its outcome in rec and push it with p.
// p may be nil.
func WithMetrics(rec *metrics.Recorder, p MetricsPusher) RunnerOption {
	return func(r *Runner) {
		r.recorder = rec
		r.pusher = p
	}
}

// NewRunner returns a Runner notifying the certificates expiring within days.
func NewRunner(extractor CertificateExtractor, notifier CertificateNotifier, clck clock.Clock, days int, logger kitlog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		extractor: extractor,
		notifier:  notifier,
		clock:     clck,
		days:      days,
		logger:    kitlog.With(logger, "component", "runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run extracts the certificates, notifies them and returns the summary of
// the run. Only a failure to prepare the scratch area aborts the run.
func (r *Runner) Run(ctx context.Context) (*RunSummary, error) {
	started := r.clock.Now()

	if r.scratch != nil {
		if err := r.scratch.Prepare(ctx); err != nil {
			return nil, ctxerr.Wrap(ctx, err, "prepare scratch area")
		}
	}

	certs := r.extractor.Extract(ctx)
	level.Info(r.logger).Log("msg", "certificates extracted", "count", len(certs))

	outcome := r.notifier.Notify(ctx, certs, r.days)
	summary := &RunSummary{Extracted: len(certs), Outcome: outcome}
	r.logSummary(summary)

	if r.recorder != nil {
		r.recorder.Observe(summary.Extracted, outcome, started, r.clock.Now())
		if r.pusher != nil {
			if err := r.pusher.Push(ctx, r.recorder); err != nil {
				level.Error(r.logger).Log("msg", "push metrics", "err", err)
			}
		}
	}
	return summary, nil
}

func (r *Runner) logSummary(s *RunSummary) {
	channels := make([]string, 0, len(s.Outcome))
	for typ := range s.Outcome {
		channels = append(channels, string(typ))
	}
	sort.Strings(channels)
	for _, ch := range channels {
		certs := s.Outcome[certwatch.NotifierType(ch)]
		level.Info(r.logger).Log("msg", "channel summary", "channel", ch, "notified", len(certs), "aliases", strings.Join(certwatch.Aliases(certs), ","))
	}
	level.Info(r.logger).Log("msg", "run complete", "extracted", s.Extracted, "channels", len(channels), "days", r.days)
}
