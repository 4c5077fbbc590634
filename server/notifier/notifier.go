// Package notifier delivers the certificates nearing expiry through the
// configured channels.
package notifier

import (
	"context"
	"fmt"
	"sort"

	"github.com/fleetdm/certwatch/server/certwatch"
	"github.com/fleetdm/certwatch/server/export"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Default priorities of the channels, lower runs first.
const (
	DefaultJiraPriority       = 1
	DefaultBasicPriority      = 2
	DefaultEmailPriority      = 3
	DefaultConfluencePriority = 4
)

// Notifier is a notification channel. Notify selects the certificates of the
// batch expiring within days, delivers them and returns the ones it
// notified.
type Notifier interface {
	Type() certwatch.NotifierType
	Priority() int
	Notify(ctx context.Context, certs []*certwatch.Certificate, days int) []*certwatch.Certificate
}

// Reconciler links certificates to the open issues tracking them.
type Reconciler interface {
	Reconcile(ctx context.Context, certs []*certwatch.Certificate) []*certwatch.Certificate
}

// Exporter writes an overview file of certificates.
type Exporter interface {
	Export(ctx context.Context, name string, layout export.Layout, certs []*certwatch.Certificate) (string, error)
}

// Coordinator runs the enabled notifiers.
type Coordinator struct {
	notifiers []Notifier
	enabled   []string
	logger    kitlog.Logger
}

// NewCoordinator returns a Coordinator running the notifiers whose type
// matches one of the enabled names. Names that are not a known channel
// enable the basic channel.
func NewCoordinator(enabled []string, logger kitlog.Logger, notifiers ...Notifier) *Coordinator {
	return &Coordinator{
		notifiers: notifiers,
		enabled:   enabled,
		logger:    kitlog.With(logger, "component", "notifier"),
	}
}

// Selected returns the enabled notifiers in the order they run: ascending
// priority, then registration order for equal priorities.
func (c *Coordinator) Selected() []Notifier {
	want := make(map[certwatch.NotifierType]bool, len(c.enabled))
	for _, name := range c.enabled {
		want[certwatch.ParseNotifierType(name)] = true
	}

	var selected []Notifier
	for _, n := range c.notifiers {
		if want[n.Type()] {
			selected = append(selected, n)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Priority() < selected[j].Priority()
	})
	return selected
}

// Notify runs the enabled notifiers one after the other, so that a notifier
// sees the issue keys assigned by the ones that ran before it, and returns
// what each of them notified.
func (c *Coordinator) Notify(ctx context.Context, certs []*certwatch.Certificate, days int) certwatch.NotificationOutcome {
	outcome := make(certwatch.NotificationOutcome)
	for _, n := range c.Selected() {
		notified := c.run(ctx, n, certs, days)
		outcome[n.Type()] = notified
		level.Info(c.logger).Log("msg", "channel done", "channel", n.Type(), "priority", n.Priority(), "notified", len(notified))
	}
	return outcome
}

func (c *Coordinator) run(ctx context.Context, n Notifier, certs []*certwatch.Certificate, days int) (notified []*certwatch.Certificate) {
	defer func() {
		if r := recover(); r != nil {
			level.Error(c.logger).Log("msg", "notifier panicked", "channel", n.Type(), "err", fmt.Sprint(r))
			notified = nil
		}
	}()
	return n.Notify(ctx, certs, days)
}
