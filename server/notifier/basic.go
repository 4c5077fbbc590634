package notifier

import (
	"context"

	"github.com/WatchBeam/clock"
	"github.com/fleetdm/certwatch/server/certwatch"
	"github.com/fleetdm/certwatch/server/expiry"
	"github.com/fleetdm/certwatch/server/export"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Basic logs the certificates nearing expiry and exports their overview. It
// does no network I/O.
type Basic struct {
	exporter Exporter
	clock    clock.Clock
	priority int
	logger   kitlog.Logger
}

// NewBasic returns the console/export channel.
func NewBasic(exporter Exporter, clck clock.Clock, priority int, logger kitlog.Logger) *Basic {
	return &Basic{
		exporter: exporter,
		clock:    clck,
		priority: priority,
		logger:   kitlog.With(logger, "channel", certwatch.NotifierBasic),
	}
}

func (b *Basic) Type() certwatch.NotifierType { return certwatch.NotifierBasic }
func (b *Basic) Priority() int                { return b.priority }

// Notify writes the overview file for the certificates expiring within days,
// logs each of them and returns them.
func (b *Basic) Notify(ctx context.Context, certs []*certwatch.Certificate, days int) []*certwatch.Certificate {
	selected := expiry.Select(b.clock.Now(), certs, days)

	if path, err := b.exporter.Export(ctx, export.OverviewFile, export.LayoutFull, selected); err != nil {
		level.Error(b.logger).Log("msg", "export overview", "err", err)
	} else {
		level.Info(b.logger).Log("msg", "overview exported", "path", path)
	}

	for _, c := range selected {
		level.Info(b.logger).Log(
			"msg", "certificate expiring",
			"alias", c.Alias,
			"project", c.Project,
			"source", c.Source,
			"not_after", c.NotAfter.Format(export.DateLayout),
			"issue", c.IssueID,
		)
	}
	return selected
}
