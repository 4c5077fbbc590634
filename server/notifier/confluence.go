package notifier

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/WatchBeam/clock"
	"github.com/fleetdm/certwatch/server/certwatch"
	"github.com/fleetdm/certwatch/server/expiry"
	"github.com/fleetdm/certwatch/server/export"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// AttachmentUploader replaces an attachment of a wiki page.
type AttachmentUploader interface {
	UpdateAttachment(ctx context.Context, contentID, attachmentID, fileName string, data io.Reader) (int, error)
}

// ConfluenceOptions configures the digest attachment channel.
type ConfluenceOptions struct {
	Priority     int
	ContentID    string
	AttachmentID string
}

// Confluence uploads the overview of the certificates nearing expiry as an
// attachment of a wiki page, replacing the previous version.
type Confluence struct {
	uploader   AttachmentUploader
	reconciler Reconciler
	exporter   Exporter
	clock      clock.Clock
	opts       ConfluenceOptions
	logger     kitlog.Logger
}

// NewConfluence returns the digest attachment channel.
func NewConfluence(uploader AttachmentUploader, reconciler Reconciler, exporter Exporter, clck clock.Clock, opts ConfluenceOptions, logger kitlog.Logger) *Confluence {
	return &Confluence{
		uploader:   uploader,
		reconciler: reconciler,
		exporter:   exporter,
		clock:      clck,
		opts:       opts,
		logger:     kitlog.With(logger, "channel", certwatch.NotifierConfluence),
	}
}

func (c *Confluence) Type() certwatch.NotifierType { return certwatch.NotifierConfluence }
func (c *Confluence) Priority() int                { return c.opts.Priority }

// Notify returns every selected certificate if the attachment was replaced,
// nothing otherwise.
func (c *Confluence) Notify(ctx context.Context, certs []*certwatch.Certificate, days int) []*certwatch.Certificate {
	selected := expiry.Select(c.clock.Now(), certs, days)
	selected = c.reconciler.Reconcile(ctx, selected)

	path, err := c.exporter.Export(ctx, export.DigestOverviewFile, export.LayoutFull, selected)
	if err != nil {
		level.Error(c.logger).Log("msg", "export overview", "err", err)
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		level.Error(c.logger).Log("msg", "open overview", "path", path, "err", err)
		return nil
	}
	defer f.Close()

	status, err := c.uploader.UpdateAttachment(ctx, c.opts.ContentID, c.opts.AttachmentID, filepath.Base(path), f)
	if err != nil {
		level.Error(c.logger).Log("msg", "upload overview", "err", err)
		return nil
	}
	if status != http.StatusOK {
		level.Error(c.logger).Log("msg", "upload overview", "status", status)
		return nil
	}
	level.Info(c.logger).Log("msg", "page attachment updated", "content", c.opts.ContentID, "certificates", len(selected))
	return selected
}
