package notifier

import (
	"bytes"
	"context"
	"strings"
	"text/template"
	"time"
	"unicode"

	"github.com/WatchBeam/clock"
	"github.com/andygrunwald/go-jira"
	"github.com/fleetdm/certwatch/server/certwatch"
	"github.com/fleetdm/certwatch/server/expiry"
	"github.com/fleetdm/certwatch/server/export"
	"github.com/fleetdm/certwatch/server/tracker"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

var jiraDescriptionTmpl = template.Must(template.New("").Parse(
	`Info:
 Project: {{ .Project }}
 Source: {{ .Source }}
 Alias: {{ .Alias }}
 Expire before: {{ .NotAfter.Format "2006-01-02" }}
`,
))

// JiraClient creates Jira issues.
type JiraClient interface {
	CreateIssue(ctx context.Context, issue *jira.Issue) (*jira.Issue, error)
}

// JiraOptions configures the ticket channel.
type JiraOptions struct {
	Priority int
	// IssueType is the name, or the numeric id, of the type of the created
	// issues.
	IssueType string
}

// Jira opens one issue per certificate nearing expiry that is not tracked by
// an open issue yet.
type Jira struct {
	client     JiraClient
	reconciler Reconciler
	exporter   Exporter
	clock      clock.Clock
	opts       JiraOptions
	logger     kitlog.Logger
}

// NewJira returns the ticket channel.
func NewJira(client JiraClient, reconciler Reconciler, exporter Exporter, clck clock.Clock, opts JiraOptions, logger kitlog.Logger) *Jira {
	return &Jira{
		client:     client,
		reconciler: reconciler,
		exporter:   exporter,
		clock:      clck,
		opts:       opts,
		logger:     kitlog.With(logger, "channel", certwatch.NotifierJira),
	}
}

func (j *Jira) Type() certwatch.NotifierType { return certwatch.NotifierJira }
func (j *Jira) Priority() int                { return j.opts.Priority }

// Notify returns the certificates for which an issue was created. The
// overview of every selected certificate, tracked or not, is exported.
func (j *Jira) Notify(ctx context.Context, certs []*certwatch.Certificate, days int) []*certwatch.Certificate {
	now := j.clock.Now()
	selected := expiry.Select(now, certs, days)
	selected = j.reconciler.Reconcile(ctx, selected)

	var notified []*certwatch.Certificate
	for _, c := range selected {
		if c.Tracked() {
			continue
		}
		issue, err := j.buildIssue(now, c)
		if err != nil {
			level.Error(j.logger).Log("msg", "build issue", "alias", c.Alias, "err", err)
			continue
		}
		created, err := j.client.CreateIssue(ctx, issue)
		if err != nil {
			level.Error(j.logger).Log("msg", "create issue", "alias", c.Alias, "project", c.Project, "err", err)
			continue
		}
		c.IssueID = created.Key
		notified = append(notified, c)
		level.Info(j.logger).Log("msg", "issue created", "alias", c.Alias, "issue", created.Key)
	}

	if path, err := j.exporter.Export(ctx, export.TicketOverviewFile, export.LayoutTicket, selected); err != nil {
		level.Error(j.logger).Log("msg", "export overview, the next run may open duplicate issues", "err", err)
	} else {
		level.Debug(j.logger).Log("msg", "overview exported", "path", path)
	}
	return notified
}

func (j *Jira) buildIssue(now time.Time, c *certwatch.Certificate) (*jira.Issue, error) {
	var desc bytes.Buffer
	if err := jiraDescriptionTmpl.Execute(&desc, c); err != nil {
		return nil, err
	}

	fields := &jira.IssueFields{
		Summary:     tracker.Summary(now, c.Alias),
		Description: desc.String(),
	}
	if t := strings.TrimSpace(j.opts.IssueType); t != "" {
		if isNumeric(t) {
			fields.Type = jira.IssueType{ID: t}
		} else {
			fields.Type = jira.IssueType{Name: t}
		}
	}
	return &jira.Issue{Fields: fields}, nil
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
