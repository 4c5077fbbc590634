// Package tracker links certificates to the open Jira issues that already
// track them.
package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/andygrunwald/go-jira"
	"github.com/fleetdm/certwatch/server/certwatch"
	"github.com/fleetdm/certwatch/server/contexts/ctxerr"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// SummaryDateLayout is the layout of the date in issue summaries.
const SummaryDateLayout = "2006-01-02"

// Summary returns the summary of the issue opened for the certificate alias
// on the day today. The alias is the text after the last ":", which is what
// AliasFromSummary extracts.
func Summary(today time.Time, alias string) string {
	return fmt.Sprintf("Certificate expiring on %s: %s", today.Format(SummaryDateLayout), alias)
}

// AliasFromSummary returns the certificate alias of an issue summary: the
// text after the last ":", without surrounding spaces. It returns an empty
// string if the summary has no ":".
func AliasFromSummary(summary string) string {
	i := strings.LastIndex(summary, ":")
	if i == -1 {
		return ""
	}
	return strings.TrimSpace(summary[i+1:])
}

// OpenIssue is an unresolved issue tracking the certificate Alias.
type OpenIssue struct {
	Key   string
	Alias string
}

// IssueSearcher returns the unresolved issues opened for certificates.
type IssueSearcher interface {
	SearchOpenIssues(ctx context.Context) ([]jira.Issue, error)
}

// Reconciler assigns the keys of open issues to the certificates they track.
type Reconciler struct {
	searcher IssueSearcher
	logger   kitlog.Logger
}

// NewReconciler returns a Reconciler looking for open issues with searcher.
func NewReconciler(searcher IssueSearcher, logger kitlog.Logger) *Reconciler {
	return &Reconciler{
		searcher: searcher,
		logger:   kitlog.With(logger, "component", "tracker"),
	}
}

// OpenIssues returns the open issues, with the alias they track. Issues whose
// summary carries no alias are dropped.
func (r *Reconciler) OpenIssues(ctx context.Context) ([]OpenIssue, error) {
	issues, err := r.searcher.SearchOpenIssues(ctx)
	if err != nil {
		return nil, ctxerr.Wrap(ctx, err, "search open issues")
	}
	open := make([]OpenIssue, 0, len(issues))
	for _, iss := range issues {
		if iss.Fields == nil {
			continue
		}
		alias := AliasFromSummary(iss.Fields.Summary)
		if alias == "" {
			level.Debug(r.logger).Log("msg", "open issue without alias", "key", iss.Key, "summary", iss.Fields.Summary)
			continue
		}
		open = append(open, OpenIssue{Key: iss.Key, Alias: alias})
	}
	return open, nil
}

// Reconcile sets the IssueID of the certificates tracked by an open issue,
// and returns certs. A certificate is tracked by an issue when its alias is
// the issue's alias or ends with it. If several issues track a certificate,
// the last one returned by the search wins. When the search fails, no
// certificate is modified, which can lead to duplicate issues.
func (r *Reconciler) Reconcile(ctx context.Context, certs []*certwatch.Certificate) []*certwatch.Certificate {
	open, err := r.OpenIssues(ctx)
	if err != nil {
		level.Error(r.logger).Log("msg", "could not fetch open issues, certificates already tracked may get duplicate issues", "err", err)
		return certs
	}
	level.Info(r.logger).Log("msg", "open issues found", "count", len(open))

	for _, iss := range open {
		for _, c := range certs {
			if c.Alias == iss.Alias || strings.HasSuffix(c.Alias, iss.Alias) {
				c.IssueID = iss.Key
			}
		}
	}
	return certs
}
