package notifier

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/fleetdm/certwatch/server/certwatch"
	"github.com/fleetdm/certwatch/server/expiry"
	"github.com/fleetdm/certwatch/server/export"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	mdRenderer    = goldmark.New(goldmark.WithExtensions(extension.GFM))
	htmlSanitizer = bluemonday.UGCPolicy()
)

// digestMarkdown returns the markdown digest of certs: the intro text
// followed by a table with one row per certificate.
func digestMarkdown(intro string, now time.Time, days int, certs []*certwatch.Certificate) string {
	var b strings.Builder
	if intro != "" {
		b.WriteString(intro)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "%d certificate(s) expire on or before %s (%d days).\n\n",
		len(certs), expiry.Limit(now, days).Format(export.DateLayout), days)
	if len(certs) == 0 {
		return b.String()
	}

	b.WriteString("| Alias | Project | Source | Expire before | Issue |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, c := range certs {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			cell(c.Alias), cell(c.Project), cell(c.Source),
			c.NotAfter.Format(export.DateLayout), cell(c.IssueID))
	}
	return b.String()
}

// renderDigest returns the sanitized HTML digest of certs.
func renderDigest(intro string, now time.Time, days int, certs []*certwatch.Certificate) ([]byte, error) {
	var buf bytes.Buffer
	if err := mdRenderer.Convert([]byte(digestMarkdown(intro, now, days, certs)), &buf); err != nil {
		return nil, err
	}
	return htmlSanitizer.SanitizeBytes(buf.Bytes()), nil
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
