// Package export writes certificate batches as CSV overview files.
package export

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/fleetdm/certwatch/server/certwatch"
	"github.com/fleetdm/certwatch/server/contexts/ctxerr"
	"github.com/gocarina/gocsv"
)

// DateLayout is the layout of the dates of the overview files.
const DateLayout = "2006-01-02"

// File names of the overviews written by the notifiers.
const (
	TicketOverviewFile = "jira_overview.csv"
	DigestOverviewFile = "confluence_overview.csv"
	OverviewFile       = "certificatesOverview.csv"
)

// Layout selects the columns of an overview.
type Layout int

const (
	// LayoutFull has the Alias, Project, Source, Start_date,
	// Expiration_date and IssueID columns.
	LayoutFull Layout = iota
	// LayoutTicket is LayoutFull without the Project column.
	LayoutTicket
)

type fullRow struct {
	Alias          string `csv:"Alias"`
	Project        string `csv:"Project"`
	Source         string `csv:"Source"`
	StartDate      string `csv:"Start_date"`
	ExpirationDate string `csv:"Expiration_date"`
	IssueID        string `csv:"IssueID"`
}

type ticketRow struct {
	Alias          string `csv:"Alias"`
	Source         string `csv:"Source"`
	StartDate      string `csv:"Start_date"`
	ExpirationDate string `csv:"Expiration_date"`
	IssueID        string `csv:"IssueID"`
}

// Write writes certs to w as CSV, with a header row.
func Write(w io.Writer, layout Layout, certs []*certwatch.Certificate) error {
	switch layout {
	case LayoutTicket:
		rows := make([]ticketRow, 0, len(certs))
		for _, c := range certs {
			rows = append(rows, ticketRow{
				Alias:          c.Alias,
				Source:         c.Source,
				StartDate:      c.NotBefore.Format(DateLayout),
				ExpirationDate: c.NotAfter.Format(DateLayout),
				IssueID:        c.IssueID,
			})
		}
		return gocsv.Marshal(rows, w)
	default:
		rows := make([]fullRow, 0, len(certs))
		for _, c := range certs {
			rows = append(rows, fullRow{
				Alias:          c.Alias,
				Project:        c.Project,
				Source:         c.Source,
				StartDate:      c.NotBefore.Format(DateLayout),
				ExpirationDate: c.NotAfter.Format(DateLayout),
				IssueID:        c.IssueID,
			})
		}
		return gocsv.Marshal(rows, w)
	}
}

// Exporter writes overview files in a directory.
type Exporter struct {
	dir string
}

// NewExporter returns an Exporter writing in dir. The current directory is
// used if dir is empty.
func NewExporter(dir string) *Exporter {
	return &Exporter{dir: dir}
}

// Export writes certs in the file name of the exporter's directory,
// replacing it, and returns the path of the file.
func (e *Exporter) Export(ctx context.Context, name string, layout Layout, certs []*certwatch.Certificate) (string, error) {
	if e.dir != "" {
		if err := os.MkdirAll(e.dir, 0o755); err != nil {
			return "", ctxerr.Wrap(ctx, err, "create export directory")
		}
	}
	path := filepath.Join(e.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", ctxerr.Wrapf(ctx, err, "create %s", path)
	}
	if err := Write(f, layout, certs); err != nil {
		f.Close()
		return "", ctxerr.Wrapf(ctx, err, "write %s", path)
	}
	if err := f.Close(); err != nil {
		return "", ctxerr.Wrapf(ctx, err, "close %s", path)
	}
	return path, nil
}
