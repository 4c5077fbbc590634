package certwatch

import (
	"time"
)

// NoIssue is the IssueID of a certificate that is not tracked by any ticket
// yet.
const NoIssue = "NO_ISSUE"

// Certificate is a certificate found in one of the extraction sources. Its
// identity is the (Alias, Project) pair, see Equal.
type Certificate struct {
	Alias        string    `json:"alias" csv:"Alias"`
	Project      string    `json:"project" csv:"Project"`
	SerialNumber string    `json:"serial_number" csv:"-"`
	NotBefore    time.Time `json:"not_before" csv:"-"`
	NotAfter     time.Time `json:"not_after" csv:"-"`
	// Source describes where the certificate came from, e.g. the keystore
	// file path or the registry label.
	Source string `json:"source" csv:"Source"`
	// IssueID is the key of the ticket tracking this certificate, or NoIssue.
	// It is set at most once per run, either by the reconciliation with open
	// tickets or by the creation of a new ticket.
	IssueID string `json:"issue_id" csv:"IssueID"`
}

// Tracked returns true if the certificate is linked to a ticket.
func (c *Certificate) Tracked() bool {
	return c.IssueID != "" && c.IssueID != NoIssue
}

// Equal reports whether a and b identify the same certificate. Only the
// alias and the project are compared, the serial number, validity window and
// source are ignored.
func Equal(a, b *Certificate) bool {
	return a.Alias == b.Alias && a.Project == b.Project
}

type identity struct {
	alias   string
	project string
}

// Dedupe returns the certificates with duplicate identities removed. The
// first certificate seen for an identity is kept as-is and the relative order
// of the kept certificates is preserved.
func Dedupe(certs []*Certificate) []*Certificate {
	seen := make(map[identity]struct{}, len(certs))
	out := make([]*Certificate, 0, len(certs))
	for _, c := range certs {
		if c == nil {
			continue
		}
		id := identity{alias: c.Alias, project: c.Project}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, c)
	}
	return out
}
