// Package expiry selects the certificates that expire within a number of
// days.
package expiry

import (
	"time"

	"github.com/fleetdm/certwatch/server/certwatch"
)

// Limit returns the last calendar day (at midnight, in now's location) that
// is still within days of now.
func Limit(now time.Time, days int) time.Time {
	return truncateDay(now).AddDate(0, 0, days)
}

// Select returns the certificates whose expiration date is on or before
// now+days. The comparison is done on calendar dates, so a certificate that
// expires on the last day of the window is selected regardless of the time
// of day.
func Select(now time.Time, certs []*certwatch.Certificate, days int) []*certwatch.Certificate {
	limit := Limit(now, days)
	selected := make([]*certwatch.Certificate, 0, len(certs))
	for _, c := range certs {
		if !truncateDay(c.NotAfter.In(now.Location())).After(limit) {
			selected = append(selected, c)
		}
	}
	return selected
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
