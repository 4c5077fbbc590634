package notifier

import (
	"context"
	"regexp"
	"strings"

	"github.com/WatchBeam/clock"
	"github.com/fleetdm/certwatch/server/certwatch"
	"github.com/fleetdm/certwatch/server/expiry"
	"github.com/fleetdm/certwatch/server/mail"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// DefaultEmailSubject is the subject of the digest when none is configured.
const DefaultEmailSubject = "Alert certificate expiring soon."

const maxLocalPartLen = 64

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)*@[^-][A-Za-z0-9-]+(\.[A-Za-z0-9-]+)*(\.[A-Za-z]{2,})$`)

// ValidEmail reports whether addr is a structurally valid e-mail address.
func ValidEmail(addr string) bool {
	at := strings.IndexByte(addr, '@')
	if at < 1 || at > maxLocalPartLen {
		return false
	}
	return emailPattern.MatchString(addr)
}

// Mailer sends e-mails.
type Mailer interface {
	SendEmail(ctx context.Context, e mail.Email) error
}

// EmailOptions configures the e-mail channel.
type EmailOptions struct {
	Priority int
	From     string
	To       []string
	Subject  string
	// Intro is the text heading the digest.
	Intro string
}

// Email sends one digest of the certificates nearing expiry to every
// destination.
type Email struct {
	mailer Mailer
	clock  clock.Clock
	opts   EmailOptions
	logger kitlog.Logger
}

// NewEmail returns the e-mail channel.
func NewEmail(mailer Mailer, clck clock.Clock, opts EmailOptions, logger kitlog.Logger) *Email {
	if opts.Subject == "" {
		opts.Subject = DefaultEmailSubject
	}
	return &Email{
		mailer: mailer,
		clock:  clck,
		opts:   opts,
		logger: kitlog.With(logger, "channel", certwatch.NotifierEmail),
	}
}

func (e *Email) Type() certwatch.NotifierType { return certwatch.NotifierEmail }
func (e *Email) Priority() int                { return e.opts.Priority }

// Notify returns the selected certificates, whatever the outcome of the
// deliveries. An invalid sender address prevents every delivery, an invalid
// destination address is skipped.
func (e *Email) Notify(ctx context.Context, certs []*certwatch.Certificate, days int) []*certwatch.Certificate {
	now := e.clock.Now()
	selected := expiry.Select(now, certs, days)

	if !ValidEmail(e.opts.From) {
		level.Error(e.logger).Log("msg", "invalid sender address, no e-mail sent", "from", e.opts.From)
		return selected
	}

	body, err := renderDigest(e.opts.Intro, now, days, selected)
	if err != nil {
		level.Error(e.logger).Log("msg", "render digest", "err", err)
		return selected
	}

	var sent int
	for _, to := range e.opts.To {
		if !ValidEmail(to) {
			level.Error(e.logger).Log("msg", "invalid destination address, skipping", "to", to)
			continue
		}
		err := e.mailer.SendEmail(ctx, mail.Email{
			Subject: e.opts.Subject,
			From:    e.opts.From,
			To:      []string{to},
			HTML:    body,
		})
		if err != nil {
			level.Error(e.logger).Log("msg", "send e-mail", "to", to, "err", err)
			continue
		}
		sent++
	}
	level.Info(e.logger).Log("msg", "digest sent", "destinations", sent, "certificates", len(selected))
	return selected
}
