package certwatch

import (
	"strings"
)

// ExtractorType identifies an extraction strategy.
type ExtractorType string

const (
	ExtractorKeystore ExtractorType = "keystore"
	ExtractorACM      ExtractorType = "acm"
)

// ParseExtractorType maps a configured strategy name to its type. The "jks"
// name is accepted as an alias of the keystore strategy.
func ParseExtractorType(s string) (ExtractorType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "keystore", "jks":
		return ExtractorKeystore, true
	case "acm":
		return ExtractorACM, true
	default:
		return "", false
	}
}

// NotifierType identifies a notification channel.
type NotifierType string

const (
	NotifierJira       NotifierType = "jira"
	NotifierConfluence NotifierType = "confluence"
	NotifierEmail      NotifierType = "email"
	NotifierBasic      NotifierType = "basic"
)

// ParseNotifierType maps a configured channel name to its type. Any name
// that is not a known channel selects the basic (console/export) channel.
func ParseNotifierType(s string) NotifierType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jira":
		return NotifierJira
	case "confluence":
		return NotifierConfluence
	case "email":
		return NotifierEmail
	default:
		return NotifierBasic
	}
}

// NotificationOutcome holds, per channel, the certificates that channel
// notified successfully.
type NotificationOutcome map[NotifierType][]*Certificate

// Aliases returns the aliases of certs, in order. Mostly useful for logging.
func Aliases(certs []*Certificate) []string {
	aliases := make([]string, 0, len(certs))
	for _, c := range certs {
		aliases = append(aliases, c.Alias)
	}
	return aliases
}
