package certwatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertificateEqual(t *testing.T) {
	now := time.Now()
	base := &Certificate{Alias: "svc-1", Project: "payments", SerialNumber: "1", NotBefore: now, NotAfter: now.Add(time.Hour), Source: "a.jks"}

	cases := []struct {
		name  string
		other *Certificate
		equal bool
	}{
		{"same identity, different attributes", &Certificate{Alias: "svc-1", Project: "payments", SerialNumber: "2", NotAfter: now, Source: "b.jks", IssueID: "CERT-1"}, true},
		{"different alias", &Certificate{Alias: "svc-2", Project: "payments"}, false},
		{"different project", &Certificate{Alias: "svc-1", Project: "billing"}, false},
		{"alias case matters", &Certificate{Alias: "SVC-1", Project: "payments"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.equal, Equal(base, c.other))
			assert.Equal(t, c.equal, Equal(c.other, base))
		})
	}
}

func TestDedupe(t *testing.T) {
	a1 := &Certificate{Alias: "a", Project: "p", Source: "first"}
	b := &Certificate{Alias: "b", Project: "p"}
	a2 := &Certificate{Alias: "a", Project: "p", Source: "second"}
	aOther := &Certificate{Alias: "a", Project: "q"}

	out := Dedupe([]*Certificate{a1, b, nil, a2, aOther})
	require.Len(t, out, 3)
	require.Same(t, a1, out[0])
	require.Same(t, b, out[1])
	require.Same(t, aOther, out[2])
	require.Equal(t, "first", out[0].Source)

	// deduplicating again changes nothing
	again := Dedupe(append(append([]*Certificate{}, out...), out...))
	require.Equal(t, out, again)

	require.Empty(t, Dedupe(nil))
}

func TestTracked(t *testing.T) {
	require.False(t, (&Certificate{IssueID: NoIssue}).Tracked())
	require.False(t, (&Certificate{}).Tracked())
	require.True(t, (&Certificate{IssueID: "CERT-12"}).Tracked())
}

func TestParseTypes(t *testing.T) {
	typ, ok := ParseExtractorType("JKS")
	require.True(t, ok)
	require.Equal(t, ExtractorKeystore, typ)
	typ, ok = ParseExtractorType(" acm ")
	require.True(t, ok)
	require.Equal(t, ExtractorACM, typ)
	_, ok = ParseExtractorType("vault")
	require.False(t, ok)

	require.Equal(t, NotifierJira, ParseNotifierType("Jira"))
	require.Equal(t, NotifierConfluence, ParseNotifierType("confluence"))
	require.Equal(t, NotifierEmail, ParseNotifierType("email"))
	require.Equal(t, NotifierBasic, ParseNotifierType("basic"))
	require.Equal(t, NotifierBasic, ParseNotifierType("slack"))
}
