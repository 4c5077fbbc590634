package extractor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fleetdm/certwatch/server/certwatch"
	kitlog "github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockExtractor struct {
	typ           certwatch.ExtractorType
	ExportAllFunc func(ctx context.Context) ([]*certwatch.Certificate, error)
}

func (m *mockExtractor) Type() certwatch.ExtractorType { return m.typ }

func (m *mockExtractor) ExportAll(ctx context.Context) ([]*certwatch.Certificate, error) {
	return m.ExportAllFunc(ctx)
}

func cert(alias, project, source string) *certwatch.Certificate {
	return &certwatch.Certificate{Alias: alias, Project: project, Source: source, IssueID: certwatch.NoIssue}
}

func TestCoordinatorMergeOrder(t *testing.T) {
	ks := &mockExtractor{typ: certwatch.ExtractorKeystore, ExportAllFunc: func(ctx context.Context) ([]*certwatch.Certificate, error) {
		// finishes last but is configured first
		time.Sleep(50 * time.Millisecond)
		return []*certwatch.Certificate{cert("a", "p", "keystore"), cert("b", "p", "keystore")}, nil
	}}
	reg := &mockExtractor{typ: certwatch.ExtractorACM, ExportAllFunc: func(ctx context.Context) ([]*certwatch.Certificate, error) {
		return []*certwatch.Certificate{cert("b", "p", "acm"), cert("c", "p", "acm"), cert("a", "other", "acm")}, nil
	}}

	c := NewCoordinator([]string{"jks", "acm"}, kitlog.NewNopLogger(), reg, ks)
	got := c.Extract(context.Background())
	require.Len(t, got, 4)
	assert.Equal(t, []string{"a", "b", "c", "a"}, certwatch.Aliases(got))
	assert.Equal(t, "keystore", got[1].Source)
	assert.Equal(t, "other", got[3].Project)

	// merging again yields the same batch
	twice := append(append([]*certwatch.Certificate{}, got...), got...)
	assert.Equal(t, got, certwatch.Dedupe(twice))
}

func TestCoordinatorIsolation(t *testing.T) {
	failing := &mockExtractor{typ: certwatch.ExtractorKeystore, ExportAllFunc: func(ctx context.Context) ([]*certwatch.Certificate, error) {
		return []*certwatch.Certificate{cert("partial", "p", "keystore")}, errors.New("host unreachable")
	}}
	ok := &mockExtractor{typ: certwatch.ExtractorACM, ExportAllFunc: func(ctx context.Context) ([]*certwatch.Certificate, error) {
		return []*certwatch.Certificate{cert("x", "p", "acm")}, nil
	}}
	got := NewCoordinator([]string{"keystore", "acm"}, kitlog.NewNopLogger(), failing, ok).Extract(context.Background())
	assert.Equal(t, []string{"x"}, certwatch.Aliases(got))

	panicking := &mockExtractor{typ: certwatch.ExtractorKeystore, ExportAllFunc: func(ctx context.Context) ([]*certwatch.Certificate, error) {
		panic("boom")
	}}
	got = NewCoordinator([]string{"keystore", "acm"}, kitlog.NewNopLogger(), panicking, ok).Extract(context.Background())
	assert.Equal(t, []string{"x"}, certwatch.Aliases(got))
}

func TestCoordinatorSelection(t *testing.T) {
	var calls int
	reg := &mockExtractor{typ: certwatch.ExtractorACM, ExportAllFunc: func(ctx context.Context) ([]*certwatch.Certificate, error) {
		calls++
		return []*certwatch.Certificate{cert("x", "p", "acm")}, nil
	}}

	// unknown and unavailable strategies are skipped, duplicates run once
	got := NewCoordinator([]string{"ldap", "keystore", "acm", "ACM"}, kitlog.NewNopLogger(), reg).Extract(context.Background())
	assert.Equal(t, []string{"x"}, certwatch.Aliases(got))
	assert.Equal(t, 1, calls)

	got = NewCoordinator(nil, kitlog.NewNopLogger(), reg).Extract(context.Background())
	assert.Empty(t, got)
}
