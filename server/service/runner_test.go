package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/fleetdm/certwatch/server/certwatch"
	"github.com/fleetdm/certwatch/server/metrics"
	kitlog "github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockScratch struct {
	PrepareFunc func(ctx context.Context) error
}

func (m *mockScratch) Prepare(ctx context.Context) error { return m.PrepareFunc(ctx) }

type mockExtractor struct {
	ExtractFunc func(ctx context.Context) []*certwatch.Certificate
	invoked     bool
}

func (m *mockExtractor) Extract(ctx context.Context) []*certwatch.Certificate {
	m.invoked = true
	return m.ExtractFunc(ctx)
}

type mockNotifier struct {
	NotifyFunc func(ctx context.Context, certs []*certwatch.Certificate, days int) certwatch.NotificationOutcome
}

func (m *mockNotifier) Notify(ctx context.Context, certs []*certwatch.Certificate, days int) certwatch.NotificationOutcome {
	return m.NotifyFunc(ctx, certs, days)
}

type mockPusher struct {
	PushFunc func(ctx context.Context, r *metrics.Recorder) error
	invoked  bool
}

func (m *mockPusher) Push(ctx context.Context, r *metrics.Recorder) error {
	m.invoked = true
	return m.PushFunc(ctx, r)
}

func TestRunner(t *testing.T) {
	certs := []*certwatch.Certificate{
		{Alias: "svc-1", Project: "payments", IssueID: certwatch.NoIssue},
		{Alias: "svc-2", Project: "billing", IssueID: certwatch.NoIssue},
	}
	extractor := &mockExtractor{ExtractFunc: func(ctx context.Context) []*certwatch.Certificate { return certs }}
	var gotDays int
	notifier := &mockNotifier{NotifyFunc: func(ctx context.Context, got []*certwatch.Certificate, days int) certwatch.NotificationOutcome {
		gotDays = days
		assert.Equal(t, certs, got)
		return certwatch.NotificationOutcome{certwatch.NotifierBasic: got[:1]}
	}}
	pusher := &mockPusher{PushFunc: func(ctx context.Context, r *metrics.Recorder) error {
		return errors.New("gateway down")
	}}
	prepared := false
	scratch := &mockScratch{PrepareFunc: func(ctx context.Context) error {
		prepared = true
		return nil
	}}

	r := NewRunner(extractor, notifier, clock.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)), DefaultDays,
		kitlog.NewNopLogger(), WithScratchArea(scratch), WithMetrics(metrics.NewRecorder(), pusher))
	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, prepared)
	assert.True(t, pusher.invoked)
	assert.Equal(t, DefaultDays, gotDays)
	assert.Equal(t, 2, summary.Extracted)
	assert.Len(t, summary.Outcome[certwatch.NotifierBasic], 1)
}

func TestRunnerScratchFailure(t *testing.T) {
	extractor := &mockExtractor{ExtractFunc: func(ctx context.Context) []*certwatch.Certificate { return nil }}
	notifier := &mockNotifier{NotifyFunc: func(ctx context.Context, certs []*certwatch.Certificate, days int) certwatch.NotificationOutcome {
		t.Fatal("unexpected notification")
		return nil
	}}
	scratch := &mockScratch{PrepareFunc: func(ctx context.Context) error {
		return errors.New("permission denied")
	}}

	r := NewRunner(extractor, notifier, clock.NewMockClock(), 7, kitlog.NewNopLogger(), WithScratchArea(scratch))
	summary, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prepare scratch area")
	assert.Nil(t, summary)
	assert.False(t, extractor.invoked)
}

func TestRunnerWithoutOptionalParts(t *testing.T) {
	extractor := &mockExtractor{ExtractFunc: func(ctx context.Context) []*certwatch.Certificate { return nil }}
	notifier := &mockNotifier{NotifyFunc: func(ctx context.Context, certs []*certwatch.Certificate, days int) certwatch.NotificationOutcome {
		return certwatch.NotificationOutcome{}
	}}
	r := NewRunner(extractor, notifier, clock.NewMockClock(), 0, kitlog.NewNopLogger())
	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Extracted)
	assert.Empty(t, summary.Outcome)
}
