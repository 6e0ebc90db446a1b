package cleanup

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/ssolink/internal/model"
	"github.com/hitoshi/ssolink/internal/repository"
)

var now = time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func seed(t *testing.T, repo *repository.MemoryTokenRepo, offsets ...time.Duration) {
	t.Helper()
	for i, offset := range offsets {
		require.NoError(t, repo.Create(context.Background(), &model.SsoToken{
			Value:             strings.Repeat(string(rune('a'+i)), 64),
			UserID:            "42",
			PartnerIdentifier: "acme",
			SourceApp:         "app1",
			ExpiresAt:         now.Add(offset),
			CreatedAt:         now.Add(offset - 5*time.Minute),
		}))
	}
}

type countingRecorder struct {
	cleaned atomic.Int64
}

func (r *countingRecorder) RecordTokensCleaned(n int64) { r.cleaned.Add(n) }

type failingTokenStore struct {
	repository.TokenRepository
	err error
}

func (f *failingTokenStore) CountExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, f.err
}

func TestCleanupJob_DryRunThenDelete(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryTokenRepo()
	seed(t, repo, -3*time.Hour, -2*time.Hour, -time.Minute, time.Minute)
	rec := &countingRecorder{}

	var buf bytes.Buffer
	job := NewCleanupJob(repo, newTestLogger(&buf), WithClock(clockwork.NewFakeClockAt(now)), WithRecorder(rec))

	report, err := job.Run(ctx, Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, int64(3), report.Count)
	assert.Equal(t, int64(0), report.Deleted)
	require.Len(t, report.Preview, 3)
	assert.Equal(t, "aaaaaaaa...", report.Preview[0].Token)
	assert.Equal(t, "acme", report.Preview[0].Partner)
	assert.Equal(t, int64(0), rec.cleaned.Load())

	remaining, err := repo.CountExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), remaining, "dry run must not delete")

	report, err = job.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.Count)
	assert.Equal(t, int64(3), report.Deleted)
	assert.Empty(t, report.Preview)
	assert.Equal(t, int64(3), rec.cleaned.Load())

	live, err := repo.FindByValue(ctx, strings.Repeat("d", 64))
	require.NoError(t, err)
	assert.NotNil(t, live, "unexpired token must survive")
}

func TestCleanupJob_OlderThan(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryTokenRepo()
	seed(t, repo, -3*time.Hour, -2*time.Hour, -time.Minute)

	var buf bytes.Buffer
	job := NewCleanupJob(repo, newTestLogger(&buf), WithClock(clockwork.NewFakeClockAt(now)))

	report, err := job.Run(ctx, Options{OlderThan: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, now.Add(-time.Hour), report.Cutoff)
	assert.Equal(t, int64(2), report.Deleted)

	remaining, err := repo.CountExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining)
}

func TestCleanupJob_PreviewIsLimited(t *testing.T) {
	repo := repository.NewMemoryTokenRepo()
	var offsets []time.Duration
	for i := 0; i < PreviewLimit+3; i++ {
		offsets = append(offsets, -time.Duration(i+1)*time.Minute)
	}
	seed(t, repo, offsets...)

	var buf bytes.Buffer
	job := NewCleanupJob(repo, newTestLogger(&buf), WithClock(clockwork.NewFakeClockAt(now)))

	report, err := job.Run(context.Background(), Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, int64(PreviewLimit+3), report.Count)
	assert.Len(t, report.Preview, PreviewLimit)
}

func TestCleanupJob_NothingToDelete(t *testing.T) {
	repo := repository.NewMemoryTokenRepo()
	seed(t, repo, time.Minute)

	var buf bytes.Buffer
	job := NewCleanupJob(repo, newTestLogger(&buf), WithClock(clockwork.NewFakeClockAt(now)))

	report, err := job.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.Count)
	assert.Equal(t, int64(0), report.Deleted)
}

func TestCleanupJob_DeletesExpiredSessions(t *testing.T) {
	ctx := context.Background()
	sessions := repository.NewMemorySessionRepo(nil)
	require.NoError(t, sessions.Create(ctx, &model.Session{ID: "old", UserID: "u1", ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, sessions.Create(ctx, &model.Session{ID: "new", UserID: "u1", ExpiresAt: now.Add(time.Hour)}))

	var buf bytes.Buffer
	job := NewCleanupJob(repository.NewMemoryTokenRepo(), newTestLogger(&buf),
		WithClock(clockwork.NewFakeClockAt(now)),
		WithSessions(sessions),
	)

	report, err := job.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.SessionsDeleted)
}

func TestCleanupJob_StoreError(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&failingTokenStore{err: errors.New("connection refused")}, newTestLogger(&buf))

	_, err := job.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCleanupJob_Start_RunsOnEachTick(t *testing.T) {
	repo := repository.NewMemoryTokenRepo()
	clock := clockwork.NewFakeClockAt(now)
	rec := &countingRecorder{}

	var buf bytes.Buffer
	job := NewCleanupJob(repo, newTestLogger(&buf), WithClock(clock), WithRecorder(rec))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	// 起動直後の1回目が終わりティッカーを待つまで待機
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	seed(t, repo, -time.Minute)
	clock.Advance(time.Hour)

	assert.Eventually(t, func() bool { return rec.cleaned.Load() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
