// Package cleanup は期限切れSSOトークンの削除ジョブを提供する。
// CLIからの単発実行と、ワーカーによる定期実行の両方で使用する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hitoshi/ssolink/internal/logger"
	"github.com/hitoshi/ssolink/internal/model"
)

// PreviewLimit はドライラン時に表示する最大件数。
const PreviewLimit = 10

// TokenStore は削除対象トークンの集計と削除を行う。
type TokenStore interface {
	CountExpired(ctx context.Context, before time.Time) (int64, error)
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*model.SsoToken, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// SessionStore は期限切れセッションを削除する。
type SessionStore interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Recorder は削除件数を記録する。
type Recorder interface {
	RecordTokensCleaned(n int64)
}

// Options は1回の実行の条件。
type Options struct {
	DryRun    bool
	OlderThan time.Duration // 期限切れからさらにこの時間が経過したものだけを対象にする
}

// PreviewRow はドライランで表示する1行。トークンは先頭のみ。
type PreviewRow struct {
	Token     string
	Partner   string
	ExpiresAt time.Time
}

// Report は実行結果。
type Report struct {
	Cutoff          time.Time
	DryRun          bool
	Count           int64
	Preview         []PreviewRow
	Deleted         int64
	SessionsDeleted int64
}

// CleanupJob は期限切れトークンの削除ジョブ。
// 削除は冪等で、対象がない場合もエラーにならない。
type CleanupJob struct {
	tokens   TokenStore
	sessions SessionStore
	recorder Recorder
	clock    clockwork.Clock
	logger   *slog.Logger
}

// Option はCleanupJobの設定を変更する。
type Option func(*CleanupJob)

// WithSessions は期限切れセッションも合わせて削除する。
func WithSessions(s SessionStore) Option {
	return func(j *CleanupJob) { j.sessions = s }
}

// WithRecorder は削除件数の記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(j *CleanupJob) { j.recorder = r }
}

// WithClock は時計を差し替える。
func WithClock(c clockwork.Clock) Option {
	return func(j *CleanupJob) { j.clock = c }
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(tokens TokenStore, logger *slog.Logger, opts ...Option) *CleanupJob {
	j := &CleanupJob{
		tokens: tokens,
		clock:  clockwork.NewRealClock(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.logger == nil {
		j.logger = slog.Default()
	}
	return j
}

// Run は expires_at が now - OlderThan より前のトークンを集計し、
// ドライランでなければ削除する。
func (j *CleanupJob) Run(ctx context.Context, opts Options) (*Report, error) {
	start := j.clock.Now()
	report := &Report{
		Cutoff: start.Add(-opts.OlderThan),
		DryRun: opts.DryRun,
	}

	count, err := j.tokens.CountExpired(ctx, report.Cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to count expired tokens: %w", err)
	}
	report.Count = count

	if opts.DryRun {
		if count > 0 {
			tokens, err := j.tokens.ListExpired(ctx, report.Cutoff, PreviewLimit)
			if err != nil {
				return nil, fmt.Errorf("failed to list expired tokens: %w", err)
			}
			for _, t := range tokens {
				report.Preview = append(report.Preview, PreviewRow{
					Token:     logger.MaskToken(t.Value),
					Partner:   t.PartnerIdentifier,
					ExpiresAt: t.ExpiresAt,
				})
			}
		}
		j.logger.Info("期限切れトークンを集計しました（ドライラン）",
			slog.Int64("count", count),
			slog.Time("cutoff", report.Cutoff),
		)
		return report, nil
	}

	if count > 0 {
		deleted, err := j.tokens.DeleteExpired(ctx, report.Cutoff)
		if err != nil {
			j.logger.Error("期限切れトークンの削除に失敗しました",
				slog.String("error", err.Error()),
				slog.Time("cutoff", report.Cutoff),
			)
			return nil, fmt.Errorf("failed to delete expired tokens: %w", err)
		}
		report.Deleted = deleted
		if j.recorder != nil {
			j.recorder.RecordTokensCleaned(deleted)
		}
	}

	if j.sessions != nil {
		n, err := j.sessions.DeleteExpired(ctx, start)
		if err != nil {
			// トークンの削除結果は有効なのでセッション側の失敗は記録のみ
			j.logger.Error("期限切れセッションの削除に失敗しました", slog.String("error", err.Error()))
		} else {
			report.SessionsDeleted = n
		}
	}

	j.logger.Info("期限切れトークンのクリーンアップが完了しました",
		slog.Int64("deleted_count", report.Deleted),
		slog.Int64("sessions_deleted", report.SessionsDeleted),
		slog.Time("cutoff", report.Cutoff),
		slog.Float64("duration_ms", float64(j.clock.Since(start).Milliseconds())),
	)
	return report, nil
}

// Start は interval ごとにクリーンアップを実行する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := j.clock.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップワーカーを開始しました", slog.Duration("interval", interval))

	j.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップワーカーを停止しました")
			return
		case <-ticker.Chan():
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if _, err := j.Run(ctx, Options{}); err != nil {
		j.logger.Error("クリーンアップの実行に失敗しました", slog.String("error", err.Error()))
	}
}
