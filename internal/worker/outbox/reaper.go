// Package outbox はアウトボックスの保守ジョブを提供する。
// 未完了エントリの再送と、保持期間を過ぎた完了済みエントリの削除を
// cronスケジュールで実行する。
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CompletedPublicationDeleter は完了済みエントリを削除する。
type CompletedPublicationDeleter interface {
	DeleteCompletedOlderThan(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ReapRecorder は削除件数を記録する。
type ReapRecorder interface {
	RecordPublicationsReaped(count int64)
}

// Reaper は保持期間を過ぎた完了済みエントリを削除するジョブ。
// 未完了のエントリには触れないため、配信途中のイベントが失われることはない。
type Reaper struct {
	publications CompletedPublicationDeleter
	logger       *slog.Logger
	recorder     ReapRecorder
	Retention    time.Duration // 完了後の保持期間（デフォルト: 7日）
}

// NewReaper は新しいReaperを生成する。recorderはnilでもよい。
func NewReaper(publications CompletedPublicationDeleter, logger *slog.Logger, recorder ReapRecorder) *Reaper {
	return &Reaper{
		publications: publications,
		logger:       logger,
		recorder:     recorder,
		Retention:    7 * 24 * time.Hour,
	}
}

// Name はジョブ名を返す。
func (r *Reaper) Name() string { return "outbox-reaper" }

// Run は完了からRetention以上経過したエントリを削除する。
// 削除対象がない場合もエラーにならない。
func (r *Reaper) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := r.publications.DeleteCompletedOlderThan(ctx, r.Retention)
	if err != nil {
		r.logger.Error("完了済みイベントの削除に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("retention", r.Retention),
		)
		return fmt.Errorf("完了済みイベントの削除に失敗: %w", err)
	}
	if r.recorder != nil {
		r.recorder.RecordPublicationsReaped(deleted)
	}

	r.logger.Info("完了済みイベントの削除ジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Duration("retention", r.Retention),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
