package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/notekeeper/internal/model"
)

// PendingPublicationStore は再送対象の取得と失敗の記録を行う。
type PendingPublicationStore interface {
	ListIncompleteOlderThan(ctx context.Context, olderThan time.Duration, limit int) ([]*model.EventPublication, error)
	RecordFailure(ctx context.Context, id, errMsg string, nextAttemptAt time.Time) error
}

// Dispatcher はイベントを登録済みコンシューマへ配信する。
type Dispatcher interface {
	Dispatch(ctx context.Context, pub *model.EventPublication) error
}

// ResubmitRecorder は再送のメトリクスを記録する。
type ResubmitRecorder interface {
	RecordResubmitLatency(d time.Duration)
	RecordEventPoisoned(eventType string)
}

type nopRecorder struct{}

func (nopRecorder) RecordResubmitLatency(time.Duration) {}
func (nopRecorder) RecordEventPoisoned(string)          {}

// ResubmitConfig は再送ジョブの設定。
type ResubmitConfig struct {
	// StaleWindow は即時配信に任せる猶予。作成からこの時間が経過した未完了エントリを再送する。
	StaleWindow time.Duration
	// BatchSize は1回の実行で扱う最大件数。
	BatchSize int
	// MaxConcurrency は同時に配信するイベント数の上限。
	MaxConcurrency int
	// EscalationThreshold はこの回数以上失敗したイベントをERRORログで通知する閾値。
	EscalationThreshold int
}

// Resubmitter は未完了のまま残ったイベントを再配信するジョブ。
// 配信に失敗したイベントは破棄せず、バックオフ付きで次回以降に再試行する。
type Resubmitter struct {
	publications PendingPublicationStore
	dispatcher   Dispatcher
	logger       *slog.Logger
	recorder     ResubmitRecorder
	cfg          ResubmitConfig
	now          func() time.Time
}

// NewResubmitter は新しいResubmitterを生成する。
// BatchSizeとMaxConcurrencyが0以下の場合はそれぞれ100と4を使用する。
func NewResubmitter(
	publications PendingPublicationStore,
	dispatcher Dispatcher,
	logger *slog.Logger,
	cfg ResubmitConfig,
	recorder ResubmitRecorder,
) *Resubmitter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Resubmitter{
		publications: publications,
		dispatcher:   dispatcher,
		logger:       logger,
		recorder:     recorder,
		cfg:          cfg,
		now:          time.Now,
	}
}

// Name はジョブ名を返す。
func (r *Resubmitter) Name() string { return "outbox-resubmitter" }

// Run は再送対象を1回取得し、並列数を制限しながら再配信する。
// 個々のイベントの失敗は記録するのみで、Runのエラーにはならない。
func (r *Resubmitter) Run(ctx context.Context) error {
	start := r.now()

	pubs, err := r.publications.ListIncompleteOlderThan(ctx, r.cfg.StaleWindow, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("再送対象イベントの取得に失敗: %w", err)
	}
	if len(pubs) == 0 {
		r.logger.Debug("再送対象のイベントはありません")
		return nil
	}

	r.logger.Info("イベントの再送を開始します",
		slog.Int("publication_count", len(pubs)),
	)

	var delivered, failed, skipped atomic.Int64
	var g errgroup.Group
	g.SetLimit(r.cfg.MaxConcurrency)

	for i, pub := range pubs {
		// 停止要求後は残りを次回の実行に回す。g.Goは空きを待つため取得後にも確認する。
		if ctx.Err() != nil {
			skipped.Add(int64(len(pubs) - i))
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				skipped.Add(1)
				return nil
			}
			if r.resubmit(ctx, pub) {
				delivered.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	attrs := []any{
		slog.Int("publication_count", len(pubs)),
		slog.Int64("delivered_count", delivered.Load()),
		slog.Int64("failed_count", failed.Load()),
		slog.Int64("skipped_count", skipped.Load()),
		slog.Float64("duration_ms", float64(r.now().Sub(start).Milliseconds())),
	}
	if ctx.Err() != nil {
		r.logger.Warn("停止要求によりイベントの再送を中断しました", attrs...)
		return nil
	}
	r.logger.Info("イベントの再送が完了しました", attrs...)
	return nil
}

// resubmit は1件を配信し、成功したかどうかを返す。
func (r *Resubmitter) resubmit(ctx context.Context, pub *model.EventPublication) bool {
	r.recorder.RecordResubmitLatency(r.now().Sub(pub.CreatedAt))

	dispatchErr := r.dispatcher.Dispatch(ctx, pub)
	if dispatchErr == nil {
		return true
	}
	if ctx.Err() != nil {
		// 試行回数は増やさず、未完了のまま次回の実行で再送する
		return false
	}

	attempts := pub.Attempts + 1
	next := r.now().Add(CalculateBackoff(attempts))
	if err := r.publications.RecordFailure(ctx, pub.ID, dispatchErr.Error(), next); err != nil {
		r.logger.Error("配信失敗の記録に失敗しました",
			slog.String("event_id", pub.ID),
			slog.String("error", err.Error()),
		)
	}

	attrs := []any{
		slog.String("event_id", pub.ID),
		slog.String("event_type", pub.EventType),
		slog.Int("attempts", attempts),
		slog.Time("next_attempt_at", next),
		slog.String("error", dispatchErr.Error()),
	}
	if r.cfg.EscalationThreshold > 0 && attempts >= r.cfg.EscalationThreshold {
		r.recorder.RecordEventPoisoned(pub.EventType)
		r.logger.Error("outbox publication poisoned: 再送を繰り返しても配信できないイベントがあります", attrs...)
		return false
	}
	r.logger.Warn("イベントの再送に失敗しました", attrs...)
	return false
}
