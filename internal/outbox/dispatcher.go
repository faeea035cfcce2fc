package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hitoshi/notekeeper/internal/model"
)

// Consumer はイベントを処理する。
// 同じイベントが複数回配信されうるため、冪等に実装すること。
type Consumer interface {
	Consume(ctx context.Context, pub *model.EventPublication) error
}

// ConsumerFunc は関数をConsumerとして扱うアダプタ。
type ConsumerFunc func(ctx context.Context, pub *model.EventPublication) error

// Consume はf(ctx, pub)を呼び出す。
func (f ConsumerFunc) Consume(ctx context.Context, pub *model.EventPublication) error {
	return f(ctx, pub)
}

// Completer はエントリの完了を記録する。
type Completer interface {
	MarkComplete(ctx context.Context, id string, completedAt time.Time) error
}

// Recorder は配信結果のメトリクスを記録する。
type Recorder interface {
	RecordEventDelivered(eventType string)
	RecordEventFailed(eventType string)
}

type nopRecorder struct{}

func (nopRecorder) RecordEventDelivered(string) {}
func (nopRecorder) RecordEventFailed(string)    {}

// ErrNoConsumer はイベント種別にコンシューマが登録されていないことを表す。
var ErrNoConsumer = errors.New("no consumer registered for event type")

type registration struct {
	name     string
	consumer Consumer
}

// Dispatcher はイベント種別ごとに登録されたコンシューマへイベントを配信する。
// 全コンシューマが成功した場合のみエントリを完了済みにする。
type Dispatcher struct {
	completer Completer
	logger    *slog.Logger
	recorder  Recorder
	now       func() time.Time
	timeout   time.Duration

	mu        sync.RWMutex
	consumers map[string][]registration

	inflight sync.WaitGroup
}

// Option はDispatcherの生成オプション。
type Option func(*Dispatcher)

// WithRecorder はメトリクスの記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithClock は完了時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithAsyncTimeout はDispatchAsync1回あたりのタイムアウトを設定する。
func WithAsyncTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// NewDispatcher はDispatcherを生成する。
func NewDispatcher(completer Completer, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		completer: completer,
		logger:    logger,
		recorder:  nopRecorder{},
		now:       time.Now,
		timeout:   10 * time.Second,
		consumers: make(map[string][]registration),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register はイベント種別にコンシューマを登録する。nameはログに使用する。
func (d *Dispatcher) Register(eventType, name string, c Consumer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consumers[eventType] = append(d.consumers[eventType], registration{name: name, consumer: c})
}

// Dispatch はイベントを全コンシューマに配信し、全て成功したら完了を記録する。
// 失敗したコンシューマがあればエラーを返し、エントリは未完了のまま残る。
func (d *Dispatcher) Dispatch(ctx context.Context, pub *model.EventPublication) error {
	d.mu.RLock()
	regs := d.consumers[pub.EventType]
	d.mu.RUnlock()

	if len(regs) == 0 {
		d.recorder.RecordEventFailed(pub.EventType)
		return fmt.Errorf("%w: %s", ErrNoConsumer, pub.EventType)
	}

	var errs []error
	for _, reg := range regs {
		if err := consumeSafely(ctx, reg.consumer, pub); err != nil {
			errs = append(errs, fmt.Errorf("consumer %s: %w", reg.name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		d.recorder.RecordEventFailed(pub.EventType)
		return err
	}

	if err := d.completer.MarkComplete(ctx, pub.ID, d.now()); err != nil {
		d.recorder.RecordEventFailed(pub.EventType)
		return fmt.Errorf("failed to mark publication complete: %w", err)
	}

	d.recorder.RecordEventDelivered(pub.EventType)
	d.logger.InfoContext(ctx, "イベントを配信しました",
		slog.String("event_id", pub.ID),
		slog.String("event_type", pub.EventType),
		slog.Int("consumer_count", len(regs)),
	)
	return nil
}

// DispatchAsync はコミット直後のベストエフォート配信をバックグラウンドで行う。
// 呼び出し元のキャンセルからは切り離し、失敗は再送ジョブに委ねる。
func (d *Dispatcher) DispatchAsync(ctx context.Context, pub *model.EventPublication) {
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := d.Dispatch(ctx, pub); err != nil {
			d.logger.WarnContext(ctx, "イベントの即時配信に失敗しました。再送ジョブで再試行します",
				slog.String("event_id", pub.ID),
				slog.String("event_type", pub.EventType),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait は実行中のDispatchAsyncの完了を待つ。
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// consumeSafely はコンシューマのpanicをエラーに変換する。
func consumeSafely(ctx context.Context, c Consumer, pub *model.EventPublication) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return c.Consume(ctx, pub)
}
