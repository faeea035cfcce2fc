package outbox

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Job はスケジューラから定期実行される処理。
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler はcron式に従ってJobを実行する。
// 同じJobの前回実行が終わっていない場合、その回はスキップする。
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	// ctx はStopでキャンセルされ、実行中のジョブに伝わる。
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler は新しいSchedulerを生成する。
func NewScheduler(logger *slog.Logger) *Scheduler {
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add はcron式でJobを登録する。"@every 1m"形式も使用できる。
func (s *Scheduler) Add(spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.runJob(job)
	})
	if err != nil {
		return fmt.Errorf("ジョブ %s のスケジュールが不正です (%q): %w", job.Name(), spec, err)
	}
	s.logger.Info("ジョブを登録しました",
		slog.String("job", job.Name()),
		slog.String("schedule", spec),
	)
	return nil
}

func (s *Scheduler) runJob(job Job) {
	if err := job.Run(s.ctx); err != nil {
		s.logger.Error("ジョブの実行に失敗しました",
			slog.String("job", job.Name()),
			slog.String("error", err.Error()),
		)
	}
}

// Start はスケジューラを開始する。
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("スケジューラを開始しました")
}

// Stop は新しい実行を止め、実行中のジョブの完了を待つ。
// ctxが先に終了した場合は実行中ジョブをキャンセルして戻る。
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.cancel()
		<-done.Done()
	}
	s.cancel()
	s.logger.Info("スケジューラを停止しました")
}

// cronLogger はcron.Loggerをslogに接続する。
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
