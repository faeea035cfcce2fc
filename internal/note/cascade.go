package note

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/notekeeper/internal/model"
	"github.com/hitoshi/notekeeper/internal/outbox"
)

// OwnerNoteDeleter は所有者単位でメモを削除する。
type OwnerNoteDeleter interface {
	DeleteByOwner(ctx context.Context, ownerID string) (int64, error)
}

// CascadeRecorder はカスケード削除の件数を記録する。
type CascadeRecorder interface {
	RecordNotesCascaded(count int64)
}

// CascadeConsumer はAppuserDeletedイベントを受けて所有メモを削除する。
// 同じイベントを何度受け取っても結果は変わらない。
type CascadeConsumer struct {
	notes    OwnerNoteDeleter
	logger   *slog.Logger
	recorder CascadeRecorder
}

// NewCascadeConsumer はCascadeConsumerを生成する。recorderはnilでもよい。
func NewCascadeConsumer(notes OwnerNoteDeleter, logger *slog.Logger, recorder CascadeRecorder) *CascadeConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &CascadeConsumer{notes: notes, logger: logger, recorder: recorder}
}

// OnAppuserDeleted は退会した利用者のメモを全て削除する。該当0件は成功として扱う。
func (c *CascadeConsumer) OnAppuserDeleted(ctx context.Context, ev outbox.AppuserDeleted) error {
	deleted, err := c.notes.DeleteByOwner(ctx, ev.AppuserID)
	if err != nil {
		return fmt.Errorf("所有メモの削除に失敗しました: %w", err)
	}
	if c.recorder != nil {
		c.recorder.RecordNotesCascaded(deleted)
	}
	c.logger.InfoContext(ctx, "退会した利用者のメモを削除しました",
		slog.String("appuser_id", ev.AppuserID),
		slog.Int64("deleted_count", deleted),
	)
	return nil
}

// Consume はoutbox.Consumerの実装。
func (c *CascadeConsumer) Consume(ctx context.Context, pub *model.EventPublication) error {
	ev, err := outbox.DecodeAppuserDeleted(pub)
	if err != nil {
		return err
	}
	return c.OnAppuserDeleted(ctx, ev)
}
