package model

import "time"

// EventPublication はアウトボックスに記録されたドメインイベントを表す。
// 業務変更と同一トランザクションで作成され、CompletedAtがnilの間は
// 配信義務が残っている（PENDING）。
type EventPublication struct {
	ID        string
	EventType string
	Payload   []byte
	CreatedAt time.Time
	// CompletedAt は全コンシューマの処理完了時刻。未完了の場合はnil。
	CompletedAt *time.Time

	// 再送の記録
	Attempts      int
	LastError     string
	NextAttemptAt *time.Time
}

// PublicationStatus はEventPublicationの論理状態。
type PublicationStatus string

const (
	PublicationPending  PublicationStatus = "PENDING"
	PublicationComplete PublicationStatus = "COMPLETE"
)

// Status は現在の論理状態を返す。
// 削除済み（PURGED）のエントリは存在しないため表現しない。
func (p *EventPublication) Status() PublicationStatus {
	if p.CompletedAt != nil {
		return PublicationComplete
	}
	return PublicationPending
}

// IsComplete は処理完了済みかどうかを返す。
func (p *EventPublication) IsComplete() bool {
	return p.CompletedAt != nil
}
