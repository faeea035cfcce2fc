// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/notekeeper/internal/model"
)

var (
	// ErrNotFound は更新・削除対象のレコードが存在しないことを表す。
	ErrNotFound = errors.New("record not found")
	// ErrUsernameTaken はusernameの一意制約に違反したことを表す。
	ErrUsernameTaken = errors.New("username already taken")
)

// Executor はクエリ実行の抽象。*sql.DBと*sql.Txの両方が満たす。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// AppuserRepository は資格情報レコードの永続化インターフェース。
type AppuserRepository interface {
	// FindByID は指定IDの利用者を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Appuser, error)

	// FindByUsername はusernameで利用者を検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.Appuser, error)

	// ExistsByUsername はusernameが使用済みかどうかを返す。
	ExistsByUsername(ctx context.Context, username string) (bool, error)

	// Create は利用者を作成する。usernameが重複する場合はErrUsernameTakenを返す。
	Create(ctx context.Context, appuser *model.Appuser) error

	// Update はusername、パスワードハッシュ、スコープを更新する。
	// 対象が存在しない場合はErrNotFound、usernameが重複する場合はErrUsernameTakenを返す。
	Update(ctx context.Context, appuser *model.Appuser) error

	// DeleteByID は指定IDの利用者を削除する。存在しない場合はErrNotFoundを返す。
	DeleteByID(ctx context.Context, id string) error

	// List は作成日時の昇順で利用者一覧を返す。
	List(ctx context.Context, offset, limit int) ([]*model.Appuser, error)

	// Count は利用者の総数を返す。
	Count(ctx context.Context) (int, error)
}

// NoteRepository はメモの永続化インターフェース。
type NoteRepository interface {
	// Create はメモを作成する。
	Create(ctx context.Context, note *model.Note) error

	// FindByID は指定IDのメモを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Note, error)

	// ListByOwner は所有者のメモを作成日時の降順で返す。
	ListByOwner(ctx context.Context, ownerID string) ([]*model.Note, error)

	// Delete は所有者が一致するメモを削除する。該当がなければErrNotFoundを返す。
	Delete(ctx context.Context, id, ownerID string) error

	// DeleteByOwner は所有者の全メモを削除し、削除件数を返す。
	// 該当0件はエラーではない。
	DeleteByOwner(ctx context.Context, ownerID string) (int64, error)
}

// EventAppender はアウトボックスへの追記インターフェース。
// Tx経由でのみ取得でき、業務変更と同じトランザクションで書き込まれる。
type EventAppender interface {
	Append(ctx context.Context, pub *model.EventPublication) error
}

// EventPublicationRepository はアウトボックスの配信管理インターフェース。
type EventPublicationRepository interface {
	// FindByID は指定IDのエントリを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.EventPublication, error)

	// MarkComplete はエントリを完了済みにする。
	// 完了済み・削除済みのエントリに対しては何もせずnilを返す。
	MarkComplete(ctx context.Context, id string, completedAt time.Time) error

	// ListIncompleteOlderThan は作成からolderThan以上経過した未完了エントリを
	// 作成日時の昇順で最大limit件返す。next_attempt_atが未来のものは除く。
	// 呼び出しごとに新しいクエリを発行する。
	ListIncompleteOlderThan(ctx context.Context, olderThan time.Duration, limit int) ([]*model.EventPublication, error)

	// DeleteCompletedOlderThan は完了からolderThanより長く経過したエントリを削除し、削除件数を返す。
	// 未完了のエントリには触れない。
	DeleteCompletedOlderThan(ctx context.Context, olderThan time.Duration) (int64, error)

	// RecordFailure は配信失敗を記録する。attemptsを加算し、次回試行時刻を設定する。
	RecordFailure(ctx context.Context, id, errMsg string, nextAttemptAt time.Time) error
}

// Tx は1トランザクション内で利用できるリポジトリ群。
type Tx interface {
	Appusers() AppuserRepository
	Notes() NoteRepository
	Outbox() EventAppender
}

// TxManager はトランザクション境界を提供する。
// fnがエラーを返した場合はロールバックし、そのエラーを返す。
type TxManager interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}
