package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/notekeeper/internal/model"
)

// PostgresEventPublicationRepo はPostgreSQLを使用したアウトボックスリポジトリ。
// 経過時間の基準時刻はアプリケーション側の時計で計算する。
type PostgresEventPublicationRepo struct {
	db  Executor
	now func() time.Time
}

// NewPostgresEventPublicationRepo はPostgresEventPublicationRepoを生成する。
func NewPostgresEventPublicationRepo(db Executor) *PostgresEventPublicationRepo {
	return &PostgresEventPublicationRepo{db: db, now: time.Now}
}

const publicationColumns = `id, event_type, payload, created_at, completed_at, attempts, last_error, next_attempt_at`

func scanPublication(row rowScanner) (*model.EventPublication, error) {
	pub := &model.EventPublication{}
	var completedAt, nextAttemptAt sql.NullTime
	err := row.Scan(
		&pub.ID, &pub.EventType, &pub.Payload, &pub.CreatedAt,
		&completedAt, &pub.Attempts, &pub.LastError, &nextAttemptAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		pub.CompletedAt = &t
	}
	if nextAttemptAt.Valid {
		t := nextAttemptAt.Time
		pub.NextAttemptAt = &t
	}
	return pub, nil
}

// Append はエントリを追記する。
// 呼び出し側のトランザクションにバインドされたExecutorで実行すること。
func (r *PostgresEventPublicationRepo) Append(ctx context.Context, pub *model.EventPublication) error {
	// lib/pqは[]byteをbyteaとして送るため、jsonbには文字列で渡す
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_publications (id, event_type, payload, created_at)
		 VALUES ($1, $2, $3::jsonb, $4)`,
		pub.ID, pub.EventType, string(pub.Payload), pub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append event publication: %w", err)
	}
	return nil
}

// FindByID は指定IDのエントリを取得する。見つからない場合はnilを返す。
func (r *PostgresEventPublicationRepo) FindByID(ctx context.Context, id string) (*model.EventPublication, error) {
	pub, err := scanPublication(r.db.QueryRowContext(ctx,
		`SELECT `+publicationColumns+` FROM event_publications WHERE id = $1`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find event publication: %w", err)
	}
	return pub, nil
}

// MarkComplete はエントリを完了済みにする。既に完了済みなら何もしない。
func (r *PostgresEventPublicationRepo) MarkComplete(ctx context.Context, id string, completedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE event_publications
		 SET completed_at = $2, next_attempt_at = NULL
		 WHERE id = $1 AND completed_at IS NULL`,
		id, completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark event publication complete: %w", err)
	}
	return nil
}

// ListIncompleteOlderThan は再送対象の未完了エントリを返す。
func (r *PostgresEventPublicationRepo) ListIncompleteOlderThan(ctx context.Context, olderThan time.Duration, limit int) ([]*model.EventPublication, error) {
	now := r.now()
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+publicationColumns+`
		 FROM event_publications
		 WHERE completed_at IS NULL
		   AND created_at <= $1
		   AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
		 ORDER BY created_at, id
		 LIMIT $3`,
		now.Add(-olderThan), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list incomplete event publications: %w", err)
	}
	defer rows.Close()

	var pubs []*model.EventPublication
	for rows.Next() {
		pub, err := scanPublication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event publication: %w", err)
		}
		pubs = append(pubs, pub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event publications: %w", err)
	}
	return pubs, nil
}

// DeleteCompletedOlderThan は保持期間を過ぎた完了済みエントリを削除する。
func (r *PostgresEventPublicationRepo) DeleteCompletedOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM event_publications
		 WHERE completed_at IS NOT NULL AND completed_at < $1`,
		r.now().Add(-olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete completed event publications: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// RecordFailure は配信失敗を記録する。完了済みのエントリは更新しない。
func (r *PostgresEventPublicationRepo) RecordFailure(ctx context.Context, id, errMsg string, nextAttemptAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE event_publications
		 SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3
		 WHERE id = $1 AND completed_at IS NULL`,
		id, errMsg, nextAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record event publication failure: %w", err)
	}
	return nil
}

// compile-time interface check
var (
	_ EventPublicationRepository = (*PostgresEventPublicationRepo)(nil)
	_ EventAppender              = (*PostgresEventPublicationRepo)(nil)
)
