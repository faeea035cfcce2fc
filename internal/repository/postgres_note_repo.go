package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/notekeeper/internal/model"
)

// PostgresNoteRepo はPostgreSQLを使用したメモリポジトリ。
type PostgresNoteRepo struct {
	db Executor
}

// NewPostgresNoteRepo はPostgresNoteRepoを生成する。
func NewPostgresNoteRepo(db Executor) *PostgresNoteRepo {
	return &PostgresNoteRepo{db: db}
}

// Create はメモを作成する。
func (r *PostgresNoteRepo) Create(ctx context.Context, note *model.Note) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notes (id, owner_id, title, content, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		note.ID, note.OwnerID, note.Title, note.Content, note.CreatedAt, note.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert note: %w", err)
	}
	return nil
}

// FindByID は指定IDのメモを取得する。見つからない場合はnilを返す。
func (r *PostgresNoteRepo) FindByID(ctx context.Context, id string) (*model.Note, error) {
	note := &model.Note{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, content, created_at, updated_at FROM notes WHERE id = $1`,
		id,
	).Scan(&note.ID, &note.OwnerID, &note.Title, &note.Content, &note.CreatedAt, &note.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find note by ID: %w", err)
	}
	return note, nil
}

// ListByOwner は所有者のメモを作成日時の降順で返す。
func (r *PostgresNoteRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.Note, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner_id, title, content, created_at, updated_at
		 FROM notes
		 WHERE owner_id = $1
		 ORDER BY created_at DESC, id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var notes []*model.Note
	for rows.Next() {
		note := &model.Note{}
		if err := rows.Scan(&note.ID, &note.OwnerID, &note.Title, &note.Content, &note.CreatedAt, &note.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notes: %w", err)
	}
	return notes, nil
}

// Delete は所有者が一致するメモを削除する。
func (r *PostgresNoteRepo) Delete(ctx context.Context, id, ownerID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM notes WHERE id = $1 AND owner_id = $2`, id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	return requireAffected(result)
}

// DeleteByOwner は所有者の全メモを削除する。
func (r *PostgresNoteRepo) DeleteByOwner(ctx context.Context, ownerID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM notes WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete notes by owner: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ NoteRepository = (*PostgresNoteRepo)(nil)
