package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/notekeeper/internal/database"
	"github.com/hitoshi/notekeeper/internal/model"
)

const usernameConstraint = "appusers_username_key"

// PostgresAppuserRepo はPostgreSQLを使用した資格情報リポジトリ。
type PostgresAppuserRepo struct {
	db Executor
}

// NewPostgresAppuserRepo はPostgresAppuserRepoを生成する。
// dbには*sql.DBまたは*sql.Txを渡す。
func NewPostgresAppuserRepo(db Executor) *PostgresAppuserRepo {
	return &PostgresAppuserRepo{db: db}
}

const appuserColumns = `id, username, password_hash, scopes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppuser(row rowScanner) (*model.Appuser, error) {
	appuser := &model.Appuser{}
	var scopes []string
	err := row.Scan(
		&appuser.ID, &appuser.Username, &appuser.PasswordHash,
		pq.Array(&scopes), &appuser.CreatedAt, &appuser.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	appuser.Scopes = model.NewScopeSet()
	for _, s := range scopes {
		if scope := model.Scope(s); scope.Valid() {
			appuser.Scopes[scope] = struct{}{}
		}
	}
	return appuser, nil
}

// FindByID は指定IDの利用者を取得する。見つからない場合はnilを返す。
func (r *PostgresAppuserRepo) FindByID(ctx context.Context, id string) (*model.Appuser, error) {
	appuser, err := scanAppuser(r.db.QueryRowContext(ctx,
		`SELECT `+appuserColumns+` FROM appusers WHERE id = $1`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find appuser by ID: %w", err)
	}
	return appuser, nil
}

// FindByUsername はusernameで利用者を検索する。見つからない場合はnilを返す。
func (r *PostgresAppuserRepo) FindByUsername(ctx context.Context, username string) (*model.Appuser, error) {
	appuser, err := scanAppuser(r.db.QueryRowContext(ctx,
		`SELECT `+appuserColumns+` FROM appusers WHERE username = $1`, username,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find appuser by username: %w", err)
	}
	return appuser, nil
}

// ExistsByUsername はusernameが使用済みかどうかを返す。
func (r *PostgresAppuserRepo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM appusers WHERE username = $1)`, username,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}
	return exists, nil
}

// Create は利用者を作成する。
func (r *PostgresAppuserRepo) Create(ctx context.Context, appuser *model.Appuser) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO appusers (id, username, password_hash, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		appuser.ID, appuser.Username, appuser.PasswordHash,
		pq.Array(appuser.Scopes.Strings()), appuser.CreatedAt, appuser.UpdatedAt,
	)
	if database.IsUniqueViolation(err, usernameConstraint) {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("failed to insert appuser: %w", err)
	}
	return nil
}

// Update はusername、パスワードハッシュ、スコープを更新する。
func (r *PostgresAppuserRepo) Update(ctx context.Context, appuser *model.Appuser) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE appusers
		 SET username = $2, password_hash = $3, scopes = $4, updated_at = $5
		 WHERE id = $1`,
		appuser.ID, appuser.Username, appuser.PasswordHash,
		pq.Array(appuser.Scopes.Strings()), appuser.UpdatedAt,
	)
	if database.IsUniqueViolation(err, usernameConstraint) {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("failed to update appuser: %w", err)
	}
	return requireAffected(result)
}

// DeleteByID は指定IDの利用者を削除する。
// 所有メモの削除はアウトボックス経由で非同期に行われる。
func (r *PostgresAppuserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM appusers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete appuser: %w", err)
	}
	return requireAffected(result)
}

// List は作成日時の昇順で利用者一覧を返す。
func (r *PostgresAppuserRepo) List(ctx context.Context, offset, limit int) ([]*model.Appuser, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+appuserColumns+` FROM appusers
		 ORDER BY created_at, id
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list appusers: %w", err)
	}
	defer rows.Close()

	var appusers []*model.Appuser
	for rows.Next() {
		appuser, err := scanAppuser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan appuser: %w", err)
		}
		appusers = append(appusers, appuser)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate appusers: %w", err)
	}
	return appusers, nil
}

// Count は利用者の総数を返す。
func (r *PostgresAppuserRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM appusers`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count appusers: %w", err)
	}
	return count, nil
}

// requireAffected は更新件数が0の場合にErrNotFoundを返す。
func requireAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// compile-time interface check
var _ AppuserRepository = (*PostgresAppuserRepo)(nil)
