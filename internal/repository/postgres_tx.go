package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresTxManager は*sql.DBのトランザクションでリポジトリ群を束ねる。
type PostgresTxManager struct {
	db *sql.DB
}

// NewPostgresTxManager はPostgresTxManagerを生成する。
func NewPostgresTxManager(db *sql.DB) *PostgresTxManager {
	return &PostgresTxManager{db: db}
}

// WithinTx はトランザクション内でfnを実行する。
// fnが成功した場合のみコミットする。
func (m *PostgresTxManager) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&postgresTx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) Appusers() AppuserRepository { return NewPostgresAppuserRepo(t.tx) }
func (t *postgresTx) Notes() NoteRepository       { return NewPostgresNoteRepo(t.tx) }
func (t *postgresTx) Outbox() EventAppender       { return NewPostgresEventPublicationRepo(t.tx) }

// compile-time interface check
var _ TxManager = (*PostgresTxManager)(nil)
