// Package memory はrepositoryパッケージのインターフェースをメモリ上で実装する。
// テストおよびデータベースなしでのローカル実行に使用する。
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/notekeeper/internal/model"
	"github.com/hitoshi/notekeeper/internal/repository"
)

type state struct {
	appusers map[string]*model.Appuser
	notes    map[string]*model.Note
	pubs     map[string]*model.EventPublication
}

func newState() *state {
	return &state{
		appusers: make(map[string]*model.Appuser),
		notes:    make(map[string]*model.Note),
		pubs:     make(map[string]*model.EventPublication),
	}
}

func (s *state) clone() *state {
	c := newState()
	for id, a := range s.appusers {
		c.appusers[id] = copyAppuser(a)
	}
	for id, n := range s.notes {
		c.notes[id] = copyNote(n)
	}
	for id, p := range s.pubs {
		c.pubs[id] = copyPublication(p)
	}
	return c
}

// Store はミューテックスで保護されたインメモリストア。
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

// New は空のStoreを生成する。
func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// SetClock は経過時間の計算に使う時計を差し替える。
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Appusers はトランザクション外で使う資格情報リポジトリを返す。
func (s *Store) Appusers() repository.AppuserRepository { return &appuserRepo{v: view{s: s}} }

// Notes はトランザクション外で使うメモリポジトリを返す。
func (s *Store) Notes() repository.NoteRepository { return &noteRepo{v: view{s: s}} }

// Publications はアウトボックスの配信管理リポジトリを返す。
func (s *Store) Publications() repository.EventPublicationRepository {
	return &publicationRepo{v: view{s: s}}
}

// WithinTx は現在の状態の複製に対してfnを実行し、成功時のみ差し替える。
// 実行中はストア全体をロックするため、fnの中ではtx経由のリポジトリのみを使うこと。
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	staged := s.st.clone()
	if err := fn(&memoryTx{v: view{s: s, tx: staged}}); err != nil {
		return err
	}
	s.st = staged
	return nil
}

type memoryTx struct {
	v view
}

func (t *memoryTx) Appusers() repository.AppuserRepository { return &appuserRepo{v: t.v} }
func (t *memoryTx) Notes() repository.NoteRepository       { return &noteRepo{v: t.v} }
func (t *memoryTx) Outbox() repository.EventAppender       { return &publicationRepo{v: t.v} }

// view はトランザクション内外のどちらの状態を操作するかを表す。
// txがnilの場合はストアをロックして本体の状態を操作する。
type view struct {
	s  *Store
	tx *state
}

func (v view) do(fn func(st *state, now time.Time)) {
	if v.tx != nil {
		// WithinTxがロックを保持している
		fn(v.tx, v.s.now())
		return
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	fn(v.s.st, v.s.now())
}

func copyAppuser(a *model.Appuser) *model.Appuser {
	c := *a
	c.Scopes = a.Scopes.Clone()
	return &c
}

func copyNote(n *model.Note) *model.Note {
	c := *n
	return &c
}

func copyPublication(p *model.EventPublication) *model.EventPublication {
	c := *p
	c.Payload = append([]byte(nil), p.Payload...)
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	if p.NextAttemptAt != nil {
		t := *p.NextAttemptAt
		c.NextAttemptAt = &t
	}
	return &c
}

// compile-time interface check
var _ repository.TxManager = (*Store)(nil)
