// Package note は利用者が所有するメモの管理と、
// 所有者の退会時に発行されるイベントによるカスケード削除を提供する。
package note

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/notekeeper/internal/model"
	"github.com/hitoshi/notekeeper/internal/repository"
)

const (
	maxTitleLength   = 200
	maxContentLength = 20000
)

// Service はメモ管理のサービス層。
// 他人のメモは存在しないものとして扱い、NOTE_NOT_FOUNDを返す。
type Service struct {
	notes     repository.NoteRepository
	sanitizer Sanitizer
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(notes repository.NoteRepository, sanitizer Sanitizer) *Service {
	return &Service{
		notes:     notes,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// Create はPrincipalを所有者としてメモを作成する。
func (s *Service) Create(ctx context.Context, p model.Principal, title, content string) (*model.Note, error) {
	title = strings.TrimSpace(s.sanitizer.SanitizeTitle(title))
	content = s.sanitizer.SanitizeContent(content)

	if title == "" {
		return nil, model.NewValidationError("タイトルは必須です")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, model.NewValidationError(fmt.Sprintf("タイトルは%d文字以内で指定してください", maxTitleLength))
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return nil, model.NewValidationError(fmt.Sprintf("本文は%d文字以内で指定してください", maxContentLength))
	}

	now := s.now()
	n := &model.Note{
		ID:        uuid.New().String(),
		OwnerID:   p.ID,
		Title:     title,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.notes.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("メモの作成に失敗しました: %w", err)
	}
	return n, nil
}

// List はPrincipalが所有するメモを新しい順に返す。
func (s *Service) List(ctx context.Context, p model.Principal) ([]*model.Note, error) {
	notes, err := s.notes.ListByOwner(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("メモ一覧の取得に失敗しました: %w", err)
	}
	return notes, nil
}

// Get はPrincipalが所有するメモを1件返す。
func (s *Service) Get(ctx context.Context, p model.Principal, id string) (*model.Note, error) {
	if !isNoteID(id) {
		return nil, model.NewNoteNotFoundError(id)
	}
	n, err := s.notes.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("メモの取得に失敗しました: %w", err)
	}
	if n == nil || n.OwnerID != p.ID {
		return nil, model.NewNoteNotFoundError(id)
	}
	return n, nil
}

// Delete はPrincipalが所有するメモを削除する。
func (s *Service) Delete(ctx context.Context, p model.Principal, id string) error {
	if !isNoteID(id) {
		return model.NewNoteNotFoundError(id)
	}
	err := s.notes.Delete(ctx, id, p.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewNoteNotFoundError(id)
	}
	if err != nil {
		return fmt.Errorf("メモの削除に失敗しました: %w", err)
	}
	return nil
}

// isNoteID はidがUUID形式かどうかを返す。
// notes.idはUUID列のため、それ以外の値は問い合わせずに存在しないものとして扱う。
func isNoteID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
