package note

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/notekeeper/internal/model"
	"github.com/hitoshi/notekeeper/internal/repository"
	"github.com/hitoshi/notekeeper/internal/repository/memory"
)

var (
	alice = model.Principal{ID: "alice-id", Username: "alice", Scopes: model.NewScopeSet(model.ScopeApplication)}
	bob   = model.Principal{ID: "bob-id", Username: "bobby", Scopes: model.NewScopeSet(model.ScopeApplication)}
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := NewService(store.Notes(), NewSanitizer())

	tick := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return svc, store
}

func TestService_CreateAndList(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, alice, "最初のメモ", "<p>本文</p><script>x</script>")
	require.NoError(t, err)
	second, err := svc.Create(ctx, alice, "二つ目", "")
	require.NoError(t, err)
	_, err = svc.Create(ctx, bob, "bobのメモ", "")
	require.NoError(t, err)

	assert.Equal(t, alice.ID, first.OwnerID)
	assert.Equal(t, "<p>本文</p>", first.Content)

	notes, err := svc.List(ctx, alice)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, second.ID, notes[0].ID)
	assert.Equal(t, first.ID, notes[1].ID)
}

func TestService_Create_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		title   string
		content string
	}{
		{"空のタイトル", "   ", "本文"},
		{"タグのみのタイトル", "<script>x</script>", "本文"},
		{"長すぎるタイトル", strings.Repeat("あ", maxTitleLength+1), ""},
		{"長すぎる本文", "タイトル", strings.Repeat("a", maxContentLength+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, alice, tt.title, tt.content)
			assert.True(t, model.HasCode(err, model.ErrCodeValidation), "got %v", err)
		})
	}
}

// TestService_OtherOwnersNoteIsNotFound は他人のメモが存在しないものとして扱われることを検証する。
func TestService_OtherOwnersNoteIsNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	n, err := svc.Create(ctx, alice, "秘密のメモ", "")
	require.NoError(t, err)

	_, err = svc.Get(ctx, bob, n.ID)
	assert.True(t, model.HasCode(err, model.ErrCodeNoteNotFound), "got %v", err)

	err = svc.Delete(ctx, bob, n.ID)
	assert.True(t, model.HasCode(err, model.ErrCodeNoteNotFound), "got %v", err)

	got, err := svc.Get(ctx, alice, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "秘密のメモ", got.Title)
}

func TestService_Delete(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	n, err := svc.Create(ctx, alice, "消すメモ", "")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, alice, n.ID))

	_, err = svc.Get(ctx, alice, n.ID)
	assert.True(t, model.HasCode(err, model.ErrCodeNoteNotFound))
	err = svc.Delete(ctx, alice, n.ID)
	assert.True(t, model.HasCode(err, model.ErrCodeNoteNotFound))
}

// UUID形式でないidはストアに問い合わせずNotFoundになる。
func TestService_MalformedIDIsNotFound(t *testing.T) {
	svc := NewService(&failingNoteRepo{err: errors.New("pq: invalid input syntax for type uuid")}, NewSanitizer())
	ctx := context.Background()

	for _, id := range []string{"abc", "", "1; DROP TABLE notes"} {
		_, err := svc.Get(ctx, alice, id)
		assert.True(t, model.HasCode(err, model.ErrCodeNoteNotFound), "Get(%q): %v", id, err)

		err = svc.Delete(ctx, alice, id)
		assert.True(t, model.HasCode(err, model.ErrCodeNoteNotFound), "Delete(%q): %v", id, err)
	}
}

type failingNoteRepo struct {
	repository.NoteRepository
	err error
}

func (r *failingNoteRepo) FindByID(ctx context.Context, id string) (*model.Note, error) {
	return nil, r.err
}

func TestService_Get_StoreError(t *testing.T) {
	svc := NewService(&failingNoteRepo{err: errors.New("connection refused")}, NewSanitizer())

	_, err := svc.Get(context.Background(), alice, "5b0d2f8e-4c1a-4f7e-9a57-2d3c1e6b8f90")
	require.Error(t, err)
	var apiErr *model.APIError
	assert.False(t, errors.As(err, &apiErr), "store failures must not be reported as domain errors")
}
