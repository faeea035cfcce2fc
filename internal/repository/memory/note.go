package memory

import (
	"context"
	"sort"
	"time"

	"github.com/hitoshi/notekeeper/internal/model"
	"github.com/hitoshi/notekeeper/internal/repository"
)

type noteRepo struct {
	v view
}

func (r *noteRepo) Create(_ context.Context, note *model.Note) error {
	r.v.do(func(st *state, _ time.Time) {
		st.notes[note.ID] = copyNote(note)
	})
	return nil
}

func (r *noteRepo) FindByID(_ context.Context, id string) (*model.Note, error) {
	var found *model.Note
	r.v.do(func(st *state, _ time.Time) {
		if n, ok := st.notes[id]; ok {
			found = copyNote(n)
		}
	})
	return found, nil
}

func (r *noteRepo) ListByOwner(_ context.Context, ownerID string) ([]*model.Note, error) {
	var out []*model.Note
	r.v.do(func(st *state, _ time.Time) {
		for _, n := range st.notes {
			if n.OwnerID == ownerID {
				out = append(out, copyNote(n))
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *noteRepo) Delete(_ context.Context, id, ownerID string) error {
	var err error
	r.v.do(func(st *state, _ time.Time) {
		n, ok := st.notes[id]
		if !ok || n.OwnerID != ownerID {
			err = repository.ErrNotFound
			return
		}
		delete(st.notes, id)
	})
	return err
}

func (r *noteRepo) DeleteByOwner(_ context.Context, ownerID string) (int64, error) {
	var deleted int64
	r.v.do(func(st *state, _ time.Time) {
		for id, n := range st.notes {
			if n.OwnerID == ownerID {
				delete(st.notes, id)
				deleted++
			}
		}
	})
	return deleted, nil
}

var _ repository.NoteRepository = (*noteRepo)(nil)
