package memory

import (
	"context"
	"sort"
	"time"

	"github.com/hitoshi/notekeeper/internal/model"
	"github.com/hitoshi/notekeeper/internal/repository"
)

type publicationRepo struct {
	v view
}

func (r *publicationRepo) Append(_ context.Context, pub *model.EventPublication) error {
	r.v.do(func(st *state, _ time.Time) {
		st.pubs[pub.ID] = copyPublication(pub)
	})
	return nil
}

func (r *publicationRepo) FindByID(_ context.Context, id string) (*model.EventPublication, error) {
	var found *model.EventPublication
	r.v.do(func(st *state, _ time.Time) {
		if p, ok := st.pubs[id]; ok {
			found = copyPublication(p)
		}
	})
	return found, nil
}

func (r *publicationRepo) MarkComplete(_ context.Context, id string, completedAt time.Time) error {
	r.v.do(func(st *state, _ time.Time) {
		p, ok := st.pubs[id]
		if !ok || p.CompletedAt != nil {
			return
		}
		t := completedAt
		p.CompletedAt = &t
		p.NextAttemptAt = nil
	})
	return nil
}

func (r *publicationRepo) ListIncompleteOlderThan(_ context.Context, olderThan time.Duration, limit int) ([]*model.EventPublication, error) {
	var out []*model.EventPublication
	r.v.do(func(st *state, now time.Time) {
		cutoff := now.Add(-olderThan)
		for _, p := range st.pubs {
			if p.CompletedAt != nil || p.CreatedAt.After(cutoff) {
				continue
			}
			if p.NextAttemptAt != nil && p.NextAttemptAt.After(now) {
				continue
			}
			out = append(out, copyPublication(p))
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *publicationRepo) DeleteCompletedOlderThan(_ context.Context, olderThan time.Duration) (int64, error) {
	var deleted int64
	r.v.do(func(st *state, now time.Time) {
		cutoff := now.Add(-olderThan)
		for id, p := range st.pubs {
			if p.CompletedAt == nil || !p.CompletedAt.Before(cutoff) {
				continue
			}
			delete(st.pubs, id)
			deleted++
		}
	})
	return deleted, nil
}

func (r *publicationRepo) RecordFailure(_ context.Context, id, errMsg string, nextAttemptAt time.Time) error {
	r.v.do(func(st *state, _ time.Time) {
		p, ok := st.pubs[id]
		if !ok || p.CompletedAt != nil {
			return
		}
		p.Attempts++
		p.LastError = errMsg
		t := nextAttemptAt
		p.NextAttemptAt = &t
	})
	return nil
}

var (
	_ repository.EventPublicationRepository = (*publicationRepo)(nil)
	_ repository.EventAppender              = (*publicationRepo)(nil)
)
