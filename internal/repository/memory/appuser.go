package memory

import (
	"context"
	"sort"
	"time"

	"github.com/hitoshi/notekeeper/internal/model"
	"github.com/hitoshi/notekeeper/internal/repository"
)

type appuserRepo struct {
	v view
}

func (r *appuserRepo) FindByID(_ context.Context, id string) (*model.Appuser, error) {
	var found *model.Appuser
	r.v.do(func(st *state, _ time.Time) {
		if a, ok := st.appusers[id]; ok {
			found = copyAppuser(a)
		}
	})
	return found, nil
}

func (r *appuserRepo) FindByUsername(_ context.Context, username string) (*model.Appuser, error) {
	var found *model.Appuser
	r.v.do(func(st *state, _ time.Time) {
		if a := findByUsername(st, username); a != nil {
			found = copyAppuser(a)
		}
	})
	return found, nil
}

func (r *appuserRepo) ExistsByUsername(_ context.Context, username string) (bool, error) {
	var exists bool
	r.v.do(func(st *state, _ time.Time) {
		exists = findByUsername(st, username) != nil
	})
	return exists, nil
}

func (r *appuserRepo) Create(_ context.Context, appuser *model.Appuser) error {
	var err error
	r.v.do(func(st *state, _ time.Time) {
		if findByUsername(st, appuser.Username) != nil {
			err = repository.ErrUsernameTaken
			return
		}
		st.appusers[appuser.ID] = copyAppuser(appuser)
	})
	return err
}

func (r *appuserRepo) Update(_ context.Context, appuser *model.Appuser) error {
	var err error
	r.v.do(func(st *state, _ time.Time) {
		if _, ok := st.appusers[appuser.ID]; !ok {
			err = repository.ErrNotFound
			return
		}
		if other := findByUsername(st, appuser.Username); other != nil && other.ID != appuser.ID {
			err = repository.ErrUsernameTaken
			return
		}
		st.appusers[appuser.ID] = copyAppuser(appuser)
	})
	return err
}

func (r *appuserRepo) DeleteByID(_ context.Context, id string) error {
	var err error
	r.v.do(func(st *state, _ time.Time) {
		if _, ok := st.appusers[id]; !ok {
			err = repository.ErrNotFound
			return
		}
		delete(st.appusers, id)
	})
	return err
}

func (r *appuserRepo) List(_ context.Context, offset, limit int) ([]*model.Appuser, error) {
	var out []*model.Appuser
	r.v.do(func(st *state, _ time.Time) {
		all := make([]*model.Appuser, 0, len(st.appusers))
		for _, a := range st.appusers {
			all = append(all, a)
		}
		sort.Slice(all, func(i, j int) bool {
			if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
				return all[i].CreatedAt.Before(all[j].CreatedAt)
			}
			return all[i].ID < all[j].ID
		})
		for i := offset; i < len(all) && len(out) < limit; i++ {
			out = append(out, copyAppuser(all[i]))
		}
	})
	return out, nil
}

func (r *appuserRepo) Count(_ context.Context) (int, error) {
	var n int
	r.v.do(func(st *state, _ time.Time) { n = len(st.appusers) })
	return n, nil
}

func findByUsername(st *state, username string) *model.Appuser {
	for _, a := range st.appusers {
		if a.Username == username {
			return a
		}
	}
	return nil
}

var _ repository.AppuserRepository = (*appuserRepo)(nil)
