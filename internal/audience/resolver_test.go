package audience

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertreminder/internal/model"
)

type fakeUsers struct {
	users []model.User
	calls []string
	err   error
}

func (f *fakeUsers) ListAll(ctx context.Context) ([]model.User, error) {
	f.calls = append(f.calls, "all")
	return f.users, f.err
}

func (f *fakeUsers) ListByTeams(ctx context.Context, teamIDs []int64) ([]model.User, error) {
	f.calls = append(f.calls, "teams")
	var out []model.User
	for _, u := range f.users {
		if u.InTeam(teamIDs) {
			out = append(out, u)
		}
	}
	return out, f.err
}

func (f *fakeUsers) ListByIDs(ctx context.Context, ids []int64) ([]model.User, error) {
	f.calls = append(f.calls, "ids")
	var out []model.User
	for _, u := range f.users {
		for _, id := range ids {
			if u.ID == id {
				out = append(out, u)
			}
		}
	}
	return out, f.err
}

func int64p(v int64) *int64 { return &v }

func fixture() *fakeUsers {
	return &fakeUsers{users: []model.User{
		{ID: 1, Username: "alice", TeamID: int64p(10)},
		{ID: 2, Username: "bob", TeamID: int64p(20)},
		{ID: 3, Username: "carol"},
	}}
}

func ids(users []model.User) []int64 {
	out := make([]int64, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}

func TestResolve_OrgIgnoresTargets(t *testing.T) {
	store := fixture()
	r := NewResolver(store)

	got, err := r.Resolve(context.Background(), &model.Alert{
		Visibility:  model.VisibilityOrg,
		TargetTeams: []int64{10},
		TargetUsers: []int64{2},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3}, ids(got))
}

func TestResolve_TeamWithoutTargetsIsEmpty(t *testing.T) {
	store := fixture()
	r := NewResolver(store)

	got, err := r.Resolve(context.Background(), &model.Alert{Visibility: model.VisibilityTeam})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, store.calls, "no query for empty target teams")
}

func TestResolve_Team(t *testing.T) {
	r := NewResolver(fixture())

	got, err := r.Resolve(context.Background(), &model.Alert{
		Visibility:  model.VisibilityTeam,
		TargetTeams: []int64{20},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(got))
}

func TestResolve_UserIgnoresTeams(t *testing.T) {
	r := NewResolver(fixture())

	got, err := r.Resolve(context.Background(), &model.Alert{
		Visibility:  model.VisibilityUser,
		TargetTeams: []int64{10},
		TargetUsers: []int64{2, 3},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{2, 3}, ids(got))
}

func TestResolve_UnknownVisibility(t *testing.T) {
	store := fixture()
	r := NewResolver(store)

	got, err := r.Resolve(context.Background(), &model.Alert{Visibility: "galaxy"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, store.calls)
}

func TestResolve_StoreError(t *testing.T) {
	store := fixture()
	store.err = errors.New("db down")
	r := NewResolver(store)

	_, err := r.Resolve(context.Background(), &model.Alert{ID: 9, Visibility: model.VisibilityOrg})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.err)
}

func TestCanSee(t *testing.T) {
	alice := model.User{ID: 1, TeamID: int64p(10)}
	carol := model.User{ID: 3}

	assert.True(t, CanSee(&model.Alert{Visibility: model.VisibilityOrg}, &carol))
	assert.True(t, CanSee(&model.Alert{Visibility: model.VisibilityTeam, TargetTeams: []int64{10}}, &alice))
	assert.False(t, CanSee(&model.Alert{Visibility: model.VisibilityTeam, TargetTeams: []int64{10}}, &carol))
	assert.True(t, CanSee(&model.Alert{Visibility: model.VisibilityUser, TargetUsers: []int64{3}}, &carol))
	assert.False(t, CanSee(&model.Alert{Visibility: model.VisibilityUser, TargetUsers: []int64{3}}, &alice))
	assert.False(t, CanSee(&model.Alert{Visibility: "nope"}, &alice))
}
