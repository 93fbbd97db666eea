// Package audience 根据 alert 的可见范围计算应当看到它的用户。
package audience

import (
	"context"
	"fmt"

	"alertreminder/internal/model"
)

// UserStore 用户 / 团队查询，由 repository.UserRepository 实现
type UserStore interface {
	ListAll(ctx context.Context) ([]model.User, error)
	ListByTeams(ctx context.Context, teamIDs []int64) ([]model.User, error)
	ListByIDs(ctx context.Context, ids []int64) ([]model.User, error)
}

type Resolver struct {
	users UserStore
}

func NewResolver(users UserStore) *Resolver {
	return &Resolver{users: users}
}

// Resolve 没有副作用。未知的 visibility 返回空集合而不是错误。
func (r *Resolver) Resolve(ctx context.Context, alert *model.Alert) ([]model.User, error) {
	var (
		users []model.User
		err   error
	)

	switch alert.Visibility {
	case model.VisibilityOrg:
		users, err = r.users.ListAll(ctx)
	case model.VisibilityTeam:
		if len(alert.TargetTeams) == 0 {
			return nil, nil
		}
		users, err = r.users.ListByTeams(ctx, alert.TargetTeams)
	case model.VisibilityUser:
		if len(alert.TargetUsers) == 0 {
			return nil, nil
		}
		users, err = r.users.ListByIDs(ctx, alert.TargetUsers)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve audience for alert %d: %w", alert.ID, err)
	}
	return users, nil
}

// CanSee 与 Resolve 相同的规则，针对单个用户
func CanSee(alert *model.Alert, user *model.User) bool {
	switch alert.Visibility {
	case model.VisibilityOrg:
		return true
	case model.VisibilityTeam:
		return user.InTeam(alert.TargetTeams)
	case model.VisibilityUser:
		for _, id := range alert.TargetUsers {
			if id == user.ID {
				return true
			}
		}
		return false
	default:
		return false
	}
}
