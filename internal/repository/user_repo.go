package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"alertreminder/internal/model"
	"alertreminder/pkg/db"
)

const userColumns = `id, username, email, phone, team_id, is_staff`

// UserRepository 只读访问身份库中的用户和团队（seed 命令除外）
type UserRepository struct {
	db     db.DBTX
	logger *zap.Logger
}

func NewUserRepository(conn db.DBTX, logger *zap.Logger) *UserRepository {
	return &UserRepository{db: conn, logger: logger}
}

func (r *UserRepository) ListAll(ctx context.Context) ([]model.User, error) {
	return r.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
}

func (r *UserRepository) ListByTeams(ctx context.Context, teamIDs []int64) ([]model.User, error) {
	return r.queryUsers(ctx, `SELECT `+userColumns+` FROM users WHERE team_id = ANY($1) ORDER BY id`, teamIDs)
}

func (r *UserRepository) ListByIDs(ctx context.Context, ids []int64) ([]model.User, error) {
	return r.queryUsers(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1) ORDER BY id`, ids)
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	row := db.Conn(ctx, r.db).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &u, nil
}

// UpsertTeam 按名称创建团队，已存在时返回已有 id
func (r *UserRepository) UpsertTeam(ctx context.Context, name string) (int64, error) {
	var id int64
	err := db.Conn(ctx, r.db).QueryRow(ctx, `
		INSERT INTO teams (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert team %q: %w", name, err)
	}
	return id, nil
}

// UpsertUser 按用户名创建用户；已存在的用户保持不变。返回是否新建。
func (r *UserRepository) UpsertUser(ctx context.Context, u *model.User, passwordHash string) (bool, error) {
	err := db.Conn(ctx, r.db).QueryRow(ctx, `
		INSERT INTO users (username, email, phone, team_id, is_staff, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (username) DO NOTHING
		RETURNING id
	`, u.Username, u.Email, u.Phone, u.TeamID, u.IsStaff, passwordHash).Scan(&u.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert user %q: %w", u.Username, err)
	}
	r.logger.Info("User created", zap.Int64("user_id", u.ID), zap.String("username", u.Username))
	return true, nil
}

func (r *UserRepository) queryUsers(ctx context.Context, query string, args ...any) ([]model.User, error) {
	rows, err := db.Conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(row rowScanner) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Phone, &u.TeamID, &u.IsStaff)
	return u, err
}
