package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"alertreminder/pkg/db"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("not found")

// rowScanner pgx.Row 与 pgx.Rows 的公共部分
type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Transactor 对 db.WithTx 的包装，供 delivery / reminder / service 使用
type Transactor struct {
	pool db.Beginner
}

func NewTransactor(pool db.Beginner) *Transactor {
	return &Transactor{pool: pool}
}

func (t *Transactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, t.pool, fn)
}
