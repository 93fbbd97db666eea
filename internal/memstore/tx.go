package memstore

import (
	"context"
)

// txState 一个内存事务：回滚用的 undo 列表和持有到结束的行锁
type txState struct {
	undo []func()
	held map[int64]bool
}

type txKey struct{}

func txFrom(ctx context.Context) *txState {
	tx, _ := ctx.Value(txKey{}).(*txState)
	return tx
}

// onRollback 调用方持有 s.mu
func onRollback(ctx context.Context, fn func()) {
	if tx := txFrom(ctx); tx != nil {
		tx.undo = append(tx.undo, fn)
	}
}

func (s *Store) rowLock(id int64) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.rows[id]
	if !ok {
		l = make(chan struct{}, 1)
		s.rows[id] = l
	}
	return l
}

// acquire 模拟行锁。skipLocked 对应 SKIP LOCKED，拿不到时返回 false。
// 事务内的锁持有到事务结束；事务外只在语句期间持有。
func (s *Store) acquire(ctx context.Context, id int64, skipLocked bool) (bool, error) {
	tx := txFrom(ctx)
	if tx != nil && tx.held[id] {
		return true, nil
	}

	l := s.rowLock(id)
	if skipLocked {
		select {
		case l <- struct{}{}:
		default:
			return false, nil
		}
	} else {
		select {
		case l <- struct{}{}:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	if tx == nil {
		<-l
		return true, nil
	}
	tx.held[id] = true
	return true, nil
}

// WithTx 失败时按相反顺序撤销本事务的写入，最后释放行锁。嵌套调用复用外层事务。
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	tx := &txState{held: make(map[int64]bool)}
	defer func() {
		for id := range tx.held {
			<-s.rowLock(id)
		}
	}()

	err := fn(context.WithValue(ctx, txKey{}, tx))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		s.RolledBack++
		return err
	}
	s.Committed++
	return nil
}

// Lock 模拟另一个事务锁住该行，直到 Unlock
func (s *Store) Lock(prefID int64) {
	s.rowLock(prefID) <- struct{}{}
}

func (s *Store) Unlock(prefID int64) {
	<-s.rowLock(prefID)
}
