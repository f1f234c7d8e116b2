package testhelpers

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
)

// FakeTx is a pgx.Tx for unit tests whose repositories are mocked.
// Only Commit and Rollback are implemented; any other call panics.
type FakeTx struct {
	pgx.Tx

	mu         sync.Mutex
	CommitErr  error
	committed  bool
	rolledBack bool
}

// Commit records the commit and returns CommitErr
func (t *FakeTx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.CommitErr != nil {
		return t.CommitErr
	}
	t.committed = true
	return nil
}

// Rollback records a rollback unless the transaction already committed
func (t *FakeTx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed {
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	return nil
}

// Committed reports whether Commit succeeded
func (t *FakeTx) Committed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.committed
}

// RolledBack reports whether the transaction was rolled back without committing
func (t *FakeTx) RolledBack() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rolledBack
}

// FakeTxManager hands out FakeTx values and remembers them
type FakeTxManager struct {
	mu       sync.Mutex
	BeginErr error
	// CommitErr is copied into every transaction handed out
	CommitErr error
	txs       []*FakeTx
}

// BeginTx returns a new FakeTx or BeginErr
func (m *FakeTxManager) BeginTx(ctx context.Context) (pgx.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BeginErr != nil {
		return nil, m.BeginErr
	}
	tx := &FakeTx{CommitErr: m.CommitErr}
	m.txs = append(m.txs, tx)
	return tx, nil
}

// Last returns the most recently started transaction, or nil
func (m *FakeTxManager) Last() *FakeTx {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.txs) == 0 {
		return nil
	}
	return m.txs[len(m.txs)-1]
}

// Count returns how many transactions were started
func (m *FakeTxManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs)
}
