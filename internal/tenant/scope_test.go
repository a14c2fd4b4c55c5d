package tenant

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeTx struct {
	pgx.Tx

	mu         sync.Mutex
	statements []string
	args       [][]any
	execErr    error
	commitErr  error
	committed  bool
	rolledBack bool
}

func (tx *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.statements = append(tx.statements, sql)
	tx.args = append(tx.args, args)
	if tx.execErr != nil {
		return pgconn.CommandTag{}, tx.execErr
	}
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func (tx *fakeTx) Commit(context.Context) error {
	if tx.commitErr != nil {
		return tx.commitErr
	}
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	if !tx.committed {
		tx.rolledBack = true
	}
	return nil
}

func (tx *fakeTx) boundTenant() string {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for i, stmt := range tx.statements {
		if stmt == bindTenantSQL && len(tx.args[i]) == 1 {
			return tx.args[i][0].(string)
		}
	}
	return ""
}

type fakeBeginner struct {
	mu      sync.Mutex
	txs     []*fakeTx
	execErr error
	err     error
}

func (b *fakeBeginner) Begin(context.Context) (pgx.Tx, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	tx := &fakeTx{execErr: b.execErr}
	b.txs = append(b.txs, tx)
	return tx, nil
}

func TestTenantScopeBindsBeforeWork(t *testing.T) {
	db := &fakeBeginner{}
	gate := NewGate(db)
	tenantID := uuid.New()

	err := gate.Tenant(context.Background(), tenantID, func(tx pgx.Tx) error {
		ftx := tx.(*fakeTx)
		if len(ftx.statements) != 1 || ftx.statements[0] != bindTenantSQL {
			t.Fatalf("binding must be the first statement, got %v", ftx.statements)
		}
		_, err := tx.Exec(context.Background(), "SELECT 1 FROM farms")
		return err
	})
	if err != nil {
		t.Fatalf("tenant scope: %v", err)
	}

	tx := db.txs[0]
	if tx.boundTenant() != tenantID.String() {
		t.Fatalf("bound %q, want %q", tx.boundTenant(), tenantID)
	}
	if !tx.committed || tx.rolledBack {
		t.Fatalf("expected commit, got committed=%v rolledBack=%v", tx.committed, tx.rolledBack)
	}
}

func TestBypassScopeNeverBindsTenant(t *testing.T) {
	db := &fakeBeginner{}
	gate := NewGate(db)

	if err := gate.Bypass(context.Background(), func(pgx.Tx) error { return nil }); err != nil {
		t.Fatalf("bypass scope: %v", err)
	}
	tx := db.txs[0]
	if len(tx.statements) != 1 || tx.statements[0] != bindBypassSQL {
		t.Fatalf("unexpected statements %v", tx.statements)
	}
	if tx.boundTenant() != "" {
		t.Fatalf("bypass scope bound a tenant")
	}
}

func TestScopeRollsBackOnWorkError(t *testing.T) {
	db := &fakeBeginner{}
	gate := NewGate(db)
	want := errors.New("work failed")

	err := gate.Tenant(context.Background(), uuid.New(), func(pgx.Tx) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("expected work error, got %v", err)
	}
	if tx := db.txs[0]; tx.committed || !tx.rolledBack {
		t.Fatalf("expected rollback only")
	}
}

func TestBindFailureAbortsWithoutRunningWork(t *testing.T) {
	db := &fakeBeginner{execErr: errors.New("permission denied to set parameter")}
	gate := NewGate(db)
	ran := false

	err := gate.Tenant(context.Background(), uuid.New(), func(pgx.Tx) error {
		ran = true
		return nil
	})
	if err == nil {
		t.Fatalf("expected bind failure")
	}
	if ran {
		t.Fatalf("work ran without isolation bound")
	}
	if tx := db.txs[0]; !tx.rolledBack || tx.committed {
		t.Fatalf("expected rollback after bind failure")
	}
}

func TestTenantScopeRejectsNilTenant(t *testing.T) {
	db := &fakeBeginner{}
	gate := NewGate(db)

	err := gate.Tenant(context.Background(), uuid.Nil, func(pgx.Tx) error { return nil })
	if !errors.Is(err, ErrNoTenant) {
		t.Fatalf("expected ErrNoTenant, got %v", err)
	}
	if len(db.txs) != 0 {
		t.Fatalf("no transaction should be opened")
	}
}

func TestConcurrentScopesUseIndependentTransactions(t *testing.T) {
	db := &fakeBeginner{}
	gate := NewGate(db)

	const n = 16
	ids := make([]uuid.UUID, n)
	seen := make([]string, n)
	var wg sync.WaitGroup
	for i := range ids {
		ids[i] = uuid.New()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := gate.Tenant(context.Background(), ids[i], func(tx pgx.Tx) error {
				seen[i] = tx.(*fakeTx).boundTenant()
				return nil
			})
			if err != nil {
				t.Errorf("scope %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if len(db.txs) != n {
		t.Fatalf("expected %d transactions, got %d", n, len(db.txs))
	}
	for i := range ids {
		if seen[i] != ids[i].String() {
			t.Fatalf("scope %d observed tenant %q, want %q", i, seen[i], ids[i])
		}
	}
}

func TestInTenantReturnsValue(t *testing.T) {
	gate := NewGate(&fakeBeginner{})

	got, err := InTenant(context.Background(), gate, uuid.New(), func(pgx.Tx) (int, error) { return 42, nil })
	if err != nil || got != 42 {
		t.Fatalf("got %d, %v", got, err)
	}

	got, err = InBypass(context.Background(), gate, func(pgx.Tx) (int, error) { return 7, errors.New("nope") })
	if err == nil || got != 0 {
		t.Fatalf("expected zero value with error, got %d, %v", got, err)
	}
}

func TestCommitFailureSurfaces(t *testing.T) {
	db := &fakeBeginner{}
	gate := NewGate(db)
	commitErr := errors.New("serialization failure")

	err := gate.Bypass(context.Background(), func(tx pgx.Tx) error {
		tx.(*fakeTx).commitErr = commitErr
		return nil
	})
	if !errors.Is(err, commitErr) {
		t.Fatalf("expected commit error, got %v", err)
	}
}
