package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"billfold/internal/amqp"
	"billfold/internal/core"
	"billfold/internal/storage"
)

type fakeLedger struct {
	rows    []core.Transaction
	failing bool
}

func (f *fakeLedger) Append(ctx context.Context, tx core.Transaction) (string, error) {
	if f.failing {
		return "", errors.New("sheets unavailable")
	}
	f.rows = append(f.rows, tx)
	return fmt.Sprintf("Ledger!A%d", len(f.rows)), nil
}

func newWorkerEnv(t *testing.T) (*ExportWorker, *storage.SQLiteRepository, *fakeLedger) {
	t.Helper()

	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "billfold_test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ledger := &fakeLedger{}
	return NewExportWorker(repo, ledger, 10), repo, ledger
}

func insertTransaction(t *testing.T, repo *storage.SQLiteRepository) int64 {
	t.Helper()

	id, err := repo.InsertTransaction(context.Background(), core.Transaction{
		OwnerID:     "user_1",
		Description: "Internet",
		Amount:      core.Money{Cents: 2999},
		Direction:   core.Expense,
		Category:    "utilities",
		Kind:        core.FixedExpense,
		Date:        core.NewDate(2026, 1, 31),
	}, 0, "")
	if err != nil {
		t.Fatalf("InsertTransaction() error = %v", err)
	}
	return id
}

func TestHandleSyncMessage(t *testing.T) {
	w, repo, ledger := newWorkerEnv(t)
	ctx := context.Background()

	id := insertTransaction(t, repo)

	msg := amqp.NewTransactionSyncMessage(id, "user_1")
	if err := w.HandleSyncMessage(ctx, msg); err != nil {
		t.Fatalf("HandleSyncMessage() error = %v", err)
	}

	if len(ledger.rows) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(ledger.rows))
	}
	if ledger.rows[0].Description != "Internet" {
		t.Errorf("exported description = %q, want Internet", ledger.rows[0].Description)
	}

	pending, err := repo.GetPendingExportTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingExportTransactions() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after export = %d, want 0", len(pending))
	}
}

func TestHandleSyncMessage_MissingTransaction(t *testing.T) {
	w, _, _ := newWorkerEnv(t)

	msg := amqp.NewTransactionSyncMessage(9999, "user_1")
	if err := w.HandleSyncMessage(context.Background(), msg); err == nil {
		t.Error("HandleSyncMessage() error = nil, want error for missing transaction")
	}
}

func TestHandleSyncMessage_LedgerFailureMarksError(t *testing.T) {
	w, repo, ledger := newWorkerEnv(t)
	ctx := context.Background()

	id := insertTransaction(t, repo)
	ledger.failing = true

	if err := w.HandleSyncMessage(ctx, amqp.NewTransactionSyncMessage(id, "user_1")); err == nil {
		t.Fatal("HandleSyncMessage() error = nil, want append failure")
	}

	// The row left the pending queue; failed exports are not retried blindly.
	pending, err := repo.GetPendingExportTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingExportTransactions() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after failed export = %d, want 0 (marked as error)", len(pending))
	}
}

func TestStartupSyncCheck(t *testing.T) {
	w, repo, ledger := newWorkerEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		insertTransaction(t, repo)
	}

	if err := w.StartupSyncCheck(ctx); err != nil {
		t.Fatalf("StartupSyncCheck() error = %v", err)
	}

	if len(ledger.rows) != 3 {
		t.Errorf("ledger rows = %d, want 3", len(ledger.rows))
	}

	pending, _ := repo.GetPendingExportTransactions(ctx, 10)
	if len(pending) != 0 {
		t.Errorf("pending after startup check = %d, want 0", len(pending))
	}
}

func TestProcessPending_Empty(t *testing.T) {
	w, _, ledger := newWorkerEnv(t)

	if err := w.ProcessPending(context.Background()); err != nil {
		t.Fatalf("ProcessPending() error = %v", err)
	}
	if len(ledger.rows) != 0 {
		t.Errorf("ledger rows = %d, want 0", len(ledger.rows))
	}
}
