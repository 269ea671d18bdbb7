package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"billfold/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "billfold_test.db")
	repo, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testTemplate(owner string) core.RecurringTemplate {
	return core.RecurringTemplate{
		OwnerID:     owner,
		Description: "Internet",
		Amount:      core.Money{Cents: 2999},
		Direction:   core.Expense,
		Category:    "utilities",
		Kind:        core.FixedExpense,
		Frequency:   core.Monthly,
		NextDueDate: core.NewDate(2026, 1, 31),
		Active:      true,
	}
}

func TestCreateAndGetTemplate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	want := testTemplate("user_1")
	id, err := repo.CreateTemplate(ctx, want)
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}
	if id == 0 {
		t.Fatal("CreateTemplate() returned id 0")
	}

	got, err := repo.GetTemplate(ctx, "user_1", id)
	if err != nil {
		t.Fatalf("GetTemplate() error = %v", err)
	}
	if got.Description != want.Description {
		t.Errorf("Description = %q, want %q", got.Description, want.Description)
	}
	if got.Amount.Cents != want.Amount.Cents {
		t.Errorf("Amount.Cents = %d, want %d", got.Amount.Cents, want.Amount.Cents)
	}
	if got.Frequency != want.Frequency {
		t.Errorf("Frequency = %q, want %q", got.Frequency, want.Frequency)
	}
	if got.NextDueDate.String() != "2026-01-31" {
		t.Errorf("NextDueDate = %q, want 2026-01-31", got.NextDueDate.String())
	}
	if !got.Active {
		t.Error("Active = false, want true")
	}
	if !got.LastGeneratedDate.IsZero() {
		t.Errorf("LastGeneratedDate = %v, want zero", got.LastGeneratedDate)
	}
}

func TestGetTemplateOwnerScoping(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.CreateTemplate(ctx, testTemplate("user_1"))
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}

	if _, err := repo.GetTemplate(ctx, "user_2", id); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("GetTemplate() with wrong owner: error = %v, want ErrTemplateNotFound", err)
	}
}

func TestListDueTemplates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	mk := func(desc string, due core.Date, dir core.Direction, active bool) {
		tmpl := testTemplate("user_1")
		tmpl.Description = desc
		tmpl.NextDueDate = due
		tmpl.Direction = dir
		if dir == core.Income {
			tmpl.Kind = ""
		}
		tmpl.Active = active
		if _, err := repo.CreateTemplate(ctx, tmpl); err != nil {
			t.Fatalf("CreateTemplate(%s) error = %v", desc, err)
		}
	}

	mk("due soon", core.NewDate(2026, 3, 3), core.Expense, true)
	mk("due today", core.NewDate(2026, 3, 1), core.Expense, true)
	mk("overdue", core.NewDate(2026, 2, 20), core.Expense, true)
	mk("too far out", core.NewDate(2026, 3, 20), core.Expense, true)
	mk("paused", core.NewDate(2026, 3, 2), core.Expense, false)
	mk("salary", core.NewDate(2026, 3, 2), core.Income, true)

	got, err := repo.ListDueTemplates(ctx, "user_1", core.NewDate(2026, 3, 8))
	if err != nil {
		t.Fatalf("ListDueTemplates() error = %v", err)
	}

	wantOrder := []string{"overdue", "due today", "due soon"}
	if len(got) != len(wantOrder) {
		t.Fatalf("ListDueTemplates() returned %d templates, want %d", len(got), len(wantOrder))
	}
	for i, desc := range wantOrder {
		if got[i].Description != desc {
			t.Errorf("ListDueTemplates()[%d] = %q, want %q", i, got[i].Description, desc)
		}
	}
}

func TestAdvanceTemplateSchedule(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.CreateTemplate(ctx, testTemplate("user_1"))
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}

	nextDue := core.NewDate(2026, 2, 28)
	paid := core.NewDate(2026, 1, 31)
	if err := repo.AdvanceTemplateSchedule(ctx, "user_1", id, nextDue, paid); err != nil {
		t.Fatalf("AdvanceTemplateSchedule() error = %v", err)
	}

	got, err := repo.GetTemplate(ctx, "user_1", id)
	if err != nil {
		t.Fatalf("GetTemplate() error = %v", err)
	}
	if got.NextDueDate.String() != "2026-02-28" {
		t.Errorf("NextDueDate = %q, want 2026-02-28", got.NextDueDate.String())
	}
	if got.LastGeneratedDate.String() != "2026-01-31" {
		t.Errorf("LastGeneratedDate = %q, want 2026-01-31", got.LastGeneratedDate.String())
	}

	// A replayed advance to the same date is a no-op, not an error.
	if err := repo.AdvanceTemplateSchedule(ctx, "user_1", id, nextDue, paid); err != nil {
		t.Errorf("replayed AdvanceTemplateSchedule() error = %v, want nil", err)
	}

	// A stale advance cannot move the schedule backwards.
	stale := core.NewDate(2026, 2, 7)
	if err := repo.AdvanceTemplateSchedule(ctx, "user_1", id, stale, paid); err != nil {
		t.Errorf("stale AdvanceTemplateSchedule() error = %v, want nil", err)
	}
	got, _ = repo.GetTemplate(ctx, "user_1", id)
	if got.NextDueDate.String() != "2026-02-28" {
		t.Errorf("NextDueDate after stale advance = %q, want 2026-02-28", got.NextDueDate.String())
	}

	if err := repo.AdvanceTemplateSchedule(ctx, "user_1", 9999, nextDue, paid); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("AdvanceTemplateSchedule() missing template: error = %v, want ErrTemplateNotFound", err)
	}
}

func TestSetTemplateActiveAndDelete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.CreateTemplate(ctx, testTemplate("user_1"))
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}

	if err := repo.SetTemplateActive(ctx, "user_1", id, false); err != nil {
		t.Fatalf("SetTemplateActive() error = %v", err)
	}
	got, err := repo.GetTemplate(ctx, "user_1", id)
	if err != nil {
		t.Fatalf("GetTemplate() error = %v", err)
	}
	if got.Active {
		t.Error("Active = true after deactivation, want false")
	}

	if err := repo.DeleteTemplate(ctx, "user_1", id); err != nil {
		t.Fatalf("DeleteTemplate() error = %v", err)
	}
	if _, err := repo.GetTemplate(ctx, "user_1", id); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("GetTemplate() after delete: error = %v, want ErrTemplateNotFound", err)
	}
	if err := repo.DeleteTemplate(ctx, "user_1", id); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("second DeleteTemplate(): error = %v, want ErrTemplateNotFound", err)
	}
}

func testTransaction(owner string) core.Transaction {
	return core.Transaction{
		OwnerID:     owner,
		Description: "Internet",
		Amount:      core.Money{Cents: 2999},
		Direction:   core.Expense,
		Category:    "utilities",
		Kind:        core.FixedExpense,
		Date:        core.NewDate(2026, 1, 31),
		WalletID:    "main",
	}
}

func TestInsertTransactionIdempotency(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tmplID, err := repo.CreateTemplate(ctx, testTemplate("user_1"))
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}

	txID, err := repo.InsertTransaction(ctx, testTransaction("user_1"), tmplID, "key-1")
	if err != nil {
		t.Fatalf("InsertTransaction() error = %v", err)
	}

	if _, err := repo.InsertTransaction(ctx, testTransaction("user_1"), tmplID, "key-1"); !errors.Is(err, ErrDuplicateTransaction) {
		t.Errorf("duplicate InsertTransaction(): error = %v, want ErrDuplicateTransaction", err)
	}

	got, err := repo.FindTransactionByKey(ctx, "user_1", tmplID, "key-1")
	if err != nil {
		t.Fatalf("FindTransactionByKey() error = %v", err)
	}
	if got.ID != txID {
		t.Errorf("FindTransactionByKey() ID = %d, want %d", got.ID, txID)
	}
	if got.Date.String() != "2026-01-31" {
		t.Errorf("Date = %q, want 2026-01-31", got.Date.String())
	}

	// Different keys against the same template are independent entries.
	if _, err := repo.InsertTransaction(ctx, testTransaction("user_1"), tmplID, "key-2"); err != nil {
		t.Errorf("InsertTransaction() with new key: error = %v", err)
	}

	// Keyless entries never collide.
	if _, err := repo.InsertTransaction(ctx, testTransaction("user_1"), 0, ""); err != nil {
		t.Errorf("keyless InsertTransaction() #1: error = %v", err)
	}
	if _, err := repo.InsertTransaction(ctx, testTransaction("user_1"), 0, ""); err != nil {
		t.Errorf("keyless InsertTransaction() #2: error = %v", err)
	}
}

func TestListTransactions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i, day := range []int{5, 20, 12} {
		tx := testTransaction("user_1")
		tx.Date = core.NewDate(2026, 1, day)
		if _, err := repo.InsertTransaction(ctx, tx, 0, ""); err != nil {
			t.Fatalf("InsertTransaction(#%d) error = %v", i, err)
		}
	}
	if _, err := repo.InsertTransaction(ctx, testTransaction("user_2"), 0, ""); err != nil {
		t.Fatalf("InsertTransaction(user_2) error = %v", err)
	}

	got, err := repo.ListTransactions(ctx, "user_1", 10)
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ListTransactions() returned %d transactions, want 3", len(got))
	}
	if got[0].Date.String() != "2026-01-20" {
		t.Errorf("most recent transaction date = %q, want 2026-01-20", got[0].Date.String())
	}
}

func TestExportSyncLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id1, err := repo.InsertTransaction(ctx, testTransaction("user_1"), 0, "")
	if err != nil {
		t.Fatalf("InsertTransaction() error = %v", err)
	}
	id2, err := repo.InsertTransaction(ctx, testTransaction("user_1"), 0, "")
	if err != nil {
		t.Fatalf("InsertTransaction() error = %v", err)
	}

	pending, err := repo.GetPendingExportTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingExportTransactions() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending count = %d, want 2", len(pending))
	}

	if err := repo.MarkExported(ctx, id1); err != nil {
		t.Fatalf("MarkExported() error = %v", err)
	}
	if err := repo.MarkExportError(ctx, id2); err != nil {
		t.Fatalf("MarkExportError() error = %v", err)
	}

	pending, err = repo.GetPendingExportTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingExportTransactions() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending count after marking = %d, want 0", len(pending))
	}
}

func TestEntitlementUpsertAndExtend(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	if _, err := repo.GetEntitlement(ctx, "user_1"); !errors.Is(err, ErrEntitlementNotFound) {
		t.Fatalf("GetEntitlement() on empty table: error = %v, want ErrEntitlementNotFound", err)
	}

	first := core.Entitlement{
		OwnerID:          "user_1",
		Status:           core.EntitlementActive,
		PlanID:           "premium",
		CurrentPeriodEnd: base.AddDate(0, 0, 30),
		UpdatedAt:        base,
	}
	if err := repo.UpsertEntitlement(ctx, first); err != nil {
		t.Fatalf("UpsertEntitlement() error = %v", err)
	}

	got, err := repo.GetEntitlement(ctx, "user_1")
	if err != nil {
		t.Fatalf("GetEntitlement() error = %v", err)
	}
	if !got.CurrentPeriodEnd.Equal(first.CurrentPeriodEnd) {
		t.Errorf("CurrentPeriodEnd = %v, want %v", got.CurrentPeriodEnd, first.CurrentPeriodEnd)
	}

	// Extend with an earlier period end must not regress the stored row.
	earlier := first
	earlier.CurrentPeriodEnd = base.AddDate(0, 0, 7)
	if err := repo.ExtendEntitlement(ctx, earlier); err != nil {
		t.Fatalf("ExtendEntitlement() error = %v", err)
	}
	got, _ = repo.GetEntitlement(ctx, "user_1")
	if !got.CurrentPeriodEnd.Equal(first.CurrentPeriodEnd) {
		t.Errorf("CurrentPeriodEnd after earlier extend = %v, want %v", got.CurrentPeriodEnd, first.CurrentPeriodEnd)
	}

	// Extend with a later period end wins.
	later := first
	later.CurrentPeriodEnd = base.AddDate(0, 0, 60)
	if err := repo.ExtendEntitlement(ctx, later); err != nil {
		t.Fatalf("ExtendEntitlement() error = %v", err)
	}
	got, _ = repo.GetEntitlement(ctx, "user_1")
	if !got.CurrentPeriodEnd.Equal(later.CurrentPeriodEnd) {
		t.Errorf("CurrentPeriodEnd after later extend = %v, want %v", got.CurrentPeriodEnd, later.CurrentPeriodEnd)
	}

	// Upsert is authoritative and may replace with anything, even earlier.
	replaced := first
	replaced.CurrentPeriodEnd = base.AddDate(0, 0, 10)
	if err := repo.UpsertEntitlement(ctx, replaced); err != nil {
		t.Fatalf("UpsertEntitlement() error = %v", err)
	}
	got, _ = repo.GetEntitlement(ctx, "user_1")
	if !got.CurrentPeriodEnd.Equal(replaced.CurrentPeriodEnd) {
		t.Errorf("CurrentPeriodEnd after upsert = %v, want %v", got.CurrentPeriodEnd, replaced.CurrentPeriodEnd)
	}

	// Extend on a missing row behaves like a plain insert.
	fresh := core.Entitlement{
		OwnerID:          "user_2",
		Status:           core.EntitlementActive,
		PlanID:           "premium",
		CurrentPeriodEnd: base.AddDate(0, 0, 30),
		UpdatedAt:        base,
	}
	if err := repo.ExtendEntitlement(ctx, fresh); err != nil {
		t.Fatalf("ExtendEntitlement() insert error = %v", err)
	}
	if _, err := repo.GetEntitlement(ctx, "user_2"); err != nil {
		t.Errorf("GetEntitlement(user_2) error = %v", err)
	}
}

func TestCouponLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	coupon := core.Coupon{Code: "WELCOME30", PlanID: "premium", DurationDays: 30, Active: true}
	if _, err := repo.CreateCoupon(ctx, coupon); err != nil {
		t.Fatalf("CreateCoupon() error = %v", err)
	}

	got, err := repo.GetCouponByCode(ctx, "WELCOME30")
	if err != nil {
		t.Fatalf("GetCouponByCode() error = %v", err)
	}
	if got.DurationDays != 30 || !got.Active {
		t.Errorf("coupon = %+v, want 30 days and active", got)
	}

	if err := repo.DeactivateCoupon(ctx, "WELCOME30"); err != nil {
		t.Fatalf("DeactivateCoupon() error = %v", err)
	}
	got, _ = repo.GetCouponByCode(ctx, "WELCOME30")
	if got.Active {
		t.Error("coupon still active after DeactivateCoupon()")
	}

	if _, err := repo.GetCouponByCode(ctx, "NOPE"); !errors.Is(err, ErrCouponNotFound) {
		t.Errorf("GetCouponByCode(NOPE): error = %v, want ErrCouponNotFound", err)
	}
	if err := repo.DeactivateCoupon(ctx, "NOPE"); !errors.Is(err, ErrCouponNotFound) {
		t.Errorf("DeactivateCoupon(NOPE): error = %v, want ErrCouponNotFound", err)
	}
}
