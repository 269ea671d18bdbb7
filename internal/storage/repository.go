package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"billfold/internal/core"

	_ "modernc.org/sqlite"
)

// Export sync states for the spreadsheet ledger pipeline.
const (
	SyncPending = "pending"
	SyncDone    = "synced"
	SyncError   = "error"
)

var (
	ErrTemplateNotFound     = errors.New("recurring template not found")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrEntitlementNotFound  = errors.New("entitlement not found")
	ErrCouponNotFound       = errors.New("coupon not found")
	ErrDuplicateTransaction = errors.New("transaction already recorded for idempotency key")
)

const dateLayout = "2006-01-02"

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// --- recurring templates ---

func (r *SQLiteRepository) CreateTemplate(ctx context.Context, t core.RecurringTemplate) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO recurring_templates
			(owner_id, description, amount_cents, direction, category, expense_kind, frequency, next_due_date, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.OwnerID, t.Description, t.Amount.Cents, string(t.Direction), t.Category,
		string(t.Kind), string(t.Frequency), t.NextDueDate.String(), boolToInt(t.Active),
	)
	if err != nil {
		return 0, fmt.Errorf("create template: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("template insert id: %w", err)
	}

	slog.InfoContext(ctx, "Recurring template created",
		"template_id", id,
		"owner_id", t.OwnerID,
		"description", t.Description,
		"frequency", t.Frequency,
		"next_due_date", t.NextDueDate.String())

	return id, nil
}

const templateColumns = `id, owner_id, description, amount_cents, direction, category, expense_kind, frequency, next_due_date, last_generated_date, active`

func (r *SQLiteRepository) GetTemplate(ctx context.Context, ownerID string, id int64) (*core.RecurringTemplate, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM recurring_templates WHERE id = ? AND owner_id = ?`, id, ownerID)

	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template %d: %w", id, err)
	}
	return t, nil
}

func (r *SQLiteRepository) ListTemplates(ctx context.Context, ownerID string) ([]core.RecurringTemplate, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+templateColumns+` FROM recurring_templates WHERE owner_id = ? ORDER BY next_due_date ASC, id ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	return collectTemplates(rows)
}

// ListDueTemplates returns the owner's active expense templates due on or
// before the given date, ascending by due date. This is the literal filter
// the upcoming-bills view depends on.
func (r *SQLiteRepository) ListDueTemplates(ctx context.Context, ownerID string, until core.Date) ([]core.RecurringTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+templateColumns+` FROM recurring_templates
		WHERE owner_id = ? AND active = 1 AND direction = 'expense' AND next_due_date <= ?
		ORDER BY next_due_date ASC, id ASC`,
		ownerID, until.String())
	if err != nil {
		return nil, fmt.Errorf("list due templates: %w", err)
	}
	defer rows.Close()

	return collectTemplates(rows)
}

func (r *SQLiteRepository) UpdateTemplate(ctx context.Context, ownerID string, id int64, t core.RecurringTemplate) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurring_templates
		SET description = ?, amount_cents = ?, direction = ?, category = ?, expense_kind = ?,
		    frequency = ?, next_due_date = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND owner_id = ?`,
		t.Description, t.Amount.Cents, string(t.Direction), t.Category, string(t.Kind),
		string(t.Frequency), t.NextDueDate.String(), id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("update template %d: %w", id, err)
	}
	return requireRow(res, ErrTemplateNotFound)
}

func (r *SQLiteRepository) SetTemplateActive(ctx context.Context, ownerID string, id int64, active bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurring_templates SET active = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND owner_id = ?`,
		boolToInt(active), id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("set template %d active: %w", id, err)
	}
	return requireRow(res, ErrTemplateNotFound)
}

func (r *SQLiteRepository) DeleteTemplate(ctx context.Context, ownerID string, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM recurring_templates WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete template %d: %w", id, err)
	}
	return requireRow(res, ErrTemplateNotFound)
}

// AdvanceTemplateSchedule moves a template's due date forward after a
// payment. The WHERE guard keeps the due date monotonic: a stale or replayed
// update can never regress the schedule.
func (r *SQLiteRepository) AdvanceTemplateSchedule(ctx context.Context, ownerID string, id int64, nextDue, lastGenerated core.Date) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurring_templates
		SET next_due_date = ?, last_generated_date = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND owner_id = ? AND next_due_date < ?`,
		nextDue.String(), lastGenerated.String(), id, ownerID, nextDue.String(),
	)
	if err != nil {
		return fmt.Errorf("advance template %d schedule: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance template %d rows: %w", id, err)
	}
	if n == 0 {
		// Either the template is gone or the schedule is already at or past
		// nextDue; the latter is the idempotent-retry case and not an error.
		if _, getErr := r.GetTemplate(ctx, ownerID, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

// --- transactions ---

// InsertTransaction records a ledger entry. templateID and idempotencyKey tie
// the entry to one nominal occurrence of a recurring template; both are
// optional for free-form entries. A second insert with the same
// (owner, template, key) returns ErrDuplicateTransaction.
func (r *SQLiteRepository) InsertTransaction(ctx context.Context, tx core.Transaction, templateID int64, idempotencyKey string) (int64, error) {
	var tmplID any
	if templateID > 0 {
		tmplID = templateID
	}
	var idemKey any
	if idempotencyKey != "" {
		idemKey = idempotencyKey
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions
			(owner_id, description, amount_cents, direction, category, expense_kind, tx_date, wallet_id, template_id, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.OwnerID, tx.Description, tx.Amount.Cents, string(tx.Direction), tx.Category,
		string(tx.Kind), tx.Date.String(), tx.WalletID, tmplID, idemKey,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, ErrDuplicateTransaction
		}
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("transaction insert id: %w", err)
	}

	slog.InfoContext(ctx, "Transaction recorded",
		"transaction_id", id,
		"owner_id", tx.OwnerID,
		"description", tx.Description,
		"amount_cents", tx.Amount.Cents,
		"direction", tx.Direction)

	return id, nil
}

const transactionColumns = `id, owner_id, description, amount_cents, direction, category, expense_kind, tx_date, wallet_id`

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id int64) (*core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)

	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %d: %w", id, err)
	}
	return tx, nil
}

// FindTransactionByKey returns the transaction previously recorded for an
// idempotency key, if any.
func (r *SQLiteRepository) FindTransactionByKey(ctx context.Context, ownerID string, templateID int64, key string) (*core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE owner_id = ? AND template_id = ? AND idempotency_key = ?`,
		ownerID, templateID, key)

	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find transaction by key: %w", err)
	}
	return tx, nil
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, ownerID string, limit int) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE owner_id = ? ORDER BY tx_date DESC, id DESC LIMIT ?`,
		ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

// PendingExport is the minimal row needed to queue a ledger export.
type PendingExport struct {
	ID      int64
	OwnerID string
}

// GetPendingExportTransactions returns transactions not yet exported to the
// spreadsheet ledger. Backup path for lost queue messages.
func (r *SQLiteRepository) GetPendingExportTransactions(ctx context.Context, limit int) ([]PendingExport, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id FROM transactions
		WHERE sync_status = ? ORDER BY id ASC LIMIT ?`,
		SyncPending, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending export transactions: %w", err)
	}
	defer rows.Close()

	var out []PendingExport
	for rows.Next() {
		var p PendingExport
		if err := rows.Scan(&p.ID, &p.OwnerID); err != nil {
			return nil, fmt.Errorf("scan pending export: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) MarkExported(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET sync_status = ? WHERE id = ?`, SyncDone, id); err != nil {
		return fmt.Errorf("mark transaction exported: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkExportError(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET sync_status = ? WHERE id = ?`, SyncError, id); err != nil {
		return fmt.Errorf("mark transaction export error: %w", err)
	}
	slog.WarnContext(ctx, "Transaction marked with export error", "transaction_id", id)
	return nil
}

// --- subscription entitlements ---

// UpsertEntitlement replaces the owner's entitlement row. Used by the payment
// reconciler, for which the gateway-verified payment is authoritative.
func (r *SQLiteRepository) UpsertEntitlement(ctx context.Context, e core.Entitlement) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (owner_id, status, plan_id, current_period_end, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			status = excluded.status,
			plan_id = excluded.plan_id,
			current_period_end = excluded.current_period_end,
			updated_at = excluded.updated_at`,
		e.OwnerID, e.Status, e.PlanID, e.CurrentPeriodEnd.UTC(), e.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert entitlement for %s: %w", e.OwnerID, err)
	}

	slog.InfoContext(ctx, "Entitlement upserted",
		"owner_id", e.OwnerID,
		"plan_id", e.PlanID,
		"current_period_end", e.CurrentPeriodEnd.UTC().Format(time.RFC3339))

	return nil
}

// ExtendEntitlement writes the entitlement only when it grants a later period
// end than what is already stored. Used by coupon redemption, which must not
// regress gateway-granted access.
func (r *SQLiteRepository) ExtendEntitlement(ctx context.Context, e core.Entitlement) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (owner_id, status, plan_id, current_period_end, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			status = excluded.status,
			plan_id = excluded.plan_id,
			current_period_end = excluded.current_period_end,
			updated_at = excluded.updated_at
		WHERE excluded.current_period_end > subscriptions.current_period_end`,
		e.OwnerID, e.Status, e.PlanID, e.CurrentPeriodEnd.UTC(), e.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("extend entitlement for %s: %w", e.OwnerID, err)
	}
	return nil
}

func (r *SQLiteRepository) GetEntitlement(ctx context.Context, ownerID string) (*core.Entitlement, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT owner_id, status, plan_id, current_period_end, updated_at
		FROM subscriptions WHERE owner_id = ?`, ownerID)

	var e core.Entitlement
	err := row.Scan(&e.OwnerID, &e.Status, &e.PlanID, &e.CurrentPeriodEnd, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntitlementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entitlement for %s: %w", ownerID, err)
	}
	return &e, nil
}

// --- coupons ---

func (r *SQLiteRepository) CreateCoupon(ctx context.Context, c core.Coupon) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO coupons (code, plan_id, duration_days, active)
		VALUES (?, ?, ?, ?)`,
		c.Code, c.PlanID, c.DurationDays, boolToInt(c.Active),
	)
	if err != nil {
		return 0, fmt.Errorf("create coupon: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("coupon insert id: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) GetCouponByCode(ctx context.Context, code string) (*core.Coupon, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, code, plan_id, duration_days, active FROM coupons WHERE code = ?`, code)

	var c core.Coupon
	var active int
	err := row.Scan(&c.ID, &c.Code, &c.PlanID, &c.DurationDays, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCouponNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get coupon %s: %w", code, err)
	}
	c.Active = active != 0
	return &c, nil
}

func (r *SQLiteRepository) DeactivateCoupon(ctx context.Context, code string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE coupons SET active = 0 WHERE code = ?`, code)
	if err != nil {
		return fmt.Errorf("deactivate coupon %s: %w", code, err)
	}
	return requireRow(res, ErrCouponNotFound)
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*core.RecurringTemplate, error) {
	var (
		t         core.RecurringTemplate
		direction string
		kind      string
		frequency string
		nextDue   string
		lastGen   sql.NullString
		active    int
	)
	err := row.Scan(&t.ID, &t.OwnerID, &t.Description, &t.Amount.Cents, &direction,
		&t.Category, &kind, &frequency, &nextDue, &lastGen, &active)
	if err != nil {
		return nil, err
	}

	t.Direction = core.Direction(direction)
	t.Kind = core.ExpenseKind(kind)
	t.Frequency = core.Frequency(frequency)
	t.Active = active != 0

	if t.NextDueDate, err = parseDate(nextDue); err != nil {
		return nil, fmt.Errorf("parse next_due_date: %w", err)
	}
	if lastGen.Valid && lastGen.String != "" {
		if t.LastGeneratedDate, err = parseDate(lastGen.String); err != nil {
			return nil, fmt.Errorf("parse last_generated_date: %w", err)
		}
	}
	return &t, nil
}

func scanTransaction(row rowScanner) (*core.Transaction, error) {
	var (
		tx        core.Transaction
		direction string
		kind      string
		txDate    string
	)
	err := row.Scan(&tx.ID, &tx.OwnerID, &tx.Description, &tx.Amount.Cents, &direction,
		&tx.Category, &kind, &txDate, &tx.WalletID)
	if err != nil {
		return nil, err
	}

	tx.Direction = core.Direction(direction)
	tx.Kind = core.ExpenseKind(kind)
	if tx.Date, err = parseDate(txDate); err != nil {
		return nil, fmt.Errorf("parse tx_date: %w", err)
	}
	return &tx, nil
}

func collectTemplates(rows *sql.Rows) ([]core.RecurringTemplate, error) {
	var out []core.RecurringTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func parseDate(s string) (core.Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return core.Date{}, err
	}
	return core.Date{Time: t}, nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
