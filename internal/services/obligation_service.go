package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"billfold/internal/amqp"
	"billfold/internal/core"
	"billfold/internal/storage"

	"github.com/google/uuid"
)

// DefaultLookaheadDays is how far ahead the upcoming-bills view looks when
// the caller does not say otherwise.
const DefaultLookaheadDays = 7

var (
	ErrTemplateInactive = errors.New("recurring template is paused")

	// ErrScheduleNotAdvanced signals that the payment was recorded but the
	// template's due date could not be moved forward. The returned
	// transaction is valid; the schedule needs attention.
	ErrScheduleNotAdvanced = errors.New("payment recorded but schedule not advanced")
)

// ObligationService orchestrates recurring-bill operations across SQLite and AMQP
type ObligationService struct {
	storage    *storage.SQLiteRepository
	amqpClient *amqp.Client
	now        func() time.Time
}

func NewObligationService(storage *storage.SQLiteRepository, amqpClient *amqp.Client) *ObligationService {
	return &ObligationService{
		storage:    storage,
		amqpClient: amqpClient,
		now:        time.Now,
	}
}

// CreateTemplate validates and stores a new recurring template
func (s *ObligationService) CreateTemplate(ctx context.Context, t core.RecurringTemplate) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	t.Active = true
	return s.storage.CreateTemplate(ctx, t)
}

func (s *ObligationService) GetTemplate(ctx context.Context, ownerID string, id int64) (*core.RecurringTemplate, error) {
	return s.storage.GetTemplate(ctx, ownerID, id)
}

func (s *ObligationService) ListTemplates(ctx context.Context, ownerID string) ([]core.RecurringTemplate, error) {
	return s.storage.ListTemplates(ctx, ownerID)
}

// UpdateTemplate replaces a template's editable fields after validation
func (s *ObligationService) UpdateTemplate(ctx context.Context, ownerID string, id int64, t core.RecurringTemplate) error {
	t.OwnerID = ownerID
	if err := t.Validate(); err != nil {
		return err
	}
	return s.storage.UpdateTemplate(ctx, ownerID, id, t)
}

func (s *ObligationService) SetTemplateActive(ctx context.Context, ownerID string, id int64, active bool) error {
	return s.storage.SetTemplateActive(ctx, ownerID, id, active)
}

func (s *ObligationService) DeleteTemplate(ctx context.Context, ownerID string, id int64) error {
	return s.storage.DeleteTemplate(ctx, ownerID, id)
}

// ListUpcoming returns the owner's active expense templates due within the
// lookahead window, overdue ones included, soonest first.
func (s *ObligationService) ListUpcoming(ctx context.Context, ownerID string, withinDays int) ([]core.RecurringTemplate, error) {
	if withinDays <= 0 {
		withinDays = DefaultLookaheadDays
	}
	until := core.DateOf(s.now().AddDate(0, 0, withinDays))

	templates, err := s.storage.ListDueTemplates(ctx, ownerID, until)
	if err != nil {
		return nil, fmt.Errorf("list upcoming bills: %w", err)
	}
	return templates, nil
}

// ListTransactions returns the owner's most recent ledger entries
func (s *ObligationService) ListTransactions(ctx context.Context, ownerID string, limit int) ([]core.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.storage.ListTransactions(ctx, ownerID, limit)
}

// PayBill materializes one occurrence of a recurring template: it records a
// transaction snapshotting the template's fields, dated the day it was
// actually paid, then advances the schedule by one period. Replays with the
// same idempotency key return the original transaction without advancing
// again.
func (s *ObligationService) PayBill(ctx context.Context, ownerID string, templateID int64, idempotencyKey string) (*core.Transaction, error) {
	tmpl, err := s.storage.GetTemplate(ctx, ownerID, templateID)
	if err != nil {
		return nil, err
	}
	if !tmpl.Active {
		return nil, ErrTemplateInactive
	}

	if idempotencyKey == "" {
		idempotencyKey = uuid.New().String()
	}

	if existing, err := s.storage.FindTransactionByKey(ctx, ownerID, templateID, idempotencyKey); err == nil {
		slog.InfoContext(ctx, "Replayed bill payment",
			"template_id", templateID,
			"transaction_id", existing.ID,
			"idempotency_key", idempotencyKey)
		return existing, nil
	} else if !errors.Is(err, storage.ErrTransactionNotFound) {
		return nil, fmt.Errorf("check idempotency key: %w", err)
	}

	paidOn := core.DateOf(s.now())
	tx := core.Transaction{
		OwnerID:     ownerID,
		Description: tmpl.Description,
		Amount:      tmpl.Amount,
		Direction:   tmpl.Direction,
		Category:    tmpl.Category,
		Kind:        tmpl.Kind,
		Date:        paidOn,
	}

	txID, err := s.storage.InsertTransaction(ctx, tx, templateID, idempotencyKey)
	if errors.Is(err, storage.ErrDuplicateTransaction) {
		// Lost a race against a concurrent replay; the winner's row is ours.
		return s.storage.FindTransactionByKey(ctx, ownerID, templateID, idempotencyKey)
	}
	if err != nil {
		return nil, fmt.Errorf("record bill payment: %w", err)
	}
	tx.ID = txID

	if err := s.advanceSchedule(ctx, ownerID, tmpl, paidOn); err != nil {
		slog.ErrorContext(ctx, "Payment recorded but schedule not advanced",
			"template_id", templateID,
			"transaction_id", txID,
			"error", err)
		return &tx, fmt.Errorf("%w: %v", ErrScheduleNotAdvanced, err)
	}

	if err := s.publishSyncMessage(ctx, txID, ownerID); err != nil {
		slog.ErrorContext(ctx, "Failed to publish sync message",
			"transaction_id", txID, "error", err)
		// Don't fail the request - the payment is recorded locally
	}

	slog.InfoContext(ctx, "Bill paid",
		"template_id", templateID,
		"transaction_id", txID,
		"amount_cents", tx.Amount.Cents,
		"tx_date", tx.Date.String())

	return &tx, nil
}

func (s *ObligationService) advanceSchedule(ctx context.Context, ownerID string, tmpl *core.RecurringTemplate, paidOn core.Date) error {
	nextDue, err := core.Advance(tmpl.NextDueDate, tmpl.Frequency)
	if err != nil {
		return fmt.Errorf("compute next due date: %w", err)
	}

	err = s.storage.AdvanceTemplateSchedule(ctx, ownerID, tmpl.ID, nextDue, paidOn)
	if err != nil {
		// One retry; the update is monotonic so a replay cannot double-advance.
		err = s.storage.AdvanceTemplateSchedule(ctx, ownerID, tmpl.ID, nextDue, paidOn)
	}
	return err
}

func (s *ObligationService) publishSyncMessage(ctx context.Context, id int64, ownerID string) error {
	if s.amqpClient == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping sync message")
		return nil
	}

	return s.amqpClient.PublishTransactionSync(ctx, id, ownerID)
}
