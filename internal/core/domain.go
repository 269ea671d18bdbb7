package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

const (
	Income  Direction = "income"
	Expense Direction = "expense"
)

// Expense subtypes. Only meaningful when Direction is Expense.
const (
	FixedExpense     ExpenseKind = "fixed"
	VariableExpense  ExpenseKind = "variable"
	LifestyleExpense ExpenseKind = "lifestyle"
)

type (
	Frequency   string
	Direction   string
	ExpenseKind string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// RecurringTemplate is the schedule and default field values of a
	// recurring obligation. NextDueDate always points at the next unpaid
	// occurrence; it only moves forward, one frequency period per payment.
	RecurringTemplate struct {
		ID                int64
		OwnerID           string
		Description       string
		Amount            Money
		Direction         Direction
		Category          string
		Kind              ExpenseKind // optional, expenses only
		Frequency         Frequency
		NextDueDate       Date
		LastGeneratedDate Date // zero until the first payment
		Active            bool
	}

	// Transaction is one materialized occurrence of an obligation, or any
	// other ledger entry. Immutable once created.
	Transaction struct {
		ID          int64
		OwnerID     string
		Description string
		Amount      Money
		Direction   Direction
		Category    string
		Kind        ExpenseKind
		Date        Date
		WalletID    string // optional
	}

	// Entitlement is the cached record of paid-tier access, derived from a
	// gateway-verified payment or a coupon grant. At most one row per owner.
	Entitlement struct {
		OwnerID          string
		Status           string
		PlanID           string
		CurrentPeriodEnd time.Time
		UpdatedAt        time.Time
	}

	// Coupon grants a plan tier for a fixed number of days when redeemed.
	Coupon struct {
		ID           int64
		Code         string
		PlanID       string
		DurationDays int
		Active       bool
	}
)

const EntitlementActive = "active"

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidFrequency = errors.New("invalid frequency")
	ErrInvalidDirection = errors.New("invalid direction")
	ErrInvalidKind      = errors.New("invalid expense kind")
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyOwner       = errors.New("empty owner id")
	ErrInvalidDate      = errors.New("invalid date")
)

// NewDate creates a Date from year, month, day at UTC midnight.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a timestamp to its calendar day at UTC midnight.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// String renders the date in ISO form (YYYY-MM-DD).
func (d Date) String() string {
	return d.Format("2006-01-02")
}

func (f Frequency) Validate() error {
	switch f {
	case Weekly, Monthly:
		return nil
	default:
		return ErrInvalidFrequency
	}
}

func (dir Direction) Validate() error {
	switch dir {
	case Income, Expense:
		return nil
	default:
		return ErrInvalidDirection
	}
}

func (k ExpenseKind) Validate() error {
	switch k {
	case "", FixedExpense, VariableExpense, LifestyleExpense:
		return nil
	default:
		return ErrInvalidKind
	}
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (t RecurringTemplate) Validate() error {
	if strings.TrimSpace(t.OwnerID) == "" {
		return ErrEmptyOwner
	}
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(t.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if err := t.Direction.Validate(); err != nil {
		return err
	}
	if err := t.Kind.Validate(); err != nil {
		return err
	}
	if t.Direction != Expense && t.Kind != "" {
		return errors.New("expense kind set on a non-expense template")
	}
	if err := t.Frequency.Validate(); err != nil {
		return err
	}
	if err := t.NextDueDate.Validate(); err != nil {
		return errors.New("invalid next due date: " + err.Error())
	}
	return nil
}

func (tx Transaction) Validate() error {
	if strings.TrimSpace(tx.OwnerID) == "" {
		return ErrEmptyOwner
	}
	if len(strings.TrimSpace(tx.Description)) == 0 {
		return ErrEmptyDescription
	}
	if err := tx.Amount.Validate(); err != nil {
		return err
	}
	if err := tx.Direction.Validate(); err != nil {
		return err
	}
	if err := tx.Date.Validate(); err != nil {
		return err
	}
	return nil
}

// ActiveAt reports whether the entitlement grants paid-tier access at the
// given instant.
func (e Entitlement) ActiveAt(t time.Time) bool {
	return e.Status == EntitlementActive && e.CurrentPeriodEnd.After(t)
}

func (c Coupon) Validate() error {
	if strings.TrimSpace(c.Code) == "" {
		return errors.New("empty coupon code")
	}
	if strings.TrimSpace(c.PlanID) == "" {
		return errors.New("empty plan id")
	}
	if c.DurationDays <= 0 {
		return errors.New("coupon duration must be positive")
	}
	return nil
}
