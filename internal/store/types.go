// Package store is the entity store (C1): strongly-typed Postgres
// persistence for users, tariffs, promo codes, promo activations, invoices,
// transactions, and audit records.
package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PeriodUnit is a tariff's billing period granularity.
type PeriodUnit string

const (
	PeriodHour  PeriodUnit = "hour"
	PeriodDay   PeriodUnit = "day"
	PeriodMonth PeriodUnit = "month"
)

// DiscountType is the kind of benefit a promo code grants.
type DiscountType string

const (
	DiscountPercent     DiscountType = "percent"
	DiscountFixed       DiscountType = "fixed"
	DiscountBonusTokens DiscountType = "bonus_tokens"
)

// InvoiceStatus is the invoice lifecycle state.
type InvoiceStatus string

const (
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusExpired   InvoiceStatus = "expired"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
	InvoiceStatusRefunded  InvoiceStatus = "refunded"
)

// TransactionType is the kind of ledger entry.
type TransactionType string

const (
	TransactionTopup        TransactionType = "topup"
	TransactionSpend        TransactionType = "spend"
	TransactionRefund       TransactionType = "refund"
	TransactionAdjustment   TransactionType = "adjustment"
	TransactionSubscription TransactionType = "subscription"
)

// User is a chat-channel end user.
type User struct {
	ID                        int64
	Username                  *string
	FirstName                 *string
	LastName                  *string
	Balance                   decimal.Decimal
	BalanceVersion            int64
	SubscriptionEnd           *time.Time
	IsBlocked                 bool
	AutoRenew                 bool
	LastSubscriptionNotify    *int
	LastBalanceNotify         *int
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// SubscriptionActive reports whether the user's subscription covers `at`.
func (u *User) SubscriptionActive(at time.Time) bool {
	return u.SubscriptionEnd != nil && u.SubscriptionEnd.After(at)
}

// Tariff is a purchasable pricing plan.
type Tariff struct {
	ID              uuid.UUID
	Slug            string
	Name            string
	Description     string
	Price           decimal.Decimal
	Tokens          int64
	PeriodUnit      PeriodUnit
	PeriodValue     int
	SubscriptionFee int64
	MinPayment      decimal.Decimal
	SortOrder       int
	IsActive        bool
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Period returns the tariff's billing period as a (unit, value) pair; month
// periods are handled by calendar-month arithmetic in internal/subscription
// since they aren't a fixed duration.
func (t *Tariff) Period() (unit PeriodUnit, value int) {
	return t.PeriodUnit, t.PeriodValue
}

// PromoCode is a discount code.
type PromoCode struct {
	ID            uuid.UUID
	Code          string
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	MaxUses       *int64
	UsesCount     int64
	ValidFrom     time.Time
	ValidUntil    *time.Time
	TariffID      *uuid.UUID
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PromoActivation records a single (user, tariff) promo redemption.
type PromoActivation struct {
	ID                     uuid.UUID
	UserID                 int64
	TariffID               uuid.UUID
	PromoCodeID            uuid.UUID
	ActivatedAt            time.Time
	TokensCredited         int64
	SubscriptionDaysAdded  int
}

// Invoice is a payment order.
type Invoice struct {
	ID               uuid.UUID
	GatewayRef       int64
	UserID           int64
	TariffID         uuid.UUID
	PromoCodeID      *uuid.UUID
	Amount           decimal.Decimal
	OriginalAmount   decimal.Decimal
	Tokens           int64
	SubscriptionDays int
	Status           InvoiceStatus
	IdempotencyKey   string
	PaymentURL       *string
	PaidAt           *time.Time
	ExpiresAt        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Transaction is one append-only ledger entry.
type Transaction struct {
	ID             uuid.UUID
	UserID         int64
	Type           TransactionType
	TokensDelta    decimal.Decimal
	BalanceAfter   decimal.Decimal
	Description    string
	InvoiceID      *uuid.UUID
	Metadata       map[string]any
	IdempotencyKey *string
	CreatedAt      time.Time
}

// AuditLog is an append-only audit record.
type AuditLog struct {
	ID         int64
	Action     string
	EntityType string
	EntityID   string
	UserID     *int64
	OldValue   map[string]any
	NewValue   map[string]any
	Metadata   map[string]any
	CreatedAt  time.Time
}
