// Package invoice implements the invoice service (C4): idempotent issuance,
// preview, cancellation, and the expiry sweep.
package invoice

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"billingcore/internal/audit"
	"billingcore/internal/billingerr"
	"billingcore/internal/promo"
	"billingcore/internal/store"
)

// DefaultTTL is the invoice lifetime used when none is configured.
const DefaultTTL = 24 * time.Hour

// idempotencyWindow is the wall-clock bucketing width used to collapse
// repeated "buy" clicks onto a single invoice (§4.3).
const idempotencyWindow = 60 * time.Minute

// Service issues, previews, cancels, and expires invoices.
type Service struct {
	store *store.Store
	promo *promo.Evaluator
	audit *audit.Log
	ttl   time.Duration
}

// New builds an invoice Service. ttl of zero selects DefaultTTL.
func New(s *store.Store, p *promo.Evaluator, a *audit.Log, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{store: s, promo: p, audit: a, ttl: ttl}
}

// Preview is a pure (no-write) quote of what creating an invoice would yield.
type Preview struct {
	TariffName       string
	OriginalAmount   decimal.Decimal
	FinalAmount      decimal.Decimal
	DiscountInfo     string
	Tokens           int64
	BonusTokens      int64
	SubscriptionDays int
}

// Preview resolves a tariff and, if a promo code is supplied, attempts to
// apply it. An invalid promo is silently ignored here (§4.3) — validation
// errors only surface at Create time.
func (s *Service) Preview(ctx context.Context, userID int64, tariffID uuid.UUID, promoCode *string, now time.Time) (*Preview, error) {
	tariff, err := s.store.GetTariff(ctx, tariffID)
	if err != nil {
		return nil, err
	}

	p := &Preview{
		TariffName:       tariff.Name,
		OriginalAmount:   tariff.Price,
		FinalAmount:      tariff.Price,
		Tokens:           tariff.Tokens,
		SubscriptionDays: tariffSubscriptionDays(tariff),
	}

	if promoCode != nil && *promoCode != "" {
		code, verr := s.promo.Validate(ctx, *promoCode, tariffID, &userID, now)
		if verr == nil {
			d := promo.Apply(code, tariff.Price)
			p.FinalAmount = d.FinalAmount
			p.BonusTokens = d.BonusTokens
			p.Tokens = tariff.Tokens + d.BonusTokens
			p.DiscountInfo = d.Description
		}
		// Invalid promo codes are ignored in preview, matching §4.3.
	}

	return p, nil
}

// Create commits a new invoice, or returns a prior one per the idempotency
// rules of §4.3.
func (s *Service) Create(ctx context.Context, userID int64, tariffID uuid.UUID, promoCode *string, now time.Time) (*store.Invoice, error) {
	baseKey := IdempotencyKey(userID, tariffID, promoCode, now)
	key := baseKey

	existing, err := s.store.GetInvoiceByIdempotencyKey(ctx, key)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	if existing != nil {
		if existing.Status == store.InvoiceStatusPending {
			return existing, nil
		}
		for counter := 1; existing != nil; counter++ {
			key = fmt.Sprintf("%s:%d", baseKey, counter)
			existing, err = s.store.GetInvoiceByIdempotencyKey(ctx, key)
			if err != nil && !isNotFound(err) {
				return nil, err
			}
		}
	}

	tariff, err := s.store.GetTariff(ctx, tariffID)
	if err != nil {
		return nil, err
	}
	if !tariff.IsActive {
		return nil, billingerr.NewValidationError("tariff is not available")
	}

	originalAmount := tariff.Price
	finalAmount := originalAmount
	bonusTokens := int64(0)
	var promoCodeID *uuid.UUID
	var validatedPromo *store.PromoCode

	if promoCode != nil && *promoCode != "" {
		validatedPromo, err = s.promo.Validate(ctx, *promoCode, tariffID, &userID, now)
		if err != nil {
			return nil, err
		}
		d := promo.Apply(validatedPromo, originalAmount)
		finalAmount = d.FinalAmount
		bonusTokens = d.BonusTokens
		promoCodeID = &validatedPromo.ID
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("invoice: begin tx: %w", err)
	}
	defer tx.Rollback()

	gatewayRef, err := s.store.NextGatewayRef(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("invoice: allocate gateway ref: %w", err)
	}

	inv := &store.Invoice{
		ID: uuid.New(), GatewayRef: gatewayRef, UserID: userID, TariffID: tariffID,
		PromoCodeID: promoCodeID, Amount: finalAmount, OriginalAmount: originalAmount,
		Tokens: tariff.Tokens + bonusTokens, SubscriptionDays: tariffSubscriptionDays(tariff),
		Status: store.InvoiceStatusPending, IdempotencyKey: key, ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.CreateInvoice(ctx, tx, inv); err != nil {
		return nil, fmt.Errorf("invoice: create: %w", err)
	}

	if promoCodeID != nil {
		if _, err := s.promo.IncrementUses(ctx, tx, *promoCodeID); err != nil {
			return nil, fmt.Errorf("invoice: increment promo uses: %w", err)
		}
		if err := s.store.RecordPromoActivation(ctx, tx, &store.PromoActivation{
			ID: uuid.New(), UserID: userID, TariffID: tariffID, PromoCodeID: *promoCodeID,
			ActivatedAt: now, TokensCredited: inv.Tokens, SubscriptionDaysAdded: inv.SubscriptionDays,
		}); err != nil {
			return nil, fmt.Errorf("invoice: record promo activation: %w", err)
		}
	}

	if err := s.audit.Record(ctx, tx, &store.AuditLog{
		Action: "invoice.created", EntityType: "invoice", EntityID: inv.ID.String(), UserID: &userID,
		NewValue: map[string]any{
			"amount": finalAmount.String(), "tokens": inv.Tokens, "status": string(inv.Status),
		},
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("invoice: audit log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("invoice: commit: %w", err)
	}

	return inv, nil
}

// Cancel transitions a pending invoice to cancelled.
func (s *Service) Cancel(ctx context.Context, invoiceID uuid.UUID) (*store.Invoice, error) {
	inv, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != store.InvoiceStatusPending {
		return nil, billingerr.NewValidationError("only pending invoices can be cancelled")
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("invoice: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.store.TransitionInvoice(ctx, tx, invoiceID, store.InvoiceStatusCancelled, nil); err != nil {
		return nil, fmt.Errorf("invoice: cancel: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("invoice: commit: %w", err)
	}

	inv.Status = store.InvoiceStatusCancelled
	return inv, nil
}

// ExpireSweep transitions every pending invoice whose deadline has passed as
// of now. Idempotent: a second run with the same cutoff affects zero rows.
func (s *Service) ExpireSweep(ctx context.Context, now time.Time) (int64, error) {
	affected, err := s.store.ExpirePendingBefore(ctx, now)
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		if err := s.audit.Record(ctx, nil, &store.AuditLog{
			Action: "invoices.expired", EntityType: "invoice", EntityID: "bulk",
			NewValue:  map[string]any{"count": affected, "cutoff": now.Format(time.RFC3339)},
			CreatedAt: now,
		}); err != nil {
			return affected, fmt.Errorf("invoice: audit log: %w", err)
		}
	}
	return affected, nil
}

// IdempotencyKey derives the invoice idempotency key per §4.3:
// SHA-256(user ∥ tariff ∥ promo ∥ time_window)[0:16], time_window rounded
// down to the 60-minute boundary.
func IdempotencyKey(userID int64, tariffID uuid.UUID, promoCode *string, now time.Time) string {
	window := now.UTC().Truncate(idempotencyWindow)
	promoPart := ""
	if promoCode != nil {
		promoPart = strings.ToUpper(*promoCode)
	}
	data := fmt.Sprintf("%d:%s:%s:%s", userID, tariffID, promoPart, window.Format(time.RFC3339))
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])[:16]
}

func tariffSubscriptionDays(t *store.Tariff) int {
	unit, value := t.Period()
	if unit == store.PeriodDay {
		return value
	}
	if unit == store.PeriodMonth {
		return value * 30
	}
	return 0
}

func isNotFound(err error) bool {
	var nf *billingerr.NotFoundError
	return errors.As(err, &nf)
}
