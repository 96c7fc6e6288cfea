// Package promo implements the promo evaluator (C3): validity checking,
// discount calculus, and usage accounting for promo codes.
package promo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"billingcore/internal/billingerr"
	"billingcore/internal/store"
)

const minFixedDiscountFinal = "1.00"

// Evaluator validates promo codes and computes their discount.
type Evaluator struct {
	store *store.Store
}

// New builds an Evaluator over the entity store.
func New(s *store.Store) *Evaluator {
	return &Evaluator{store: s}
}

// Discount is the outcome of applying a valid promo to an amount.
type Discount struct {
	PromoCode      *store.PromoCode
	OriginalAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
	BonusTokens    int64
	Description    string
}

// Validate runs the promo's validity chain in the order §4.2 names: existence,
// is_active, valid_from, valid_until, max_uses, tariff restriction, then (if
// userID is supplied) the per-user-per-tariff single-use check. First failure
// wins.
func (e *Evaluator) Validate(ctx context.Context, code string, tariffID uuid.UUID, userID *int64, now time.Time) (*store.PromoCode, error) {
	promo, err := e.store.GetPromoCodeByCode(ctx, code)
	if err != nil {
		var notFound *billingerr.NotFoundError
		if errors.As(err, &notFound) {
			return nil, billingerr.NewValidationError("promo code not found")
		}
		return nil, fmt.Errorf("promo: lookup: %w", err)
	}

	if !promo.IsActive {
		return nil, billingerr.NewValidationError("promo code is not active")
	}
	if now.Before(promo.ValidFrom) {
		return nil, billingerr.NewValidationError("promo code is not yet valid")
	}
	if promo.ValidUntil != nil && now.After(*promo.ValidUntil) {
		return nil, billingerr.NewValidationError("promo code has expired")
	}
	if promo.MaxUses != nil && promo.UsesCount >= *promo.MaxUses {
		return nil, billingerr.NewValidationError("promo code has reached its usage limit")
	}
	if promo.TariffID != nil && *promo.TariffID != tariffID {
		return nil, billingerr.NewValidationError("promo code does not apply to this tariff")
	}

	if userID != nil {
		used, err := e.store.HasPromoActivation(ctx, *userID, tariffID)
		if err != nil {
			return nil, fmt.Errorf("promo: activation lookup: %w", err)
		}
		if used {
			return nil, billingerr.NewValidationError("this tariff has already been activated with a promo code")
		}
	}

	return promo, nil
}

// Apply computes the discount calculus of §4.2 for an already-validated promo.
func Apply(promo *store.PromoCode, originalAmount decimal.Decimal) Discount {
	result := Discount{PromoCode: promo, OriginalAmount: originalAmount}

	switch promo.DiscountType {
	case store.DiscountPercent:
		discount := originalAmount.Mul(promo.DiscountValue).Div(decimal.NewFromInt(100))
		result.FinalAmount = originalAmount.Sub(discount).Round(2)
		result.Description = fmt.Sprintf("Скидка %s%%", promo.DiscountValue.Truncate(0).String())

	case store.DiscountFixed:
		floor, _ := decimal.NewFromString(minFixedDiscountFinal)
		final := originalAmount.Sub(promo.DiscountValue)
		if final.LessThan(floor) {
			final = floor
		}
		result.FinalAmount = final.Round(2)
		actual := originalAmount.Sub(result.FinalAmount)
		result.Description = fmt.Sprintf("Скидка %s ₽", actual.Round(0).String())

	case store.DiscountBonusTokens:
		result.FinalAmount = originalAmount.Round(2)
		result.BonusTokens = promo.DiscountValue.IntPart()
		result.Description = fmt.Sprintf("+%d бонусных токенов", result.BonusTokens)

	default:
		result.FinalAmount = originalAmount.Round(2)
	}

	result.DiscountAmount = originalAmount.Sub(result.FinalAmount)
	return result
}

// IncrementUses atomically bumps a promo's usage counter within tx, returning
// the new count. Called exactly once per successfully issued invoice that
// bound the promo (§4.2), never at validation time and never refunded on
// invoice expiry (§9).
func (e *Evaluator) IncrementUses(ctx context.Context, tx *sql.Tx, promoID uuid.UUID) (int64, error) {
	return e.store.IncrementPromoUses(ctx, tx, promoID)
}
