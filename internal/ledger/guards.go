package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"billingcore/internal/billingerr"
	"billingcore/internal/store"
)

// DebitContext bundles the inputs a guard chain needs to validate a debit
// before the ledger touches the store, mirroring the original platform's
// SpendingContext/SpendingGuard split into a composable Go guard chain.
type DebitContext struct {
	User             *store.User
	Amount           decimal.Decimal
	RequireSubscription bool
	AllowOverdraft   bool
	OverdraftFloor   decimal.Decimal
	Now              time.Time
}

// validateDebit runs every guard in order, first failure wins.
func validateDebit(ctx DebitContext) error {
	if ctx.Amount.Sign() <= 0 {
		return billingerr.NewValidationError("amount must be positive")
	}
	if ctx.User.IsBlocked {
		return billingerr.NewUserBlockedError("user is blocked")
	}
	if ctx.RequireSubscription && !ctx.User.SubscriptionActive(ctx.Now) {
		return billingerr.NewSubscriptionExpiredError("no active subscription")
	}

	projected := ctx.User.Balance.Sub(ctx.Amount)
	if ctx.AllowOverdraft {
		floor := ctx.OverdraftFloor.Neg()
		if projected.LessThan(floor) {
			return billingerr.NewInsufficientBalanceError(ctx.Amount.String(), ctx.User.Balance.String())
		}
		return nil
	}

	if projected.IsNegative() {
		return billingerr.NewInsufficientBalanceError(ctx.Amount.String(), ctx.User.Balance.String())
	}
	return nil
}
