package payment

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"billingcore/internal/audit"
	"billingcore/internal/billingerr"
	"billingcore/internal/notify"
	"billingcore/internal/store"
	"billingcore/internal/subscription"
	"billingcore/internal/tracing"
)

// Orchestrator processes payment webhooks end to end: signature
// verification, exactly-once crediting, subscription activation, audit, and
// notification.
type Orchestrator struct {
	store    *store.Store
	audit    *audit.Log
	notifier notify.Notifier
}

// New builds an Orchestrator.
func New(s *store.Store, a *audit.Log, n notify.Notifier) *Orchestrator {
	return &Orchestrator{store: s, audit: a, notifier: n}
}

// ProcessWebhook implements the §4.4 state machine. It returns the invoice
// in its post-processing state; a non-pending invoice on entry is returned
// as-is (idempotent replay), never erroring.
func (o *Orchestrator) ProcessWebhook(ctx context.Context, verifier Verifier, record WebhookRecord) (*store.Invoice, error) {
	tx, err := o.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("payment: begin tx: %w", err)
	}
	defer tx.Rollback()

	inv, err := o.store.GetInvoiceForUpdate(ctx, tx, record.InvoiceID)
	if err != nil {
		return nil, err
	}

	if inv.Status != store.InvoiceStatusPending {
		return inv, nil
	}

	if inv.GatewayRef != record.GatewayRef {
		return nil, billingerr.NewPaymentError("gateway reference mismatch")
	}
	if !inv.Amount.Equal(record.Amount) {
		return nil, billingerr.NewPaymentError("payment amount does not match invoice")
	}
	if !verifier.Verify(record) {
		return nil, billingerr.NewPaymentError("signature verification failed")
	}

	user, err := o.store.GetUserForUpdate(ctx, tx, inv.UserID)
	if err != nil {
		return nil, err
	}
	tariff, err := o.store.GetTariff(ctx, inv.TariffID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	balanceBefore := user.Balance
	subscriptionBefore := user.SubscriptionEnd

	spanCtx, span := tracing.PaymentSpan(ctx, "credit", verifier.Name(), record.Amount.InexactFloat64())
	description, delta, newEnd, err := o.credit(spanCtx, tx, inv, user, tariff, now)
	span.End()
	if err != nil {
		return nil, err
	}

	newBalance, _, err := o.store.UpdateBalanceConditional(ctx, tx, user.ID, delta, user.BalanceVersion)
	if err != nil {
		return nil, err
	}
	if newEnd != nil {
		if err := o.store.ExtendSubscription(ctx, tx, user.ID, *newEnd); err != nil {
			return nil, fmt.Errorf("payment: extend subscription: %w", err)
		}
	}

	if err := o.store.InsertTransaction(ctx, tx, &store.Transaction{
		ID: uuid.New(), UserID: user.ID, Type: store.TransactionTopup,
		TokensDelta: delta, BalanceAfter: newBalance,
		Description: description, InvoiceID: &inv.ID, CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("payment: insert transaction: %w", err)
	}

	paidAt := now
	if err := o.store.TransitionInvoice(ctx, tx, inv.ID, store.InvoiceStatusPaid, &paidAt); err != nil {
		return nil, fmt.Errorf("payment: transition invoice: %w", err)
	}

	if err := o.audit.Record(ctx, tx, &store.AuditLog{
		Action: "payment.processed", EntityType: "invoice", EntityID: inv.ID.String(),
		UserID: &user.ID,
		OldValue: map[string]any{
			"balance": balanceBefore.String(), "subscription_end": formatTimePtr(subscriptionBefore),
		},
		NewValue: map[string]any{
			"balance": newBalance.String(), "subscription_end": formatTimePtr(newEnd),
		},
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("payment: insert audit log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("payment: commit: %w", err)
	}

	inv.Status = store.InvoiceStatusPaid
	inv.PaidAt = &paidAt

	if delta.IsPositive() {
		if err := o.store.SetLastBalanceNotify(ctx, user.ID, nil); err != nil {
			log.Warn().Err(err).Int64("user_id", user.ID).Msg("payment: failed to clear balance notification threshold")
		}
	}

	o.notifier.Notify(ctx, notify.EventPaymentReceived, user.ID, map[string]any{
		"invoice_id": inv.ID.String(), "amount": inv.Amount.String(),
	})

	return inv, nil
}

// credit implements §4.4's two crediting flavours. It returns the
// transaction description, the signed balance delta to apply, and the new
// subscription_end (nil when unchanged).
func (o *Orchestrator) credit(_ context.Context, _ *sql.Tx, inv *store.Invoice, user *store.User, tariff *store.Tariff, now time.Time) (string, decimal.Decimal, *time.Time, error) {
	if tariff.SubscriptionFee > 0 {
		return creditFeeFirst(inv, user, tariff, now)
	}
	return creditClassic(inv, user, now)
}

func creditClassic(inv *store.Invoice, user *store.User, now time.Time) (string, decimal.Decimal, *time.Time, error) {
	delta := decimal.NewFromInt(inv.Tokens)
	description := fmt.Sprintf("Оплата счёта #%d: %d токенов", inv.GatewayRef, inv.Tokens)

	var newEnd *time.Time
	if inv.SubscriptionDays > 0 {
		end := subscription.AdvanceEnd(user.SubscriptionEnd, now, inv.SubscriptionDays)
		newEnd = &end
		description = fmt.Sprintf("%s, +%d дн. подписки", description, inv.SubscriptionDays)
	}
	return description, delta, newEnd, nil
}

// creditFeeFirst implements the fee-first leg of §4.4: when the subscription
// isn't currently active, the subscription fee is carved out of the payment
// amount to activate it and only the remainder reaches the balance.
func creditFeeFirst(inv *store.Invoice, user *store.User, tariff *store.Tariff, now time.Time) (string, decimal.Decimal, *time.Time, error) {
	if user.SubscriptionActive(now) {
		delta := inv.Amount
		description := fmt.Sprintf("Оплата счёта #%d: %s токенов на баланс", inv.GatewayRef, delta.String())
		return description, delta, nil, nil
	}

	fee := decimal.NewFromInt(tariff.SubscriptionFee)
	remainder := inv.Amount.Sub(fee)
	end := subscription.AdvanceEndByPeriod(user.SubscriptionEnd, now, tariff.PeriodUnit, tariff.PeriodValue)
	description := fmt.Sprintf(
		"Оплата счёта #%d: %s на активацию подписки, %s на баланс",
		inv.GatewayRef, fee.String(), remainder.String(),
	)
	return description, remainder, &end, nil
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}
