// Package subscription implements the subscription engine (C6): the
// read-model, expiry-notification sweep, auto-renewal sweep, and expired
// sweep.
package subscription

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/rs/zerolog/log"

	"billingcore/internal/ledger"
	"billingcore/internal/notify"
	"billingcore/internal/store"
)

// State is the coarse subscription state of the read model.
type State string

const (
	StateNone    State = "none"
	StateExpired State = "expired"
	StateActive  State = "active"
)

// Status is the subscription read-model §4.5 describes.
type Status struct {
	State         State
	End           *time.Time
	DaysLeft      *int
	AutoRenew     bool
	RenewalPrice  decimal.Decimal
	CanAutoRenew  bool
}

// Engine drives the subscription sweeps.
type Engine struct {
	store          *store.Store
	ledger         *ledger.Ledger
	notifier       notify.Notifier
	notifyDays     []int // descending, e.g. [3, 1, 0]
	renewalDays    int
	renewalPrice   decimal.Decimal
}

// Config carries the engine's tunables, sourced from internal/config.
type Config struct {
	NotifyDays   []int
	RenewalDays  int
	RenewalPrice decimal.Decimal
}

// New builds a subscription Engine.
func New(s *store.Store, l *ledger.Ledger, n notify.Notifier, cfg Config) *Engine {
	return &Engine{store: s, ledger: l, notifier: n, notifyDays: cfg.NotifyDays, renewalDays: cfg.RenewalDays, renewalPrice: cfg.RenewalPrice}
}

// Status computes the read-model for a user, per §4.5.
func (e *Engine) Status(user *store.User, now time.Time) Status {
	canAutoRenew := user.Balance.GreaterThanOrEqual(e.renewalPrice)

	if user.SubscriptionEnd == nil {
		return Status{State: StateNone, AutoRenew: user.AutoRenew, RenewalPrice: e.renewalPrice, CanAutoRenew: canAutoRenew}
	}
	if !user.SubscriptionEnd.After(now) {
		zero := 0
		return Status{State: StateExpired, End: user.SubscriptionEnd, DaysLeft: &zero, AutoRenew: user.AutoRenew, RenewalPrice: e.renewalPrice, CanAutoRenew: canAutoRenew}
	}

	daysLeft := int(user.SubscriptionEnd.Sub(now).Hours() / 24)
	return Status{State: StateActive, End: user.SubscriptionEnd, DaysLeft: &daysLeft, AutoRenew: user.AutoRenew, RenewalPrice: e.renewalPrice, CanAutoRenew: canAutoRenew}
}

// ExpiryNotificationSweep implements §4.5's dedupe invariant: for each
// configured bucket (checked largest first) and each user whose
// subscription_end falls in (now, now+bucket·day], send one notification
// unless last_subscription_notification already records that bucket (or a
// smaller one).
func (e *Engine) ExpiryNotificationSweep(ctx context.Context, now time.Time) (int, error) {
	notified := 0
	for _, bucket := range e.notifyDays {
		users, err := e.store.UsersWithExpiringSubscription(ctx, now, bucket)
		if err != nil {
			return notified, err
		}
		for _, u := range users {
			if u.LastSubscriptionNotify != nil && *u.LastSubscriptionNotify <= bucket {
				continue
			}
			daysLeft := int(u.SubscriptionEnd.Sub(now).Hours() / 24)
			if daysLeft > bucket {
				continue
			}
			e.notifier.Notify(ctx, notify.EventSubscriptionExpiring, u.ID, map[string]any{"days_left": daysLeft})
			if err := e.store.SetLastSubscriptionNotify(ctx, u.ID, &daysLeft); err != nil {
				return notified, err
			}
			notified++
		}
	}
	return notified, nil
}

// AutoRenewalSweep implements §4.5's auto-renewal steps for every eligible
// user.
func (e *Engine) AutoRenewalSweep(ctx context.Context, now time.Time) (succeeded, failed int, err error) {
	users, err := e.store.UsersForAutoRenewal(ctx, now)
	if err != nil {
		return 0, 0, err
	}
	for _, u := range users {
		if ok := e.renewOne(ctx, u.ID, now); ok {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed, nil
}

func (e *Engine) renewOne(ctx context.Context, userID int64, now time.Time) bool {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("subscription: failed to load user for auto-renewal")
		return false
	}
	if !user.AutoRenew {
		return false
	}
	if user.Balance.LessThan(e.renewalPrice) {
		e.notifier.Notify(ctx, notify.EventRenewalFailed, userID, map[string]any{
			"reason": "insufficient_balance", "required": e.renewalPrice.String(), "available": user.Balance.String(),
		})
		return false
	}

	res, err := e.ledger.Debit(ctx, userID, e.renewalPrice, store.TransactionSubscription,
		"auto-renewal subscription", nil, nil, nil, false, false, decimal.Zero)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("subscription: auto-renewal debit failed")
		e.notifier.Notify(ctx, notify.EventRenewalFailed, userID, map[string]any{"reason": "system_error"})
		return false
	}

	newEnd := AdvanceEnd(user.SubscriptionEnd, now, e.renewalDays)
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("subscription: begin tx for auto-renewal")
		return false
	}
	defer tx.Rollback()

	if err := e.store.ExtendSubscription(ctx, tx, userID, newEnd); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("subscription: extend failed")
		return false
	}
	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("subscription: commit failed")
		return false
	}
	if err := e.store.SetLastSubscriptionNotify(ctx, userID, nil); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("subscription: failed to clear notification bucket")
	}

	e.notifier.Notify(ctx, notify.EventRenewalSuccess, userID, map[string]any{
		"new_end": newEnd, "price": e.renewalPrice.String(), "balance": res.BalanceAfter.String(),
	})
	return true
}

// ExpiredSweep notifies once for every user whose subscription has already
// lapsed. It never mutates subscription_end — expiry is a pure
// moment-in-time comparison (§4.5).
func (e *Engine) ExpiredSweep(ctx context.Context, now time.Time) (int, error) {
	users, err := e.store.UsersWithExpiredSubscription(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, u := range users {
		e.notifier.Notify(ctx, notify.EventSubscriptionExpired, u.ID, nil)
	}
	return len(users), nil
}

// AdvanceEnd computes the new subscription_end per §4.4/§4.5: additive from
// the current end when it's still in the future, else from now.
func AdvanceEnd(current *time.Time, now time.Time, days int) time.Time {
	base := now
	if current != nil && current.After(now) {
		base = *current
	}
	return base.AddDate(0, 0, days)
}

// AdvanceEndByPeriod is AdvanceEnd generalized over a tariff's billing
// period granularity, used by the fee-first crediting leg of C5 (§4.4).
func AdvanceEndByPeriod(current *time.Time, now time.Time, unit store.PeriodUnit, value int) time.Time {
	base := now
	if current != nil && current.After(now) {
		base = *current
	}
	switch unit {
	case store.PeriodHour:
		return base.Add(time.Duration(value) * time.Hour)
	case store.PeriodMonth:
		return base.AddDate(0, value, 0)
	default:
		return base.AddDate(0, 0, value)
	}
}
