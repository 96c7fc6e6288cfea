// Package ledger implements the balance engine (C2): optimistic-concurrency
// balance mutation, an append-only transaction log, and idempotent
// credit/debit primitives.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"billingcore/internal/billingerr"
	"billingcore/internal/metrics"
	"billingcore/internal/store"
)

// retryDelays is the fixed jittered backoff schedule for optimistic-lock
// retries: 10ms, 40ms, 160ms.
var retryDelays = []time.Duration{10 * time.Millisecond, 40 * time.Millisecond, 160 * time.Millisecond}

// Ledger wraps the entity store with C2's balance-mutation primitives.
type Ledger struct {
	store *store.Store
}

// New builds a Ledger over an initialized store.
func New(s *store.Store) *Ledger {
	return &Ledger{store: s}
}

// Result is the outcome of a committed credit/debit.
type Result struct {
	BalanceAfter  decimal.Decimal
	TransactionID uuid.UUID
	Replayed      bool
}

// mutationParams describes one credit or debit attempt, signed so Credit
// and Debit share a single implementation.
type mutationParams struct {
	UserID              int64
	Delta               decimal.Decimal // signed: positive for credit, negative for debit
	Type                store.TransactionType
	Description         string
	InvoiceID           *uuid.UUID
	IdempotencyKey      *string
	Metadata            map[string]any
	RequireSubscription bool
	AllowOverdraft      bool
	OverdraftFloor      decimal.Decimal
}

// Credit adds amount to the user's balance, recording a ledger entry. It
// never fails on balance guards (only on store errors), matching §4.1.
func (l *Ledger) Credit(ctx context.Context, userID int64, amount decimal.Decimal, txType store.TransactionType, description string, invoiceID *uuid.UUID, idempotencyKey *string, metadata map[string]any) (*Result, error) {
	if amount.Sign() <= 0 {
		return nil, billingerr.NewValidationError("credit amount must be positive")
	}
	return l.mutate(ctx, mutationParams{
		UserID: userID, Delta: amount, Type: txType, Description: description,
		InvoiceID: invoiceID, IdempotencyKey: idempotencyKey, Metadata: metadata,
	})
}

// Debit subtracts amount from the user's balance. allowOverdraft lets the
// caller (e.g. deferred task billing) declare that crossing into negative
// balance down to the configured floor is acceptable; callers that must
// never overdraw (e.g. the Token API's /spend) pass false.
func (l *Ledger) Debit(ctx context.Context, userID int64, amount decimal.Decimal, txType store.TransactionType, description string, invoiceID *uuid.UUID, idempotencyKey *string, metadata map[string]any, requireSubscription, allowOverdraft bool, overdraftFloor decimal.Decimal) (*Result, error) {
	if amount.Sign() <= 0 {
		return nil, billingerr.NewValidationError("debit amount must be positive")
	}
	return l.mutate(ctx, mutationParams{
		UserID: userID, Delta: amount.Neg(), Type: txType, Description: description,
		InvoiceID: invoiceID, IdempotencyKey: idempotencyKey, Metadata: metadata,
		RequireSubscription: requireSubscription, AllowOverdraft: allowOverdraft, OverdraftFloor: overdraftFloor,
	})
}

func (l *Ledger) mutate(ctx context.Context, p mutationParams) (*Result, error) {
	start := time.Now()
	kind := string(p.Type)

	// Idempotency pre-check, outside any transaction: a replay is a pure read.
	if p.IdempotencyKey != nil {
		existing, err := l.store.GetTransactionByIdempotencyKey(ctx, *p.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("ledger: idempotency lookup: %w", err)
		}
		if existing != nil {
			log.Info().Str("idempotency_key", *p.IdempotencyKey).Str("transaction_id", existing.ID.String()).Msg("ledger: returning existing transaction")
			metrics.RecordLedgerMutation(kind, "replayed", time.Since(start).Seconds())
			return &Result{BalanceAfter: existing.BalanceAfter, TransactionID: existing.ID, Replayed: true}, nil
		}
	}

	var result *Result
	var lastErr error

	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		result, lastErr = l.attempt(ctx, p)
		if lastErr == nil {
			metrics.RecordLedgerMutation(kind, "ok", time.Since(start).Seconds())
			return result, nil
		}

		var optimistic *billingerr.OptimisticLockError
		if !errors.As(lastErr, &optimistic) {
			metrics.RecordLedgerMutation(kind, "error", time.Since(start).Seconds())
			return nil, lastErr
		}

		metrics.LedgerConcurrentModifications.Inc()
		if attempt == len(retryDelays) {
			break
		}
		delay := jitter(retryDelays[attempt])
		log.Warn().Int("attempt", attempt+1).Dur("delay", delay).Int64("user_id", p.UserID).Msg("ledger: optimistic lock conflict, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			metrics.RecordLedgerMutation(kind, "error", time.Since(start).Seconds())
			return nil, ctx.Err()
		}
	}

	metrics.RecordLedgerMutation(kind, "concurrent_modification", time.Since(start).Seconds())
	return nil, billingerr.NewConcurrentModificationError("balance was modified by another request, please retry")
}

func (l *Ledger) attempt(ctx context.Context, p mutationParams) (*Result, error) {
	tx, err := l.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback()

	user, err := l.store.GetUserForUpdate(ctx, tx, p.UserID)
	if err != nil {
		return nil, err
	}

	if p.Delta.IsNegative() {
		if err := validateDebit(DebitContext{
			User: user, Amount: p.Delta.Neg(), RequireSubscription: p.RequireSubscription,
			AllowOverdraft: p.AllowOverdraft, OverdraftFloor: p.OverdraftFloor, Now: time.Now(),
		}); err != nil {
			return nil, err
		}
	}

	newBalance, _, err := l.store.UpdateBalanceConditional(ctx, tx, p.UserID, p.Delta, user.BalanceVersion)
	if err != nil {
		return nil, err
	}

	txID := uuid.New()
	txn := &store.Transaction{
		ID: txID, UserID: p.UserID, Type: p.Type, TokensDelta: p.Delta,
		BalanceAfter: newBalance, Description: p.Description, InvoiceID: p.InvoiceID,
		Metadata: p.Metadata, IdempotencyKey: p.IdempotencyKey, CreatedAt: time.Now(),
	}

	if err := l.store.InsertTransaction(ctx, tx, txn); err != nil {
		if store.IsUniqueViolation(err) && p.IdempotencyKey != nil {
			// Lost the race to a concurrent identical request; replay its result.
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				return nil, fmt.Errorf("ledger: rollback after idempotency race: %w", rbErr)
			}
			existing, lookupErr := l.store.GetTransactionByIdempotencyKey(ctx, *p.IdempotencyKey)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if existing == nil {
				return nil, fmt.Errorf("ledger: idempotency race with no resulting transaction")
			}
			return &Result{BalanceAfter: existing.BalanceAfter, TransactionID: existing.ID, Replayed: true}, nil
		}
		return nil, fmt.Errorf("ledger: insert transaction: %w", err)
	}

	if (p.Delta.IsNegative() && newBalance.IsNegative()) && p.AllowOverdraft {
		log.Warn().Int64("user_id", p.UserID).Str("balance", newBalance.String()).Msg("ledger: debit crossed into overdraft")
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("ledger: commit: %w", err)
	}

	log.Debug().Int64("user_id", p.UserID).Str("kind", string(p.Type)).Str("delta", p.Delta.String()).Str("balance_after", newBalance.String()).Msg("ledger mutation committed")

	if p.Delta.IsPositive() {
		if err := l.store.SetLastBalanceNotify(ctx, p.UserID, nil); err != nil {
			log.Warn().Err(err).Int64("user_id", p.UserID).Msg("ledger: failed to clear balance notification threshold")
		}
	}

	return &Result{BalanceAfter: newBalance, TransactionID: txID}, nil
}

func jitter(base time.Duration) time.Duration {
	// +/- 20% jitter around the fixed schedule.
	spread := int64(base) / 5
	offset := rand.Int63n(2*spread+1) - spread
	return base + time.Duration(offset)
}
