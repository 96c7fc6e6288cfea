package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"billingcore/internal/billingerr"
)

// Store is the Postgres-backed entity store for C1. It owns schema
// bootstrap and every repository method the rest of the core needs; unlike
// the teacher's per-entity repository split, billing keeps all of it on one
// type since every table here shares one transactional domain (the ledger).
type Store struct {
	db *sql.DB
}

// New opens the schema against an already-connected *sql.DB.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.init(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			username TEXT,
			first_name TEXT,
			last_name TEXT,
			balance NUMERIC(14,2) NOT NULL DEFAULT 0,
			balance_version BIGINT NOT NULL DEFAULT 0,
			subscription_end TIMESTAMPTZ,
			is_blocked BOOLEAN NOT NULL DEFAULT FALSE,
			auto_renew BOOLEAN NOT NULL DEFAULT FALSE,
			last_subscription_notification INTEGER,
			last_balance_notification INTEGER,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS tariffs (
			id UUID PRIMARY KEY,
			slug TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			price NUMERIC(10,2) NOT NULL CHECK (price > 0),
			tokens BIGINT NOT NULL CHECK (tokens >= 0),
			period_unit TEXT NOT NULL,
			period_value INTEGER NOT NULL CHECK (period_value > 0),
			subscription_fee BIGINT NOT NULL DEFAULT 0 CHECK (subscription_fee >= 0),
			min_payment NUMERIC(10,2) NOT NULL CHECK (min_payment > 0),
			sort_order INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			version INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS promo_codes (
			id UUID PRIMARY KEY,
			code TEXT UNIQUE NOT NULL,
			discount_type TEXT NOT NULL,
			discount_value NUMERIC(10,2) NOT NULL CHECK (discount_value > 0),
			max_uses BIGINT,
			uses_count BIGINT NOT NULL DEFAULT 0 CHECK (uses_count >= 0),
			valid_from TIMESTAMPTZ NOT NULL,
			valid_until TIMESTAMPTZ,
			tariff_id UUID REFERENCES tariffs(id),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS promo_activations (
			id UUID PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			tariff_id UUID NOT NULL REFERENCES tariffs(id),
			promo_code_id UUID NOT NULL REFERENCES promo_codes(id),
			activated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			tokens_credited BIGINT NOT NULL DEFAULT 0,
			subscription_days_added INTEGER NOT NULL DEFAULT 0,
			UNIQUE (user_id, tariff_id)
		);`,
		`CREATE TABLE IF NOT EXISTS invoices (
			id UUID PRIMARY KEY,
			gateway_ref BIGINT UNIQUE NOT NULL,
			user_id BIGINT NOT NULL REFERENCES users(id),
			tariff_id UUID NOT NULL REFERENCES tariffs(id),
			promo_code_id UUID REFERENCES promo_codes(id),
			amount NUMERIC(10,2) NOT NULL CHECK (amount > 0),
			original_amount NUMERIC(10,2) NOT NULL,
			tokens BIGINT NOT NULL,
			subscription_days INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			idempotency_key TEXT UNIQUE NOT NULL,
			payment_url TEXT,
			paid_at TIMESTAMPTZ,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_expires_pending ON invoices (expires_at) WHERE status = 'pending';`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id UUID PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			type TEXT NOT NULL,
			tokens_delta NUMERIC(14,2) NOT NULL,
			balance_after NUMERIC(14,2) NOT NULL,
			description TEXT,
			invoice_id UUID REFERENCES invoices(id),
			metadata JSONB,
			idempotency_key TEXT UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions (user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions (created_at);`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id BIGSERIAL PRIMARY KEY,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			user_id BIGINT,
			old_value JSONB,
			new_value JSONB,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: schema init: %w", err)
		}
	}
	return nil
}

// DB exposes the underlying handle for health checks and components (C5,
// C9) that need their own transactions spanning multiple store calls.
func (s *Store) DB() *sql.DB { return s.db }

// --- Users ---

// UpsertUser creates a user on first contact or is a no-op if it already
// exists, matching the bot's "first contact" upsert semantics.
func (s *Store) UpsertUser(ctx context.Context, id int64, username, firstName, lastName *string) (*User, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, first_name, last_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			updated_at = now()
	`, id, username, firstName, lastName)
	if err != nil {
		return nil, fmt.Errorf("store: upsert user: %w", err)
	}
	return s.GetUser(ctx, id)
}

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	if err := row.Scan(
		&u.ID, &u.Username, &u.FirstName, &u.LastName,
		&u.Balance, &u.BalanceVersion, &u.SubscriptionEnd, &u.IsBlocked, &u.AutoRenew,
		&u.LastSubscriptionNotify, &u.LastBalanceNotify, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &u, nil
}

const userColumns = `id, username, first_name, last_name, balance, balance_version,
	subscription_end, is_blocked, auto_renew, last_subscription_notification,
	last_balance_notification, created_at, updated_at`

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, billingerr.NewNotFoundError(fmt.Sprintf("user %d not found", id))
		}
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	return u, nil
}

// GetUserForUpdate fetches a user row with a row lock, for use inside a
// transaction that is about to mutate balance or subscription state.
func (s *Store) GetUserForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*User, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, billingerr.NewNotFoundError(fmt.Sprintf("user %d not found", id))
		}
		return nil, fmt.Errorf("store: get user for update: %w", err)
	}
	return u, nil
}

// UpdateBalanceConditional performs the optimistic conditional update that
// backs C2's ledger primitives. It returns billingerr.OptimisticLockError
// when zero rows matched the expected version.
func (s *Store) UpdateBalanceConditional(ctx context.Context, tx *sql.Tx, userID int64, delta decimal.Decimal, expectedVersion int64) (decimal.Decimal, int64, error) {
	row := tx.QueryRowContext(ctx, `
		UPDATE users
		SET balance = balance + $1, balance_version = balance_version + 1, updated_at = now()
		WHERE id = $2 AND balance_version = $3
		RETURNING balance, balance_version
	`, delta, userID, expectedVersion)

	var newBalance decimal.Decimal
	var newVersion int64
	if err := row.Scan(&newBalance, &newVersion); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, 0, billingerr.NewOptimisticLockError("balance_version mismatch")
		}
		return decimal.Zero, 0, fmt.Errorf("store: conditional balance update: %w", err)
	}
	return newBalance, newVersion, nil
}

// SetBlocked flips a user's is_blocked flag (administrative operation).
func (s *Store) SetBlocked(ctx context.Context, userID int64, blocked bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET is_blocked = $1, updated_at = now() WHERE id = $2`, blocked, userID)
	return err
}

// SetAutoRenew toggles the user's auto-renewal preference.
func (s *Store) SetAutoRenew(ctx context.Context, userID int64, autoRenew bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET auto_renew = $1, updated_at = now() WHERE id = $2`, autoRenew, userID)
	return err
}

// ExtendSubscription advances subscription_end within tx, used by C5/C6.
func (s *Store) ExtendSubscription(ctx context.Context, tx *sql.Tx, userID int64, newEnd time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE users SET subscription_end = $1, updated_at = now() WHERE id = $2`, newEnd, userID)
	return err
}

// SetLastSubscriptionNotify records the smallest expiry-notification bucket
// already sent, or clears it (nil) on renewal.
func (s *Store) SetLastSubscriptionNotify(ctx context.Context, userID int64, bucket *int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_subscription_notification = $1, updated_at = now() WHERE id = $2`, bucket, userID)
	return err
}

// SetLastBalanceNotify records (or clears) the low-balance threshold last sent.
func (s *Store) SetLastBalanceNotify(ctx context.Context, userID int64, threshold *int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_balance_notification = $1, updated_at = now() WHERE id = $2`, threshold, userID)
	return err
}

// UsersWithExpiringSubscription returns users whose subscription_end falls
// within (now, now+bucketDays].
func (s *Store) UsersWithExpiringSubscription(ctx context.Context, now time.Time, bucketDays int) ([]*User, error) {
	until := now.AddDate(0, 0, bucketDays)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE subscription_end > $1 AND subscription_end <= $2
	`, now, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

// UsersForAutoRenewal returns users with auto_renew set whose subscription
// ends within 1 day.
func (s *Store) UsersForAutoRenewal(ctx context.Context, now time.Time) ([]*User, error) {
	cutoff := now.AddDate(0, 0, 1)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE auto_renew = TRUE AND subscription_end IS NOT NULL AND subscription_end <= $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

// UsersWithExpiredSubscription returns users whose subscription has already
// lapsed as of now.
func (s *Store) UsersWithExpiredSubscription(ctx context.Context, now time.Time) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE subscription_end IS NOT NULL AND subscription_end <= $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

func scanUsers(rows *sql.Rows) ([]*User, error) {
	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// --- Tariffs ---

func scanTariff(row interface{ Scan(...any) error }) (*Tariff, error) {
	var t Tariff
	if err := row.Scan(
		&t.ID, &t.Slug, &t.Name, &t.Description, &t.Price, &t.Tokens,
		&t.PeriodUnit, &t.PeriodValue, &t.SubscriptionFee, &t.MinPayment,
		&t.SortOrder, &t.IsActive, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

const tariffColumns = `id, slug, name, description, price, tokens, period_unit,
	period_value, subscription_fee, min_payment, sort_order, is_active, version,
	created_at, updated_at`

// GetTariff fetches a tariff by id.
func (s *Store) GetTariff(ctx context.Context, id uuid.UUID) (*Tariff, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tariffColumns+` FROM tariffs WHERE id = $1`, id)
	t, err := scanTariff(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, billingerr.NewNotFoundError(fmt.Sprintf("tariff %s not found", id))
		}
		return nil, fmt.Errorf("store: get tariff: %w", err)
	}
	return t, nil
}

// GetTariffBySlug fetches a tariff by its unique URL slug.
func (s *Store) GetTariffBySlug(ctx context.Context, slug string) (*Tariff, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tariffColumns+` FROM tariffs WHERE slug = $1`, slug)
	t, err := scanTariff(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, billingerr.NewNotFoundError(fmt.Sprintf("tariff %q not found", slug))
		}
		return nil, fmt.Errorf("store: get tariff by slug: %w", err)
	}
	return t, nil
}

// ListActiveTariffs returns every selectable tariff, ordered for display.
func (s *Store) ListActiveTariffs(ctx context.Context) ([]*Tariff, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tariffColumns+` FROM tariffs WHERE is_active ORDER BY sort_order`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Tariff
	for rows.Next() {
		t, err := scanTariff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveTariff upserts a tariff (used by admin seeding, out of this core's
// HTTP surface but exercised by tests and migrations).
func (s *Store) SaveTariff(ctx context.Context, t *Tariff) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tariffs (id, slug, name, description, price, tokens, period_unit,
			period_value, subscription_fee, min_payment, sort_order, is_active, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			slug = EXCLUDED.slug, name = EXCLUDED.name, description = EXCLUDED.description,
			price = EXCLUDED.price, tokens = EXCLUDED.tokens, period_unit = EXCLUDED.period_unit,
			period_value = EXCLUDED.period_value, subscription_fee = EXCLUDED.subscription_fee,
			min_payment = EXCLUDED.min_payment, sort_order = EXCLUDED.sort_order,
			is_active = EXCLUDED.is_active, version = EXCLUDED.version, updated_at = now()
	`, t.ID, t.Slug, t.Name, t.Description, t.Price, t.Tokens, t.PeriodUnit,
		t.PeriodValue, t.SubscriptionFee, t.MinPayment, t.SortOrder, t.IsActive, t.Version)
	return err
}

// --- Promo codes ---

// SavePromoCode upserts a promo code (used by admin seeding and tests).
func (s *Store) SavePromoCode(ctx context.Context, p *PromoCode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO promo_codes (id, code, discount_type, discount_value, max_uses, uses_count,
			valid_from, valid_until, tariff_id, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code, discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value, max_uses = EXCLUDED.max_uses,
			uses_count = EXCLUDED.uses_count, valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until, tariff_id = EXCLUDED.tariff_id,
			is_active = EXCLUDED.is_active, updated_at = now()
	`, p.ID, p.Code, p.DiscountType, p.DiscountValue, p.MaxUses, p.UsesCount,
		p.ValidFrom, p.ValidUntil, p.TariffID, p.IsActive)
	return err
}

func scanPromoCode(row interface{ Scan(...any) error }) (*PromoCode, error) {
	var p PromoCode
	if err := row.Scan(
		&p.ID, &p.Code, &p.DiscountType, &p.DiscountValue, &p.MaxUses, &p.UsesCount,
		&p.ValidFrom, &p.ValidUntil, &p.TariffID, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

const promoColumns = `id, code, discount_type, discount_value, max_uses, uses_count,
	valid_from, valid_until, tariff_id, is_active, created_at, updated_at`

// GetPromoCodeByCode fetches a promo by its case-insensitive code.
func (s *Store) GetPromoCodeByCode(ctx context.Context, code string) (*PromoCode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+promoColumns+` FROM promo_codes WHERE lower(code) = lower($1)`, code)
	p, err := scanPromoCode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, billingerr.NewNotFoundError(fmt.Sprintf("promo code %q not found", code))
		}
		return nil, fmt.Errorf("store: get promo code: %w", err)
	}
	return p, nil
}

// IncrementPromoUses atomically increments uses_count and returns the new value.
func (s *Store) IncrementPromoUses(ctx context.Context, tx *sql.Tx, id uuid.UUID) (int64, error) {
	var uses int64
	err := tx.QueryRowContext(ctx, `
		UPDATE promo_codes SET uses_count = uses_count + 1, updated_at = now()
		WHERE id = $1
		RETURNING uses_count
	`, id).Scan(&uses)
	return uses, err
}

// HasPromoActivation reports whether (user, tariff) already has a recorded
// activation, enforcing the single-use-per-tariff-per-user invariant.
func (s *Store) HasPromoActivation(ctx context.Context, userID int64, tariffID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM promo_activations WHERE user_id = $1 AND tariff_id = $2)
	`, userID, tariffID).Scan(&exists)
	return exists, err
}

// RecordPromoActivation inserts a promo activation row within tx.
func (s *Store) RecordPromoActivation(ctx context.Context, tx *sql.Tx, a *PromoActivation) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO promo_activations (id, user_id, tariff_id, promo_code_id, tokens_credited, subscription_days_added)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (user_id, tariff_id) DO NOTHING
	`, a.ID, a.UserID, a.TariffID, a.PromoCodeID, a.TokensCredited, a.SubscriptionDaysAdded)
	return err
}

// --- Invoices ---

func scanInvoice(row interface{ Scan(...any) error }) (*Invoice, error) {
	var inv Invoice
	if err := row.Scan(
		&inv.ID, &inv.GatewayRef, &inv.UserID, &inv.TariffID, &inv.PromoCodeID,
		&inv.Amount, &inv.OriginalAmount, &inv.Tokens, &inv.SubscriptionDays,
		&inv.Status, &inv.IdempotencyKey, &inv.PaymentURL, &inv.PaidAt,
		&inv.ExpiresAt, &inv.CreatedAt, &inv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &inv, nil
}

const invoiceColumns = `id, gateway_ref, user_id, tariff_id, promo_code_id, amount,
	original_amount, tokens, subscription_days, status, idempotency_key,
	payment_url, paid_at, expires_at, created_at, updated_at`

// GetInvoice fetches an invoice by id.
func (s *Store) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, billingerr.NewNotFoundError(fmt.Sprintf("invoice %s not found", id))
		}
		return nil, fmt.Errorf("store: get invoice: %w", err)
	}
	return inv, nil
}

// GetInvoiceForUpdate fetches an invoice with a row lock for webhook processing.
func (s *Store) GetInvoiceForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*Invoice, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, billingerr.NewNotFoundError(fmt.Sprintf("invoice %s not found", id))
		}
		return nil, fmt.Errorf("store: get invoice for update: %w", err)
	}
	return inv, nil
}

// GetInvoiceByIdempotencyKey returns the invoice matching key, if any.
func (s *Store) GetInvoiceByIdempotencyKey(ctx context.Context, key string) (*Invoice, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE idempotency_key = $1`, key)
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, billingerr.NewNotFoundError("no invoice for idempotency key")
		}
		return nil, fmt.Errorf("store: get invoice by idempotency key: %w", err)
	}
	return inv, nil
}

// NextGatewayRef allocates the next monotone integer correlation id.
func (s *Store) NextGatewayRef(ctx context.Context, tx *sql.Tx) (int64, error) {
	var next int64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(gateway_ref), 0) + 1 FROM invoices`).Scan(&next)
	return next, err
}

// CreateInvoice persists a new pending invoice within tx.
func (s *Store) CreateInvoice(ctx context.Context, tx *sql.Tx, inv *Invoice) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO invoices (id, gateway_ref, user_id, tariff_id, promo_code_id, amount,
			original_amount, tokens, subscription_days, status, idempotency_key,
			payment_url, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, inv.ID, inv.GatewayRef, inv.UserID, inv.TariffID, inv.PromoCodeID, inv.Amount,
		inv.OriginalAmount, inv.Tokens, inv.SubscriptionDays, inv.Status, inv.IdempotencyKey,
		inv.PaymentURL, inv.ExpiresAt)
	return err
}

// TransitionInvoice moves an invoice to a new terminal status within tx.
func (s *Store) TransitionInvoice(ctx context.Context, tx *sql.Tx, id uuid.UUID, status InvoiceStatus, paidAt *time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE invoices SET status = $1, paid_at = $2, updated_at = now() WHERE id = $3
	`, status, paidAt, id)
	return err
}

// ExpirePendingBefore bulk-transitions pending invoices past their
// expires_at deadline and returns how many were affected.
func (s *Store) ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE invoices SET status = 'expired', updated_at = now()
		WHERE status = 'pending' AND expires_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Transactions ---

// GetTransactionByIdempotencyKey returns the existing transaction for key, if any.
func (s *Store) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, type, tokens_delta, balance_after, description, invoice_id,
			metadata, idempotency_key, created_at
		FROM transactions WHERE idempotency_key = $1
	`, key)
	return scanTransaction(row)
}

func scanTransaction(row interface{ Scan(...any) error }) (*Transaction, error) {
	var tr Transaction
	var metaRaw []byte
	if err := row.Scan(
		&tr.ID, &tr.UserID, &tr.Type, &tr.TokensDelta, &tr.BalanceAfter, &tr.Description,
		&tr.InvoiceID, &metaRaw, &tr.IdempotencyKey, &tr.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &tr.Metadata); err != nil {
			return nil, fmt.Errorf("store: decode transaction metadata: %w", err)
		}
	}
	return &tr, nil
}

// InsertTransaction appends one ledger entry within tx. If idempotencyKey is
// set and already present, the unique constraint violation is caught by the
// caller (C2), which re-reads the pre-existing row.
func (s *Store) InsertTransaction(ctx context.Context, tx *sql.Tx, tr *Transaction) error {
	var metaRaw []byte
	if tr.Metadata != nil {
		var err error
		metaRaw, err = json.Marshal(tr.Metadata)
		if err != nil {
			return fmt.Errorf("store: encode transaction metadata: %w", err)
		}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, type, tokens_delta, balance_after,
			description, invoice_id, metadata, idempotency_key, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, tr.ID, tr.UserID, tr.Type, tr.TokensDelta, tr.BalanceAfter, tr.Description,
		tr.InvoiceID, metaRaw, tr.IdempotencyKey, tr.CreatedAt)
	return err
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation: a lib/pq *pq.Error carrying SQLSTATE 23505.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return pqUniqueViolation(err)
}

// --- Audit logs ---

// InsertAuditLog appends one audit row, optionally within an existing tx (a
// nil tx runs it directly against the pool).
func (s *Store) InsertAuditLog(ctx context.Context, tx *sql.Tx, a *AuditLog) error {
	oldRaw, err := json.Marshal(a.OldValue)
	if err != nil {
		return err
	}
	newRaw, err := json.Marshal(a.NewValue)
	if err != nil {
		return err
	}
	metaRaw, err := json.Marshal(a.Metadata)
	if err != nil {
		return err
	}

	exec := func(q string, args ...any) error {
		if tx != nil {
			_, err := tx.ExecContext(ctx, q, args...)
			return err
		}
		_, err := s.db.ExecContext(ctx, q, args...)
		return err
	}

	return exec(`
		INSERT INTO audit_logs (action, entity_type, entity_id, user_id, old_value, new_value, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, a.Action, a.EntityType, a.EntityID, a.UserID, oldRaw, newRaw, metaRaw)
}

// BeginTx starts a new transaction on the default isolation level; callers
// (C2, C5, C6) run their multi-step units of work through it.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}
