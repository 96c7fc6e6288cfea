// Package http implements the billing core's HTTP surface (§7): the
// payment-provider webhook endpoint and the bearer-authenticated Token API
// the bot backend calls for balance reads and spend debits.
package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"billingcore/internal/auth"
	"billingcore/internal/billingerr"
	"billingcore/internal/health"
	"billingcore/internal/ledger"
	"billingcore/internal/logger"
	"billingcore/internal/metrics"
	"billingcore/internal/payment"
	"billingcore/internal/ratelimit"
	"billingcore/internal/store"
	"billingcore/internal/task"
)

// Router wires every billing HTTP route onto a single http.ServeMux.
type Router struct {
	store        *store.Store
	ledger       *ledger.Ledger
	orchestrator *payment.Orchestrator
	coordinator  *task.Coordinator
	health       *health.Health
	limiter      *ratelimit.CallerRateLimiter
	verifiers    map[string]payment.Verifier
	apiSecret    string
	mux          *http.ServeMux
}

// Config carries the Router's dependencies. Verifiers maps a provider name
// (the `{provider}` path segment of POST /webhook/{provider}) to the
// Verifier that authenticates its callbacks.
type Config struct {
	Store        *store.Store
	Ledger       *ledger.Ledger
	Orchestrator *payment.Orchestrator
	Coordinator  *task.Coordinator
	Health       *health.Health
	Limiter      *ratelimit.CallerRateLimiter
	Verifiers    map[string]payment.Verifier
	APISecret    string
}

// NewRouter builds a Router and registers every route.
func NewRouter(cfg Config) *Router {
	r := &Router{
		store:        cfg.Store,
		ledger:       cfg.Ledger,
		orchestrator: cfg.Orchestrator,
		coordinator:  cfg.Coordinator,
		health:       cfg.Health,
		limiter:      cfg.Limiter,
		verifiers:    cfg.Verifiers,
		apiSecret:    cfg.APISecret,
		mux:          http.NewServeMux(),
	}
	r.routes()
	return r
}

// ServeHTTP lets Router itself stand in as the server's http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) routes() {
	r.mux.HandleFunc("POST /webhook/{provider}", r.handleWebhook)

	tokenAPI := http.NewServeMux()
	tokenAPI.HandleFunc("GET /api/v1/users/{id}/balance", r.handleGetBalance)
	tokenAPI.HandleFunc("POST /api/v1/users/{id}/spend", r.handleSpend)
	r.mux.Handle("/api/v1/", wrap(tokenAPI, logger.Middleware, metrics.Middleware, r.limiter.Middleware, auth.Middleware(r.apiSecret)))

	r.mux.HandleFunc("GET /health", r.handleHealth)
	r.mux.Handle("GET /health/detailed", r.health.Handler())
	r.mux.Handle("GET /ready", health.ReadyHandler(r.store.DB()))
}

// wrap composes middleware in the order given, outermost first.
func wrap(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWebhook implements the §7 webhook contract: form-urlencoded body,
// OK<InvId> plaintext on success, 400 on signature/protocol failure, 5xx on
// internal error.
func (r *Router) handleWebhook(w http.ResponseWriter, req *http.Request) {
	provider := req.PathValue("provider")
	verifier, ok := r.verifiers[provider]
	if !ok {
		http.Error(w, "unknown payment provider", http.StatusNotFound)
		return
	}

	if err := req.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}

	record, invID, err := parseWebhookForm(req)
	if err != nil {
		metrics.RecordWebhookProcessed(provider, "bad_request")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	_, err = r.orchestrator.ProcessWebhook(req.Context(), verifier, record)
	if err != nil {
		r.writeWebhookError(w, provider, err)
		return
	}

	metrics.RecordWebhookProcessed(provider, "ok")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK%d", invID)
}

func (r *Router) writeWebhookError(w http.ResponseWriter, provider string, err error) {
	var paymentErr *billingerr.PaymentError
	var notFoundErr *billingerr.NotFoundError
	switch {
	case asError(err, &paymentErr):
		metrics.RecordWebhookProcessed(provider, "rejected")
		http.Error(w, paymentErr.Message, http.StatusBadRequest)
	case asError(err, &notFoundErr):
		metrics.RecordWebhookProcessed(provider, "not_found")
		http.Error(w, notFoundErr.Message, http.StatusNotFound)
	default:
		metrics.RecordWebhookProcessed(provider, "error")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func parseWebhookForm(req *http.Request) (payment.WebhookRecord, int64, error) {
	outSum, err := decimal.NewFromString(req.FormValue("OutSum"))
	if err != nil {
		return payment.WebhookRecord{}, 0, fmt.Errorf("invalid OutSum")
	}
	invID, err := strconv.ParseInt(req.FormValue("InvId"), 10, 64)
	if err != nil {
		return payment.WebhookRecord{}, 0, fmt.Errorf("invalid InvId")
	}
	invoiceID, err := uuid.Parse(req.FormValue("Shp_invoice_id"))
	if err != nil {
		return payment.WebhookRecord{}, 0, fmt.Errorf("invalid Shp_invoice_id")
	}
	return payment.WebhookRecord{
		InvoiceID:  invoiceID,
		GatewayRef: invID,
		Amount:     outSum,
		Signature:  req.FormValue("SignatureValue"),
	}, invID, nil
}

// handleGetBalance implements GET /api/v1/users/{id}/balance.
func (r *Router) handleGetBalance(w http.ResponseWriter, req *http.Request) {
	userID, err := parseUserID(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_amount", err.Error())
		return
	}

	user, err := r.store.GetUser(req.Context(), userID)
	if err != nil {
		writeTypedError(w, err)
		return
	}

	now := time.Now()
	resp := map[string]any{
		"user_id":             user.ID,
		"token_balance":       user.Balance.String(),
		"subscription_active": user.SubscriptionActive(now),
		"subscription_end":    formatTime(user.SubscriptionEnd),
		"can_spend":           true,
	}
	if _, err := r.coordinator.CheckAdmission(req.Context(), userID, now); err != nil {
		resp["can_spend"] = false
		resp["reason"] = errorCode(err)
	}

	writeJSON(w, http.StatusOK, resp)
}

// spendRequest is the POST /api/v1/users/{id}/spend request body.
type spendRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

// handleSpend implements POST /api/v1/users/{id}/spend: a direct,
// never-overdraft debit gated on an active subscription, per §7.
func (r *Router) handleSpend(w http.ResponseWriter, req *http.Request) {
	userID, err := parseUserID(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_amount", err.Error())
		return
	}

	var body spendRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_amount", "malformed request body")
		return
	}
	if body.Amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_amount", "amount must be positive")
		return
	}

	user, err := r.store.GetUser(req.Context(), userID)
	if err != nil {
		writeTypedError(w, err)
		return
	}
	balanceBefore := user.Balance

	result, err := r.ledger.Debit(
		req.Context(), userID, body.Amount, store.TransactionSpend, body.Description,
		nil, body.IdempotencyKey, body.Metadata, true, false, decimal.Zero,
	)
	if err != nil {
		writeTypedError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transaction_id": result.TransactionID.String(),
		"tokens_spent":   body.Amount.String(),
		"balance_before": balanceBefore.String(),
		"balance_after":  result.BalanceAfter.String(),
	})
}

func parseUserID(req *http.Request) (int64, error) {
	id, err := strconv.ParseInt(req.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user id")
	}
	return id, nil
}

// writeTypedError maps a billingerr typed error to its documented HTTP
// status and {error, message} envelope.
func writeTypedError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	message := "internal error"

	var notFoundErr *billingerr.NotFoundError
	var validationErr *billingerr.ValidationError
	var insufficientErr *billingerr.InsufficientBalanceError
	var subscriptionErr *billingerr.SubscriptionExpiredError
	var blockedErr *billingerr.UserBlockedError
	var concurrentErr *billingerr.ConcurrentModificationError

	switch {
	case asError(err, &notFoundErr):
		status, code, message = http.StatusNotFound, "user_not_found", notFoundErr.Message
	case asError(err, &validationErr):
		status, code, message = http.StatusBadRequest, "invalid_amount", validationErr.Message
	case asError(err, &insufficientErr):
		status, code, message = http.StatusConflict, "insufficient_balance", insufficientErr.Message
	case asError(err, &subscriptionErr):
		status, code, message = http.StatusForbidden, "subscription_expired", subscriptionErr.Message
	case asError(err, &blockedErr):
		status, code, message = http.StatusForbidden, "user_blocked", blockedErr.Message
	case asError(err, &concurrentErr):
		status, code, message = http.StatusConflict, "concurrent_modification", concurrentErr.Message
	}

	writeError(w, status, code, message)
}

// errorCode extracts the stable billingerr code string for the balance
// endpoint's `reason` field, mirroring writeTypedError's classification.
func errorCode(err error) string {
	var notFoundErr *billingerr.NotFoundError
	var insufficientErr *billingerr.InsufficientBalanceError
	var subscriptionErr *billingerr.SubscriptionExpiredError
	var blockedErr *billingerr.UserBlockedError

	switch {
	case asError(err, &notFoundErr):
		return string(billingerr.CodeNotFound)
	case asError(err, &insufficientErr):
		return string(billingerr.CodeInsufficientBalance)
	case asError(err, &subscriptionErr):
		return string(billingerr.CodeSubscriptionExpired)
	case asError(err, &blockedErr):
		return string(billingerr.CodeUserBlocked)
	default:
		return "unknown"
	}
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// asError is a small errors.As helper that compares against a concrete
// billingerr pointer type, since every typed billing error embeds *Error
// and wraps via Unwrap rather than via fmt's %w chain here.
func asError[T error](err error, target *T) bool {
	for err != nil {
		if t, ok := err.(T); ok {
			*target = t
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
