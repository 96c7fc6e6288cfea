// Package billingerr defines the typed error taxonomy shared by every
// billing component. Each kind carries a stable string code so the Token
// API and webhook handlers can translate it to the right HTTP status and
// error envelope without string-matching messages.
package billingerr

import "fmt"

// Code is a stable machine-readable error identifier.
type Code string

const (
	CodeNotFound              Code = "not_found"
	CodeValidation            Code = "validation_error"
	CodeInsufficientBalance   Code = "insufficient_balance"
	CodeSubscriptionExpired   Code = "subscription_expired"
	CodeUserBlocked           Code = "user_blocked"
	CodeConcurrentModification Code = "concurrent_modification"
	CodeDuplicate             Code = "duplicate"
	CodeOptimisticLock        Code = "optimistic_lock"
	CodePayment               Code = "payment_error"
)

// Error is the common shape for every typed billing error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// BaseError names Error for embedding: an embedded field called BaseError
// does not shadow the promoted Error method, so every kind below is an error.
type BaseError = Error

// NotFoundError reports a missing entity (user, tariff, invoice, promo).
type NotFoundError struct{ *BaseError }

func NewNotFoundError(message string) *NotFoundError {
	return &NotFoundError{&Error{Code: CodeNotFound, Message: message}}
}

// ValidationError reports a broken input contract: invalid promo, invoice
// not pending, malformed request body, and similar caller mistakes.
type ValidationError struct{ *BaseError }

func NewValidationError(message string) *ValidationError {
	return &ValidationError{&Error{Code: CodeValidation, Message: message}}
}

// InsufficientBalanceError carries the shortfall so callers can render it.
type InsufficientBalanceError struct {
	*BaseError
	Required  string
	Available string
}

func NewInsufficientBalanceError(required, available string) *InsufficientBalanceError {
	return &InsufficientBalanceError{
		BaseError: &Error{Code: CodeInsufficientBalance, Message: fmt.Sprintf("need %s, have %s", required, available)},
		Required:  required,
		Available: available,
	}
}

// SubscriptionExpiredError reports that the caller has no active subscription.
type SubscriptionExpiredError struct{ *BaseError }

func NewSubscriptionExpiredError(message string) *SubscriptionExpiredError {
	return &SubscriptionExpiredError{&Error{Code: CodeSubscriptionExpired, Message: message}}
}

// UserBlockedError reports that the user has been administratively blocked.
type UserBlockedError struct{ *BaseError }

func NewUserBlockedError(message string) *UserBlockedError {
	return &UserBlockedError{&Error{Code: CodeUserBlocked, Message: message}}
}

// ConcurrentModificationError is the caller-visible surfacing of an
// exhausted optimistic-lock retry.
type ConcurrentModificationError struct{ *BaseError }

func NewConcurrentModificationError(message string) *ConcurrentModificationError {
	return &ConcurrentModificationError{&Error{Code: CodeConcurrentModification, Message: message}}
}

// DuplicateError reports an idempotency-key replay that short-circuited to
// the pre-existing record.
type DuplicateError struct{ *BaseError }

func NewDuplicateError(message string) *DuplicateError {
	return &DuplicateError{&Error{Code: CodeDuplicate, Message: message}}
}

// OptimisticLockError is internal to the ledger: it signals that a
// conditional UPDATE affected zero rows and the caller should retry. It is
// never returned across a package boundary unwrapped — C2 either retries it
// or converts it to ConcurrentModificationError.
type OptimisticLockError struct{ *BaseError }

func NewOptimisticLockError(message string) *OptimisticLockError {
	return &OptimisticLockError{&Error{Code: CodeOptimisticLock, Message: message}}
}

// PaymentError reports a gateway-level protocol error: signature mismatch,
// amount mismatch, unknown provider.
type PaymentError struct{ *BaseError }

func NewPaymentError(message string) *PaymentError {
	return &PaymentError{&Error{Code: CodePayment, Message: message}}
}
