package billingerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrors_As(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"not_found", NewNotFoundError("user 1001 not found")},
		{"validation", NewValidationError("invoice is not pending")},
		{"insufficient_balance", NewInsufficientBalanceError("10.00", "4.50")},
		{"subscription_expired", NewSubscriptionExpiredError("subscription expired on 2026-01-01")},
		{"user_blocked", NewUserBlockedError("user 1001 is blocked")},
		{"concurrent_modification", NewConcurrentModificationError("balance changed, retry")},
		{"duplicate", NewDuplicateError("transaction already exists")},
		{"optimistic_lock", NewOptimisticLockError("zero rows affected")},
		{"payment", NewPaymentError("signature mismatch")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("operation failed: %w", tt.err)

			switch tt.err.(type) {
			case *NotFoundError:
				var target *NotFoundError
				if !errors.As(wrapped, &target) {
					t.Fatalf("errors.As failed for %T", tt.err)
				}
			case *ValidationError:
				var target *ValidationError
				if !errors.As(wrapped, &target) {
					t.Fatalf("errors.As failed for %T", tt.err)
				}
			case *InsufficientBalanceError:
				var target *InsufficientBalanceError
				if !errors.As(wrapped, &target) {
					t.Fatalf("errors.As failed for %T", tt.err)
				}
				if target.Required != "10.00" || target.Available != "4.50" {
					t.Errorf("unexpected shortfall fields: %+v", target)
				}
			case *SubscriptionExpiredError:
				var target *SubscriptionExpiredError
				if !errors.As(wrapped, &target) {
					t.Fatalf("errors.As failed for %T", tt.err)
				}
			case *UserBlockedError:
				var target *UserBlockedError
				if !errors.As(wrapped, &target) {
					t.Fatalf("errors.As failed for %T", tt.err)
				}
			case *ConcurrentModificationError:
				var target *ConcurrentModificationError
				if !errors.As(wrapped, &target) {
					t.Fatalf("errors.As failed for %T", tt.err)
				}
			case *DuplicateError:
				var target *DuplicateError
				if !errors.As(wrapped, &target) {
					t.Fatalf("errors.As failed for %T", tt.err)
				}
			case *OptimisticLockError:
				var target *OptimisticLockError
				if !errors.As(wrapped, &target) {
					t.Fatalf("errors.As failed for %T", tt.err)
				}
			case *PaymentError:
				var target *PaymentError
				if !errors.As(wrapped, &target) {
					t.Fatalf("errors.As failed for %T", tt.err)
				}
			}
		})
	}
}

func TestInsufficientBalanceError_Message(t *testing.T) {
	err := NewInsufficientBalanceError("6.28", "0.50")
	want := "insufficient_balance: need 6.28, have 0.50"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestErrorCodes_AreStable(t *testing.T) {
	cases := map[Code]string{
		CodeNotFound:               "not_found",
		CodeValidation:             "validation_error",
		CodeInsufficientBalance:    "insufficient_balance",
		CodeSubscriptionExpired:    "subscription_expired",
		CodeUserBlocked:            "user_blocked",
		CodeConcurrentModification: "concurrent_modification",
		CodeDuplicate:              "duplicate",
		CodeOptimisticLock:         "optimistic_lock",
		CodePayment:                "payment_error",
	}
	for code, want := range cases {
		if string(code) != want {
			t.Errorf("code %v changed stable string value, got %q want %q", code, string(code), want)
		}
	}
}
