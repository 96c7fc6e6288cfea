package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"billingcore/internal/billingerr"
	"billingcore/internal/store"
)

func activeUser(balance decimal.Decimal) *store.User {
	end := time.Now().Add(30 * 24 * time.Hour)
	return &store.User{ID: 1001, Balance: balance, SubscriptionEnd: &end}
}

func TestValidateDebit_NonPositiveAmount(t *testing.T) {
	err := validateDebit(DebitContext{User: activeUser(decimal.NewFromInt(10)), Amount: decimal.Zero, Now: time.Now()})
	if _, ok := err.(*billingerr.ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
}

func TestValidateDebit_BlockedUser(t *testing.T) {
	u := activeUser(decimal.NewFromInt(10))
	u.IsBlocked = true
	err := validateDebit(DebitContext{User: u, Amount: decimal.NewFromInt(1), Now: time.Now()})
	if _, ok := err.(*billingerr.UserBlockedError); !ok {
		t.Fatalf("expected UserBlockedError, got %T: %v", err, err)
	}
}

func TestValidateDebit_RequiresSubscription(t *testing.T) {
	u := &store.User{ID: 1001, Balance: decimal.NewFromInt(10)}
	err := validateDebit(DebitContext{User: u, Amount: decimal.NewFromInt(1), RequireSubscription: true, Now: time.Now()})
	if _, ok := err.(*billingerr.SubscriptionExpiredError); !ok {
		t.Fatalf("expected SubscriptionExpiredError, got %T: %v", err, err)
	}
}

func TestValidateDebit_HardRefusalWithoutOverdraft(t *testing.T) {
	u := activeUser(decimal.NewFromInt(5))
	err := validateDebit(DebitContext{User: u, Amount: decimal.NewFromInt(10), Now: time.Now()})
	if _, ok := err.(*billingerr.InsufficientBalanceError); !ok {
		t.Fatalf("expected InsufficientBalanceError, got %T: %v", err, err)
	}
}

func TestValidateDebit_OverdraftAllowedWithinFloor(t *testing.T) {
	u := activeUser(decimal.NewFromFloat(0.5))
	err := validateDebit(DebitContext{
		User: u, Amount: decimal.NewFromFloat(6.28), AllowOverdraft: true,
		OverdraftFloor: decimal.NewFromInt(1000), Now: time.Now(),
	})
	if err != nil {
		t.Fatalf("expected overdraft within floor to be permitted, got %v", err)
	}
}

func TestValidateDebit_OverdraftRefusedBeyondFloor(t *testing.T) {
	u := activeUser(decimal.NewFromInt(0))
	err := validateDebit(DebitContext{
		User: u, Amount: decimal.NewFromInt(2000), AllowOverdraft: true,
		OverdraftFloor: decimal.NewFromInt(1000), Now: time.Now(),
	})
	if _, ok := err.(*billingerr.InsufficientBalanceError); !ok {
		t.Fatalf("expected InsufficientBalanceError beyond floor, got %T: %v", err, err)
	}
}

func TestJitter_StaysRoughlyWithinBand(t *testing.T) {
	base := 40 * time.Millisecond
	for i := 0; i < 100; i++ {
		d := jitter(base)
		if d < 30*time.Millisecond || d > 50*time.Millisecond {
			t.Fatalf("jitter %v strayed outside expected band around %v", d, base)
		}
	}
}
