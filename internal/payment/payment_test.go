package payment

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"billingcore/internal/store"
)

func TestRobokassaVerifier_ValidSignature(t *testing.T) {
	v := RobokassaVerifier{Password2: "secret"}
	amount := decimal.NewFromInt(200)
	gatewayRef := int64(1)

	data := fmt.Sprintf("%s:%d:%s", amount.StringFixed(2), gatewayRef, v.Password2)
	sum := md5.Sum([]byte(data))
	sig := strings.ToUpper(hex.EncodeToString(sum[:]))

	record := WebhookRecord{GatewayRef: gatewayRef, Amount: amount, Signature: sig}
	if !v.Verify(record) {
		t.Fatal("expected valid signature to verify")
	}
}

func TestRobokassaVerifier_InvalidSignature(t *testing.T) {
	v := RobokassaVerifier{Password2: "secret"}
	record := WebhookRecord{GatewayRef: 1, Amount: decimal.NewFromInt(200), Signature: "deadbeef"}
	if v.Verify(record) {
		t.Fatal("expected invalid signature to fail")
	}
}

func TestMockVerifier(t *testing.T) {
	v := MockVerifier{Secret: "test-secret"}
	if !v.Verify(WebhookRecord{Signature: "test-secret"}) {
		t.Fatal("expected matching secret to verify")
	}
	if v.Verify(WebhookRecord{Signature: "wrong"}) {
		t.Fatal("expected mismatched secret to fail")
	}
}

func TestCreditClassic_TokensAndBundledSubscriptionDays(t *testing.T) {
	now := time.Now()
	inv := &store.Invoice{GatewayRef: 42, Tokens: 150, SubscriptionDays: 10}
	user := &store.User{ID: 1}

	description, delta, newEnd, err := creditClassic(inv, user, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !delta.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("expected delta 150, got %v", delta)
	}
	if newEnd == nil {
		t.Fatal("expected subscription extension")
	}
	if description == "" {
		t.Fatal("expected non-empty description")
	}
}

func TestCreditClassic_NoSubscriptionBenefit(t *testing.T) {
	now := time.Now()
	inv := &store.Invoice{GatewayRef: 1, Tokens: 100}
	user := &store.User{ID: 1}

	_, delta, newEnd, err := creditClassic(inv, user, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !delta.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected delta 100, got %v", delta)
	}
	if newEnd != nil {
		t.Fatal("expected no subscription change")
	}
}

func TestCreditFeeFirst_ActivatesSubscriptionOnFirstTopup(t *testing.T) {
	now := time.Now()
	inv := &store.Invoice{GatewayRef: 1, Amount: decimal.NewFromInt(200)}
	user := &store.User{ID: 1001}
	tariff := &store.Tariff{ID: uuid.New(), SubscriptionFee: 100, PeriodUnit: store.PeriodDay, PeriodValue: 30}

	_, delta, newEnd, err := creditFeeFirst(inv, user, tariff, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !delta.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected remainder of 100 credited to balance, got %v", delta)
	}
	if newEnd == nil {
		t.Fatal("expected subscription to be activated")
	}
	want := now.AddDate(0, 0, 30)
	if newEnd.Sub(want) > time.Second || want.Sub(*newEnd) > time.Second {
		t.Fatalf("expected subscription end ~%v, got %v", want, *newEnd)
	}
}

func TestCreditFeeFirst_WholeAmountToBalanceWhenAlreadyActive(t *testing.T) {
	now := time.Now()
	end := now.Add(20 * 24 * time.Hour)
	inv := &store.Invoice{GatewayRef: 1, Amount: decimal.NewFromInt(200)}
	user := &store.User{ID: 1001, SubscriptionEnd: &end}
	tariff := &store.Tariff{ID: uuid.New(), SubscriptionFee: 100, PeriodUnit: store.PeriodDay, PeriodValue: 30}

	_, delta, newEnd, err := creditFeeFirst(inv, user, tariff, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !delta.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected whole amount 200 credited to balance, got %v", delta)
	}
	if newEnd != nil {
		t.Fatal("expected no subscription change when already active")
	}
}
