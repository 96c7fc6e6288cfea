// Package payment implements the payment orchestrator (C5): webhook
// ingestion, pluggable signature verification, and exactly-once crediting.
package payment

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WebhookRecord is the parsed shape of one payment-provider callback,
// independent of the wire format the concrete provider uses.
type WebhookRecord struct {
	InvoiceID  uuid.UUID
	GatewayRef int64
	Amount     decimal.Decimal
	Signature  string
}

// Verifier authenticates a webhook record. The concrete scheme is
// provider-specific; the orchestrator only ever sees the boolean result
// (§4.4).
type Verifier interface {
	Name() string
	Verify(record WebhookRecord) bool
}

// MockVerifier backs a local test-payment page that posts the same shape as
// a real provider, with a single shared secret standing in for a signature.
type MockVerifier struct {
	Secret string
}

func (MockVerifier) Name() string { return "mock" }

func (v MockVerifier) Verify(record WebhookRecord) bool {
	return record.Signature == v.Secret
}

// RobokassaVerifier checks the MD5 signature Robokassa computes over
// OutSum:InvId:password2, hex-compared case-insensitively.
type RobokassaVerifier struct {
	Password2 string
}

func (RobokassaVerifier) Name() string { return "robokassa" }

func (v RobokassaVerifier) Verify(record WebhookRecord) bool {
	data := fmt.Sprintf("%s:%d:%s", formatAmount(record.Amount), record.GatewayRef, v.Password2)
	sum := md5.Sum([]byte(data))
	expected := hex.EncodeToString(sum[:])
	return strings.EqualFold(expected, record.Signature)
}

func formatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}
