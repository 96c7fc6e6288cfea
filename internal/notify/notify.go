// Package notify implements the notifier (C8): fire-and-forget outbound
// dispatch to the chat layer. Unlike the teacher's webhooks package this
// carries no retry queue — a failed delivery is logged and swallowed, never
// retried, matching §7's propagation policy for the notification channel.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultBalanceThresholds is the descending low-balance threshold set from
// §4.7/§8 ({50, 20, 10, 5}), used by C7's post-debit notification check.
var DefaultBalanceThresholds = []int{50, 20, 10, 5}

// Event names emitted by C6/C7's sweeps and the payment orchestrator.
const (
	EventSubscriptionExpiring Event = "subscription_expiring"
	EventSubscriptionExpired  Event = "subscription_expired"
	EventRenewalSuccess       Event = "renewal_success"
	EventRenewalFailed        Event = "renewal_failed"
	EventPaymentReceived      Event = "payment_received"
	EventLowBalance           Event = "low_balance"
)

// Event identifies the kind of notification being dispatched.
type Event string

// Notifier dispatches a single notification. Implementations must not block
// the caller's transaction and must never return an error that the caller is
// expected to act on — failures are logged internally.
type Notifier interface {
	Notify(ctx context.Context, event Event, userID int64, data map[string]any)
}

// HTTPNotifier posts notifications to the chat layer's inbound webhook.
// baseURL empty disables dispatch entirely (useful for tests and for
// deployments that don't wire a chat layer at all).
type HTTPNotifier struct {
	baseURL string
	client  *http.Client
}

// New builds an HTTPNotifier. baseURL is the chat layer's inbound endpoint;
// empty disables dispatch.
func New(baseURL string) *HTTPNotifier {
	return &HTTPNotifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

type payload struct {
	Event     Event          `json:"event"`
	UserID    int64          `json:"user_id"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notify posts the event and swallows any failure, per §7's propagation
// policy ("Outbound-channel errors are swallowed by the notifier").
func (n *HTTPNotifier) Notify(ctx context.Context, event Event, userID int64, data map[string]any) {
	if n.baseURL == "" {
		return
	}

	body, err := json.Marshal(payload{Event: event, UserID: userID, Data: data, Timestamp: time.Now()})
	if err != nil {
		log.Warn().Err(err).Str("event", string(event)).Int64("user_id", userID).Msg("notify: failed to encode payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL, bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Str("event", string(event)).Msg("notify: failed to build request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("event", string(event)).Int64("user_id", userID).Msg("notify: dispatch failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Warn().Str("event", string(event)).Int64("user_id", userID).Int("status", resp.StatusCode).Msg("notify: non-2xx response")
	}
}

// NoopNotifier discards every event; used where no chat layer is configured.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, Event, int64, map[string]any) {}

var _ Notifier = (*HTTPNotifier)(nil)
var _ Notifier = NoopNotifier{}
var _ fmt.Stringer = Event("")

// String satisfies fmt.Stringer so events print cleanly in log fields.
func (e Event) String() string { return string(e) }

// NextBalanceThreshold computes which configured low-balance threshold (if
// any) a debit newly crossed, implementing §8's dedupe invariant: thresholds
// fire in descending order, each at most once per "decline episode"; a
// credit that pushes the balance back above the highest threshold clears
// the episode (callers reset lastNotified to nil on credit) so the full
// sequence can fire again on a subsequent decline.
//
// thresholds must be sorted descending (e.g. [50, 20, 10, 5]). lastNotified
// is the smallest threshold already sent this episode, or nil.
func NextBalanceThreshold(balance float64, thresholds []int, lastNotified *int) *int {
	for _, t := range thresholds {
		if balance > float64(t) {
			continue
		}
		if lastNotified != nil && *lastNotified <= t {
			continue
		}
		threshold := t
		return &threshold
	}
	return nil
}
