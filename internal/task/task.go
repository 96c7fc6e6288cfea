// Package task implements the task billing coordinator (C7): admission
// checks against the ledger's read model, a circuit-breaker-wrapped
// streaming proxy to the compute service, and deferred post-success debit.
package task

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"billingcore/internal/billingerr"
	"billingcore/internal/cache"
	"billingcore/internal/circuitbreaker"
	"billingcore/internal/ledger"
	"billingcore/internal/notify"
	"billingcore/internal/store"
	"billingcore/internal/tracing"
)

// maxLineBytes bounds a single SSE line, matching §4.6's 1 MiB chunk limit.
const maxLineBytes = 1 << 20

// RecordType enumerates the compute-service stream's tagged records (§4.6).
type RecordType string

const (
	RecordProgress   RecordType = "progress"
	RecordBotOutput  RecordType = "bot_output"
	RecordTrackCost  RecordType = "track_cost"
	RecordComplete   RecordType = "complete"
	RecordDone       RecordType = "done"
	RecordError      RecordType = "error"
	RecordCancelled  RecordType = "cancelled"
)

func (t RecordType) terminal() bool {
	switch t {
	case RecordComplete, RecordDone, RecordError, RecordCancelled:
		return true
	default:
		return false
	}
}

// Record is one line-delimited JSON event from the compute-service stream.
type Record struct {
	Type       RecordType      `json:"type"`
	OutputType string          `json:"output_type,omitempty"`
	Content    string          `json:"content,omitempty"`
	Filename   *string         `json:"filename,omitempty"`
	Caption    *string         `json:"caption,omitempty"`
	Format     string          `json:"format,omitempty"`
	TaskID     string          `json:"task_id,omitempty"`
	TotalCost  *float64        `json:"total_cost,omitempty"`
	Currency   string          `json:"currency,omitempty"`
	APICalls   *int            `json:"api_calls,omitempty"`
	TotalToken *int            `json:"total_tokens,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

// fallbackCost is used when the terminal record arrives without a prior
// track_cost trailer (§4.6's ordering guarantee violation path).
const fallbackCost = 1.0

// Coordinator drives admission, streaming, and deferred billing for one
// task run.
type Coordinator struct {
	store      *store.Store
	ledger     *ledger.Ledger
	cache      *cache.RedisCache
	notifier   notify.Notifier
	breaker    *circuitbreaker.Breaker
	httpClient *http.Client

	baseURL        string
	apiKey         string
	costMultiplier decimal.Decimal
	overdraftFloor decimal.Decimal
}

// Config carries the coordinator's tunables, sourced from internal/config.
type Config struct {
	BaseURL        string
	APIKey         string
	CostMultiplier decimal.Decimal
	OverdraftFloor decimal.Decimal
	Timeout        time.Duration
}

// New builds a Coordinator.
func New(s *store.Store, l *ledger.Ledger, c *cache.RedisCache, n notify.Notifier, cfg Config) *Coordinator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Coordinator{
		store: s, ledger: l, cache: c, notifier: n,
		breaker:        circuitbreaker.New(circuitbreaker.DefaultConfig("compute-service")),
		httpClient:     &http.Client{Timeout: timeout},
		baseURL:        cfg.BaseURL,
		apiKey:         cfg.APIKey,
		costMultiplier: cfg.CostMultiplier,
		overdraftFloor: cfg.OverdraftFloor,
	}
}

// CheckAdmission implements §4.6's admission guard: user not blocked,
// subscription active, balance ≥ 0. It returns a billingerr typed error
// describing the first failing check.
func (c *Coordinator) CheckAdmission(ctx context.Context, userID int64, now time.Time) (*store.User, error) {
	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.IsBlocked {
		return nil, billingerr.NewUserBlockedError("user is blocked")
	}
	if !user.SubscriptionActive(now) {
		return nil, billingerr.NewSubscriptionExpiredError("no active subscription")
	}
	if user.Balance.IsNegative() {
		return nil, billingerr.NewInsufficientBalanceError("0", user.Balance.String())
	}
	return user, nil
}

// Emit is the callback the caller supplies to forward bot_output records (and
// the terminal record) to the chat layer, in upstream order.
type Emit func(Record)

// Run performs admission, opens the upstream stream through the circuit
// breaker, re-emits bot_output/terminal records to emit in order, and on a
// successful terminal record performs the deferred debit. It never returns
// an error for a billing failure on an already-delivered task — per §4.6
// step 4 the task result stands regardless.
func (c *Coordinator) Run(ctx context.Context, userID int64, endpoint string, body io.Reader, taskID string, emit Emit) error {
	now := time.Now()
	if _, err := c.CheckAdmission(ctx, userID, now); err != nil {
		return err
	}

	resp, err := c.openStream(ctx, endpoint, body)
	if err != nil {
		emit(Record{Type: RecordError, Content: err.Error()})
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		rec := Record{Type: RecordError, Content: fmt.Sprintf("compute service returned HTTP %d", resp.StatusCode)}
		emit(rec)
		return billingerr.NewPaymentError(rec.Content)
	}

	var trackedCost *float64
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if c.cache != nil && c.cache.CheckTaskCancel(ctx, taskID) {
			emit(Record{Type: RecordCancelled, TaskID: taskID})
			c.clearCancelFlag(ctx, taskID)
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		var rec Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			log.Warn().Err(err).Str("task_id", taskID).Msg("task: malformed stream record, skipping")
			continue
		}

		switch rec.Type {
		case RecordProgress:
			continue
		case RecordTrackCost:
			trackedCost = rec.TotalCost
			continue
		case RecordBotOutput:
			emit(rec)
			continue
		}

		if rec.terminal() {
			emit(rec)
			c.clearCancelFlag(ctx, taskID)
			if rec.Type == RecordComplete || rec.Type == RecordDone {
				c.debitOnSuccess(ctx, userID, taskID, trackedCost)
			}
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		emit(Record{Type: RecordError, Content: "stream read failed"})
		return fmt.Errorf("task: stream read: %w", err)
	}
	return nil
}

func (c *Coordinator) openStream(ctx context.Context, endpoint string, body io.Reader) (*http.Response, error) {
	ctx, span := tracing.ServiceSpan(ctx, "compute-service", endpoint)
	defer span.End()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-API-Key", c.apiKey)
		return c.httpClient.Do(req)
	})
	if err != nil {
		if err == circuitbreaker.ErrCircuitOpen {
			return nil, billingerr.NewPaymentError("compute service temporarily unavailable")
		}
		return nil, fmt.Errorf("task: compute service request: %w", err)
	}
	return result.(*http.Response), nil
}

func (c *Coordinator) clearCancelFlag(ctx context.Context, taskID string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.ClearTaskCancel(ctx, taskID); err != nil {
		log.Warn().Err(err).Str("task_id", taskID).Msg("task: failed to clear cancel flag")
	}
}

// debitOnSuccess implements §4.6's deferred debit. Billing failure is
// logged and swallowed: the task result was already delivered to the user.
func (c *Coordinator) debitOnSuccess(ctx context.Context, userID int64, taskID string, trackedCost *float64) {
	rawCost := fallbackCost
	multiplier := decimal.NewFromFloat(1.0)
	if trackedCost != nil {
		rawCost = *trackedCost
		multiplier = c.costMultiplier
	}

	raw := decimal.NewFromFloat(rawCost)
	final := raw.Mul(multiplier).Round(2)
	if final.Sign() <= 0 {
		return
	}

	description := fmt.Sprintf("Списание за выполненную задачу #%s", taskID)
	metadata := map[string]any{
		"raw": raw.String(), "multiplier": multiplier.String(), "final": final.String(), "task_id": taskID,
	}

	res, err := c.ledger.Debit(ctx, userID, final, store.TransactionSpend, description, nil, nil, metadata,
		false, true, c.overdraftFloor)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Str("task_id", taskID).Msg("task: deferred debit failed, task result already delivered")
		return
	}

	c.maybeNotifyLowBalance(ctx, userID, res.BalanceAfter)
}

func (c *Coordinator) maybeNotifyLowBalance(ctx context.Context, userID int64, balanceAfter decimal.Decimal) {
	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return
	}
	balance, _ := balanceAfter.Float64()
	threshold := notify.NextBalanceThreshold(balance, notify.DefaultBalanceThresholds, user.LastBalanceNotify)
	if threshold == nil {
		return
	}
	if err := c.store.SetLastBalanceNotify(ctx, userID, threshold); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("task: failed to persist balance-notify threshold")
		return
	}
	c.notifier.Notify(ctx, notify.EventLowBalance, userID, map[string]any{"balance": balanceAfter.String(), "threshold": *threshold})
}
