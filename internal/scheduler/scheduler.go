// Package scheduler implements the scheduler driver (C10): a process-
// internal periodic trigger running the subscription and invoice sweeps on
// independent intervals, carrying no business logic of its own.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"billingcore/internal/invoice"
	"billingcore/internal/server"
	"billingcore/internal/subscription"
)

// Config carries the three sweep intervals.
type Config struct {
	ExpiryNotificationInterval time.Duration
	AutoRenewalInterval        time.Duration
	InvoiceExpiryInterval      time.Duration
}

// DefaultConfig returns sensible sweep cadences.
func DefaultConfig() Config {
	return Config{
		ExpiryNotificationInterval: time.Hour,
		AutoRenewalInterval:        time.Hour,
		InvoiceExpiryInterval:      5 * time.Minute,
	}
}

// Driver wires C6's two subscription sweeps and C4's invoice-expiry sweep
// onto an internal/server.WorkerPool. A sweep still running when its next
// tick arrives is left alone — time.Ticker drops the unclaimed tick rather
// than queuing it, which is exactly the "tick dropped, not queued" property
// §4.9 asks for.
type Driver struct {
	pool *server.WorkerPool
}

// New builds a Driver and registers all three sweeps. Call Start to begin
// running them and Stop (or the ShutdownHook) to cancel and drain.
func New(sub *subscription.Engine, inv *invoice.Service, cfg Config) *Driver {
	pool := server.NewWorkerPool()

	pool.AddWorker("expiry-notification-sweep", func(ctx context.Context) {
		runSweep(ctx, "expiry-notification-sweep", func() (int, error) {
			return sub.ExpiryNotificationSweep(ctx, time.Now())
		})
	}, cfg.ExpiryNotificationInterval)

	pool.AddWorker("auto-renewal-sweep", func(ctx context.Context) {
		start := time.Now()
		succeeded, failed, err := sub.AutoRenewalSweep(ctx, time.Now())
		if err != nil {
			log.Error().Err(err).Str("sweep", "auto-renewal-sweep").Dur("duration", time.Since(start)).Msg("scheduler: sweep failed")
			return
		}
		log.Info().Str("sweep", "auto-renewal-sweep").Int("succeeded", succeeded).Int("failed", failed).
			Dur("duration", time.Since(start)).Msg("scheduler: sweep completed")
	}, cfg.AutoRenewalInterval)

	pool.AddWorker("invoice-expiry-sweep", func(ctx context.Context) {
		runSweep(ctx, "invoice-expiry-sweep", func() (int64, error) {
			return inv.ExpireSweep(ctx, time.Now())
		})
	}, cfg.InvoiceExpiryInterval)

	return &Driver{pool: pool}
}

// Start begins running every registered sweep on its own ticker.
func (d *Driver) Start() { d.pool.Start() }

// Stop cancels every sweep and waits for in-flight runs to finish.
func (d *Driver) Stop() { d.pool.Stop() }

// ShutdownHook adapts Stop to internal/server.GracefulServer's shutdown-hook
// signature.
func (d *Driver) ShutdownHook() func(context.Context) error {
	return d.pool.ShutdownHook()
}

func runSweep[T int | int64](ctx context.Context, name string, fn func() (T, error)) {
	start := time.Now()
	count, err := fn()
	if err != nil {
		log.Error().Err(err).Str("sweep", name).Dur("duration", time.Since(start)).Msg("scheduler: sweep failed")
		return
	}
	log.Info().Str("sweep", name).Any("count", count).Dur("duration", time.Since(start)).Msg("scheduler: sweep completed")
}
