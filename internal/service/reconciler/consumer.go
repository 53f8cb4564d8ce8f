package reconciler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nkiryanov/walletapi/internal/logger"
	"github.com/nkiryanov/walletapi/internal/models"
	"github.com/nkiryanov/walletapi/internal/service/provider"
)

type Consumer struct {
	countWorkers int
	expireAfter  time.Duration

	// Provider may rate limit us
	// Then every worker waits until the time is up
	waitUntil atomic.Int64

	client paymentClient
	ledger ledgerService
	logger logger.Logger
	now    func() time.Time
}

func (c *Consumer) Consume(ctx context.Context, in <-chan models.TopupAttempt) <-chan struct{} {
	idleStopped := make(chan struct{})

	var wg sync.WaitGroup
	for range c.countWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(ctx, in)
		}()
	}

	go func() {
		defer close(idleStopped)
		wg.Wait()
		c.logger.Debug("Consumer stopped")
	}()

	return idleStopped
}

func (c *Consumer) worker(ctx context.Context, in <-chan models.TopupAttempt) {
	for {
		waitUntil := time.Unix(0, c.waitUntil.Load())
		if waitUntil.After(c.now()) {
			c.logger.Debug("Worker is waiting for rate limit to reset", "wait_until", waitUntil)

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Until(waitUntil)):
				continue
			}
		}

		select {
		case <-ctx.Done():
			return

		case topup, ok := <-in:
			if !ok {
				c.logger.Debug("Consumer worker stopped, input channel closed")
				return
			}
			c.reconcile(ctx, topup)
		}
	}
}

func (c *Consumer) reconcile(ctx context.Context, topup models.TopupAttempt) {
	if c.now().Sub(topup.CreatedAt) > c.expireAfter {
		_, err := c.ledger.FailTopup(ctx, topup.ID, FailureCodeExpired, "topup was not confirmed in time")
		if err != nil {
			c.logger.Error("Failed to expire topup", "error", err, "topup_id", topup.ID)
		}
		return
	}

	p, err := c.client.GetPayment(ctx, topup.ID)
	var pErr *provider.Error

	switch {
	case err == nil:
		c.apply(ctx, topup, p)

	case errors.As(err, &pErr):
		switch pErr.Code {
		case provider.CodeRetryAfter:
			c.logger.Info("Rate limit exceeded, waiting", "retry_after", pErr.RetryAfter)
			c.waitUntil.Store(c.now().Add(pErr.RetryAfter).UnixNano())
		case provider.CodeNoContent:
			c.logger.Debug("Provider has no payment for topup yet", "topup_id", topup.ID)
		default:
			c.logger.Error("Unknown error from payment gateway", "error", err, "topup_id", topup.ID)
		}

	default:
		c.logger.Error("Unexpected error from payment gateway", "error", err, "topup_id", topup.ID)
	}
}

func (c *Consumer) apply(ctx context.Context, topup models.TopupAttempt, p provider.Payment) {
	switch p.Status {
	case provider.PaymentSucceeded:
		_, err := c.ledger.CreditIfNotCredited(ctx, topup.ID, p.ProviderRef)
		if err != nil {
			c.logger.Error("Failed to credit topup", "error", err, "topup_id", topup.ID)
		}

	case provider.PaymentFailed:
		code := p.FailureCode
		if code == "" {
			code = "declined"
		}
		_, err := c.ledger.FailTopup(ctx, topup.ID, code, p.FailureMessage)
		if err != nil {
			c.logger.Error("Failed to fail topup", "error", err, "topup_id", topup.ID)
		}

	default:
		c.logger.Debug("Payment still pending", "topup_id", topup.ID, "status", p.Status)
	}
}
