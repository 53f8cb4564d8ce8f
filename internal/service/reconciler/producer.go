package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nkiryanov/walletapi/internal/logger"
	"github.com/nkiryanov/walletapi/internal/metrics"
	"github.com/nkiryanov/walletapi/internal/models"
)

type Producer struct {
	schedule  string
	grace     time.Duration
	batchSize int
	ledger    ledgerService
	logger    logger.Logger
	now       func() time.Time
}

// Produce schedules polling of pending topups and sends them to out
func (p *Producer) Produce(ctx context.Context, out chan<- models.TopupAttempt) (<-chan struct{}, error) {
	idleStopped := make(chan struct{})

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(p.schedule, func() { p.produce(ctx, out) })
	if err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", p.schedule, err)
	}

	p.logger.Debug("Starting producer", "schedule", p.schedule, "batch_size", p.batchSize)
	c.Start()

	go func() {
		defer close(idleStopped)
		<-ctx.Done()

		// Wait running job to return
		<-c.Stop().Done()
		p.logger.Debug("Producer stopped by context")
	}()

	return idleStopped, nil
}

func (p *Producer) produce(ctx context.Context, out chan<- models.TopupAttempt) {
	topups, err := p.ledger.ListPendingTopups(ctx, p.now().Add(-p.grace), p.batchSize)
	if err != nil {
		p.logger.Error("Failed to list pending topups", "error", err)
		return
	}

	metrics.ReconcileQueueDepth.Set(float64(len(topups)))
	defer metrics.ReconcileQueueDepth.Set(0)

	for _, t := range topups {
		select {
		case <-ctx.Done():
			p.logger.Debug("Producer stopped by context while sending topups")
			return
		case out <- t:
			metrics.ReconcileQueueDepth.Dec()
			p.logger.Debug("Topup sent to reconcile", "topup_id", t.ID)
		}
	}
}
