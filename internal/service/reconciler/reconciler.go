package reconciler

import (
	"context"
	"time"

	"github.com/nkiryanov/walletapi/internal/logger"
	"github.com/nkiryanov/walletapi/internal/models"
	"github.com/nkiryanov/walletapi/internal/service/provider"
)

const (
	DefaultCountWorkers = 4
	DefaultSchedule     = "@every 10s"
	DefaultGracePeriod  = 30 * time.Second
	DefaultExpireAfter  = 30 * time.Minute
	DefaultBatchSize    = 100
)

const FailureCodeExpired = "expired"

type paymentClient interface {
	GetPayment(ctx context.Context, topupID string) (provider.Payment, error)
}

type ledgerService interface {
	ListPendingTopups(ctx context.Context, createdBefore time.Time, limit int) ([]models.TopupAttempt, error)
	CreditIfNotCredited(ctx context.Context, topupID string, providerRef string) (models.TopupAttempt, error)
	FailTopup(ctx context.Context, topupID string, code string, message string) (models.TopupAttempt, error)
}

type Config struct {
	// Cron spec for polling pending topups, like "@every 10s"
	Schedule string

	// Pending topups younger than this are left to webhook
	GracePeriod time.Duration

	// Pending topups older than this are failed without asking provider
	ExpireAfter time.Duration

	CountWorkers int
	BatchSize    int
}

// Reconciler resolves pending topups the provider never reported by webhook
type Reconciler struct {
	consumer *Consumer
	producer *Producer
	logger   logger.Logger
}

func New(cfg Config, client paymentClient, ledger ledgerService, l logger.Logger) *Reconciler {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = DefaultExpireAfter
	}
	if cfg.CountWorkers <= 0 {
		cfg.CountWorkers = DefaultCountWorkers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	return &Reconciler{
		consumer: &Consumer{
			countWorkers: cfg.CountWorkers,
			expireAfter:  cfg.ExpireAfter,
			client:       client,
			ledger:       ledger,
			logger:       l,
			now:          time.Now,
		},
		producer: &Producer{
			schedule:  cfg.Schedule,
			grace:     cfg.GracePeriod,
			batchSize: cfg.BatchSize,
			ledger:    ledger,
			logger:    l,
			now:       time.Now,
		},
		logger: l,
	}
}

// Run until context is cancelled. Returned channel is closed when all workers stopped
func (r *Reconciler) Run(ctx context.Context) (<-chan struct{}, error) {
	idleStopped := make(chan struct{})
	topups := make(chan models.TopupAttempt)

	producerStopped, err := r.producer.Produce(ctx, topups)
	if err != nil {
		return nil, err
	}

	consumerStopped := r.consumer.Consume(ctx, topups)

	go func() {
		defer close(idleStopped)
		<-producerStopped
		close(topups)
		<-consumerStopped
		r.logger.Debug("Reconciler stopped")
	}()

	return idleStopped, nil
}
