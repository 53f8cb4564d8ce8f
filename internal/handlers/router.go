package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nkiryanov/walletapi/internal/handlers/middleware"
	"github.com/nkiryanov/walletapi/internal/handlers/render"
	"github.com/nkiryanov/walletapi/internal/logger"
	"github.com/nkiryanov/walletapi/internal/metrics"
	"github.com/nkiryanov/walletapi/internal/models"
	"github.com/nkiryanov/walletapi/internal/service/ledger"
)

type ledgerService interface {
	GetBalance(ctx context.Context, userID string) (models.Wallet, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error)
	Debit(ctx context.Context, userID string, amount int64, source string, description string) (models.Transaction, error)
	ConvertGems(ctx context.Context, userID string) (ledger.GemConversion, error)

	RequestTopup(ctx context.Context, userID string, amount int64, provider string) (models.TopupAttempt, error)
	GetTopup(ctx context.Context, userID string, topupID string) (models.TopupAttempt, error)

	// Both must be idempotent: replay for already finalized topup returns it unchanged
	CreditIfNotCredited(ctx context.Context, topupID string, providerRef string) (models.TopupAttempt, error)
	FailTopup(ctx context.Context, topupID string, code string, message string) (models.TopupAttempt, error)
}

type authService interface {
	Auth(ctx context.Context, r *http.Request) (string, error)
}

// Confirms topup with provider right away and returns provider reference
// Nil when topups are confirmed by webhook
type confirmer interface {
	Confirm(ctx context.Context, t models.TopupAttempt) (string, error)
}

type Config struct {
	// Secret shared with payment provider to sign webhook bodies
	WebhookSecret string

	// Origins allowed for browser clients, all if empty
	AllowedOrigins []string
}

func NewRouter(
	cfg Config,
	ledger ledgerService,
	auth authService,
	confirm confirmer,
	l logger.Logger,
) http.Handler {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.LoggerMiddleware(l))
	r.Use(chimw.Recoverer)
	r.Use(middleware.HTTPMetrics)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Signature"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		render.JSON(w, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/wallet", func(r chi.Router) {
		// Called by payment provider, authenticated by body signature
		r.Method(http.MethodPost, "/topups/webhook", handleTopupWebhook(cfg.WebhookSecret, ledger, l))

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(auth))

			r.Method(http.MethodGet, "/balance", handleBalance(ledger, l))
			r.Method(http.MethodGet, "/transactions", handleListTransactions(ledger, l))
			r.Method(http.MethodPost, "/debits", handleDebit(ledger, l))
			r.Method(http.MethodPost, "/gems/convert", handleConvertGems(ledger, l))
			r.Method(http.MethodPost, "/topups", handleCreateTopup(ledger, confirm, l))
			r.Method(http.MethodGet, "/topups/{id}", handleGetTopup(ledger, l))
		})
	})

	return r
}

// Render service error, server side failures are logged as errors
func serviceError(w http.ResponseWriter, l logger.Logger, msg string, err error, args ...any) {
	args = append(args, "error", err)
	if _, status := render.ErrorCode(err); status >= http.StatusInternalServerError {
		l.Error(msg, args...)
	} else {
		l.Debug(msg, args...)
	}

	render.ServiceError(w, err)
}
