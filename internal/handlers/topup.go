package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nkiryanov/walletapi/internal/apperrors"
	"github.com/nkiryanov/walletapi/internal/handlers/render"
	"github.com/nkiryanov/walletapi/internal/handlers/userctx"
	"github.com/nkiryanov/walletapi/internal/logger"
	"github.com/nkiryanov/walletapi/internal/models"
	"github.com/nkiryanov/walletapi/internal/service/provider"
)

const (
	maxWebhookBody          = 64 << 10
	defaultFailureCode      = "declined"
	balanceLimitFailureCode = "balance_limit"
)

type topupResponse struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	Provider       string     `json:"provider"`
	Amount         int64      `json:"amount"`
	Currency       string     `json:"currency"`
	ProviderRef    *string    `json:"provider_ref"`
	FailureCode    *string    `json:"failure_code,omitempty"`
	FailureMessage *string    `json:"failure_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func newTopupResponse(t models.TopupAttempt) topupResponse {
	return topupResponse{
		ID:             t.ID,
		Status:         t.Status,
		Provider:       t.Provider,
		Amount:         t.Amount,
		Currency:       t.Currency,
		ProviderRef:    t.ProviderRef,
		FailureCode:    t.FailureCode,
		FailureMessage: t.FailureMessage,
		CreatedAt:      t.CreatedAt,
		CompletedAt:    t.CompletedAt,
	}
}

func handleCreateTopup(ledger ledgerService, confirm confirmer, l logger.Logger) http.Handler {
	// Amount and provider are validated by ledger to return specific codes
	type request struct {
		Amount   int64  `json:"amount"`
		Provider string `json:"provider"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.Error(w, render.CodeInternal, "Internal server error", http.StatusInternalServerError)
			return
		}

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		topup, err := ledger.RequestTopup(r.Context(), userID, req.Amount, req.Provider)
		if err != nil {
			serviceError(w, l, "Failed to request topup", err, "user_id", userID)
			return
		}

		// Webhook mode: attempt stays pending until provider calls back
		if confirm == nil {
			render.JSONWithStatus(w, newTopupResponse(topup), http.StatusCreated)
			return
		}

		ref, err := confirm.Confirm(r.Context(), topup)
		if err != nil {
			l.Error("Provider failed to confirm topup", "error", err, "topup_id", topup.ID)
			render.JSONWithStatus(w, newTopupResponse(topup), http.StatusCreated)
			return
		}

		credited, err := ledger.CreditIfNotCredited(r.Context(), topup.ID, ref)
		if err != nil {
			// Immediate topup must not stay pending
			if errors.Is(err, apperrors.ErrBalanceLimit) {
				if _, fErr := ledger.FailTopup(r.Context(), topup.ID, balanceLimitFailureCode, "wallet balance limit exceeded"); fErr != nil {
					l.Error("Failed to fail topup", "error", fErr, "topup_id", topup.ID)
				}
			}
			serviceError(w, l, "Failed to credit topup", err, "topup_id", topup.ID)
			return
		}

		render.JSONWithStatus(w, newTopupResponse(credited), http.StatusCreated)
	})
}

func handleGetTopup(ledger ledgerService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.Error(w, render.CodeInternal, "Internal server error", http.StatusInternalServerError)
			return
		}

		topupID := chi.URLParam(r, "id")
		topup, err := ledger.GetTopup(r.Context(), userID, topupID)
		if err != nil {
			serviceError(w, l, "Failed to get topup", err, "topup_id", topupID)
			return
		}

		render.JSON(w, newTopupResponse(topup))
	})
}

func handleTopupWebhook(secret string, ledger ledgerService, l logger.Logger) http.Handler {
	type request struct {
		TopupID        string `json:"topup_id" validate:"required"`
		Status         string `json:"status" validate:"required,oneof=succeeded failed"`
		ProviderRef    string `json:"provider_ref" validate:"required_if=Status succeeded"`
		FailureCode    string `json:"failure_code"`
		FailureMessage string `json:"failure_message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			render.Error(w, render.CodeDecodingFailed, "Failed to read request body", http.StatusBadRequest)
			return
		}

		if !provider.Verify(secret, body, r.Header.Get(provider.SignatureHeader)) {
			l.Warn("Webhook with invalid signature", "remote_addr", r.RemoteAddr)
			render.Error(w, render.CodeInvalidSignature, "Invalid signature", http.StatusUnauthorized)
			return
		}

		var req request
		if err := json.Unmarshal(body, &req); err != nil {
			render.DecodeError(w, err)
			return
		}
		if err := render.Validate(w, req); err != nil {
			return
		}

		var topup models.TopupAttempt
		switch req.Status {
		case provider.PaymentSucceeded:
			topup, err = ledger.CreditIfNotCredited(r.Context(), req.TopupID, req.ProviderRef)
		default:
			code := req.FailureCode
			if code == "" {
				code = defaultFailureCode
			}
			topup, err = ledger.FailTopup(r.Context(), req.TopupID, code, req.FailureMessage)
		}
		if err != nil {
			serviceError(w, l, "Failed to apply webhook", err, "topup_id", req.TopupID, "status", req.Status)
			return
		}

		render.JSON(w, newTopupResponse(topup))
	})
}
