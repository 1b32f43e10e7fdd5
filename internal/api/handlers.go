/**
 * @description
 * This file contains the HTTP handlers for the ledger-service's API endpoints:
 * the provider webhook receivers, the withdrawal reservation endpoint, manual
 * guarantee execution, and the internal user-cleanup endpoint. Handlers parse
 * requests, call the application layer, and map typed errors onto HTTP
 * statuses.
 *
 * Webhook status codes are deliberate: business-logic rejections (unknown
 * correlation key, duplicate delivery, unhandled event subtype) acknowledge
 * with 200 so the provider stops retrying; only signature failures and genuine
 * processing failures return error statuses.
 *
 * @dependencies
 * - encoding/json, io, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: Service logic, models, errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/circlepay/ledger-service/internal/app"
	"github.com/circlepay/ledger-service/internal/domain"
	"github.com/circlepay/ledger-service/internal/store"
)

// LedgerHandlers holds the application components the handlers use.
type LedgerHandlers struct {
	normalizer *app.Normalizer
	applier    *app.Applier
	service    *app.Service
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(normalizer *app.Normalizer, applier *app.Applier, service *app.Service) *LedgerHandlers {
	return &LedgerHandlers{normalizer: normalizer, applier: applier, service: service}
}

type webhookAck struct {
	Received    bool   `json:"received"`
	Disposition string `json:"disposition,omitempty"`
}

type withdrawalResponse struct {
	Success       bool   `json:"success"`
	NewBalance    int64  `json:"new_balance"`
	TransactionID string `json:"transaction_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}

// StripeWebhookHandler receives signed payment events from Stripe.
func (h *LedgerHandlers) StripeWebhookHandler(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, app.ProviderStripe, r.Header.Get("Stripe-Signature"))
}

// MomoWebhookHandler receives payment events from the Wave / Orange Money
// aggregator.
func (h *LedgerHandlers) MomoWebhookHandler(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, app.ProviderMomo, r.Header.Get("X-Webhook-Signature"))
}

func (h *LedgerHandlers) handleWebhook(w http.ResponseWriter, r *http.Request, provider, signature string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "cannot read request body")
		return
	}

	outcome, err := h.normalizer.Normalize(provider, signature, body)
	if err != nil {
		if errors.Is(err, app.ErrSignatureInvalid) {
			log.Printf("level=warn component=api endpoint=webhook provider=%s outcome=reject reason=invalid_signature", provider)
			h.writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}
		log.Printf("level=warn component=api endpoint=webhook provider=%s outcome=reject reason=malformed_payload err=%v", provider, err)
		h.writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	result, err := h.applier.ApplyOutcome(r.Context(), outcome)
	if err != nil {
		if errors.Is(err, store.ErrTransientConflict) {
			// Let the provider's own retry mechanism recover this one.
			log.Printf("level=warn component=api endpoint=webhook provider=%s outcome=retryable correlation_key=%s", provider, outcome.CorrelationKey)
			h.writeError(w, http.StatusServiceUnavailable, "transient conflict, retry")
			return
		}
		log.Printf("level=error component=api endpoint=webhook provider=%s err=%v", provider, err)
		h.writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	h.writeJSON(w, http.StatusOK, webhookAck{Received: true, Disposition: string(result.Disposition)})
}

// WithdrawHandler reserves a withdrawal for the authenticated caller.
func (h *LedgerHandlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "could not get user ID from context")
		return
	}

	var req domain.WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.ReserveWithdrawal(r.Context(), userID, req)
	if err != nil {
		var rateLimited *app.ErrRateLimited
		switch {
		case errors.As(err, &rateLimited):
			w.Header().Set("Retry-After", fmt.Sprintf("%d", rateLimited.RetryAfterSeconds))
			h.writeError(w, http.StatusTooManyRequests, "too many withdrawal requests")
		case errors.Is(err, app.ErrInvalidArgument):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrInsufficientFunds):
			h.writeError(w, http.StatusUnprocessableEntity, "insufficient funds")
		case errors.Is(err, store.ErrUserNotFound):
			h.writeError(w, http.StatusNotFound, "user not found")
		case errors.Is(err, store.ErrTransientConflict):
			h.writeError(w, http.StatusServiceUnavailable, "please retry")
		default:
			log.Printf("level=error component=api endpoint=withdraw user_id=%s err=%v", userID, err)
			h.writeError(w, http.StatusInternalServerError, "withdrawal failed")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, withdrawalResponse{
		Success:       true,
		NewBalance:    result.NewBalance,
		TransactionID: result.TransactionID.String(),
	})
}

// ExecuteGuaranteeHandler charges a defaulting member's saved card and records
// the guarantee event.
func (h *LedgerHandlers) ExecuteGuaranteeHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "could not get user ID from context")
		return
	}

	var req domain.ExecuteGuaranteeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.ExecuteGuarantee(r.Context(), callerID, req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidArgument):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrUserNotFound):
			h.writeError(w, http.StatusNotFound, "member not found")
		case errors.Is(err, app.ErrNoPaymentMethod):
			h.writeError(w, http.StatusUnprocessableEntity, "member has no linked payment account")
		default:
			log.Printf("level=error component=api endpoint=execute_guarantee caller=%s err=%v", callerID, err)
			h.writeError(w, http.StatusInternalServerError, "unable to execute guarantee")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// CleanupUserHandler removes a deleted user's profile and anonymizes their
// transaction history. Invoked by the auth collaborator when an account is
// deleted; guarded by the internal API key.
func (h *LedgerHandlers) CleanupUserHandler(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "user id is required")
		return
	}

	if err := h.service.CleanupDeletedUser(r.Context(), userID, "auth-collaborator"); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, "user not found")
			return
		}
		log.Printf("level=error component=api endpoint=cleanup_user user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
