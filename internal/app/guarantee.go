/**
 * @description
 * Manual guarantee execution: charges a defaulting member's saved card
 * off-session and records the immutable guarantee event. Invoked by an
 * authenticated operator when a guarantee clause is met.
 *
 * The provider call happens strictly before the atomic ledger section; a
 * ledger transaction is never held open across the network. If the card issuer
 * demands strong customer authentication the charge is not an error: the
 * caller gets a requires_action result carrying the client secret so the app
 * can run the 3DS challenge.
 */

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/circlepay/ledger-service/internal/domain"
	"github.com/circlepay/ledger-service/internal/store"
	"github.com/circlepay/ledger-service/pkg/stripeclient"
)

// ExecuteGuarantee charges the member and records the guarantee event.
func (s *Service) ExecuteGuarantee(ctx context.Context, callerID string, req domain.ExecuteGuaranteeRequest) (*domain.ExecuteGuaranteeResult, error) {
	if req.CircleID == "" || req.MemberID == "" {
		return nil, fmt.Errorf("%w: circle_id and member_id are required", ErrInvalidArgument)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}

	member, err := s.repo.GetUser(ctx, req.MemberID)
	if err != nil {
		return nil, err
	}
	if member.StripeCustomerID == nil || *member.StripeCustomerID == "" {
		return nil, ErrNoPaymentMethod
	}

	s.logger.Info("executing guarantee",
		"caller", callerID, "circle_id", req.CircleID, "member_id", req.MemberID, "amount", req.Amount)

	intent, err := s.charger.CreatePaymentIntent(ctx, stripeclient.PaymentIntentParams{
		Amount:      req.Amount,
		Currency:    s.defaultCurrency,
		CustomerID:  *member.StripeCustomerID,
		OffSession:  true,
		Confirm:     true,
		Description: fmt.Sprintf("Guarantee execution for event %s", req.EventID),
		Metadata: map[string]string{
			"circle_id": req.CircleID,
			"member_id": req.MemberID,
			"event_id":  req.EventID,
		},
	})
	if err != nil {
		var apiErr *stripeclient.APIError
		if errors.As(err, &apiErr) && apiErr.Code == "authentication_required" {
			return &domain.ExecuteGuaranteeResult{
				Success:      false,
				Status:       "requires_action",
				Message:      "Strong customer authentication required.",
				ClientSecret: apiErr.PaymentIntentClientSecret,
			}, nil
		}
		return nil, fmt.Errorf("failed to execute guarantee charge: %w", err)
	}

	intentID := intent.ID
	err = s.repo.RunAtomic(ctx, func(ctx context.Context, ops store.AtomicOps) error {
		event := domain.GuaranteeEvent{
			ID:                    uuid.New(),
			CircleID:              req.CircleID,
			MemberID:              req.MemberID,
			EventID:               req.EventID,
			Amount:                req.Amount,
			Currency:              s.defaultCurrency,
			Status:                "success",
			Details:               "Funds charged off-session",
			StripePaymentIntentID: &intentID,
			TriggeredBy:           callerID,
			TriggeredAt:           s.now(),
		}
		if err := ops.CreateGuaranteeEvent(ctx, event); err != nil {
			return err
		}
		return ops.AppendAuditLog(ctx, domain.AuditLogEntry{
			ID:     uuid.New(),
			Action: "guarantee_executed",
			Metadata: map[string]string{
				"circle_id":         req.CircleID,
				"member_id":         req.MemberID,
				"event_id":          req.EventID,
				"payment_intent_id": intentID,
			},
			PerformedBy: callerID,
			Timestamp:   s.now(),
		})
	})
	if err != nil {
		// The charge went through; the record must not be silently lost.
		s.logger.Error("guarantee charge succeeded but recording failed",
			"payment_intent_id", intentID, "circle_id", req.CircleID, "member_id", req.MemberID, "error", err)
		return nil, fmt.Errorf("failed to record guarantee event: %w", err)
	}

	return &domain.ExecuteGuaranteeResult{
		Success:         true,
		Status:          "success",
		Message:         "Guarantee executed successfully.",
		PaymentIntentID: intentID,
	}, nil
}
