package app

import (
	"context"
	"errors"
	"testing"

	"github.com/circlepay/ledger-service/internal/domain"
	"github.com/circlepay/ledger-service/internal/store"
	"github.com/circlepay/ledger-service/pkg/stripeclient"
)

func TestExecuteGuaranteeChargesAndRecordsEvent(t *testing.T) {
	repo := newFakeRepository()
	repo.addUser(domain.User{ID: "member_1", StripeCustomerID: strPtr("cus_abc")})

	charger := &fakeCharger{intent: &stripeclient.PaymentIntent{
		ID:     "pi_guarantee",
		Status: "succeeded",
		Amount: 50000,
	}}
	svc := newTestService(repo, charger, nil, 0)

	result, err := svc.ExecuteGuarantee(context.Background(), "operator_1", domain.ExecuteGuaranteeRequest{
		CircleID: "circle_1",
		MemberID: "member_1",
		EventID:  "event_1",
		Amount:   50000,
	})
	if err != nil {
		t.Fatalf("execute guarantee failed: %v", err)
	}
	if !result.Success || result.Status != "success" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.PaymentIntentID != "pi_guarantee" {
		t.Fatalf("expected payment intent id pi_guarantee, got %q", result.PaymentIntentID)
	}

	if len(charger.params) != 1 {
		t.Fatalf("expected one charge, got %d", len(charger.params))
	}
	params := charger.params[0]
	if !params.OffSession || !params.Confirm {
		t.Fatalf("guarantee charge must be off-session and confirmed: %+v", params)
	}
	if params.CustomerID != "cus_abc" {
		t.Fatalf("expected customer cus_abc, got %q", params.CustomerID)
	}
	if params.Amount != 50000 {
		t.Fatalf("expected amount 50000, got %d", params.Amount)
	}
	if params.Metadata["circle_id"] != "circle_1" || params.Metadata["event_id"] != "event_1" {
		t.Fatalf("missing traceability metadata: %+v", params.Metadata)
	}

	if len(repo.guarantees) != 1 {
		t.Fatalf("expected one guarantee event, got %d", len(repo.guarantees))
	}
	event := repo.guarantees[0]
	if event.MemberID != "member_1" || event.TriggeredBy != "operator_1" {
		t.Fatalf("unexpected guarantee event: %+v", event)
	}
	if event.StripePaymentIntentID == nil || *event.StripePaymentIntentID != "pi_guarantee" {
		t.Fatalf("guarantee event missing payment intent reference: %+v", event)
	}

	if len(repo.auditLog) != 1 || repo.auditLog[0].Action != "guarantee_executed" {
		t.Fatalf("expected guarantee_executed audit entry, got %+v", repo.auditLog)
	}
}

func TestExecuteGuaranteeAuthenticationRequired(t *testing.T) {
	repo := newFakeRepository()
	repo.addUser(domain.User{ID: "member_1", StripeCustomerID: strPtr("cus_abc")})

	charger := &fakeCharger{err: &stripeclient.APIError{
		Type:                      "card_error",
		Code:                      "authentication_required",
		Message:                   "This payment requires authentication.",
		PaymentIntentClientSecret: strPtr("pi_secret_123"),
	}}
	svc := newTestService(repo, charger, nil, 0)

	result, err := svc.ExecuteGuarantee(context.Background(), "operator_1", domain.ExecuteGuaranteeRequest{
		CircleID: "circle_1",
		MemberID: "member_1",
		Amount:   50000,
	})
	if err != nil {
		t.Fatalf("authentication_required is not an error: %v", err)
	}
	if result.Success {
		t.Fatal("expected success=false for requires_action")
	}
	if result.Status != "requires_action" {
		t.Fatalf("expected requires_action, got %q", result.Status)
	}
	if result.ClientSecret == nil || *result.ClientSecret != "pi_secret_123" {
		t.Fatalf("expected client secret for 3DS challenge, got %v", result.ClientSecret)
	}

	if len(repo.guarantees) != 0 {
		t.Fatalf("no guarantee event should be recorded before the challenge completes, got %d", len(repo.guarantees))
	}
}

func TestExecuteGuaranteeCardDeclinedSurfacesError(t *testing.T) {
	repo := newFakeRepository()
	repo.addUser(domain.User{ID: "member_1", StripeCustomerID: strPtr("cus_abc")})

	charger := &fakeCharger{err: &stripeclient.APIError{
		Type:    "card_error",
		Code:    "card_declined",
		Message: "Your card was declined.",
	}}
	svc := newTestService(repo, charger, nil, 0)

	_, err := svc.ExecuteGuarantee(context.Background(), "operator_1", domain.ExecuteGuaranteeRequest{
		CircleID: "circle_1",
		MemberID: "member_1",
		Amount:   50000,
	})
	if err == nil {
		t.Fatal("expected declined charge to surface as an error")
	}
	if len(repo.guarantees) != 0 {
		t.Fatal("declined charge must not record a guarantee event")
	}
}

func TestExecuteGuaranteeRequiresSavedPaymentMethod(t *testing.T) {
	repo := newFakeRepository()
	repo.addUser(domain.User{ID: "member_1"})

	charger := &fakeCharger{}
	svc := newTestService(repo, charger, nil, 0)

	_, err := svc.ExecuteGuarantee(context.Background(), "operator_1", domain.ExecuteGuaranteeRequest{
		CircleID: "circle_1",
		MemberID: "member_1",
		Amount:   50000,
	})
	if !errors.Is(err, ErrNoPaymentMethod) {
		t.Fatalf("expected ErrNoPaymentMethod, got %v", err)
	}
	if len(charger.params) != 0 {
		t.Fatal("no charge should be attempted without a saved payment method")
	}
}

func TestExecuteGuaranteeValidation(t *testing.T) {
	svc := newTestService(newFakeRepository(), &fakeCharger{}, nil, 0)

	if _, err := svc.ExecuteGuarantee(context.Background(), "op", domain.ExecuteGuaranteeRequest{MemberID: "m", Amount: 100}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("missing circle_id: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.ExecuteGuarantee(context.Background(), "op", domain.ExecuteGuaranteeRequest{CircleID: "c", MemberID: "m", Amount: 0}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("zero amount: expected ErrInvalidArgument, got %v", err)
	}
}

func TestExecuteGuaranteeUnknownMember(t *testing.T) {
	svc := newTestService(newFakeRepository(), &fakeCharger{}, nil, 0)
	_, err := svc.ExecuteGuarantee(context.Background(), "op", domain.ExecuteGuaranteeRequest{
		CircleID: "circle_1",
		MemberID: "ghost",
		Amount:   100,
	})
	if !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
