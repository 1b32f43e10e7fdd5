/**
 * @description
 * This package provides a minimal client for the Stripe API, scoped to what the
 * ledger-service needs: creating off-session payment intents for guarantee
 * execution. It encapsulates authenticated HTTP requests, form encoding, and
 * error decoding, including the authentication_required decline that carries a
 * client secret for a 3DS challenge.
 *
 * @dependencies
 * - context, net/http, net/url, strings, time: Standard Go libraries.
 * - encoding/json: Response decoding.
 */
package stripeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.stripe.com/v1"

// Client is a client for the Stripe API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new Stripe API client. baseURL may be empty for the
// production endpoint; tests point it at a local server.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PaymentIntentParams describes an off-session charge.
type PaymentIntentParams struct {
	Amount      int64 // in the currency's smallest unit
	Currency    string
	CustomerID  string
	OffSession  bool
	Confirm     bool
	Description string
	Metadata    map[string]string
}

// PaymentIntent is the subset of Stripe's payment intent object we consume.
type PaymentIntent struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// APIError represents an error returned by the Stripe API. For
// authentication_required declines, PaymentIntentClientSecret carries the
// secret the app needs to run the customer authentication flow.
type APIError struct {
	Type                      string  `json:"type"`
	Code                      string  `json:"code"`
	Message                   string  `json:"message"`
	PaymentIntentClientSecret *string `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stripe api error: %s - %s", e.Code, e.Message)
}

type errorEnvelope struct {
	Error struct {
		Type          string `json:"type"`
		Code          string `json:"code"`
		Message       string `json:"message"`
		PaymentIntent *struct {
			ClientSecret string `json:"client_secret"`
		} `json:"payment_intent"`
	} `json:"error"`
}

// CreatePaymentIntent creates and (when Confirm is set) immediately confirms a
// payment intent against the customer's default payment method.
func (c *Client) CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (*PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(params.Amount, 10))
	form.Set("currency", params.Currency)
	form.Set("customer", params.CustomerID)
	form.Set("off_session", strconv.FormatBool(params.OffSession))
	form.Set("confirm", strconv.FormatBool(params.Confirm))
	if params.Description != "" {
		form.Set("description", params.Description)
	}
	for key, value := range params.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", key), value)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build payment intent request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment intent request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read payment intent response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var envelope errorEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("stripe returned status %d: %s", resp.StatusCode, string(body))
		}
		apiErr := &APIError{
			Type:    envelope.Error.Type,
			Code:    envelope.Error.Code,
			Message: envelope.Error.Message,
		}
		if envelope.Error.PaymentIntent != nil && envelope.Error.PaymentIntent.ClientSecret != "" {
			secret := envelope.Error.PaymentIntent.ClientSecret
			apiErr.PaymentIntentClientSecret = &secret
		}
		return nil, apiErr
	}

	var intent PaymentIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return nil, fmt.Errorf("failed to decode payment intent response: %w", err)
	}
	return &intent, nil
}
