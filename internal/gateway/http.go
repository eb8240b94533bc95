package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pledgefund/backend/internal/models"
)

// HTTPCharger talks to the payment gateway's REST charge endpoint.
type HTTPCharger struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPCharger creates a charger against the given gateway base URL.
// Every call is bounded by the given timeout.
func NewHTTPCharger(baseURL, apiKey string, timeout time.Duration) *HTTPCharger {
	return &HTTPCharger{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type chargeBody struct {
	Token  string `json:"token"`
	Amount int64  `json:"amount"`
}

type chargeResponse struct {
	Charged       int64  `json:"charged"`
	Fees          int64  `json:"fees"`
	TransactionID string `json:"transaction_id"`
	Error         string `json:"error,omitempty"`
}

// Charge implements Charger. The idempotency token travels as a header so
// the gateway can dedupe retried requests server-side.
func (c *HTTPCharger) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	payload, err := json.Marshal(chargeBody{Token: req.ProfileToken, Amount: req.Amount})
	if err != nil {
		return nil, fmt.Errorf("failed to encode charge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/charges", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build charge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyToken)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, Timeout(err.Error())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, Timeout("gateway call timed out")
		}
		return nil, &ChargeError{Code: models.OtherProblem, Detail: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &ChargeError{Code: models.OtherProblem, Detail: fmt.Sprintf("failed to read gateway response: %v", err)}
	}

	var decoded chargeResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, &ChargeError{Code: models.OtherProblem, Detail: fmt.Sprintf("bad gateway response: %v", err)}
		}
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		res := &ChargeResult{Charged: decoded.Charged, Fees: decoded.Fees, TransactionID: decoded.TransactionID}
		if res.Charged < req.Amount {
			return nil, &ChargeError{
				Code:   models.PartialAuthorizationOnly,
				Detail: fmt.Sprintf("gateway authorized %d of %d", res.Charged, req.Amount),
			}
		}
		return res, nil
	case http.StatusPaymentRequired:
		return nil, Declined(decoded.Error)
	case http.StatusUnprocessableEntity:
		return nil, &ChargeError{Code: models.AmountBelowMinimum, Detail: decoded.Error}
	case http.StatusConflict:
		return nil, &ChargeError{Code: models.RecipientUnavailable, Detail: decoded.Error}
	case http.StatusTooManyRequests:
		return nil, Timeout("gateway rate limited the request")
	case http.StatusGatewayTimeout, http.StatusServiceUnavailable:
		return nil, Timeout(fmt.Sprintf("gateway unavailable (%d)", resp.StatusCode))
	default:
		return nil, &ChargeError{Code: models.OtherProblem, Detail: fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, decoded.Error)}
	}
}
