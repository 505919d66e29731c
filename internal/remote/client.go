// Package remote talks to the backend order service over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pos-terminal/internal/config"
	"pos-terminal/internal/logger"
	"pos-terminal/internal/models"
)

// ErrRejected means the backend understood the submission and refused
// it. Retrying the same payload will not help.
var ErrRejected = errors.New("order rejected by backend")

// IdempotencyHeader carries the order's client ref
const IdempotencyHeader = "Idempotency-Key"

// Client submits orders to the backend
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

func NewClient(cfg config.RemoteConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: log,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// SubmitOrder posts order with key as its idempotency key. A 4xx answer
// wraps ErrRejected; transport failures and other statuses are returned
// as network-class errors.
func (c *Client) SubmitOrder(ctx context.Context, order models.Order, key string) (*models.AcceptedOrder, error) {
	requestID := logger.GenerateRequestID()

	body, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}

	url := fmt.Sprintf("%s/api/orders", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set(IdempotencyHeader, key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("order_submit_failed", "Order request failed", requestID, map[string]interface{}{
			"client_ref": key,
			"error":      err.Error(),
		})
		return nil, fmt.Errorf("submit order: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		reason := readReason(resp.Body)
		c.logger.Warn("order_rejected", "Backend rejected order", requestID, map[string]interface{}{
			"client_ref":  key,
			"status_code": resp.StatusCode,
			"reason":      reason,
		})
		return nil, fmt.Errorf("%w: %s", ErrRejected, reason)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("order service returned status %d", resp.StatusCode)
	}

	var accepted models.AcceptedOrder
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return nil, fmt.Errorf("decode accepted order: %w", err)
	}

	c.logger.Info("order_submitted", "Order accepted by backend", requestID, map[string]interface{}{
		"client_ref": key,
		"order_id":   accepted.ID,
		"replayed":   resp.StatusCode == http.StatusOK,
	})
	return &accepted, nil
}

// Ping checks that the order service answers its health endpoint
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func readReason(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var e errorResponse
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return e.Error
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return "request not accepted"
}
