// Package payout implements prizequeue.PayoutClient against the
// external prize-distribution API described in spec.md section 6: a
// POST carrying an Idempotency-Key header, treated as failed on any
// non-2xx response or timeout.
package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tambola-live/engine/internal/model"
)

// Client is a thin net/http wrapper. No HTTP client library appears
// anywhere in the retrieval pack, so this follows the teacher's own
// "plain stdlib for outbound plumbing" idiom (web.go never reaches for
// one either) rather than importing one unseen.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client against baseURL, bounding every call to timeout.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type payRequest struct {
	UserID     string         `json:"userId"`
	Category   model.Category `json:"category"`
	PrizeValue int            `json:"prizeValue"`
}

// Pay implements prizequeue.PayoutClient. ctx's deadline, if any,
// further bounds the call on top of the Client's own timeout.
func (c *Client) Pay(ctx context.Context, idempotencyKey, userID string, category model.Category, prizeValue int) error {
	body, err := json.Marshal(payRequest{UserID: userID, Category: category, PrizeValue: prizeValue})
	if err != nil {
		return fmt.Errorf("payout: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("payout: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("payout: call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("payout: non-2xx response %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}
