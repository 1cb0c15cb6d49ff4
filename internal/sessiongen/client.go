package sessiongen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/okian/keyprint/internal/domain/model"
	"github.com/okian/keyprint/internal/domain/scoring"
	"github.com/okian/keyprint/internal/domain/types"
)

// ErrStatus is returned for responses outside the expected status.
var ErrStatus = errors.New("unexpected status")

// Decision is the part of an assessment the generator reports on.
type Decision struct {
	SessionID    string           `json:"session_id"`
	Score        float64          `json:"score"`
	Level        types.RiskLevel  `json:"level"`
	Action       types.Action     `json:"action"`
	BaselineUsed bool             `json:"baseline_used"`
	Warnings     []string         `json:"warnings"`
	Factors      []scoring.Factor `json:"factors"`
}

// Enrollment is the server's reply to an enroll call.
type Enrollment struct {
	Identity     string `json:"identity"`
	SessionCount int    `json:"session_count"`
	Reliable     bool   `json:"reliable"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client talks to the keyprint HTTP API.
type Client struct {
	base      string
	http      *http.Client
	batchSize int
}

// NewClient returns a client for baseURL. Events are posted in batches of
// batchSize.
func NewClient(baseURL string, timeout time.Duration, batchSize int) *Client {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Client{base: baseURL, http: &http.Client{Timeout: timeout}, batchSize: batchSize}
}

// Health checks that the server answers.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, http.StatusOK, nil)
}

// Start opens a session and returns its id.
func (c *Client) Start(ctx context.Context, identity string, purpose types.Purpose) (string, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	req := map[string]any{"identity": identity, "purpose": purpose}
	if err := c.do(ctx, http.MethodPost, "/sessions", req, http.StatusCreated, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

// Send posts events in batches, each under a fresh batch id.
func (c *Client) Send(ctx context.Context, sessionID string, events []model.Event) error {
	path := "/sessions/" + url.PathEscape(sessionID) + "/events"
	for start := 0; start < len(events); start += c.batchSize {
		end := min(start+c.batchSize, len(events))
		req := map[string]any{"batch_id": uuid.NewString(), "events": events[start:end]}
		if err := c.do(ctx, http.MethodPost, path, req, http.StatusAccepted, nil); err != nil {
			return err
		}
	}
	return nil
}

// Assess closes a live session and returns the decision.
func (c *Client) Assess(ctx context.Context, sessionID string, device model.DeviceSignal) (Decision, error) {
	var out Decision
	path := "/sessions/" + url.PathEscape(sessionID) + "/assess"
	err := c.do(ctx, http.MethodPost, path, map[string]any{"device": device}, http.StatusOK, &out)
	return out, err
}

// Enroll closes a training session and folds it into the baseline.
func (c *Client) Enroll(ctx context.Context, sessionID string, device model.DeviceSignal) (Enrollment, error) {
	var out Enrollment
	path := "/sessions/" + url.PathEscape(sessionID) + "/enroll"
	err := c.do(ctx, http.MethodPost, path, map[string]any{"device": device}, http.StatusOK, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body any, want int, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		var e apiError
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%w: %s %s: %d %s %s", ErrStatus, method, path, resp.StatusCode, e.Code, e.Message)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
