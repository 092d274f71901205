// Package garmin wraps the rate-limited wearable provider API behind a typed
// client. All responses are validated here: a non-list payload where a list
// is expected, or an error envelope, surfaces as domain.ErrInvalidResponse
// instead of an empty result.
package garmin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"example.com/wearable/internal/domain"
)

// Client talks to the provider API. The HTTP client is injected so tests can
// substitute a fake transport.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a Client. A nil httpClient falls back to a client with
// a conservative timeout.
func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, logger: logger}
}

// Authenticate verifies the credentials against the provider sign-in
// endpoint.
func (c *Client) Authenticate(ctx context.Context, creds domain.Credentials) error {
	body, err := json.Marshal(map[string]string{
		"username": creds.Username,
		"password": creds.Password,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/signin", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError("authenticate", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		recordRequest("authenticate", "error")
		return err
	}
	recordRequest("authenticate", "ok")
	return nil
}

// Activities fetches the activity list for an inclusive date range.
func (c *Client) Activities(ctx context.Context, creds domain.Credentials, start, end time.Time) ([]domain.RemoteActivity, error) {
	raw, err := c.get(ctx, "activities", creds, "/wellness/activities", url.Values{
		"startDate": {start.Format(time.DateOnly)},
		"endDate":   {end.Format(time.DateOnly)},
	})
	if err != nil {
		return nil, err
	}

	var activities []domain.RemoteActivity
	if err := decodeList(raw, &activities); err != nil {
		return nil, err
	}
	return activities, nil
}

// DailySummaries fetches per-day summaries for an inclusive date range.
func (c *Client) DailySummaries(ctx context.Context, creds domain.Credentials, start, end time.Time) ([]domain.RemoteDailySummary, error) {
	raw, err := c.get(ctx, "daily_summaries", creds, "/wellness/daily-summaries", url.Values{
		"startDate": {start.Format(time.DateOnly)},
		"endDate":   {end.Format(time.DateOnly)},
	})
	if err != nil {
		return nil, err
	}

	var summaries []domain.RemoteDailySummary
	if err := decodeList(raw, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

// DailySummary fetches exactly one calendar day. Returns (nil, nil) when the
// provider has no data for that day.
func (c *Client) DailySummary(ctx context.Context, creds domain.Credentials, date time.Time) (*domain.RemoteDailySummary, error) {
	raw, err := c.get(ctx, "daily_summary", creds, "/wellness/daily-summaries/"+date.Format(time.DateOnly), nil)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if envelope := errorEnvelope(raw); envelope != "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidResponse, envelope)
	}

	var summary domain.RemoteDailySummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidResponse, err)
	}
	return &summary, nil
}

var errNotFound = errors.New("provider returned 404")

func (c *Client) get(ctx context.Context, operation string, creds domain.Credentials, path string, query url.Values) (json.RawMessage, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(creds.Username, creds.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		recordRequest(operation, "not_found")
		return nil, errNotFound
	}
	if err := statusError(resp); err != nil {
		recordRequest(operation, "error")
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
	}
	recordRequest(operation, "ok")
	return body, nil
}

func (c *Client) transportError(operation string, err error) error {
	recordRequest(operation, "transport_error")
	c.logger.Warn("provider request failed",
		zap.String("operation", operation),
		zap.Error(err))

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", domain.ErrRemoteUnavailable, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
}

// statusError maps provider HTTP statuses onto the error taxonomy.
func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.ErrAuthenticationFailed
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", domain.ErrRemoteUnavailable, resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: unexpected status %d", domain.ErrInvalidResponse, resp.StatusCode)
	}
	return nil
}

// decodeList validates that the payload is a JSON array before unmarshalling.
// Error envelopes ({"error": "..."}) are rejected explicitly so they can
// never be mistaken for zero results.
func decodeList(raw json.RawMessage, out interface{}) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return fmt.Errorf("%w: empty body", domain.ErrInvalidResponse)
	}
	if trimmed[0] != '[' {
		if envelope := errorEnvelope(trimmed); envelope != "" {
			return mapEnvelope(envelope)
		}
		return fmt.Errorf("%w: expected list, got %q", domain.ErrInvalidResponse, previewByte(trimmed[0]))
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidResponse, err)
	}
	return nil
}

// errorEnvelope returns the error message when the payload is an error
// object, or "" otherwise.
func errorEnvelope(raw json.RawMessage) string {
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ""
	}
	return envelope.Error
}

// mapEnvelope classifies an in-body error message. Some provider deployments
// report throttling with a 200 status and an error envelope.
func mapEnvelope(message string) error {
	if bytes.Contains(bytes.ToLower([]byte(message)), []byte("rate limit")) {
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, message)
	}
	return fmt.Errorf("%w: error envelope: %s", domain.ErrInvalidResponse, message)
}

func previewByte(b byte) string {
	return string([]byte{b})
}
