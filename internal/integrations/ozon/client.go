package ozon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"ozonbot/internal/metrics"
)

const DefaultBaseURL = "https://api-seller.ozon.ru"

var (
	ErrTimeout     = errors.New("ozon: request timed out")
	ErrUnreachable = errors.New("ozon: service unreachable")
)

// APIError is a non-2xx answer from the Seller API.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ozon: http %d", e.Status)
	}
	return fmt.Sprintf("ozon: http %d: %s", e.Status, e.Message)
}

// Auth is the pair of headers the Seller API authenticates with.
type Auth struct {
	ClientID string
	APIKey   string
}

type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(baseURL string, timeout time.Duration, rps float64) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		if rps > 1 {
			burst = int(rps)
		}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// Ping hits a cheap read-only endpoint to prove the credentials work.
func (c *Client) Ping(ctx context.Context, auth Auth) error {
	return c.post(ctx, auth, "/v1/description-category/tree", map[string]string{"language": "DEFAULT"}, nil)
}

func (c *Client) post(ctx context.Context, auth Auth, endpoint string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return classify(ctx, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Client-Id", auth.ClientID)
	req.Header.Set("Api-Key", auth.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordOzonRequest(endpoint, 0, time.Since(start))
		return classify(ctx, err)
	}
	defer resp.Body.Close()
	metrics.RecordOzonRequest(endpoint, resp.StatusCode, time.Since(start))

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return classify(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var parsed struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(payload, &parsed) == nil {
			apiErr.Code = parsed.Code
			apiErr.Message = parsed.Message
		}
		if apiErr.Message == "" {
			apiErr.Message = truncate(strings.TrimSpace(string(payload)), 200)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("ozon %s: decode response: %w", endpoint, err)
	}
	return nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
