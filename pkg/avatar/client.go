package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const defaultBaseURL = "https://api.heygen.com"

// vendorCodeOK is the vendor's in-envelope success code.
const vendorCodeOK = 100

// Client calls the avatar vendor's streaming API. All methods honor the
// passed context; the vendor's own request timeout bounds latency beyond
// that.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    defaultBaseURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: httpClient,
	}
}

// WithBaseURL overrides the vendor endpoint (tests, regional clusters).
func (c *Client) WithBaseURL(base string) *Client {
	if c == nil {
		return c
	}
	base = strings.TrimSpace(base)
	if base != "" {
		c.baseURL = strings.TrimSuffix(base, "/")
	}
	return c
}

type CreateSessionRequest struct {
	AvatarID string `json:"avatar_id,omitempty"`
	Quality  string `json:"quality,omitempty"`
	Voice    string `json:"voice_id,omitempty"`
}

// CreateSession asks the vendor for a new streaming session. The descriptor
// is returned as-is; the caller owns tracking it.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	var out Session
	if err := c.post(ctx, "/v1/streaming.new", req, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return nil, &Error{Status: http.StatusBadGateway, Code: "bad_vendor_response", Message: "create returned no session_id"}
	}
	return &out, nil
}

// StartSession begins streaming for a previously created session.
func (c *Client) StartSession(ctx context.Context, sessionID string) error {
	body := map[string]string{"session_id": sessionID}
	return c.post(ctx, "/v1/streaming.start", body, nil)
}

// SendText forwards text for the avatar to speak.
func (c *Client) SendText(ctx context.Context, sessionID, text string, task TaskType) error {
	if task == "" {
		task = TaskRepeat
	}
	body := map[string]string{
		"session_id": sessionID,
		"text":       text,
		"task_type":  string(task),
	}
	return c.post(ctx, "/v1/streaming.task", body, nil)
}

// CloseSession stops a vendor session. Callers treat failures as
// best-effort; the client itself reports them faithfully.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	body := map[string]string{"session_id": sessionID}
	return c.post(ctx, "/v1/streaming.stop", body, nil)
}

// ListSessions returns the vendor-side view of live sessions. Idempotent;
// transient failures are retried with capped exponential backoff.
func (c *Client) ListSessions(ctx context.Context) ([]ActiveSession, error) {
	var out struct {
		Sessions []ActiveSession `json:"sessions"`
	}
	err := c.getWithRetry(ctx, "/v1/streaming.list", &out)
	if err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// Quota returns the remaining vendor quota. Idempotent, retried like
// ListSessions.
func (c *Client) Quota(ctx context.Context) (*Quota, error) {
	var out Quota
	if err := c.getWithRetry(ctx, "/v1/user/remaining_quota", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getWithRetry(ctx context.Context, path string, out any) error {
	backoff := retry.WithMaxRetries(2, retry.NewExponential(250*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.do(ctx, http.MethodGet, path, nil, out)
		if isTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isTransient(err error) bool {
	var ae *Error
	if !asError(err, &ae) {
		return false
	}
	return ae.Status == http.StatusTooManyRequests || ae.Status >= 500
}

func asError(err error, target **Error) bool {
	return errors.As(err, target)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// vendorEnvelope is the vendor's uniform response wrapper.
type vendorEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode vendor request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build vendor request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Status: 0, Code: "network_error", Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Status: resp.StatusCode, Code: "read_error", Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorFromResponse(resp.StatusCode, raw)
	}

	var env vendorEnvelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return &Error{Status: resp.StatusCode, Code: "bad_vendor_response", Message: "invalid response body"}
		}
	}
	if env.Code != 0 && env.Code != vendorCodeOK {
		return &Error{Status: resp.StatusCode, Code: fmt.Sprintf("vendor_%d", env.Code), Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &Error{Status: resp.StatusCode, Code: "bad_vendor_response", Message: "invalid response data"}
		}
	}
	return nil
}

func errorFromResponse(status int, raw []byte) *Error {
	var env struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(raw, &env)

	msg := strings.TrimSpace(env.Message)
	if msg == "" {
		msg = http.StatusText(status)
	}

	code := ""
	switch v := env.Code.(type) {
	case string:
		code = v
	case float64:
		code = fmt.Sprintf("vendor_%d", int(v))
	}
	if status == http.StatusNotFound && code == "" {
		code = "session_not_found"
	}
	return &Error{Status: status, Code: code, Message: msg}
}
