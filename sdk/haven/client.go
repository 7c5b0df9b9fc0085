// Package haven is a small Go client for the gateway's HTTP API. It covers
// the session lifecycle and text chat; the live WebSocket channel is left to
// browser clients.
package haven

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to one gateway instance.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets the bearer key sent on every request.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session is the vendor descriptor returned on create.
type Session struct {
	SessionID        string `json:"session_id"`
	AccessToken      string `json:"access_token,omitempty"`
	StreamURL        string `json:"url,omitempty"`
	RealtimeEndpoint string `json:"realtime_endpoint,omitempty"`
}

// ChatResult is the gateway's reply to one chat turn.
type ChatResult struct {
	SessionID string     `json:"session_id"`
	Reply     string     `json:"reply"`
	Phase     string     `json:"phase"`
	RiskFlags []RiskFlag `json:"risk_flags,omitempty"`
}

type RiskFlag struct {
	Term       string    `json:"term"`
	DetectedAt time.Time `json:"detected_at"`
}

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int
	Type       string `json:"type"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("haven: %s: %s (status %d)", e.Type, e.Message, e.StatusCode)
}

func (c *Client) CreateSession(ctx context.Context, avatarID string) (*Session, error) {
	var out Session
	body := map[string]string{}
	if avatarID != "" {
		body["avatar_id"] = avatarID
	}
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) StartSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+sessionID+"/start", nil, nil)
}

// Speak has the avatar say text verbatim.
func (c *Client) Speak(ctx context.Context, sessionID, text string) error {
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+sessionID+"/speak", map[string]string{"text": text}, nil)
}

// Chat sends one user turn and returns the generated reply.
func (c *Client) Chat(ctx context.Context, sessionID, text string) (*ChatResult, error) {
	var out ChatResult
	err := c.do(ctx, http.MethodPost, "/v1/sessions/"+sessionID+"/chat", map[string]any{"text": text}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ChatStream sends one user turn and invokes onDelta for each streamed reply
// fragment, returning the final result.
func (c *Client) ChatStream(ctx context.Context, sessionID, text string, onDelta func(string)) (*ChatResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/sessions/"+sessionID+"/chat", map[string]any{"text": text, "stream": true})
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(resp)
	}
	return readChatStream(resp.Body, onDelta)
}

func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/sessions/"+sessionID, nil, nil)
}

func readChatStream(r io.Reader, onDelta func(string)) (*ChatResult, error) {
	var (
		event  string
		result *ChatResult
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			switch event {
			case "delta":
				var d struct {
					Text string `json:"text"`
				}
				if err := json.Unmarshal([]byte(data), &d); err == nil && onDelta != nil {
					onDelta(d.Text)
				}
			case "done":
				var out ChatResult
				if err := json.Unmarshal([]byte(data), &out); err != nil {
					return nil, fmt.Errorf("haven: decode done event: %w", err)
				}
				result = &out
			case "error":
				var envlp struct {
					Error *APIError `json:"error"`
				}
				if err := json.Unmarshal([]byte(data), &envlp); err == nil && envlp.Error != nil {
					return nil, envlp.Error
				}
				return nil, fmt.Errorf("haven: stream error: %s", data)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("haven: stream ended without done event")
	}
	return result, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func errorFromResponse(resp *http.Response) error {
	var envlp struct {
		Error *APIError `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(data, &envlp); err == nil && envlp.Error != nil {
		envlp.Error.StatusCode = resp.StatusCode
		return envlp.Error
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Type:       "api_error",
		Message:    strings.TrimSpace(string(data)),
	}
}
