package avatar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("test-key", srv.Client()).WithBaseURL(srv.URL)
	return c, srv
}

func TestCreateSession_ReturnsDescriptor(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/streaming.new" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}
		var body CreateSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.AvatarID != "ava_1" {
			t.Errorf("avatar_id = %q", body.AvatarID)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":100,"message":"success","data":{"session_id":"sess_1","access_token":"tok","url":"wss://x","realtime_endpoint":"wss://rt"}}`))
	}))

	sess, err := c.CreateSession(context.Background(), CreateSessionRequest{AvatarID: "ava_1"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.SessionID != "sess_1" || sess.AccessToken != "tok" || sess.StreamURL != "wss://x" {
		t.Fatalf("unexpected descriptor: %+v", sess)
	}
}

func TestCreateSession_VendorEnvelopeError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":10013,"message":"concurrent session limit reached"}`))
	}))

	_, err := c.CreateSession(context.Background(), CreateSessionRequest{})
	var ae *Error
	if !errors.As(err, &ae) {
		t.Fatalf("want *Error, got %v", err)
	}
	if ae.Code != "vendor_10013" {
		t.Errorf("code = %q", ae.Code)
	}
}

func TestStartSession_NotFound(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"session not found"}`))
	}))

	err := c.StartSession(context.Background(), "missing")
	var ae *Error
	if !errors.As(err, &ae) {
		t.Fatalf("want *Error, got %v", err)
	}
	if !ae.IsSessionNotFound() {
		t.Errorf("IsSessionNotFound() = false for %+v", ae)
	}
}

func TestSendText_DefaultsToRepeatTask(t *testing.T) {
	var gotTask string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotTask = body["task_type"]
		_, _ = w.Write([]byte(`{"code":100,"message":"success"}`))
	}))

	if err := c.SendText(context.Background(), "sess_1", "hello", ""); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if gotTask != string(TaskRepeat) {
		t.Errorf("task_type = %q", gotTask)
	}
}

func TestQuota_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int64
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"code":100,"data":{"remaining_quota":42}}`))
	}))

	q, err := c.Quota(context.Background())
	if err != nil {
		t.Fatalf("Quota: %v", err)
	}
	if q.RemainingQuota != 42 {
		t.Errorf("remaining = %d", q.RemainingQuota)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestQuota_DoesNotRetryAuthFailures(t *testing.T) {
	var calls atomic.Int64
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid api key"}`))
	}))

	_, err := c.Quota(context.Background())
	if err == nil {
		t.Fatal("want error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestCloseSession_SurfacesVendorError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	err := c.CloseSession(context.Background(), "sess_1")
	var ae *Error
	if !errors.As(err, &ae) {
		t.Fatalf("want *Error, got %v", err)
	}
	if ae.Status != http.StatusBadGateway {
		t.Errorf("status = %d", ae.Status)
	}
}
