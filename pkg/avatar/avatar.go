// Package avatar is a thin HTTP client for the external avatar streaming
// vendor. The gateway never retries create/start calls on behalf of the
// caller; list/quota diagnostics are idempotent and retried with backoff.
package avatar

import "fmt"

// Session is the vendor's descriptor for a newly created streaming session,
// returned to API callers unchanged.
type Session struct {
	SessionID        string `json:"session_id"`
	AccessToken      string `json:"access_token,omitempty"`
	StreamURL        string `json:"url,omitempty"`
	PreviewURL       string `json:"preview_url,omitempty"`
	RealtimeEndpoint string `json:"realtime_endpoint,omitempty"`
}

// ActiveSession is one entry of the vendor-side session list.
type ActiveSession struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
}

// Quota reports the remaining vendor credit/quota.
type Quota struct {
	RemainingQuota int64  `json:"remaining_quota"`
	Details        string `json:"details,omitempty"`
}

// TaskType selects how the avatar renders forwarded text.
type TaskType string

const (
	TaskRepeat TaskType = "repeat"
	TaskChat   TaskType = "chat"
)

// Error is a failed vendor call (network failure, quota exhaustion, unknown
// session id). It is the only error type the client returns for rejected
// requests.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("avatar vendor: %s (code: %s, status: %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("avatar vendor: %s (status: %d)", e.Message, e.Status)
}

// IsSessionNotFound reports whether the vendor rejected the call because the
// session id is unknown on its side.
func (e *Error) IsSessionNotFound() bool {
	return e.Status == 404 || e.Code == "session_not_found"
}
