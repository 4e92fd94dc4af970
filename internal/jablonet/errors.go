package jablonet

import (
	"fmt"
	"time"
)

// AuthError means the portal rejected the configured credentials. It is
// fatal: retrying with the same username and password cannot succeed, so
// the caller should prompt for new ones instead of polling again.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("jablonet: authentication failed: %s", e.Reason)
}

// NetworkError covers connection failures, timeouts and upstream 5xx
// responses. Re-authenticating does not help; the condition is expected
// to clear on its own.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("jablonet: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SessionError covers everything a fresh login may or may not fix: HTTP
// 4xx responses, undecodable bodies, the application-level expiry signal
// and rejected control commands.
//
// Expired is set only for the upstream status-300 signal, so callers can
// tell a dead session apart from a response that simply failed to parse.
// Recoverable reports whether re-authenticating is worth a try; a control
// command rejected because of a wrong code sets it to false.
// RetryAfter is non-zero when the client is cooling down after repeated
// failures; no network I/O was performed for such calls.
type SessionError struct {
	Reason      string
	Expired     bool
	Recoverable bool
	Code        int
	RetryAfter  time.Duration
	Err         error
}

func (e *SessionError) Error() string {
	msg := "jablonet: " + e.Reason
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.RetryAfter > 0 {
		msg = fmt.Sprintf("%s, retry after %s", msg, e.RetryAfter.Round(time.Second))
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *SessionError) Unwrap() error { return e.Err }
