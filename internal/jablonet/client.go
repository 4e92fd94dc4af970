// Package jablonet implements a session-aware client for the Jablonet
// cloud portal. The portal has no public API: the client authenticates
// by replaying the web UI's cookie-based login sequence and talks to the
// same AJAX endpoints the browser does, recovering automatically from
// session expiry and transient upstream failures.
package jablonet

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultBaseURL is the production portal.
	DefaultBaseURL = "https://www.jablonet.net"

	// DefaultTimeout applies per HTTP request.
	DefaultTimeout = 10 * time.Second

	// DefaultRetryDelay is the cooldown armed after a transient failure.
	DefaultRetryDelay = 30 * time.Minute
)

// Config carries the immutable per-instance settings. Credentials cannot
// change for the lifetime of a client; build a new one instead.
type Config struct {
	BaseURL    string
	Username   string
	Password   string
	ServiceID  string // optional service selector for multi-service accounts
	PGMCode    string // optional control code required for PGM switching
	Timeout    time.Duration
	RetryDelay time.Duration
}

func (cfg *Config) applyDefaults() {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
}

// Client is a stateful portal session. One logical session per instance;
// the mutex serializes overlapping callers so two of them cannot both
// observe a missing session and run duplicate logins, and so a reset
// from one call cannot invalidate cookies another call is still using.
type Client struct {
	cfg   Config
	httpc *http.Client
	log   zerolog.Logger

	mu        sync.Mutex
	loggedIn  bool
	nextRetry time.Time // zero when no cooldown is armed
}

// New builds a client. The credentials are not verified until the first
// operation needs a session.
func New(cfg Config, log zerolog.Logger) *Client {
	cfg.applyDefaults()

	c := &Client{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.Timeout},
		log:   log.With().Str("component", "jablonet").Logger(),
	}
	c.resetSession()
	return c
}

// GetStatus fetches and decodes the current status of all devices.
func (c *Client) GetStatus(ctx context.Context) (*StatusSnapshot, error) {
	var snap *StatusSnapshot
	err := c.call(ctx, func(ctx context.Context) error {
		s, err := c.fetchStatus(ctx)
		if err != nil {
			return err
		}
		snap = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ControlPGM switches the programmable output with the given index on or
// off. The portal addresses outputs by a derived section name: index 6
// controls PGM_7.
func (c *Client) ControlPGM(ctx context.Context, index int, on bool) (*ControlResult, error) {
	var res *ControlResult
	err := c.call(ctx, func(ctx context.Context) error {
		r, err := c.controlPGM(ctx, index, on)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// NextRetryTime returns the time before which operations fail fast, or
// nil when no cooldown is armed.
func (c *Client) NextRetryTime() *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nextRetry.IsZero() {
		return nil
	}
	t := c.nextRetry
	return &t
}

// ResetAndClearRetry drops the session and any armed cooldown, forcing a
// fresh login on the next operation. Used after the operator corrects
// configuration.
func (c *Client) ResetAndClearRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetSession()
	c.nextRetry = time.Time{}
}

// Close releases the transport's idle connections. The client must not
// be used afterwards.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.httpc.CloseIdleConnections()
	c.loggedIn = false
}

// call runs one domain operation through the session state machine:
// fail fast during cooldown, log in when no session exists, and on a
// recoverable session failure reset, re-login and retry the operation
// exactly once. Transient failures arm the cooldown; any full success
// clears it. AuthErrors pass through untouched and never arm a cooldown,
// since retrying with the same bad credentials is pointless.
func (c *Client) call(ctx context.Context, op func(context.Context) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if !c.nextRetry.IsZero() && now.Before(c.nextRetry) {
		wait := c.nextRetry.Sub(now)
		c.log.Warn().Dur("retry_after", wait).Msg("cooling down, not contacting upstream")
		return &SessionError{Reason: "upstream temporarily unavailable", RetryAfter: wait}
	}

	if !c.loggedIn {
		if err := c.login(ctx); err != nil {
			var ae *AuthError
			if errors.As(err, &ae) {
				return err
			}
			return c.armCooldown("login failed", err)
		}
		c.loggedIn = true
	}

	err := op(ctx)
	if err == nil {
		c.nextRetry = time.Time{}
		return nil
	}

	var se *SessionError
	if errors.As(err, &se) {
		if !se.Recoverable {
			// A rejected control code is not a session fault; re-logging
			// in would only mask it. Report it without arming a cooldown.
			return err
		}
		c.log.Info().Bool("expired", se.Expired).Msg("session rejected, re-logging in")
		if lerr := c.login(ctx); lerr != nil {
			var ae *AuthError
			if errors.As(lerr, &ae) {
				return lerr
			}
			return c.armCooldown("re-login failed", lerr)
		}
		c.loggedIn = true

		if rerr := op(ctx); rerr != nil {
			var rse *SessionError
			if errors.As(rerr, &rse) && !rse.Recoverable {
				return rerr
			}
			return c.armCooldown("retry after re-login failed", rerr)
		}
		c.nextRetry = time.Time{}
		return nil
	}

	// NetworkError (or anything unexpected): a server fault is not fixed
	// by re-authenticating, so skip the re-login and go straight to the
	// cooldown.
	return c.armCooldown("upstream request failed", err)
}

// armCooldown records the next allowed attempt and wraps the cause into
// the SessionError surfaced to the caller. Must be called with the mutex
// held.
func (c *Client) armCooldown(reason string, cause error) error {
	c.nextRetry = time.Now().Add(c.cfg.RetryDelay)
	c.log.Warn().Err(cause).Time("next_retry", c.nextRetry).Msg(reason)
	return &SessionError{
		Reason:     reason,
		RetryAfter: c.cfg.RetryDelay,
		Err:        cause,
	}
}
