package jablonet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"golang.org/x/net/publicsuffix"
)

// Relative endpoints under the configured base URL.
const (
	loginPath   = "/ajax/login.php"
	cloudPath   = "/cloud"
	appPath     = "/app/ja100"
	statusPath  = "/app/ja100/ajax/stav.php"
	controlPath = "/app/ja100/ajax/ovladani2.php"
)

// login replays the four requests the portal's web client performs, in
// order. The order is mandatory: each step deposits cookies the next one
// depends on, and skipping any of them yields a session the status
// endpoint rejects with status 300.
func (c *Client) login(ctx context.Context) error {
	c.log.Debug().Msg("performing full login")
	c.resetSession()

	// Step 1: the site root seeds the initial session cookie.
	if err := c.fetchPage(ctx, c.cfg.BaseURL, map[string]string{"User-Agent": userAgent}); err != nil {
		return &SessionError{Reason: "homepage fetch failed", Recoverable: true, Err: err}
	}

	// Step 2: credentials, form-encoded with XHR headers.
	if err := c.postLogin(ctx); err != nil {
		return err
	}

	// Step 3: the cloud page sets the mode-tracking cookie.
	if err := c.fetchPage(ctx, c.cfg.BaseURL+cloudPath, c.pageHeaders(c.cfg.BaseURL+"/")); err != nil {
		return &SessionError{Reason: "cloud page fetch failed", Recoverable: true, Err: err}
	}

	// Step 4: the device application page finalizes server-side state.
	appURL := c.cfg.BaseURL + appPath
	if c.cfg.ServiceID != "" {
		appURL += "?service=" + url.QueryEscape(c.cfg.ServiceID)
	}
	if err := c.fetchPage(ctx, appURL, c.pageHeaders(c.cfg.BaseURL+"/")); err != nil {
		return &SessionError{Reason: "application page fetch failed", Recoverable: true, Err: err}
	}

	c.log.Debug().Msg("login sequence complete")
	return nil
}

// fetchPage GETs one of the login-sequence pages, discarding the HTML
// body after the transport has extracted its cookies.
func (c *Client) fetchPage(ctx context.Context, rawURL string, headers map[string]string) error {
	_, _, err := c.do(ctx, http.MethodGet, rawURL, headers, nil)
	return err
}

// postLogin submits the credential form. Credential rejections (either a
// non-200 HTTP status or a JSON error field in the body) are fatal
// AuthErrors; connection failures and 5xx are transient SessionErrors.
func (c *Client) postLogin(ctx context.Context) error {
	form := url.Values{
		"login":     {c.cfg.Username},
		"heslo":     {c.cfg.Password},
		"aStatus":   {"200"},
		"loginType": {"Login"},
	}

	status, raw, err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+loginPath, c.xhrHeaders(c.cfg.BaseURL+"/"), form)
	if err != nil {
		var ne *NetworkError
		if errors.As(err, &ne) {
			return &SessionError{Reason: "login request failed", Recoverable: true, Err: err}
		}
		// A 4xx on the login endpoint means the credentials were refused.
		return &AuthError{Reason: fmt.Sprintf("login rejected with HTTP %d", status)}
	}

	// The body is usually empty or HTML. When it is JSON, a non-200
	// status or an error message means wrong credentials.
	var lr loginResponse
	if len(raw) > 0 && json.Unmarshal(raw, &lr) == nil {
		if lr.ErrorMessage != "" {
			return &AuthError{Reason: lr.ErrorMessage}
		}
		if lr.Status != 0 && lr.Status != appStatusOK {
			return &AuthError{Reason: fmt.Sprintf("login returned status %d", lr.Status)}
		}
	}
	return nil
}

// resetSession discards all cookies and the logged-in flag. The
// underlying connection pool is kept; only Close tears it down.
func (c *Client) resetSession() {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		// cookiejar.New only fails on a nil-incompatible option set.
		panic(err)
	}
	c.httpc.Jar = jar
	c.loggedIn = false
}
