package jablonet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const userAgent = "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:145.0) Gecko/20100101 Firefox/145.0"

// xhrHeaders returns the headers the portal's own web client sends with
// its AJAX requests. The portal rejects posts without them.
func (c *Client) xhrHeaders(referer string) map[string]string {
	return map[string]string{
		"User-Agent":       userAgent,
		"Accept":           "application/json, text/javascript, */*; q=0.01",
		"Accept-Language":  "en-US,en;q=0.5",
		"Content-Type":     "application/x-www-form-urlencoded",
		"X-Requested-With": "XMLHttpRequest",
		"Origin":           c.cfg.BaseURL,
		"Referer":          referer,
	}
}

// pageHeaders returns headers for the plain page fetches of the login
// sequence, whose bodies are discarded after cookie extraction.
func (c *Client) pageHeaders(referer string) map[string]string {
	h := c.xhrHeaders(referer)
	h["Accept"] = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	h["Upgrade-Insecure-Requests"] = "1"
	return h
}

// do issues a single HTTP request and classifies the result: 200 returns
// the raw body, 4xx becomes a SessionError, 5xx and connection failures
// become a NetworkError. Form is encoded as the request body when
// non-nil.
func (c *Client) do(ctx context.Context, method, rawURL string, headers map[string]string, form url.Values) (int, []byte, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, nil, &NetworkError{Op: fmt.Sprintf("%s %s", method, rawURL), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &NetworkError{Op: "read response body", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.StatusCode, raw, nil
	case resp.StatusCode >= 500:
		return resp.StatusCode, raw, &NetworkError{
			Op:  fmt.Sprintf("%s %s", method, rawURL),
			Err: fmt.Errorf("upstream returned %d", resp.StatusCode),
		}
	default:
		// 4xx and anything else unexpected: the session (or the request
		// we derived from it) is at fault, not the network.
		return resp.StatusCode, raw, &SessionError{
			Reason:      fmt.Sprintf("unexpected HTTP status %d", resp.StatusCode),
			Recoverable: true,
			Code:        resp.StatusCode,
		}
	}
}

// doJSON issues a request via do and decodes the body into out. An
// undecodable body is a SessionError distinct from session expiry; the
// application-level expiry signal (status 300 inside a 200 response) is
// detected by the caller via checkAppStatus, since not every endpoint
// carries the field.
func (c *Client) doJSON(ctx context.Context, method, rawURL string, headers map[string]string, form url.Values, out any) error {
	_, raw, err := c.do(ctx, method, rawURL, headers, form)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &SessionError{
			Reason:      "response is not valid JSON",
			Recoverable: true,
			Err:         err,
		}
	}
	return nil
}

// checkAppStatus validates the application-level status field embedded
// in a JSON body. Zero means the field was absent, which the portal does
// for some endpoints; that is treated as success.
func checkAppStatus(status int) error {
	switch status {
	case 0, appStatusOK:
		return nil
	case appStatusExpired:
		return &SessionError{
			Reason:      "session expired upstream",
			Expired:     true,
			Recoverable: true,
			Code:        appStatusExpired,
		}
	default:
		return &SessionError{
			Reason:      "unexpected application status",
			Recoverable: true,
			Code:        status,
		}
	}
}
