package jablonet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePortal simulates the upstream portal: the four login-sequence
// pages plus the status and control endpoints. Responses can be scripted
// per endpoint and every request is counted.
type fakePortal struct {
	mu    sync.Mutex
	paths []string

	loginStatus     int    // HTTP status of the login POST, default 200
	loginBody       string // body of the login POST, default empty
	statusResponses []string
	statusHTTP      int // non-zero forces this HTTP status on stav.php
	controlResponse string
	failAll         int // non-zero HTTP status returned for every request
}

func (p *fakePortal) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.paths = append(p.paths, r.URL.Path)

		if p.failAll != 0 {
			w.WriteHeader(p.failAll)
			return
		}

		switch r.URL.Path {
		case loginPath:
			status := p.loginStatus
			if status == 0 {
				status = http.StatusOK
			}
			w.WriteHeader(status)
			w.Write([]byte(p.loginBody))
		case statusPath:
			if p.statusHTTP != 0 {
				w.WriteHeader(p.statusHTTP)
				return
			}
			body := `{"status": 200}`
			if len(p.statusResponses) > 0 {
				body = p.statusResponses[0]
				if len(p.statusResponses) > 1 {
					p.statusResponses = p.statusResponses[1:]
				}
			}
			w.Write([]byte(body))
		case controlPath:
			w.Write([]byte(p.controlResponse))
		default:
			// Login-sequence pages: any 200 with a body will do.
			w.Write([]byte("<html></html>"))
		}
	})
}

func (p *fakePortal) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.paths)
}

func (p *fakePortal) countOf(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, seen := range p.paths {
		if seen == path {
			n++
		}
	}
	return n
}

func newTestClient(t *testing.T, portal *fakePortal, mutate func(*Config)) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(portal.handler())
	t.Cleanup(server.Close)

	cfg := Config{
		BaseURL:  server.URL,
		Username: "user@example.com",
		Password: "secret",
		PGMCode:  "1234",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	client := New(cfg, zerolog.Nop())
	t.Cleanup(client.Close)
	return client, server
}

func TestGetStatus_HappyPath(t *testing.T) {
	portal := &fakePortal{
		statusResponses: []string{`{"status": 200, "teplomery": {"T1": {"nazev": "Living room", "value": 21.5, "stateName": "STATE_1"}}}`},
	}
	client, _ := newTestClient(t, portal, nil)

	snap, err := client.GetStatus(context.Background())
	require.NoError(t, err)
	require.Contains(t, snap.Thermometers, "T1")
	assert.Equal(t, "Living room", snap.Thermometers["T1"].Name)
	assert.InDelta(t, 21.5, float64(snap.Thermometers["T1"].Value), 0.001)

	assert.Nil(t, client.NextRetryTime())
}

func TestGetStatus_LoginSequenceOrder(t *testing.T) {
	portal := &fakePortal{}
	client, _ := newTestClient(t, portal, nil)

	_, err := client.GetStatus(context.Background())
	require.NoError(t, err)

	want := []string{"/", loginPath, cloudPath, appPath, statusPath}
	assert.Equal(t, want, portal.paths)
}

func TestGetStatus_WrongPasswordYieldsAuthErrorWithoutCooldown(t *testing.T) {
	portal := &fakePortal{
		loginBody: `{"errorMessage": "bad credentials"}`,
	}
	client, _ := newTestClient(t, portal, nil)

	_, err := client.GetStatus(context.Background())

	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Reason, "bad credentials")
	assert.Nil(t, client.NextRetryTime(), "auth failures must not arm a cooldown")

	// The sequence stopped at the login step; the cloud page was never
	// requested.
	assert.Equal(t, 0, portal.countOf(cloudPath))
}

func TestGetStatus_ExpiryTriggersExactlyOneRelogin(t *testing.T) {
	portal := &fakePortal{
		statusResponses: []string{
			`{"status": 300}`,
			`{"status": 200, "teplomery": {"T1": {"nazev": "Attic", "value": "18.0"}}}`,
		},
	}
	client, _ := newTestClient(t, portal, nil)

	snap, err := client.GetStatus(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 18.0, float64(snap.Thermometers["T1"].Value), 0.001)

	assert.Equal(t, 2, portal.countOf(loginPath), "expected initial login plus one re-login")
	assert.Equal(t, 2, portal.countOf(statusPath), "expected one fetch plus one retry")
	assert.Nil(t, client.NextRetryTime())
}

func TestGetStatus_PersistentExpiryArmsCooldown(t *testing.T) {
	portal := &fakePortal{
		statusResponses: []string{`{"status": 300}`},
	}
	client, _ := newTestClient(t, portal, nil)

	_, err := client.GetStatus(context.Background())

	var se *SessionError
	require.ErrorAs(t, err, &se)
	assert.Positive(t, se.RetryAfter)

	next := client.NextRetryTime()
	require.NotNil(t, next)
	assert.True(t, next.After(time.Now()), "cooldown timestamp must lie in the future")

	// Re-login happened once, then the retry failed too; no third try.
	assert.Equal(t, 2, portal.countOf(loginPath))
	assert.Equal(t, 2, portal.countOf(statusPath))
}

func TestGetStatus_ServerErrorsArmCooldownAndFailFast(t *testing.T) {
	portal := &fakePortal{failAll: http.StatusServiceUnavailable}
	client, _ := newTestClient(t, portal, nil)

	_, err := client.GetStatus(context.Background())
	var se *SessionError
	require.ErrorAs(t, err, &se)

	next := client.NextRetryTime()
	require.NotNil(t, next)
	assert.True(t, next.After(time.Now()))

	seen := portal.requestCount()
	_, err = client.GetStatus(context.Background())
	require.ErrorAs(t, err, &se)
	assert.Positive(t, se.RetryAfter)
	assert.Equal(t, seen, portal.requestCount(), "cooldown must block all network I/O")
}

func TestGetStatus_NetworkErrorSkipsRelogin(t *testing.T) {
	portal := &fakePortal{statusHTTP: http.StatusInternalServerError}
	client, _ := newTestClient(t, portal, nil)

	_, err := client.GetStatus(context.Background())
	var se *SessionError
	require.ErrorAs(t, err, &se)

	// One full login sequence, one status fetch, no second attempt of
	// either: a 5xx is not fixed by re-authenticating.
	assert.Equal(t, 1, portal.countOf(loginPath))
	assert.Equal(t, 1, portal.countOf(statusPath))
}

func TestGetStatus_CooldownClearedAfterSuccess(t *testing.T) {
	portal := &fakePortal{statusHTTP: http.StatusInternalServerError}
	client, _ := newTestClient(t, portal, func(cfg *Config) {
		cfg.RetryDelay = 30 * time.Millisecond
	})

	_, err := client.GetStatus(context.Background())
	require.Error(t, err)
	require.NotNil(t, client.NextRetryTime())

	// Let the cooldown lapse and the upstream recover.
	time.Sleep(50 * time.Millisecond)
	portal.mu.Lock()
	portal.statusHTTP = 0
	portal.mu.Unlock()

	_, err = client.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Nil(t, client.NextRetryTime(), "success must clear the cooldown")
}

func TestControlPGM_SectionNaming(t *testing.T) {
	assert.Equal(t, "PGM_7", PGMSectionName(6))
	assert.Equal(t, "PGM_1", PGMSectionName(0))
}

func TestControlPGM_Success(t *testing.T) {
	portal := &fakePortal{
		controlResponse: `{"ts": 1767139200, "section": "PGM_7", "cid": 1, "stav": 1, "status": 200}`,
	}
	client, _ := newTestClient(t, portal, nil)

	res, err := client.ControlPGM(context.Background(), 6, true)
	require.NoError(t, err)
	assert.Equal(t, "PGM_7", res.Section)
	assert.Equal(t, 1, res.Value)
	assert.Nil(t, client.NextRetryTime())
}

func TestControlPGM_RefusedCodeIsNotRetried(t *testing.T) {
	portal := &fakePortal{
		controlResponse: `{"ts": 1767139200, "section": "PGM_2", "cid": 0, "stav": 0, "status": 200}`,
	}
	client, _ := newTestClient(t, portal, nil)

	_, err := client.ControlPGM(context.Background(), 1, false)

	var se *SessionError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Recoverable)
	assert.Equal(t, 1, portal.countOf(loginPath), "a refused control code must not trigger a re-login loop")
	assert.Equal(t, 1, portal.countOf(controlPath))
	assert.Nil(t, client.NextRetryTime(), "a refused control code is not a transient fault")
}

func TestControlPGM_ExpiryStillRecovers(t *testing.T) {
	// First control attempt reports an expired session, the second one
	// succeeds after the forced re-login.
	first := true
	portal := &fakePortal{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		portal.mu.Lock()
		portal.paths = append(portal.paths, r.URL.Path)
		defer portal.mu.Unlock()
		if r.URL.Path == controlPath {
			if first {
				first = false
				w.Write([]byte(`{"status": 300}`))
				return
			}
			w.Write([]byte(`{"ts": 1, "section": "PGM_3", "cid": 1, "stav": 1, "status": 200}`))
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, Username: "u", Password: "p"}, zerolog.Nop())
	defer client.Close()

	res, err := client.ControlPGM(context.Background(), 2, true)
	require.NoError(t, err)
	assert.Equal(t, "PGM_3", res.Section)
	assert.Equal(t, 2, portal.countOf(loginPath))
}

func TestResetAndClearRetry(t *testing.T) {
	portal := &fakePortal{failAll: http.StatusServiceUnavailable}
	client, _ := newTestClient(t, portal, nil)

	_, err := client.GetStatus(context.Background())
	require.Error(t, err)
	require.NotNil(t, client.NextRetryTime())

	client.ResetAndClearRetry()
	assert.Nil(t, client.NextRetryTime())

	portal.mu.Lock()
	portal.failAll = 0
	portal.mu.Unlock()

	_, err = client.GetStatus(context.Background())
	require.NoError(t, err)
}

func TestGetStatus_MalformedJSONIsSessionErrorButNotExpiry(t *testing.T) {
	portal := &fakePortal{
		statusResponses: []string{`<html>maintenance</html>`},
	}
	client, _ := newTestClient(t, portal, nil)

	_, err := client.GetStatus(context.Background())

	var se *SessionError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Expired, "a parse failure must stay distinguishable from session expiry")
}

func TestStatusSnapshotDecoding(t *testing.T) {
	raw := `{
		"status": 200,
		"teplomery": {"T1": {"nazev": "Hall", "value": "21.3", "stateName": "STATE_OK"}},
		"pgm": {"1": {"nazev": "Gate", "stav": 1, "stateName": "PGM_1", "reaction": "pgorSwitchOnOff", "ts": 1767139200}},
		"pir": {"5": {"nazev": "Garage", "stav": 0, "stateName": "PIR_5"}},
		"sekce": {"2": {"nazev": "Ground floor", "stav": 1, "stateName": "STATE_2"}},
		"permissions": {"PGM_1": 1}
	}`

	var env statusEnvelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))

	assert.Equal(t, appStatusOK, env.Status)
	assert.InDelta(t, 21.3, float64(env.Thermometers["T1"].Value), 0.001)
	assert.Equal(t, "pgorSwitchOnOff", env.PGMs["1"].Reaction)
	assert.Equal(t, 0, env.Motion["5"].State)
	assert.Equal(t, "Ground floor", env.Sections["2"].Name)
	assert.Equal(t, 1, env.Permissions["PGM_1"])
}

func TestConcurrentCallsShareOneLogin(t *testing.T) {
	portal := &fakePortal{}
	client, _ := newTestClient(t, portal, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.GetStatus(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, portal.countOf(loginPath), "overlapping callers must not run duplicate logins")
	assert.Equal(t, 4, portal.countOf(statusPath))
}

func TestAuthErrorPropagation(t *testing.T) {
	portal := &fakePortal{loginStatus: http.StatusForbidden}
	client, _ := newTestClient(t, portal, nil)

	_, err := client.GetStatus(context.Background())
	var ae *AuthError
	require.True(t, errors.As(err, &ae))
}
