package raysharp

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTimeout bounds every request to the device. A LAN NVR that
	// takes longer than this is treated as unreachable, not awaited.
	DefaultTimeout = 15 * time.Second

	// sessionCookiePrefix matches whatever "session..." cookie name the
	// firmware uses (observed: "session", "sessionId").
	sessionCookiePrefix = "session"
)

// Client owns the authenticated session against one NVR: digest login,
// CSRF token, session cookie and heartbeat. It is safe for concurrent use;
// only (re)authentication is serialized, regular requests are not.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client

	loginHook func(success bool)

	mu            sync.Mutex
	authenticated bool
	csrfToken     string
	sessionCookie string
	nc            int
	loginGen      uint64 // bumped on every completed login, see ensureSession
	loginAt       time.Time
	heartbeatAt   time.Time
}

// NewClient builds a client for one device. httpClient may be nil, in which
// case a client with DefaultTimeout is used.
func NewClient(host string, port int, username, password string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL:  fmt.Sprintf("http://%s:%d", host, port),
		username: username,
		password: password,
		http:     httpClient,
	}
}

// UseTLS switches the device URL to https. Certificate verification is
// disabled; these units only ship self-signed certs.
func (c *Client) UseTLS() {
	c.baseURL = "https" + strings.TrimPrefix(c.baseURL, "http")
	c.http.Transport = &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
}

// Authenticated reports whether the client currently holds a session.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// SessionAge returns how long ago the current session was established, or a
// negative duration when there is none.
func (c *Client) SessionAge() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.authenticated {
		return -1
	}
	return time.Since(c.loginAt)
}

type envelope struct {
	Version string      `json:"version"`
	Data    interface{} `json:"data"`
}

type responseEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// SetLoginHook registers a callback observing the outcome of every login
// attempt. Set before the client is used; not synchronized afterwards.
func (c *Client) SetLoginHook(hook func(success bool)) {
	c.loginHook = hook
}

// EnsureSession logs in if the client holds no session. Concurrent callers
// share one in-flight login: the mutex is held across the whole handshake,
// and waiters observe authenticated=true once the first caller finishes.
func (c *Client) EnsureSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authenticated {
		return nil
	}
	err := c.loginLocked(ctx)
	if c.loginHook != nil {
		c.loginHook(err == nil)
	}
	return err
}

// invalidate drops the session so the next call re-authenticates. gen must
// be the loginGen observed when the failing request was issued; if another
// goroutine re-logged in meanwhile, the newer session is kept.
func (c *Client) invalidate(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loginGen != gen {
		return
	}
	c.authenticated = false
	c.csrfToken = ""
	c.sessionCookie = ""
}

// loginLocked performs the two-step digest handshake. Caller holds c.mu.
//
//  1. POST /API/Web/Login without auth -> 401 + WWW-Authenticate challenge
//  2. POST again with the digest Authorization header -> 200 + session
//     cookie + X-csrftoken header
func (c *Client) loginLocked(ctx context.Context) error {
	body, _ := json.Marshal(envelope{Version: "1.0", Data: map[string]any{}})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathLogin, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if resp.StatusCode == http.StatusOK {
		// Some firmwares keep the old session valid across reconnects.
		err = c.adoptSessionLocked(resp)
		resp.Body.Close()
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		return fmt.Errorf("%w: login expected 401 challenge, got %d", ErrUnreachable, resp.StatusCode)
	}

	wwwAuth := resp.Header.Get("WWW-Authenticate")
	if !strings.HasPrefix(strings.ToLower(wwwAuth), "digest") {
		return fmt.Errorf("%w: device did not offer digest auth", ErrAuth)
	}
	challenge := parseDigestChallenge(wwwAuth)

	c.nc++
	auth := buildDigestAuthorization(c.username, c.password, http.MethodPost, pathLogin, challenge, c.nc)

	req2, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathLogin, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	req2.Header.Set("Content-Type", "application/json")
	req2.Header.Set("Authorization", auth)

	resp2, err := c.http.Do(req2)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp2.Body.Close()

	switch {
	case resp2.StatusCode == http.StatusUnauthorized:
		io.Copy(io.Discard, resp2.Body)
		return fmt.Errorf("%w: invalid credentials", ErrAuth)
	case resp2.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp2.Body)
		return fmt.Errorf("%w: login status %d", ErrUnreachable, resp2.StatusCode)
	}
	return c.adoptSessionLocked(resp2)
}

// adoptSessionLocked captures the CSRF token and session cookie from a
// successful login response. Caller holds c.mu.
func (c *Client) adoptSessionLocked(resp *http.Response) error {
	if csrf := csrfFromHeader(resp.Header); csrf != "" {
		c.csrfToken = csrf
	}
	for _, ck := range resp.Cookies() {
		if strings.HasPrefix(ck.Name, sessionCookiePrefix) {
			c.sessionCookie = ck.Name + "=" + ck.Value
			break
		}
	}
	io.Copy(io.Discard, resp.Body)
	c.authenticated = true
	c.loginGen++
	c.loginAt = time.Now()
	log.Printf("[DEBUG] raysharp: logged in to %s", c.baseURL)
	return nil
}

func csrfFromHeader(h http.Header) string {
	if v := h.Get("X-csrftoken"); v != "" {
		return v
	}
	return h.Get("X-CsrfToken")
}

// Call issues one authenticated API call and returns the decoded "data"
// payload. On 401 it invalidates the session, re-authenticates once
// (single-flight with any concurrent callers) and retries exactly once;
// a second 401 surfaces as ErrAuth.
func (c *Client) Call(ctx context.Context, path string, data any) (json.RawMessage, error) {
	if err := c.EnsureSession(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	gen := c.loginGen
	c.mu.Unlock()

	raw, status, err := c.doCall(ctx, path, data)
	if err != nil {
		return nil, err
	}
	if status != http.StatusUnauthorized {
		return raw, nil
	}

	// Session expired on the device side. Retry once with a fresh login.
	c.invalidate(gen)
	if err := c.EnsureSession(ctx); err != nil {
		return nil, err
	}
	raw, status, err = c.doCall(ctx, path, data)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		c.mu.Lock()
		g := c.loginGen
		c.mu.Unlock()
		c.invalidate(g)
		return nil, fmt.Errorf("%w: 401 after re-login on %s", ErrAuth, path)
	}
	return raw, nil
}

// CallRead is Call with one extra attempt when the device is unreachable.
// Only idempotent reads go through here; writes use Call and are attempted
// exactly once.
func (c *Client) CallRead(ctx context.Context, path string, data any) (json.RawMessage, error) {
	raw, err := c.Call(ctx, path, data)
	if err != nil && errors.Is(err, ErrUnreachable) && ctx.Err() == nil {
		return c.Call(ctx, path, data)
	}
	return raw, err
}

// doCall performs a single request. A 401 is reported via status, not err,
// so Call can drive the retry-once policy.
func (c *Client) doCall(ctx context.Context, path string, data any) (json.RawMessage, int, error) {
	if data == nil {
		data = map[string]any{}
	}
	body, err := json.Marshal(envelope{Version: "1.0", Data: data})
	if err != nil {
		return nil, 0, fmt.Errorf("raysharp: encode %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.mu.Lock()
	if c.csrfToken != "" {
		req.Header.Set("X-csrftoken", c.csrfToken)
	}
	if c.sessionCookie != "" {
		req.Header.Set("Cookie", c.sessionCookie)
	}
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrUnreachable, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		return nil, http.StatusUnauthorized, nil
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, fmt.Errorf("%w: %s: status %d", ErrUnreachable, path, resp.StatusCode)
	}

	// The device may rotate the CSRF token on any response.
	if csrf := csrfFromHeader(resp.Header); csrf != "" {
		c.mu.Lock()
		c.csrfToken = csrf
		c.mu.Unlock()
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: %s: %v", ErrUnreachable, path, err)
	}

	var env responseEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
		return env.Data, resp.StatusCode, nil
	}
	// No envelope: some endpoints answer with a bare object.
	if json.Valid(raw) {
		return json.RawMessage(raw), resp.StatusCode, nil
	}
	return nil, resp.StatusCode, fmt.Errorf("%w: %s", ErrBadResponse, path)
}

// Heartbeat keeps the device-side session alive. It is called on a fixed
// cadence by the controller, independent of request traffic.
func (c *Client) Heartbeat(ctx context.Context) error {
	_, err := c.Call(ctx, pathHeartbeat, nil)
	if err == nil {
		c.mu.Lock()
		c.heartbeatAt = time.Now()
		c.mu.Unlock()
	}
	return err
}

// Logout releases the device-side session. Errors are ignored beyond
// logging; local state is cleared either way.
func (c *Client) Logout(ctx context.Context) {
	c.mu.Lock()
	wasAuth := c.authenticated
	gen := c.loginGen
	c.mu.Unlock()

	if wasAuth {
		if _, _, err := c.doCall(ctx, pathLogout, nil); err != nil {
			log.Printf("[DEBUG] raysharp: logout failed: %v", err)
		}
	}
	c.invalidate(gen)
}
