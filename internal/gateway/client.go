// Package gateway implements the REST client for the survey backend.
//
// The backend owns all durable state: surveys, sessions, audio, validation.
// This client is a thin, defensive wrapper around its HTTP API. Two
// behaviours are non-negotiable for every call:
//
//   - A 401 response clears the cached bearer token and fires the
//     on-unauthorized hook, forcing the caller back to the login screen.
//   - A non-JSON body (an intermediary's HTML warning page, a captive
//     portal, …) is reported as a [*TransportError], never as a JSON decode
//     crash.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultTimeout bounds every request so no gateway call can hang a session.
const defaultTimeout = 30 * time.Second

// ErrUnauthorized is wrapped into the error returned for any 401 response,
// after the cached token has been cleared.
var ErrUnauthorized = errors.New("gateway: unauthorized")

// APIError is a non-2xx JSON error response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: http %d: %s", e.Status, e.Message)
}

// TransportError reports a response that was not the JSON the API promises:
// HTML warning pages, empty bodies, truncated proxies. Status is 0 when the
// request never produced a response at all.
type TransportError struct {
	Status  int
	Snippet string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway: transport: %v", e.Err)
	}
	return fmt.Sprintf("gateway: non-JSON response (http %d): %s", e.Status, e.Snippet)
}

func (e *TransportError) Unwrap() error { return e.Err }

// apiErrorBody is the error envelope the backend uses; detail and message
// have both been observed.
type apiErrorBody struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithHTTPClient replaces the underlying [http.Client].
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithToken seeds the bearer token, e.g. one restored from the state store.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithOnUnauthorized registers a hook invoked whenever a call hits a 401 and
// the cached token is dropped. Used to clear persisted credentials and send
// the user back to login. May be nil.
func WithOnUnauthorized(fn func()) Option {
	return func(c *Client) {
		c.onUnauthorized = fn
	}
}

// Client is the backend gateway client. Safe for concurrent use.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	onUnauthorized func()

	mu    sync.RWMutex
	token string
}

// New creates a Client for the backend at baseURL (scheme + host, no
// trailing slash required).
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("gateway: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// SetToken replaces the bearer token attached to subsequent calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the currently cached bearer token, or "".
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// ClearToken drops the cached bearer token.
func (c *Client) ClearToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// SetOnUnauthorized replaces the 401 hook. See [WithOnUnauthorized].
func (c *Client) SetOnUnauthorized(fn func()) {
	c.mu.Lock()
	c.onUnauthorized = fn
	c.mu.Unlock()
}

// Login exchanges credentials for a bearer token and role. On success the
// token is cached on the client.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	var res LoginResult
	body := map[string]string{"username": username, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", nil, body, &res); err != nil {
		return LoginResult{}, err
	}
	if res.Token() == "" {
		return LoginResult{}, &TransportError{Snippet: "login response carried no token"}
	}
	c.SetToken(res.Token())
	return res, nil
}

// Register creates a new backend account.
func (c *Client) Register(ctx context.Context, reg Registration) error {
	return c.doJSON(ctx, http.MethodPost, "/api/auth/register", nil, reg, nil)
}

// Surveys lists the surveys assigned to the authenticated agent. A non-empty
// sessionID is forwarded so the backend can exclude the survey already in
// progress.
func (c *Client) Surveys(ctx context.Context, sessionID string) ([]Survey, error) {
	var q url.Values
	if sessionID != "" {
		q = url.Values{"session_id": {sessionID}}
	}
	var surveys []Survey
	if err := c.doJSON(ctx, http.MethodGet, "/api/agent/surveys", q, nil, &surveys); err != nil {
		return nil, err
	}
	return surveys, nil
}

// StartSession opens a capture session for the survey at the given initial
// position and returns the opaque session id.
func (c *Client) StartSession(ctx context.Context, surveyID int, loc LocationSample) (string, error) {
	req := startSessionRequest{
		SurveyID:  surveyID,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Accuracy:  loc.Accuracy,
	}
	var res startSessionResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/sessions/start", nil, req, &res); err != nil {
		return "", err
	}
	if res.SessionID == "" {
		return "", &TransportError{Snippet: "start response carried no session_id"}
	}
	return res.SessionID, nil
}

// UpdateLocation pushes one position sample for the session.
func (c *Client) UpdateLocation(ctx context.Context, sessionID string, loc LocationSample) error {
	if loc.Timestamp.IsZero() {
		loc.Timestamp = time.Now().UTC()
	}
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/location"
	return c.doJSON(ctx, http.MethodPost, path, nil, loc, nil)
}

// UploadAudio submits one audio chunk as multipart form data under the field
// name "audio". mimeType may be empty.
func (c *Client) UploadAudio(ctx context.Context, sessionID string, audio io.Reader, mimeType string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	filename := "chunk-" + uuid.NewString()
	if ext := extensionFor(mimeType); ext != "" {
		filename += ext
	}
	part, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		return fmt.Errorf("gateway: build multipart: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return fmt.Errorf("gateway: buffer audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("gateway: finish multipart: %w", err)
	}

	path := "/api/sessions/" + url.PathEscape(sessionID) + "/audio"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return c.unauthorized()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}
	// The upload endpoint sometimes answers with an empty body; anything
	// 2xx counts as an acknowledgement.
	return nil
}

// CompleteSession finalizes the session with its resolved location and the
// accumulated answers.
func (c *Client) CompleteSession(ctx context.Context, sessionID string, loc LocationSample, answers map[string]string) error {
	req := completeSessionRequest{
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Accuracy:  loc.Accuracy,
		Answers:   answers,
	}
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/complete"
	return c.doJSON(ctx, http.MethodPost, path, nil, req, nil)
}

// SurveyQuestions fetches the raw question payload for the survey. The shape
// is not guaranteed; callers normalize it defensively.
func (c *Client) SurveyQuestions(ctx context.Context, surveyID int, sessionID string) (QuestionPayload, error) {
	var q url.Values
	if sessionID != "" {
		q = url.Values{"session_id": {sessionID}}
	}
	var raw json.RawMessage
	path := "/api/surveys/" + strconv.Itoa(surveyID) + "/questions"
	if err := c.doJSON(ctx, http.MethodGet, path, q, nil, &raw); err != nil {
		return nil, err
	}
	return QuestionPayload(raw), nil
}

// SupervisorSessions lists sessions for the supervisor role. status may be
// empty (all); limit <= 0 selects the backend default of 50.
func (c *Client) SupervisorSessions(ctx context.Context, status string, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if status != "" {
		q.Set("status", status)
	}
	var sessions []SessionSummary
	if err := c.doJSON(ctx, http.MethodGet, "/api/supervisor/sessions", q, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Healthy reports whether the backend answers at all. Used by the readiness
// probe; any HTTP response (including an auth error) counts as reachable.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/agent/surveys", nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}

// ── request plumbing ──────────────────────────────────────────────────────────

// doJSON performs one JSON round trip. body and out may be nil.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway: encode request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		return c.unauthorized()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &TransportError{Err: err}
	}
	if looksLikeHTML(raw) {
		return &TransportError{Status: resp.StatusCode, Snippet: snippet(raw)}
	}
	// Decode even without a JSON Content-Type; some intermediaries strip it.
	if err := json.Unmarshal(raw, out); err != nil {
		return &TransportError{Status: resp.StatusCode, Snippet: snippet(raw)}
	}
	return nil
}

// authorize attaches the bearer token, when one is cached.
func (c *Client) authorize(req *http.Request) {
	if t := c.Token(); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}
}

// unauthorized clears the token, fires the hook, and returns the sentinel.
func (c *Client) unauthorized() error {
	c.ClearToken()
	c.mu.RLock()
	fn := c.onUnauthorized
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
	return fmt.Errorf("%w: please log in again", ErrUnauthorized)
}

// readAPIError extracts the backend's error envelope from a non-2xx
// response, falling back to a transport error for non-JSON bodies.
func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if looksLikeHTML(raw) {
		return &TransportError{Status: resp.StatusCode, Snippet: snippet(raw)}
	}
	var body apiErrorBody
	msg := "HTTP " + strconv.Itoa(resp.StatusCode)
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Detail != "" {
			msg = body.Detail
		} else if body.Message != "" {
			msg = body.Message
		}
	} else if len(bytes.TrimSpace(raw)) > 0 {
		msg = snippet(raw)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

// looksLikeHTML detects intermediary warning pages served instead of JSON.
func looksLikeHTML(b []byte) bool {
	t := strings.ToLower(string(bytes.TrimSpace(b)))
	return strings.HasPrefix(t, "<!doctype") || strings.HasPrefix(t, "<html")
}

// snippet trims a body for inclusion in an error message.
func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "…"
	}
	return s
}

// extensionFor picks a filename extension for the upload part.
func extensionFor(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "wav"):
		return ".wav"
	case strings.Contains(mimeType, "ogg"):
		return ".ogg"
	case strings.Contains(mimeType, "webm"):
		return ".webm"
	case strings.Contains(mimeType, "mp3"), strings.Contains(mimeType, "mpeg"):
		return ".mp3"
	default:
		return ""
	}
}
