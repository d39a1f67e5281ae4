package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ilxomkh/survey/internal/app"
	"github.com/ilxomkh/survey/internal/config"
	"github.com/ilxomkh/survey/internal/state"
	"github.com/ilxomkh/survey/pkg/device"
	"github.com/ilxomkh/survey/pkg/device/mock"
)

// fakeBackend is an in-memory survey gateway for end-to-end app tests.
type fakeBackend struct {
	mu          sync.Mutex
	surveysJSON string
	questions   string
	authHeaders []string
	audioParts  int
	locations   int
	completions []completion
}

type completion struct {
	sessionID string
	answers   map[string]string
	latitude  float64
}

func (b *fakeBackend) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		json.NewDecoder(r.Body).Decode(&creds)
		if creds["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"detail": "bad credentials"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-1", "role": "agent"})
	})
	mux.HandleFunc("GET /api/agent/surveys", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.authHeaders = append(b.authHeaders, r.Header.Get("Authorization"))
		b.mu.Unlock()
		io.WriteString(w, b.surveysJSON)
	})
	mux.HandleFunc("POST /api/sessions/start", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"session_id": "sess-e2e"})
	})
	mux.HandleFunc("GET /api/surveys/{id}/questions", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, b.questions)
	})
	mux.HandleFunc("POST /api/sessions/{id}/location", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.locations++
		b.mu.Unlock()
		io.WriteString(w, "{}")
	})
	mux.HandleFunc("POST /api/sessions/{id}/audio", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("audio upload is not multipart: %v", err)
		}
		if _, _, err := r.FormFile("audio"); err != nil {
			t.Errorf("audio upload lacks the audio field: %v", err)
		}
		b.mu.Lock()
		b.audioParts++
		b.mu.Unlock()
		io.WriteString(w, "{}")
	})
	mux.HandleFunc("POST /api/sessions/{id}/complete", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Latitude float64           `json:"latitude"`
			Answers  map[string]string `json:"answers"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.completions = append(b.completions, completion{
			sessionID: r.PathValue("id"),
			answers:   body.Answers,
			latitude:  body.Latitude,
		})
		b.mu.Unlock()
		io.WriteString(w, "{}")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func openStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open state store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp(t *testing.T, baseURL string, store *state.Store, input string, out *bytes.Buffer, opts ...app.Option) *app.App {
	t.Helper()
	cfg := &config.Config{
		Gateway: config.GatewayConfig{BaseURL: baseURL},
	}
	all := append([]app.Option{
		app.WithStateStore(store),
		app.WithLogger(quietLogger()),
		app.WithIO(strings.NewReader(input), out),
		app.WithWaitPoll(10 * time.Millisecond),
	}, opts...)
	a, err := app.New(context.Background(), cfg, all...)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	return a
}

func TestLoginPersistsAcrossRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := &fakeBackend{surveysJSON: "[]"}
	srv := backend.server(t)
	store := openStore(t)

	a := newTestApp(t, srv.URL, store, "", &bytes.Buffer{})
	if a.LoggedIn() {
		t.Fatal("LoggedIn before login")
	}
	if err := a.Login(ctx, "agent7", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	// A fresh App over the same store picks the token up.
	b := newTestApp(t, srv.URL, store, "", &bytes.Buffer{})
	if !b.LoggedIn() {
		t.Fatal("token did not survive the restart")
	}
	if _, err := b.Surveys(ctx); err != nil {
		t.Fatalf("Surveys: %v", err)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.authHeaders) == 0 || backend.authHeaders[0] != "Bearer tok-1" {
		t.Errorf("auth headers = %v, want restored bearer token", backend.authHeaders)
	}

	role, err := b.Role(ctx)
	if err != nil || role != "agent" {
		t.Errorf("Role = (%q, %v), want agent", role, err)
	}
}

func TestLoginBadCredentials(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{surveysJSON: "[]"}
	srv := backend.server(t)

	a := newTestApp(t, srv.URL, openStore(t), "", &bytes.Buffer{})
	if err := a.Login(context.Background(), "agent7", "wrong"); err == nil {
		t.Fatal("Login succeeded with bad credentials")
	}
	if a.LoggedIn() {
		t.Error("LoggedIn after failed login")
	}
}

func TestLogoutClearsEverything(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := &fakeBackend{surveysJSON: "[]"}
	srv := backend.server(t)
	store := openStore(t)

	a := newTestApp(t, srv.URL, store, "", &bytes.Buffer{})
	if err := a.Login(ctx, "agent7", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := store.SetSessionID(ctx, "sess-leftover"); err != nil {
		t.Fatal(err)
	}
	if err := a.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if a.LoggedIn() {
		t.Error("LoggedIn after logout")
	}
	if tok, _ := store.Token(ctx); tok != "" {
		t.Errorf("stored token = %q after logout", tok)
	}
	if id, _ := store.SessionID(ctx); id != "" {
		t.Errorf("stored session id = %q after logout", id)
	}
}

func TestRunSessionEndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := &fakeBackend{
		surveysJSON: `[{"id":1,"title":"Household survey","min_duration_sec":1,"is_active":true}]`,
		questions: `{"questions":[
			{"id":1,"text":"Do you agree to participate?","type":"yesno","required":true},
			{"id":2,"text":"Anything to add?","type":"text"}
		]}`,
	}
	srv := backend.server(t)
	store := openStore(t)

	rec := &mock.Recorder{
		StartResult: make(chan device.Slice, 8),
		FinalSlice:  &device.Slice{Data: []byte("tail"), MIMEType: "audio/wav"},
	}
	rec.StartResult <- device.Slice{Data: []byte("head"), MIMEType: "audio/wav"}
	loc := &mock.Locator{ProbeResult: device.Sample{Latitude: 41.31, Longitude: 69.24, Accuracy: 10}}

	var out bytes.Buffer
	// A required answer left empty is re-asked before the flow moves on.
	a := newTestApp(t, srv.URL, store, "\nyes\nnothing\n", &out,
		app.WithRecorder(rec), app.WithLocator(loc))
	if err := a.Login(ctx, "agent7", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := a.RunSession(ctx, 1); err != nil {
		t.Fatalf("RunSession: %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.completions) != 1 {
		t.Fatalf("completions = %d, want 1", len(backend.completions))
	}
	done := backend.completions[0]
	if done.sessionID != "sess-e2e" {
		t.Errorf("completed session = %q, want sess-e2e", done.sessionID)
	}
	if done.answers["1"] != "yes" || done.answers["2"] != "nothing" {
		t.Errorf("answers = %v, want the console input", done.answers)
	}
	if backend.audioParts < 1 {
		t.Error("no audio was uploaded")
	}
	if !rec.Closed() {
		t.Error("recorder was not closed")
	}
	if id, _ := store.SessionID(ctx); id != "" {
		t.Errorf("session marker = %q after completion, want cleared", id)
	}
	if !strings.Contains(out.String(), "requires an answer") {
		t.Error("required question was not re-asked")
	}
	if !strings.Contains(out.String(), "completed") {
		t.Errorf("console output lacks a completion summary:\n%s", out.String())
	}
}

func TestRunSessionUnknownSurvey(t *testing.T) {
	t.Parallel()
	backend := &fakeBackend{
		surveysJSON: `[{"id":1,"title":"Inactive","min_duration_sec":0,"is_active":false}]`,
	}
	srv := backend.server(t)

	a := newTestApp(t, srv.URL, openStore(t), "", &bytes.Buffer{},
		app.WithRecorder(&mock.Recorder{}), app.WithLocator(&mock.Locator{}))
	if err := a.Login(context.Background(), "agent7", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	for _, id := range []int{1, 99} {
		if err := a.RunSession(context.Background(), id); !errors.Is(err, app.ErrSurveyNotFound) {
			t.Errorf("RunSession(%d) = %v, want ErrSurveyNotFound", id, err)
		}
	}
}

func TestRunSessionDiscardsStaleMarker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := &fakeBackend{
		surveysJSON: `[{"id":1,"title":"Quick","min_duration_sec":0,"is_active":true}]`,
		questions:   `[]`,
	}
	srv := backend.server(t)
	store := openStore(t)
	if err := store.SetSessionID(ctx, "sess-crashed"); err != nil {
		t.Fatal(err)
	}

	rec := &mock.Recorder{StartResult: make(chan device.Slice, 8)}
	loc := &mock.Locator{ProbeResult: device.Sample{Latitude: 41, Longitude: 69, Accuracy: 10}}
	a := newTestApp(t, srv.URL, store, "", &bytes.Buffer{},
		app.WithRecorder(rec), app.WithLocator(loc))
	if err := a.Login(ctx, "agent7", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := a.RunSession(ctx, 1); err != nil {
		t.Fatalf("RunSession: %v", err)
	}
	if id, _ := store.SessionID(ctx); id != "" {
		t.Errorf("session marker = %q, want cleared", id)
	}
}
