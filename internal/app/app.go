// Package app wires the surveyor subsystems into a running client.
//
// The App struct owns the full lifecycle: New creates and connects the
// gateway client, the persisted state store and the device registry, the
// operation methods (Login, Surveys, RunSession, ...) execute one user
// action each, and Close tears everything down.
//
// For testing, inject doubles via functional options (WithRecorder,
// WithStateStore, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/ilxomkh/survey/internal/config"
	"github.com/ilxomkh/survey/internal/gateway"
	"github.com/ilxomkh/survey/internal/observe"
	"github.com/ilxomkh/survey/internal/state"
	"github.com/ilxomkh/survey/pkg/device"
)

// App owns the client subsystems and executes user operations.
type App struct {
	cfg *config.Config
	log *slog.Logger

	gw      *gateway.Client
	store   *state.Store
	reg     *config.Registry
	metrics *observe.Metrics

	// Injected devices take precedence over registry lookups.
	recorder device.Recorder
	locator  device.Locator

	in  io.Reader
	out io.Writer

	// waitPoll is the finish-eligibility polling period of the interview
	// loop. Shortened in tests.
	waitPoll time.Duration
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithGatewayClient injects a gateway client instead of building one from
// config.
func WithGatewayClient(c *gateway.Client) Option {
	return func(a *App) { a.gw = c }
}

// WithStateStore injects a state store instead of opening the configured
// database.
func WithStateStore(s *state.Store) Option {
	return func(a *App) { a.store = s }
}

// WithRecorder injects a recorder instead of consulting the device registry.
func WithRecorder(r device.Recorder) Option {
	return func(a *App) { a.recorder = r }
}

// WithLocator injects a locator instead of consulting the device registry.
func WithLocator(l device.Locator) Option {
	return func(a *App) { a.locator = l }
}

// WithRegistry supplies the device registry used to build devices from
// config.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.reg = r }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithMetrics attaches session metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithIO redirects the interview console, used by tests to script input.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(a *App) { a.in = in; a.out = out }
}

// WithWaitPoll overrides the finish-eligibility polling period.
func WithWaitPoll(d time.Duration) Option {
	return func(a *App) { a.waitPoll = d }
}

// New builds an App from cfg. The stored auth token, if any, is loaded into
// the gateway client so a previous login survives restarts. A token the
// backend later rejects is wiped from the store automatically.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		log:      slog.Default(),
		in:       os.Stdin,
		out:      os.Stdout,
		waitPoll: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.store == nil {
		path := cfg.State.Path
		if path == "" {
			path = "surveyor.db"
		}
		s, err := state.Open(path)
		if err != nil {
			return nil, fmt.Errorf("app: open state store: %w", err)
		}
		a.store = s
	}

	if a.gw == nil {
		var gwOpts []gateway.Option
		if cfg.Gateway.TimeoutSec > 0 {
			gwOpts = append(gwOpts, gateway.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Gateway.TimeoutSec) * time.Second,
			}))
		}
		gw, err := gateway.New(cfg.Gateway.BaseURL, gwOpts...)
		if err != nil {
			return nil, fmt.Errorf("app: gateway client: %w", err)
		}
		a.gw = gw
	}

	// A rejected token means the login is gone; forget it so the next run
	// asks for credentials again.
	a.gw.SetOnUnauthorized(func() {
		if err := a.store.ClearAuth(context.Background()); err != nil {
			a.log.Warn("failed to clear stored auth after rejection", "error", err)
		}
		a.log.Warn("stored login was rejected by the gateway, logged out")
	})

	token, err := a.store.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: read stored token: %w", err)
	}
	if token != "" {
		a.gw.SetToken(token)
	}
	return a, nil
}

// Close releases the state store.
func (a *App) Close() error {
	return a.store.Close()
}

// LoggedIn reports whether a token is loaded.
func (a *App) LoggedIn() bool {
	return a.gw.Token() != ""
}

// Login authenticates against the gateway and persists the token and role.
func (a *App) Login(ctx context.Context, username, password string) error {
	res, err := a.gw.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("app: login: %w", err)
	}
	if err := a.store.SetToken(ctx, res.Token()); err != nil {
		return fmt.Errorf("app: persist token: %w", err)
	}
	if res.Role != "" {
		if err := a.store.SetRole(ctx, res.Role); err != nil {
			return fmt.Errorf("app: persist role: %w", err)
		}
	}
	a.log.Info("logged in", "username", username, "role", res.Role)
	return nil
}

// Logout forgets the stored login and any pending session marker.
func (a *App) Logout(ctx context.Context) error {
	a.gw.ClearToken()
	if err := a.store.ClearAuth(ctx); err != nil {
		return fmt.Errorf("app: clear auth: %w", err)
	}
	if err := a.store.ClearSessionID(ctx); err != nil {
		return fmt.Errorf("app: clear session marker: %w", err)
	}
	a.log.Info("logged out")
	return nil
}

// Role returns the stored role of the logged-in user.
func (a *App) Role(ctx context.Context) (string, error) {
	return a.store.Role(ctx)
}

// Surveys lists the surveys available to the agent.
func (a *App) Surveys(ctx context.Context) ([]gateway.Survey, error) {
	sessionID, err := a.store.SessionID(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: read session marker: %w", err)
	}
	surveys, err := a.gw.Surveys(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("app: list surveys: %w", err)
	}
	return surveys, nil
}

// Sessions lists recent capture sessions for supervisors.
func (a *App) Sessions(ctx context.Context, status string, limit int) ([]gateway.SessionSummary, error) {
	sessions, err := a.gw.SupervisorSessions(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("app: list sessions: %w", err)
	}
	return sessions, nil
}

// Healthy probes the gateway, for the readiness endpoint.
func (a *App) Healthy(ctx context.Context) error {
	return a.gw.Healthy(ctx)
}

// devices resolves the recorder and locator, preferring injected instances
// over the registry.
func (a *App) devices() (device.Recorder, device.Locator, error) {
	rec, loc := a.recorder, a.locator
	if rec == nil {
		if a.reg == nil {
			return nil, nil, fmt.Errorf("app: no recorder configured")
		}
		r, err := a.reg.CreateRecorder(a.cfg.Devices.Recorder)
		if err != nil {
			return nil, nil, fmt.Errorf("app: create recorder: %w", err)
		}
		rec = r
	}
	if loc == nil {
		if a.reg == nil {
			return nil, nil, fmt.Errorf("app: no locator configured")
		}
		l, err := a.reg.CreateLocator(a.cfg.Devices.Locator)
		if err != nil {
			return nil, nil, fmt.Errorf("app: create locator: %w", err)
		}
		loc = l
	}
	return rec, loc, nil
}
