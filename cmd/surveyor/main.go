// Command surveyor is the field-survey capture client: agents log in, pick a
// survey, record the interview with live location tracking, and upload the
// result to the survey gateway.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ilxomkh/survey/internal/app"
	"github.com/ilxomkh/survey/internal/config"
	"github.com/ilxomkh/survey/internal/health"
	"github.com/ilxomkh/survey/internal/observe"
	"github.com/ilxomkh/survey/internal/proxy"
	"github.com/ilxomkh/survey/pkg/device"
	"github.com/ilxomkh/survey/pkg/device/cmdrec"
	"github.com/ilxomkh/survey/pkg/device/fixed"
	"github.com/ilxomkh/survey/pkg/device/gpsd"
)

const usage = `usage: surveyor [-config FILE] COMMAND

Commands:
  login USERNAME     authenticate and store the token
  logout             forget the stored login
  surveys            list assigned surveys
  run SURVEY_ID      record a capture session for the survey
  sessions [STATUS]  list recent sessions (supervisors)
  serve              run the local listener (health, metrics, passthrough)
`

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "surveyor.yaml", "path to the YAML configuration file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "surveyor: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "surveyor: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, shutdownMetrics, err := initMetrics(ctx)
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinDevices(reg)

	application, err := app.New(ctx, cfg,
		app.WithLogger(logger),
		app.WithMetrics(metrics),
		app.WithRegistry(reg),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer application.Close()

	switch cmd := args[0]; cmd {
	case "login":
		return cmdLogin(ctx, application, args[1:])
	case "logout":
		return cmdLogout(ctx, application)
	case "surveys":
		return cmdSurveys(ctx, application)
	case "run":
		return cmdRun(ctx, application, args[1:])
	case "sessions":
		return cmdSessions(ctx, application, args[1:])
	case "serve":
		return cmdServe(ctx, cfg, application, metrics)
	default:
		fmt.Fprintf(os.Stderr, "surveyor: unknown command %q\n", cmd)
		flag.Usage()
		return 2
	}
}

// ── Commands ──────────────────────────────────────────────────────────────────

func cmdLogin(ctx context.Context, a *app.App, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: surveyor login USERNAME")
		return 2
	}
	fmt.Fprint(os.Stderr, "Password: ")
	password, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		fmt.Fprintf(os.Stderr, "surveyor: read password: %v\n", err)
		return 1
	}
	if err := a.Login(ctx, args[0], strings.TrimRight(password, "\r\n")); err != nil {
		fmt.Fprintf(os.Stderr, "surveyor: %v\n", err)
		return 1
	}
	fmt.Println("Logged in.")
	return 0
}

func cmdLogout(ctx context.Context, a *app.App) int {
	if err := a.Logout(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "surveyor: %v\n", err)
		return 1
	}
	fmt.Println("Logged out.")
	return 0
}

func cmdSurveys(ctx context.Context, a *app.App) int {
	surveys, err := a.Surveys(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "surveyor: %v\n", err)
		return 1
	}
	if len(surveys) == 0 {
		fmt.Println("No surveys assigned.")
		return 0
	}
	fmt.Printf("%-6s %-32s %-10s %s\n", "ID", "TITLE", "MIN", "ACTIVE")
	for _, s := range surveys {
		fmt.Printf("%-6d %-32s %-10s %v\n",
			s.ID, truncate(s.Title, 32), (time.Duration(s.MinDurationSec) * time.Second).String(), s.IsActive)
	}
	return 0
}

func cmdRun(ctx context.Context, a *app.App, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: surveyor run SURVEY_ID")
		return 2
	}
	surveyID, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "surveyor: survey id %q is not a number\n", args[0])
		return 2
	}
	if err := a.RunSession(ctx, surveyID); err != nil {
		fmt.Fprintf(os.Stderr, "surveyor: %v\n", err)
		return 1
	}
	return 0
}

func cmdSessions(ctx context.Context, a *app.App, args []string) int {
	status := ""
	if len(args) > 0 {
		status = args[0]
	}
	sessions, err := a.Sessions(ctx, status, 50)
	if err != nil {
		fmt.Fprintf(os.Stderr, "surveyor: %v\n", err)
		return 1
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return 0
	}
	fmt.Printf("%-24s %-8s %-12s %-20s %s\n", "SESSION", "SURVEY", "STATUS", "STARTED", "DURATION")
	for _, s := range sessions {
		fmt.Printf("%-24s %-8d %-12s %-20s %s\n",
			truncate(s.SessionID, 24), s.SurveyID, s.Status,
			s.StartedAt.Format(time.DateTime),
			(time.Duration(s.DurationSec) * time.Second).String())
	}
	return 0
}

// cmdServe runs the local listener until the signal context is cancelled.
func cmdServe(ctx context.Context, cfg *config.Config, a *app.App, metrics *observe.Metrics) int {
	if cfg.Server.ListenAddr == "" {
		fmt.Fprintln(os.Stderr, "surveyor: serve requires server.listen_addr in the config")
		return 2
	}
	backend, err := url.Parse(cfg.Gateway.BaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "surveyor: %v\n", err)
		return 1
	}

	mux := http.NewServeMux()
	health.New(health.GatewayChecker(a.Healthy)).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/api/", proxy.New(backend, slog.Default()))

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("listener ready", "addr", cfg.Server.ListenAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		slog.Info("shutdown signal received, stopping")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("listener shutdown error", "err", err)
			return 1
		}
		return 0
	case err := <-errCh:
		slog.Error("listener error", "err", err)
		return 1
	}
}

// ── Device wiring ─────────────────────────────────────────────────────────────

// registerBuiltinDevices wires the device factories that ship with surveyor.
func registerBuiltinDevices(reg *config.Registry) {
	reg.RegisterRecorder("cmdrec", func(entry config.DeviceEntry) (device.Recorder, error) {
		var opts []cmdrec.Option
		if cmd := entry.StringOption("command", ""); cmd != "" {
			fields := strings.Fields(cmd)
			opts = append(opts, cmdrec.WithCommand(fields[0], fields[1:]...))
		}
		if mime := entry.StringOption("mime_type", ""); mime != "" {
			opts = append(opts, cmdrec.WithMIMEType(mime))
		}
		return cmdrec.New(opts...), nil
	})

	reg.RegisterLocator("gpsd", func(entry config.DeviceEntry) (device.Locator, error) {
		addr := entry.StringOption("addr", "localhost:2947")
		return gpsd.New(addr), nil
	})

	reg.RegisterLocator("fixed", func(entry config.DeviceEntry) (device.Locator, error) {
		return fixed.New(
			entry.FloatOption("latitude", 0),
			entry.FloatOption("longitude", 0),
			entry.FloatOption("accuracy", 50),
		), nil
	})

	slog.Debug("registered built-in devices", "recorders", "cmdrec", "locators", "gpsd,fixed")
}

// ── Metrics ───────────────────────────────────────────────────────────────────

func initMetrics(ctx context.Context) (*observe.Metrics, func(context.Context) error, error) {
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return nil, nil, err
	}
	metrics, err := observe.Default()
	if err != nil {
		return nil, nil, err
	}
	return metrics, shutdown, nil
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
