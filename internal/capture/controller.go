// Package capture drives a single recording session from capability
// acquisition through finalize. The [Controller] owns the microphone and the
// position subscription for the lifetime of the session and pushes audio
// chunks and location updates to the gateway as they arrive.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ilxomkh/survey/internal/gateway"
	"github.com/ilxomkh/survey/internal/observe"
	"github.com/ilxomkh/survey/pkg/device"
)

// State models the session lifecycle. Transitions only move forward except
// for the recording/paused pair.
type State int

const (
	StateInitializing State = iota
	StateRecording
	StatePaused
	StateFinalizing
	StateCompleted
	StateFailed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrNotFinishable is returned by Finish before the survey's minimum
	// recording duration has elapsed.
	ErrNotFinishable = errors.New("capture: minimum recording duration not reached")

	// ErrNoLocation is returned by Finish when no position sample was cached
	// and the fallback read also failed. The session moves to the failed
	// state; recorded audio already uploaded stays with the backend.
	ErrNoLocation = errors.New("capture: no position available for completion")

	// ErrWrongState is returned when an operation is invoked in a state that
	// does not permit it.
	ErrWrongState = errors.New("capture: operation not valid in current state")
)

// Gateway is the backend surface the controller drives. *gateway.Client
// satisfies it; tests substitute their own.
type Gateway interface {
	StartSession(ctx context.Context, surveyID int, loc gateway.LocationSample) (string, error)
	UpdateLocation(ctx context.Context, sessionID string, loc gateway.LocationSample) error
	UploadAudio(ctx context.Context, sessionID string, audio io.Reader, mimeType string) error
	CompleteSession(ctx context.Context, sessionID string, loc gateway.LocationSample, answers map[string]string) error
}

// Timeouts bounds the controller's blocking steps. Zero fields take the
// defaults below.
type Timeouts struct {
	// LocationProbe bounds the single high-accuracy read that gates session
	// start. Default 15s.
	LocationProbe time.Duration

	// FinalizeLocation bounds the fallback position read during finalize
	// when no watch sample was cached. Default 10s.
	FinalizeLocation time.Duration

	// SliceInterval is the recorder emission period. Default 10s.
	SliceInterval time.Duration

	// Tick is the elapsed-duration tick period. Each tick while recording
	// counts as one second of session time. Default 1s; tests shorten it.
	Tick time.Duration

	// SampleMaxAge is how old a cached watch sample may be before finalize
	// ignores it and takes a fresh read instead. Default 10s.
	SampleMaxAge time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.LocationProbe <= 0 {
		t.LocationProbe = 15 * time.Second
	}
	if t.FinalizeLocation <= 0 {
		t.FinalizeLocation = 10 * time.Second
	}
	if t.SliceInterval <= 0 {
		t.SliceInterval = 10 * time.Second
	}
	if t.Tick <= 0 {
		t.Tick = time.Second
	}
	if t.SampleMaxAge <= 0 {
		t.SampleMaxAge = 10 * time.Second
	}
	return t
}

// Config assembles a Controller. Survey, Recorder, Locator and Gateway are
// required.
type Config struct {
	Survey   gateway.Survey
	Recorder device.Recorder
	Locator  device.Locator
	Gateway  Gateway

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Metrics may be nil; instrumentation is then skipped.
	Metrics *observe.Metrics

	Timeouts Timeouts
}

// Controller runs one capture session. Create with [New], drive with Start,
// Pause/Resume, Finish or Abort. Not reusable after Finish or Abort.
type Controller struct {
	survey  gateway.Survey
	rec     device.Recorder
	loc     device.Locator
	gw      Gateway
	log     *slog.Logger
	metrics *observe.Metrics
	tm      Timeouts

	chunks chunkQueue

	mu         sync.Mutex
	state      State
	sessionID  string
	elapsed    int
	lastSample *device.Sample
	watch      device.Watch
	slices     <-chan device.Slice

	stopOnce sync.Once
	stopLoop chan struct{}
	loopDone chan struct{}
}

// New validates cfg and returns an initialized controller in the
// initializing state.
func New(cfg Config) (*Controller, error) {
	switch {
	case cfg.Recorder == nil:
		return nil, errors.New("capture: recorder is required")
	case cfg.Locator == nil:
		return nil, errors.New("capture: locator is required")
	case cfg.Gateway == nil:
		return nil, errors.New("capture: gateway is required")
	case cfg.Survey.ID == 0:
		return nil, errors.New("capture: survey is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		survey:   cfg.Survey,
		rec:      cfg.Recorder,
		loc:      cfg.Locator,
		gw:       cfg.Gateway,
		log:      log.With("survey_id", cfg.Survey.ID),
		metrics:  cfg.Metrics,
		tm:       cfg.Timeouts.withDefaults(),
		stopLoop: make(chan struct{}),
		loopDone: make(chan struct{}),
	}, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the backend session token, empty before Start succeeds.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Elapsed returns the recorded session time in whole seconds. Time spent
// paused is not counted.
func (c *Controller) Elapsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

// CanFinish reports whether the survey's minimum recording duration has been
// reached. Once true it stays true.
func (c *Controller) CanFinish() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed >= c.survey.MinDurationSec
}

// Outstanding reports the number of recorded slices not yet acknowledged by
// the gateway.
func (c *Controller) Outstanding() int {
	return c.chunks.len()
}

// Start acquires position and microphone, registers the session with the
// gateway and begins the recording loop. Any failure is terminal: the
// controller moves to the failed state, all acquired resources are released
// and the error is returned. The position probe runs first so that no
// session is registered for an agent whose location cannot be read.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateInitializing {
		c.mu.Unlock()
		return fmt.Errorf("%w: start in state %s", ErrWrongState, c.state)
	}
	c.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, c.tm.LocationProbe)
	sample, err := c.loc.Probe(probeCtx, device.AccuracyHigh)
	cancel()
	if err != nil {
		return c.failInit(fmt.Errorf("capture: location probe: %w", err))
	}

	sessionID, err := c.gw.StartSession(ctx, c.survey.ID, wireSample(sample))
	if err != nil {
		return c.failInit(fmt.Errorf("capture: start session: %w", err))
	}

	var (
		watch  device.Watch
		slices <-chan device.Slice
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w, err := c.loc.Watch(gctx, device.AccuracyHigh)
		if err != nil {
			c.log.Warn("high-accuracy watch unavailable, retrying at low accuracy", "error", err)
			if w, err = c.loc.Watch(gctx, device.AccuracyLow); err != nil {
				return fmt.Errorf("open position watch: %w", err)
			}
		}
		watch = w
		return nil
	})
	g.Go(func() error {
		ch, err := c.rec.Start(gctx, c.tm.SliceInterval)
		if err != nil {
			return fmt.Errorf("start recorder: %w", err)
		}
		slices = ch
		return nil
	})
	if err := g.Wait(); err != nil {
		if watch != nil {
			watch.Stop()
		}
		if cerr := c.rec.Close(); cerr != nil {
			c.log.Warn("recorder close failed", "error", cerr)
		}
		return c.failInit(fmt.Errorf("capture: %w", err))
	}

	c.mu.Lock()
	c.state = StateRecording
	c.sessionID = sessionID
	c.watch = watch
	c.slices = slices
	c.mu.Unlock()

	c.addActive(ctx, 1)
	c.log.Info("capture session started", "session_id", sessionID)
	go c.run(ctx, slices, watch)
	return nil
}

// run is the session loop: it counts recorded seconds, uploads slices as they
// are emitted and forwards position samples to the gateway. It exits when
// stopLoop is closed or ctx is done.
func (c *Controller) run(ctx context.Context, slices <-chan device.Slice, watch device.Watch) {
	defer close(c.loopDone)

	ticker := time.NewTicker(c.tm.Tick)
	defer ticker.Stop()

	samples := watch.Samples()
	downgraded := false

	for {
		select {
		case <-c.stopLoop:
			return
		case <-ctx.Done():
			return

		case <-ticker.C:
			c.mu.Lock()
			if c.state == StateRecording {
				c.elapsed++
			}
			c.mu.Unlock()

		case s, ok := <-slices:
			if !ok {
				slices = nil
				continue
			}
			if c.metrics != nil {
				c.metrics.SlicesRecorded.Add(ctx, 1)
			}
			c.chunks.append(s)
			c.addOutstanding(ctx, 1)
			c.uploadOutstanding(ctx)

		case s, ok := <-samples:
			if !ok {
				samples = nil
				err := watch.Err()
				if err == nil {
					continue
				}
				c.log.Warn("position watch ended", "error", err)
				if downgraded {
					continue
				}
				downgraded = true
				w, werr := c.loc.Watch(ctx, device.AccuracyLow)
				if werr != nil {
					c.log.Warn("low-accuracy watch retry failed", "error", werr)
					continue
				}
				c.mu.Lock()
				c.watch = w
				c.mu.Unlock()
				watch = w
				samples = w.Samples()
				continue
			}
			c.mu.Lock()
			c.lastSample = &s
			sessionID := c.sessionID
			c.mu.Unlock()
			if err := c.gw.UpdateLocation(ctx, sessionID, wireSample(s)); err != nil {
				if c.metrics != nil {
					c.metrics.LocationErrors.Add(ctx, 1)
				}
				c.log.Warn("location update failed", "error", err)
				continue
			}
			if c.metrics != nil {
				c.metrics.LocationUpdates.Add(ctx, 1)
			}
		}
	}
}

// uploadOutstanding sends every queued slice as one combined chunk. On
// success the covered slices are acknowledged; on failure the queue is left
// intact for the next attempt.
func (c *Controller) uploadOutstanding(ctx context.Context) {
	data, n, mimeType := c.chunks.snapshot()
	if n == 0 {
		return
	}
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	start := time.Now()
	err := c.gw.UploadAudio(ctx, sessionID, bytes.NewReader(data), mimeType)
	if c.metrics != nil {
		c.metrics.UploadDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.UploadErrors.Add(ctx, 1)
		}
		c.log.Warn("chunk upload failed, retaining for retry", "slices", n, "error", err)
		return
	}
	c.chunks.ack(n)
	c.addOutstanding(ctx, int64(-n))
}

// Pause suspends recording. Elapsed time stops advancing until Resume.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRecording {
		return fmt.Errorf("%w: pause in state %s", ErrWrongState, c.state)
	}
	if err := c.rec.Pause(); err != nil {
		return fmt.Errorf("capture: pause recorder: %w", err)
	}
	c.state = StatePaused
	return nil
}

// Resume continues a paused recording.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePaused {
		return fmt.Errorf("%w: resume in state %s", ErrWrongState, c.state)
	}
	if err := c.rec.Resume(); err != nil {
		return fmt.Errorf("capture: resume recorder: %w", err)
	}
	c.state = StateRecording
	return nil
}

// Finish completes the session: it stops the recorder, flushes unacknowledged
// audio, resolves a final position and marks the session complete at the
// gateway, with answers attached. The microphone and the position watch are
// released whether or not completion succeeds. Finish is only valid once the
// minimum recording duration has elapsed.
func (c *Controller) Finish(ctx context.Context, answers map[string]string) error {
	c.mu.Lock()
	if c.state != StateRecording && c.state != StatePaused {
		c.mu.Unlock()
		return fmt.Errorf("%w: finish in state %s", ErrWrongState, c.state)
	}
	if c.elapsed < c.survey.MinDurationSec {
		c.mu.Unlock()
		return ErrNotFinishable
	}
	c.state = StateFinalizing
	sessionID := c.sessionID
	watch := c.watch
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stopLoop) })
	<-c.loopDone

	// Hardware release is unconditional, even when a later step fails.
	defer func() {
		if err := c.rec.Close(); err != nil {
			c.log.Warn("recorder close failed", "error", err)
		}
		if watch != nil {
			watch.Stop()
		}
	}()

	if err := c.rec.Stop(ctx); err != nil {
		c.log.Warn("recorder stop failed", "error", err)
	}
	// The final partial slice is emitted on the slice channel after Stop; the
	// loop has already exited, so drain directly into the queue.
	c.drainSlices(ctx)
	c.uploadOutstanding(ctx)
	if n := c.chunks.len(); n > 0 {
		c.log.Warn("finalize flush left unacknowledged audio", "slices", n)
	}

	loc, err := c.finalLocation(ctx)
	if err != nil {
		return c.failFinalize(ctx, err)
	}

	if err := c.gw.CompleteSession(ctx, sessionID, loc, answers); err != nil {
		return c.failFinalize(ctx, fmt.Errorf("capture: complete session: %w", err))
	}

	c.mu.Lock()
	c.state = StateCompleted
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.SessionsCompleted.Add(ctx, 1)
	}
	c.addActive(ctx, -1)
	c.log.Info("capture session completed", "session_id", sessionID)
	return nil
}

// Abort tears the session down unconditionally: the loop is stopped and the
// microphone and watch are released. Valid in any state; already-terminal
// controllers are left as they are.
func (c *Controller) Abort() {
	c.stopOnce.Do(func() { close(c.stopLoop) })

	c.mu.Lock()
	watch := c.watch
	terminal := c.state == StateCompleted || c.state == StateFailed
	started := c.sessionID != ""
	if !terminal {
		c.state = StateFailed
	}
	c.mu.Unlock()

	if err := c.rec.Close(); err != nil {
		c.log.Warn("recorder close failed", "error", err)
	}
	if watch != nil {
		watch.Stop()
	}
	if !terminal && started {
		c.addActive(context.Background(), -1)
	}
	if !terminal {
		c.log.Info("capture session aborted")
	}
}

// finalLocation resolves the position attached to completion: the most
// recent watch sample if one was cached and is not older than SampleMaxAge,
// otherwise a single bounded low-accuracy read. ErrNoLocation when both are
// unavailable.
func (c *Controller) finalLocation(ctx context.Context) (gateway.LocationSample, error) {
	c.mu.Lock()
	cached := c.lastSample
	c.mu.Unlock()
	if cached != nil && time.Since(cached.Timestamp) <= c.tm.SampleMaxAge {
		return wireSample(*cached), nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.tm.FinalizeLocation)
	defer cancel()
	s, err := c.loc.Probe(probeCtx, device.AccuracyLow)
	if err != nil {
		return gateway.LocationSample{}, fmt.Errorf("%w: %w", ErrNoLocation, err)
	}
	return wireSample(s), nil
}

// drainSlices empties the recorder channel after Stop. The channel closes
// once the final partial slice has been delivered; the deadline guards
// against a recorder that never closes it.
func (c *Controller) drainSlices(ctx context.Context) {
	slices := c.recorderSlices()
	if slices == nil {
		return
	}
	deadline := time.NewTimer(c.tm.SliceInterval)
	defer deadline.Stop()
	for {
		select {
		case s, ok := <-slices:
			if !ok {
				return
			}
			if c.metrics != nil {
				c.metrics.SlicesRecorded.Add(ctx, 1)
			}
			c.chunks.append(s)
			c.addOutstanding(ctx, 1)
		case <-deadline.C:
			c.log.Warn("recorder did not close slice channel after stop")
			return
		case <-ctx.Done():
			return
		}
	}
}

// recorderSlices returns the channel the recorder emits on. After the run
// loop has exited it is still readable until the recorder closes it.
func (c *Controller) recorderSlices() <-chan device.Slice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slices
}

func (c *Controller) failInit(err error) error {
	c.mu.Lock()
	c.state = StateFailed
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.SessionsFailed.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("phase", "initializing")))
	}
	c.log.Error("capture session failed to start", "error", err)
	return err
}

func (c *Controller) failFinalize(ctx context.Context, err error) error {
	c.mu.Lock()
	c.state = StateFailed
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.SessionsFailed.Add(ctx, 1,
			metric.WithAttributes(attribute.String("phase", "finalizing")))
	}
	c.addActive(ctx, -1)
	c.log.Error("capture session failed during finalize", "error", err)
	return err
}

func wireSample(s device.Sample) gateway.LocationSample {
	return gateway.LocationSample{
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Accuracy:  s.Accuracy,
		Timestamp: s.Timestamp,
	}
}

func (c *Controller) addOutstanding(ctx context.Context, delta int64) {
	if c.metrics != nil {
		c.metrics.OutstandingChunks.Add(ctx, delta)
	}
}

func (c *Controller) addActive(ctx context.Context, delta int64) {
	if c.metrics != nil {
		c.metrics.ActiveSessions.Add(ctx, delta)
	}
}
