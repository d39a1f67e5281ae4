// Package mock provides in-memory mock implementations of the
// [device.Recorder], [device.Locator], and [device.Watch] interfaces for use
// in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	slices := make(chan device.Slice, 8)
//	rec := &mock.Recorder{StartResult: slices}
//	loc := &mock.Locator{
//	    ProbeResult: device.Sample{Latitude: 41.3, Longitude: 69.2, Accuracy: 12},
//	}
//	ch, err := rec.Start(ctx, 10*time.Second)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/ilxomkh/survey/pkg/device"
)

// Recorder is a mock implementation of [device.Recorder].
type Recorder struct {
	mu sync.Mutex

	// StartResult is the channel returned by Start. Tests write slices to it
	// and close it to simulate the recorder. If nil, Start creates and
	// retains an unbuffered channel accessible via Emitted.
	StartResult chan device.Slice

	// StartErr, PauseErr, ResumeErr, StopErr, CloseErr are returned by the
	// corresponding methods.
	StartErr  error
	PauseErr  error
	ResumeErr error
	StopErr   error
	CloseErr  error

	// FinalSlice, when non-nil, is emitted on the slice channel by Stop
	// before the channel is closed.
	FinalSlice *device.Slice

	// StartCalls records the interval of each Start invocation.
	StartCalls []time.Duration

	CallCountPause  int
	CallCountResume int
	CallCountStop   int
	CallCountClose  int

	started bool
	stopped bool
}

var _ device.Recorder = (*Recorder)(nil)

// Start records the call and returns StartResult (creating it if nil).
func (r *Recorder) Start(_ context.Context, interval time.Duration) (<-chan device.Slice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StartCalls = append(r.StartCalls, interval)
	if r.StartErr != nil {
		return nil, r.StartErr
	}
	if r.StartResult == nil {
		r.StartResult = make(chan device.Slice)
	}
	r.started = true
	return r.StartResult, nil
}

// Emitted returns the slice channel handed out by Start, for tests that let
// the mock create it.
func (r *Recorder) Emitted() chan device.Slice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.StartResult
}

// Pause records the call.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountPause++
	return r.PauseErr
}

// Resume records the call.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountResume++
	return r.ResumeErr
}

// Stop records the call, emits FinalSlice if set, and closes the slice
// channel. Subsequent calls are no-ops.
func (r *Recorder) Stop(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountStop++
	if r.StopErr != nil {
		return r.StopErr
	}
	if r.started && !r.stopped {
		r.stopped = true
		if r.FinalSlice != nil {
			r.StartResult <- *r.FinalSlice
		}
		close(r.StartResult)
	}
	return nil
}

// Close records the call. Idempotent like the real thing.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountClose++
	return r.CloseErr
}

// Closed reports whether Close has been called at least once.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.CallCountClose > 0
}

// Locator is a mock implementation of [device.Locator].
type Locator struct {
	mu sync.Mutex

	// ProbeResult and ProbeErr control the return of Probe. When ProbeErrs
	// is non-empty it overrides ProbeErr call-by-call (nil entries mean
	// success), allowing tests to fail the first probe and pass the second.
	ProbeResult device.Sample
	ProbeErr    error
	ProbeErrs   []error

	// WatchResult is returned by Watch. If nil, a fresh [Watch] with a
	// buffered sample channel is created per call and appended to Watches.
	WatchResult *Watch
	WatchErr    error

	// WatchErrs overrides WatchErr call-by-call, like ProbeErrs.
	WatchErrs []error

	// ProbeCalls and WatchCalls record the accuracy tier of each invocation.
	ProbeCalls []device.Accuracy
	WatchCalls []device.Accuracy

	// Watches collects every Watch the mock created itself.
	Watches []*Watch
}

var _ device.Locator = (*Locator)(nil)

// Probe records the call and returns the configured sample or error.
func (l *Locator) Probe(_ context.Context, tier device.Accuracy) (device.Sample, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.ProbeCalls)
	l.ProbeCalls = append(l.ProbeCalls, tier)
	if n < len(l.ProbeErrs) {
		if err := l.ProbeErrs[n]; err != nil {
			return device.Sample{}, err
		}
		return l.ProbeResult, nil
	}
	if l.ProbeErr != nil {
		return device.Sample{}, l.ProbeErr
	}
	return l.ProbeResult, nil
}

// Watch records the call and returns the configured or a freshly created
// [Watch].
func (l *Locator) Watch(_ context.Context, tier device.Accuracy) (device.Watch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.WatchCalls)
	l.WatchCalls = append(l.WatchCalls, tier)
	if n < len(l.WatchErrs) {
		if err := l.WatchErrs[n]; err != nil {
			return nil, err
		}
	} else if l.WatchErr != nil {
		return nil, l.WatchErr
	}
	if l.WatchResult != nil {
		return l.WatchResult, nil
	}
	w := NewWatch(16)
	l.Watches = append(l.Watches, w)
	return w, nil
}

// WatchCallTiers returns a copy of the recorded Watch tiers, safe to call
// while the code under test is still opening watches.
func (l *Locator) WatchCallTiers() []device.Accuracy {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]device.Accuracy(nil), l.WatchCalls...)
}

// CreatedWatch returns the i-th Watch the mock created, or nil if fewer
// exist.
func (l *Locator) CreatedWatch(i int) *Watch {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 || i >= len(l.Watches) {
		return nil
	}
	return l.Watches[i]
}

// Watch is a mock implementation of [device.Watch]. Tests feed samples via
// Send and terminate the subscription via Fail or Stop.
type Watch struct {
	mu      sync.Mutex
	ch      chan device.Sample
	err     error
	stopped bool
	StopCnt int
}

var _ device.Watch = (*Watch)(nil)

// NewWatch creates a mock Watch with a sample channel of the given buffer size.
func NewWatch(buf int) *Watch {
	return &Watch{ch: make(chan device.Sample, buf)}
}

// Send delivers a sample to the subscription. Returns false if the watch has
// already ended.
func (w *Watch) Send(s device.Sample) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false
	}
	w.ch <- s
	return true
}

// Fail ends the subscription with err, simulating a source failure.
func (w *Watch) Fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	w.err = err
	close(w.ch)
}

// Samples implements [device.Watch].
func (w *Watch) Samples() <-chan device.Sample { return w.ch }

// Err implements [device.Watch].
func (w *Watch) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Stop implements [device.Watch]. Safe to call multiple times.
func (w *Watch) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.StopCnt++
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.ch)
}
