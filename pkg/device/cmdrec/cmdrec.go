// Package cmdrec provides a [device.Recorder] backed by an external capture
// command (arecord, ffmpeg, sox, …) writing encoded audio to stdout.
//
// The recorder launches the command once on Start, reads its stdout
// continuously, and cuts the accumulated bytes into a [device.Slice] on every
// elapsed interval. Pause and Resume are implemented with SIGSTOP/SIGCONT so
// the capture pipeline keeps its device handle while suspended, mirroring a
// paused (not torn down) media recorder.
//
// Usage:
//
//	rec := cmdrec.New()                       // arecord, 16 kHz mono WAV
//	rec := cmdrec.New(
//	    cmdrec.WithCommand("ffmpeg", "-f", "alsa", "-i", "default",
//	        "-f", "ogg", "-"),
//	    cmdrec.WithMIMEType("audio/ogg"),
//	)
package cmdrec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/ilxomkh/survey/pkg/device"
)

const (
	defaultCommand  = "arecord"
	defaultMIMEType = "audio/wav"
)

// defaultArgs capture 16 kHz mono signed 16-bit WAV on the default ALSA device.
var defaultArgs = []string{"-q", "-f", "S16_LE", "-r", "16000", "-c", "1", "-t", "wav", "-"}

// Compile-time assertion that Recorder implements device.Recorder.
var _ device.Recorder = (*Recorder)(nil)

// Option is a functional option for configuring a [Recorder].
type Option func(*Recorder)

// WithCommand replaces the capture command and its arguments. The command
// must write encoded audio to stdout and exit on SIGINT.
func WithCommand(command string, args ...string) Option {
	return func(r *Recorder) {
		r.command = command
		r.args = args
	}
}

// WithMIMEType sets the MIME type stamped on emitted slices. Defaults to
// "audio/wav"; it must match what the configured command actually produces.
func WithMIMEType(mime string) Option {
	return func(r *Recorder) {
		r.mime = mime
	}
}

// Recorder implements [device.Recorder] on top of a capture subprocess.
type Recorder struct {
	command string
	args    []string
	mime    string

	mu         sync.Mutex
	cmd        *exec.Cmd
	out        chan device.Slice
	buf        bytes.Buffer
	readerDone chan struct{}
	seq        int
	started    bool
	stopped    bool
	closed     bool
	paused     bool

	// live-time bookkeeping so slice durations exclude paused stretches
	liveSince time.Time
	liveAccum time.Duration
}

// New creates a Recorder. Without options it shells out to arecord for
// 16 kHz mono WAV.
func New(opts ...Option) *Recorder {
	r := &Recorder{
		command: defaultCommand,
		args:    defaultArgs,
		mime:    defaultMIMEType,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start launches the capture command and begins emitting one slice per
// interval. May be called at most once.
func (r *Recorder) Start(ctx context.Context, interval time.Duration) (<-chan device.Slice, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("cmdrec: interval must be positive, got %v", interval)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("cmdrec: recorder is closed")
	}
	if r.started {
		return nil, errors.New("cmdrec: recorder already started")
	}

	cmd := exec.Command(r.command, r.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("cmdrec: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("cmdrec: start %q: %w", r.command, err)
	}

	r.cmd = cmd
	r.out = make(chan device.Slice, 4)
	r.readerDone = make(chan struct{})
	r.started = true
	r.liveSince = time.Now()

	go r.readLoop(stdout)
	go r.emitLoop(ctx, interval)

	slog.Debug("cmdrec: capture started", "command", r.command, "interval", interval)
	return r.out, nil
}

// readLoop drains the subprocess stdout into the slice buffer until EOF.
func (r *Recorder) readLoop(stdout io.ReadCloser) {
	defer close(r.readerDone)
	chunk := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			r.mu.Lock()
			r.buf.Write(chunk[:n])
			r.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// emitLoop cuts a slice out of the accumulated buffer on every tick.
func (r *Recorder) emitLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.readerDone:
			return
		case <-ticker.C:
			r.mu.Lock()
			// A full channel skips the tick; the audio stays buffered and
			// goes out with the next slice instead of being dropped.
			if r.stopped || r.closed || r.paused || r.buf.Len() == 0 || len(r.out) == cap(r.out) {
				r.mu.Unlock()
				continue
			}
			r.out <- r.cutLocked()
			r.mu.Unlock()
		}
	}
}

// cutLocked moves the buffered bytes into the next slice. Caller holds r.mu.
func (r *Recorder) cutLocked() device.Slice {
	data := make([]byte, r.buf.Len())
	copy(data, r.buf.Bytes())
	r.buf.Reset()

	now := time.Now()
	dur := r.liveAccum
	if !r.paused {
		dur += now.Sub(r.liveSince)
	}
	r.liveAccum = 0
	r.liveSince = now

	s := device.Slice{Data: data, Seq: r.seq, MIMEType: r.mime, Duration: dur}
	r.seq++
	return s
}

// Pause suspends the capture subprocess with SIGSTOP.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started || r.stopped || r.closed || r.paused {
		return nil
	}
	if err := r.cmd.Process.Signal(syscall.SIGSTOP); err != nil {
		return fmt.Errorf("cmdrec: pause: %w", err)
	}
	r.liveAccum += time.Since(r.liveSince)
	r.paused = true
	return nil
}

// Resume continues a paused capture subprocess with SIGCONT.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started || r.stopped || r.closed || !r.paused {
		return nil
	}
	if err := r.cmd.Process.Signal(syscall.SIGCONT); err != nil {
		return fmt.Errorf("cmdrec: resume: %w", err)
	}
	r.liveSince = time.Now()
	r.paused = false
	return nil
}

// Stop interrupts the capture command, flushes the remaining buffered audio
// as a final slice, and closes the slice channel.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	if r.paused {
		// A stopped process cannot react to SIGINT.
		_ = r.cmd.Process.Signal(syscall.SIGCONT)
		r.paused = false
		r.liveSince = time.Now()
	}
	_ = r.cmd.Process.Signal(syscall.SIGINT)
	done := r.readerDone
	r.mu.Unlock()

	// Wait for the command to flush and close stdout.
	select {
	case <-done:
	case <-ctx.Done():
		_ = r.cmd.Process.Kill()
		<-done
	}

	r.mu.Lock()
	var final *device.Slice
	if r.buf.Len() > 0 {
		s := r.cutLocked()
		final = &s
	}
	out := r.out
	r.mu.Unlock()

	// stopped is set, so the emit loop no longer sends; this goroutine is the
	// only remaining writer and the one that closes the channel.
	if final != nil {
		select {
		case out <- *final:
		case <-ctx.Done():
			slog.Warn("cmdrec: final slice dropped, consumer gone")
		}
	}
	close(out)

	err := r.cmd.Wait()
	// SIGINT exit is the expected way down for capture tools.
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return fmt.Errorf("cmdrec: wait: %w", err)
	}
	return nil
}

// Close kills the capture subprocess if it is still running. Idempotent.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.cmd != nil && r.cmd.Process != nil && !r.stopped {
		if r.paused {
			_ = r.cmd.Process.Signal(syscall.SIGCONT)
		}
		_ = r.cmd.Process.Kill()
	}
	return nil
}
