// Package gpsd provides a [device.Locator] backed by a gpsd daemon.
//
// The locator speaks the gpsd JSON wire protocol over TCP: it enables
// ?WATCH mode and converts incoming TPV (time-position-velocity) reports into
// [device.Sample] values. The accuracy tier maps onto the required fix mode:
// high accuracy demands a 3D fix, low accuracy accepts any 2D fix.
package gpsd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ilxomkh/survey/pkg/device"
)

const (
	// DefaultAddr is the standard gpsd listen address.
	DefaultAddr = "localhost:2947"

	// defaultAccuracy is reported when a TPV carries no error estimate.
	defaultAccuracy = 50.0

	watchCommand = `?WATCH={"enable":true,"json":true}` + "\n"
)

// Compile-time assertion that Locator implements device.Locator.
var _ device.Locator = (*Locator)(nil)

// tpv is the subset of a gpsd TPV report the locator consumes.
type tpv struct {
	Class string  `json:"class"`
	Mode  int     `json:"mode"` // 0/1 no fix, 2 2D, 3 3D
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	EPH   float64 `json:"eph"` // horizontal error estimate, meters
	EPX   float64 `json:"epx"`
	EPY   float64 `json:"epy"`
	Time  string  `json:"time"` // RFC 3339
}

// Option is a functional option for configuring a [Locator].
type Option func(*Locator)

// WithDialTimeout sets the TCP connect timeout. Defaults to 5 s.
func WithDialTimeout(d time.Duration) Option {
	return func(l *Locator) {
		if d > 0 {
			l.dialTimeout = d
		}
	}
}

// Locator implements [device.Locator] against a gpsd daemon.
type Locator struct {
	addr        string
	dialTimeout time.Duration
}

// New creates a Locator for the gpsd daemon at addr. An empty addr selects
// [DefaultAddr].
func New(addr string, opts ...Option) *Locator {
	if addr == "" {
		addr = DefaultAddr
	}
	l := &Locator{addr: addr, dialTimeout: 5 * time.Second}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Probe connects, enables watch mode, and blocks until the first fix that
// satisfies the accuracy tier (or ctx is done). The connection is closed
// before returning.
func (l *Locator) Probe(ctx context.Context, tier device.Accuracy) (device.Sample, error) {
	conn, err := l.dial(ctx)
	if err != nil {
		return device.Sample{}, err
	}
	defer conn.Close()

	// Cancel the blocking read when ctx ends.
	stop := closeOnDone(ctx, conn)
	defer stop()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024)
	for sc.Scan() {
		s, ok := parseTPV(sc.Bytes(), tier)
		if ok {
			return s, nil
		}
	}
	if ctx.Err() != nil {
		return device.Sample{}, fmt.Errorf("gpsd: probe %s: %w", l.addr, ctx.Err())
	}
	if err := sc.Err(); err != nil {
		return device.Sample{}, fmt.Errorf("gpsd: probe %s: %w", l.addr, err)
	}
	return device.Sample{}, fmt.Errorf("gpsd: probe %s: stream ended before a fix", l.addr)
}

// Watch connects, enables watch mode, and streams every fix that satisfies
// the accuracy tier until the returned watch is stopped or the connection
// fails.
func (l *Locator) Watch(ctx context.Context, tier device.Accuracy) (device.Watch, error) {
	conn, err := l.dial(ctx)
	if err != nil {
		return nil, err
	}

	w := &watch{
		conn: conn,
		ch:   make(chan device.Sample, 16),
	}
	go w.readLoop(tier)
	return w, nil
}

// dial connects to gpsd and enables JSON watch mode.
func (l *Locator) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: l.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", l.addr)
	if err != nil {
		return nil, fmt.Errorf("gpsd: dial %s: %w", l.addr, err)
	}
	if _, err := conn.Write([]byte(watchCommand)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("gpsd: enable watch: %w", err)
	}
	return conn, nil
}

// parseTPV converts one gpsd report line into a sample, if it is a TPV with
// a fix acceptable at the given tier.
func parseTPV(line []byte, tier device.Accuracy) (device.Sample, bool) {
	var rep tpv
	if err := json.Unmarshal(line, &rep); err != nil || rep.Class != "TPV" {
		return device.Sample{}, false
	}
	minMode := 2
	if tier == device.AccuracyHigh {
		minMode = 3
	}
	if rep.Mode < minMode {
		return device.Sample{}, false
	}

	acc := rep.EPH
	if acc == 0 {
		acc = max(rep.EPX, rep.EPY)
	}
	if acc == 0 {
		acc = defaultAccuracy
	}

	ts := time.Now()
	if t, err := time.Parse(time.RFC3339, rep.Time); err == nil {
		ts = t
	}
	return device.Sample{
		Latitude:  rep.Lat,
		Longitude: rep.Lon,
		Accuracy:  acc,
		Timestamp: ts,
	}, true
}

// closeOnDone closes conn when ctx is done, unblocking pending reads.
// The returned stop function releases the watcher goroutine.
func closeOnDone(ctx context.Context, conn net.Conn) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// watch is a live gpsd subscription. It implements [device.Watch].
type watch struct {
	conn net.Conn
	ch   chan device.Sample

	mu      sync.Mutex
	err     error
	stopped bool
}

func (w *watch) readLoop(tier device.Accuracy) {
	sc := bufio.NewScanner(w.conn)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024)
	for sc.Scan() {
		s, ok := parseTPV(sc.Bytes(), tier)
		if !ok {
			continue
		}
		select {
		case w.ch <- s:
		default:
			// Drop the oldest pending sample; only freshness matters.
			select {
			case <-w.ch:
			default:
			}
			w.ch <- s
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		// Source failure, not a deliberate Stop.
		w.err = sc.Err()
		if w.err == nil {
			w.err = fmt.Errorf("gpsd: watch stream ended")
		}
		w.stopped = true
	}
	close(w.ch)
}

// Samples implements [device.Watch].
func (w *watch) Samples() <-chan device.Sample { return w.ch }

// Err implements [device.Watch].
func (w *watch) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Stop implements [device.Watch]. Safe to call multiple times. The Samples
// channel is closed by the read loop once the connection teardown unblocks it.
func (w *watch) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.conn.Close()
}
