// Package fixed provides a [device.Locator] that always reports a configured
// position. It exists for indoor piloting and for devices without a GPS
// source, where the capture point is known in advance.
package fixed

import (
	"context"
	"sync"
	"time"

	"github.com/ilxomkh/survey/pkg/device"
)

// defaultInterval is the watch emission period.
const defaultInterval = 5 * time.Second

var _ device.Locator = (*Locator)(nil)

// Option is a functional option for configuring a [Locator].
type Option func(*Locator)

// WithInterval sets the period between watch samples. Defaults to 5 s.
func WithInterval(d time.Duration) Option {
	return func(l *Locator) {
		if d > 0 {
			l.interval = d
		}
	}
}

// Locator implements [device.Locator] with a static position.
type Locator struct {
	lat      float64
	lon      float64
	accuracy float64
	interval time.Duration
}

// New creates a Locator that reports the given coordinates with the given
// accuracy radius in meters.
func New(lat, lon, accuracy float64, opts ...Option) *Locator {
	l := &Locator{lat: lat, lon: lon, accuracy: accuracy, interval: defaultInterval}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Locator) sample() device.Sample {
	return device.Sample{
		Latitude:  l.lat,
		Longitude: l.lon,
		Accuracy:  l.accuracy,
		Timestamp: time.Now(),
	}
}

// Probe returns the configured position immediately.
func (l *Locator) Probe(ctx context.Context, _ device.Accuracy) (device.Sample, error) {
	if err := ctx.Err(); err != nil {
		return device.Sample{}, err
	}
	return l.sample(), nil
}

// Watch emits the configured position on every interval until stopped.
func (l *Locator) Watch(ctx context.Context, _ device.Accuracy) (device.Watch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := &watch{
		ch:   make(chan device.Sample, 1),
		done: make(chan struct{}),
	}
	go func() {
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		defer close(w.ch)

		// First sample straight away, so the finalize fallback cache is warm.
		w.ch <- l.sample()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case <-ticker.C:
				select {
				case w.ch <- l.sample():
				default:
				}
			}
		}
	}()
	return w, nil
}

// watch implements [device.Watch] for the fixed locator.
type watch struct {
	ch       chan device.Sample
	done     chan struct{}
	stopOnce sync.Once
}

func (w *watch) Samples() <-chan device.Sample { return w.ch }

// Err always returns nil: a fixed position source cannot fail.
func (w *watch) Err() error { return nil }

func (w *watch) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}
