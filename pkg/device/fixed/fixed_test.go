package fixed_test

import (
	"context"
	"testing"
	"time"

	"github.com/ilxomkh/survey/pkg/device"
	"github.com/ilxomkh/survey/pkg/device/fixed"
)

func TestProbeReturnsConfiguredPosition(t *testing.T) {
	t.Parallel()

	l := fixed.New(41.31, 69.24, 12)
	s, err := l.Probe(context.Background(), device.AccuracyHigh)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if s.Latitude != 41.31 || s.Longitude != 69.24 || s.Accuracy != 12 {
		t.Errorf("sample = %+v, want the configured position", s)
	}
	if s.Timestamp.IsZero() {
		t.Error("sample timestamp is zero")
	}
}

func TestWatchEmitsImmediatelyAndStops(t *testing.T) {
	t.Parallel()

	l := fixed.New(41.31, 69.24, 12, fixed.WithInterval(time.Hour))
	w, err := l.Watch(context.Background(), device.AccuracyLow)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	select {
	case s := <-w.Samples():
		if s.Latitude != 41.31 {
			t.Errorf("first sample = %+v, want the configured position", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no sample emitted on watch open")
	}

	w.Stop()
	w.Stop()

	select {
	case _, ok := <-w.Samples():
		if ok {
			t.Error("unexpected sample after Stop")
		}
	case <-time.After(time.Second):
		t.Fatal("samples channel not closed after Stop")
	}
	if w.Err() != nil {
		t.Errorf("Err() = %v, want nil", w.Err())
	}
}
