// Package device defines the interfaces and types for the hardware
// capabilities a capture session depends on: the microphone and the
// location source.
//
// The two primary abstractions are:
//
//   - [Recorder] — an exclusive handle on the microphone that emits recorded
//     audio in fixed-duration slices.
//   - [Locator] — a positioning source that answers one-shot position reads
//     and continuous position subscriptions.
//
// Implementations are provided by adapter subpackages (device/cmdrec,
// device/gpsd, device/fixed). The interfaces are intentionally narrow so the
// capture controller stays decoupled from how audio and positions are
// actually produced on a given device.
//
// This package lives under pkg/ because external code (alternative device
// adapters) is expected to implement [Recorder] and [Locator].
package device

import (
	"context"
	"time"
)

// Accuracy selects the positioning accuracy tier requested from a [Locator].
type Accuracy int

const (
	// AccuracyHigh requests the best position the source can produce.
	// Acquisition may take longer and consume more power.
	AccuracyHigh Accuracy = iota

	// AccuracyLow accepts any usable fix. Used for the automatic downgrade
	// retry of a failed watch and for the finalize fallback read.
	AccuracyLow
)

// String returns the human-readable name of the accuracy tier.
func (a Accuracy) String() string {
	switch a {
	case AccuracyHigh:
		return "high"
	case AccuracyLow:
		return "low"
	default:
		return "unknown"
	}
}

// Slice is one fixed-duration segment of recorded audio emitted by a
// [Recorder]. Slices are strictly ordered by Seq; concatenating the Data of
// consecutive slices yields a valid audio stream in the recorder's format.
type Slice struct {
	// Data is the encoded audio payload for this segment.
	Data []byte

	// Seq is the zero-based emission index. Strictly increasing per recording.
	Seq int

	// MIMEType describes the payload encoding (e.g. "audio/wav",
	// "audio/L16;rate=16000").
	MIMEType string

	// Duration is the amount of recorded time this slice covers. The final
	// slice of a recording is usually shorter than the configured interval.
	Duration time.Duration
}

// Sample is a single position reading produced by a [Locator].
type Sample struct {
	// Latitude and Longitude in decimal degrees (WGS 84).
	Latitude  float64
	Longitude float64

	// Accuracy is the estimated horizontal error radius in meters.
	Accuracy float64

	// Timestamp marks when the reading was produced.
	Timestamp time.Time
}

// Recorder is an exclusive handle on the device microphone.
//
// Lifecycle: Start → (Pause ⇄ Resume)* → Stop → Close. Close may be called
// from any state, including after an error, and must release the underlying
// hardware; it is idempotent. Implementations must be safe for concurrent use.
type Recorder interface {
	// Start begins capturing and returns a read-only channel that delivers
	// one [Slice] per elapsed interval, in emission order. The channel is
	// closed after Stop has flushed the final partial slice, or when the
	// recorder fails irrecoverably. Start may be called at most once.
	Start(ctx context.Context, interval time.Duration) (<-chan Slice, error)

	// Pause suspends slice emission without discarding the capture stream.
	// Audio recorded while paused is not kept. No-op when already paused.
	Pause() error

	// Resume continues capture and slice emission after a Pause.
	// No-op when not paused.
	Resume() error

	// Stop ends the recording, emits any buffered partial audio as a final
	// [Slice] on the channel returned by Start, and closes that channel.
	// Stop does not release the hardware; call Close for that.
	Stop(ctx context.Context) error

	// Close releases the microphone unconditionally. Safe to call multiple
	// times and from any state; subsequent calls are no-ops and return nil.
	Close() error
}

// Watch is an active continuous position subscription obtained from
// [Locator.Watch].
type Watch interface {
	// Samples returns the read-only channel delivering position updates as
	// they arrive. The channel is closed when the subscription ends, whether
	// via Stop or a source failure.
	Samples() <-chan Sample

	// Err returns the terminal error that closed the Samples channel, or nil
	// if the subscription ended via Stop. Valid only after the channel closed.
	Err() error

	// Stop cancels the subscription and closes the Samples channel.
	// Safe to call multiple times.
	Stop()
}

// Locator is a positioning source.
//
// Implementations must be safe for concurrent use.
type Locator interface {
	// Probe performs a single position read at the requested accuracy tier.
	// It blocks until a fix is obtained or ctx is done; callers bound it with
	// a deadline. A Probe is also the permission/availability check: a failed
	// Probe means the session must not start.
	Probe(ctx context.Context, tier Accuracy) (Sample, error)

	// Watch opens a continuous position subscription at the requested
	// accuracy tier. The returned [Watch] remains active until its Stop
	// method is called or the source fails.
	Watch(ctx context.Context, tier Accuracy) (Watch, error)
}
