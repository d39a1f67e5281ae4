package capture

import (
	"bytes"
	"testing"

	"github.com/ilxomkh/survey/pkg/device"
)

func TestChunkQueueOrderAndAck(t *testing.T) {
	t.Parallel()

	var q chunkQueue
	if data, n, _ := q.snapshot(); n != 0 || data != nil {
		t.Fatalf("empty queue snapshot = (%v, %d), want (nil, 0)", data, n)
	}

	q.append(device.Slice{Data: []byte("aaa"), Seq: 0, MIMEType: "audio/wav"})
	q.append(device.Slice{Data: []byte("bb"), Seq: 1, MIMEType: "audio/wav"})
	q.append(device.Slice{Data: []byte("c"), Seq: 2, MIMEType: "audio/wav"})

	data, n, mimeType := q.snapshot()
	if !bytes.Equal(data, []byte("aaabbc")) {
		t.Errorf("combined data = %q, want %q", data, "aaabbc")
	}
	if n != 3 {
		t.Errorf("covered slices = %d, want 3", n)
	}
	if mimeType != "audio/wav" {
		t.Errorf("mime type = %q, want audio/wav", mimeType)
	}

	// Partial ack keeps the tail in order.
	q.ack(2)
	data, n, _ = q.snapshot()
	if !bytes.Equal(data, []byte("c")) || n != 1 {
		t.Errorf("after ack(2): (%q, %d), want (%q, 1)", data, n, "c")
	}

	// Over-acking empties the queue rather than panicking.
	q.ack(5)
	if q.len() != 0 {
		t.Errorf("after ack(5): len = %d, want 0", q.len())
	}
}

func TestChunkQueueRetainedAcrossSnapshots(t *testing.T) {
	t.Parallel()

	var q chunkQueue
	q.append(device.Slice{Data: []byte("one"), MIMEType: "audio/wav"})

	// A snapshot without an ack models a failed upload: nothing is lost and
	// the next snapshot covers the grown queue.
	if _, n, _ := q.snapshot(); n != 1 {
		t.Fatalf("first snapshot covered %d slices, want 1", n)
	}
	q.append(device.Slice{Data: []byte("two"), MIMEType: "audio/wav"})

	data, n, _ := q.snapshot()
	if !bytes.Equal(data, []byte("onetwo")) || n != 2 {
		t.Errorf("retry snapshot = (%q, %d), want (%q, 2)", data, n, "onetwo")
	}
}
