package capture

import (
	"sync"

	"github.com/ilxomkh/survey/pkg/device"
)

// chunkQueue holds recorded audio slices that the gateway has not yet
// acknowledged. Slices are append-only and strictly ordered; an upload always
// covers a prefix of the queue, combined in emission order, so the backend
// can concatenate chunks by arrival.
//
// A failed upload leaves the queue untouched — nothing is ever dropped, the
// next attempt (or the finalize flush) resends the combined prefix.
type chunkQueue struct {
	mu     sync.Mutex
	slices []device.Slice
}

// append adds a slice to the tail.
func (q *chunkQueue) append(s device.Slice) {
	q.mu.Lock()
	q.slices = append(q.slices, s)
	q.mu.Unlock()
}

// snapshot returns the queued slices combined in order, the number of slices
// covered, and the MIME type of the first slice. n is 0 when the queue is
// empty.
func (q *chunkQueue) snapshot() (data []byte, n int, mimeType string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.slices) == 0 {
		return nil, 0, ""
	}
	size := 0
	for _, s := range q.slices {
		size += len(s.Data)
	}
	data = make([]byte, 0, size)
	for _, s := range q.slices {
		data = append(data, s.Data...)
	}
	return data, len(q.slices), q.slices[0].MIMEType
}

// ack removes the first n slices after a successful upload.
func (q *chunkQueue) ack(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n >= len(q.slices) {
		q.slices = nil
		return
	}
	q.slices = append([]device.Slice(nil), q.slices[n:]...)
}

// len reports the number of outstanding slices.
func (q *chunkQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.slices)
}
