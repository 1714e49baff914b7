package segment

import "sync"

// Queue buffers inbound canonical PCM chunks for one call. The media stream
// handler pushes decoded chunks; Capture drains them. End latches a sentinel
// meaning the stream is gone (remote hangup or transport loss).
type Queue struct {
	mu     sync.Mutex
	chunks [][]byte
	ended  bool
}

func NewQueue() *Queue {
	return &Queue{}
}

// Push appends one chunk. Pushes after End are dropped.
func (q *Queue) Push(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ended {
		return
	}
	q.chunks = append(q.chunks, pcm)
}

// End marks the stream closed. Idempotent.
func (q *Queue) End() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ended = true
}

// Drain returns all buffered chunks and whether the sentinel has been set.
func (q *Queue) Drain() (chunks [][]byte, ended bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	chunks = q.chunks
	q.chunks = nil
	return chunks, q.ended
}

// Len reports the number of buffered chunks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

// Ended reports whether the sentinel has been set.
func (q *Queue) Ended() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ended
}
