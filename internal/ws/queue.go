package ws

import (
	"sync"
)

// sendQueue is a thread-safe outbound frame queue that doubles its capacity
// when it reaches 70% full, up to a hard maximum. A queue that hits the
// maximum rejects further sends, which the server treats as a dead client.
type sendQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      [][]byte
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	maxCap   int
	closed   bool
}

// newSendQueue creates a queue with the given initial and maximum capacity.
func newSendQueue(initialCapacity, maxCapacity int) *sendQueue {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if maxCapacity < initialCapacity {
		maxCapacity = initialCapacity
	}
	q := &sendQueue{
		buf:      make([][]byte, initialCapacity),
		capacity: initialCapacity,
		maxCap:   maxCapacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Send enqueues a frame. Returns false if the queue is closed or full at
// its maximum capacity.
func (q *sendQueue) Send(frame []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	// Grow at or above 70% capacity, until the hard cap.
	threshold := (q.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.count+1 >= threshold && q.capacity < q.maxCap {
		q.grow()
	}
	if q.count >= q.capacity {
		return false
	}

	q.buf[q.tail] = frame
	q.tail = (q.tail + 1) % q.capacity
	q.count++

	q.cond.Signal()
	return true
}

// Receive blocks until a frame is available or the queue is closed. Returns
// nil and false once the queue is closed and drained.
func (q *sendQueue) Receive() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}

	if q.count == 0 && q.closed {
		return nil, false
	}

	frame := q.buf[q.head]
	q.buf[q.head] = nil // release for GC
	q.head = (q.head + 1) % q.capacity
	q.count--

	return frame, true
}

// Close marks the queue closed and wakes all waiting receivers. Remaining
// frames are still drained before Receive reports closed.
func (q *sendQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued frames.
func (q *sendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// grow doubles the capacity, clamped to maxCap. Must be called with the
// lock held.
func (q *sendQueue) grow() {
	newCapacity := q.capacity * 2
	if newCapacity > q.maxCap {
		newCapacity = q.maxCap
	}
	if newCapacity == q.capacity {
		return
	}
	newBuf := make([][]byte, newCapacity)

	if q.count > 0 {
		if q.head < q.tail {
			copy(newBuf, q.buf[q.head:q.tail])
		} else {
			n := copy(newBuf, q.buf[q.head:])
			copy(newBuf[n:], q.buf[:q.tail])
		}
	}

	q.buf = newBuf
	q.head = 0
	q.tail = q.count
	q.capacity = newCapacity
}
