package messages

import "sync"

// Queue is an unbounded FIFO of notifications, safe for use by concurrent producers and a single consumer.
// It never blocks beyond its internal lock; callers that need a depth cap check Len before Enqueue.
type Queue struct {
	mu    sync.Mutex
	items []Notification
	head  int
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Enqueue(n Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, n)
}

// Dequeue removes and returns the oldest notification, or false if the queue is empty.
func (q *Queue) Dequeue() (Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == len(q.items) {
		return nil, false
	}
	n := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		remaining := copy(q.items, q.items[q.head:])
		for i := remaining; i < len(q.items); i++ {
			q.items[i] = nil
		}
		q.items = q.items[:remaining]
		q.head = 0
	}
	return n, true
}

// Clear discards every pending notification.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.head = 0
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
