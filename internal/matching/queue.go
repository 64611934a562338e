// Package matching holds the waiting pool and the first-fit pairing scan.
package matching

import (
	"container/list"
	"time"
)

// QueueEntry represents a participant's place in the waiting pool.
type QueueEntry struct {
	ID         string
	Seq        uint64 // enqueue order, strictly increasing
	EnqueuedAt time.Time
}

// Queue is an order-preserving set of waiting participant ids. It is not
// safe for concurrent use; the engine loop owns it.
type Queue struct {
	order *list.List
	index map[string]*list.Element
	seq   uint64
}

func NewQueue() *Queue {
	return &Queue{
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

// Enqueue appends id to the tail. Enqueueing an id already present keeps its
// original position and returns false.
func (q *Queue) Enqueue(id string, now time.Time) bool {
	if _, ok := q.index[id]; ok {
		return false
	}
	q.seq++
	q.index[id] = q.order.PushBack(QueueEntry{ID: id, Seq: q.seq, EnqueuedAt: now})
	return true
}

// Dequeue removes id and returns its entry. Unknown ids are a no-op.
func (q *Queue) Dequeue(id string) (QueueEntry, bool) {
	el, ok := q.index[id]
	if !ok {
		return QueueEntry{}, false
	}
	delete(q.index, id)
	return q.order.Remove(el).(QueueEntry), true
}

// DequeuePair removes both ids before a session is created for them.
func (q *Queue) DequeuePair(a, b string) {
	q.Dequeue(a)
	q.Dequeue(b)
}

func (q *Queue) Contains(id string) bool {
	_, ok := q.index[id]
	return ok
}

// Get returns the entry for id without removing it.
func (q *Queue) Get(id string) (QueueEntry, bool) {
	el, ok := q.index[id]
	if !ok {
		return QueueEntry{}, false
	}
	return el.Value.(QueueEntry), true
}

// Position returns the 1-based place of id, or 0 if absent.
func (q *Queue) Position(id string) int {
	if _, ok := q.index[id]; !ok {
		return 0
	}
	pos := 1
	for el := q.order.Front(); el != nil; el = el.Next() {
		if el.Value.(QueueEntry).ID == id {
			return pos
		}
		pos++
	}
	return 0
}

func (q *Queue) Len() int {
	return q.order.Len()
}

// Entries returns a snapshot in enqueue order, oldest first.
func (q *Queue) Entries() []QueueEntry {
	out := make([]QueueEntry, 0, q.order.Len())
	for el := q.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(QueueEntry))
	}
	return out
}

// IDs returns queued ids in enqueue order.
func (q *Queue) IDs() []string {
	out := make([]string, 0, q.order.Len())
	for el := q.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(QueueEntry).ID)
	}
	return out
}
