package scheduler

import (
	"container/heap"
	"time"

	"github.com/byzfuzz/rmo/model"
)

var _ heap.Interface = (*eventQueue)(nil)

// eventQueue is a max-heap of held events ordered by priority, ties broken
// by event ID so that equal priorities are delivered in interception order.
type eventQueue struct {
	items []*queuedEvent
}

type queuedEvent struct {
	event    *model.Event
	priority float64
	queuedAt time.Time

	index int
}

func newEventQueue() *eventQueue {
	var q eventQueue
	heap.Init(&q)
	return &q
}

func (q *eventQueue) Len() int { return len(q.items) }

// Less orders by descending priority then ascending event ID.
//
// This function is part of heap.Interface and must not be called externally.
func (q *eventQueue) Less(i, j int) bool {
	switch one, other := q.items[i], q.items[j]; {
	case one.priority == other.priority:
		return one.event.ID < other.event.ID
	default:
		return one.priority > other.priority
	}
}

// This function is part of heap.Interface and must not be called externally.
func (q *eventQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

// This function is part of heap.Interface and must not be called externally.
// See: Insert.
func (q *eventQueue) Push(x any) {
	item := x.(*queuedEvent)
	item.index = len(q.items)
	q.items = append(q.items, item)
}

// This function is part of heap.Interface and must not be called externally.
// See: Remove.
func (q *eventQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	q.items = old[:n-1]
	return item
}

func (q *eventQueue) Insert(x *queuedEvent) {
	heap.Push(q, x)
}

// Remove returns the highest priority event, or nil when empty.
func (q *eventQueue) Remove() *queuedEvent {
	if q.Len() > 0 {
		return heap.Pop(q).(*queuedEvent)
	}
	return nil
}
