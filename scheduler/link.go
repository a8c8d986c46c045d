package scheduler

import (
	"context"
	"sync"

	"github.com/byzfuzz/rmo/model"
	"go.opentelemetry.io/otel/metric"
)

type delivery struct {
	e    *model.Event
	held bool
}

// link queues deliveries for one outbox. The queue is unbounded so that a
// destination that stops reading stalls only its own link.
type link struct {
	out  chan *model.Event
	wake chan struct{}

	mu      sync.Mutex
	pending []delivery
	closed  bool
}

func newLink(size int) *link {
	return &link{
		out:  make(chan *model.Event, size),
		wake: make(chan struct{}, 1),
	}
}

func (l *link) push(e *model.Event, held bool) {
	l.mu.Lock()
	l.pending = append(l.pending, delivery{e: e, held: held})
	l.mu.Unlock()
	l.notify()
}

// close lets run return once the queue is empty.
func (l *link) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.notify()
}

func (l *link) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *link) backlog() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// run moves queued events to the outbox in order until the link is closed
// and empty, or ctx is done. It returns the number of events left queued.
func (l *link) run(ctx context.Context, policy string) int {
	for {
		l.mu.Lock()
		if len(l.pending) == 0 {
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return 0
			}
			select {
			case <-l.wake:
				continue
			case <-ctx.Done():
				return 0
			}
		}
		next := l.pending[0]
		l.mu.Unlock()

		select {
		case l.out <- next.e:
			l.mu.Lock()
			l.pending[0] = delivery{}
			l.pending = l.pending[1:]
			l.mu.Unlock()
			metrics.delivered.Add(ctx, 1, metric.WithAttributes(
				attrPolicy.String(policy),
				attrHeld.Bool(next.held)))
		case <-ctx.Done():
			return l.backlog()
		}
	}
}
