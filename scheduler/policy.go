package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/byzfuzz/rmo/internal/clock"
	"github.com/byzfuzz/rmo/model"
	"golang.org/x/sync/semaphore"
)

// PolicyKind selects how consensus messages are scheduled.
type PolicyKind int

const (
	// DelayPolicyKind delays every consensus message independently.
	DelayPolicyKind PolicyKind = iota + 1
	// PriorityPolicyKind reorders consensus messages through a shared
	// priority queue drained at an adaptive rate.
	PriorityPolicyKind
)

func (k PolicyKind) String() string {
	switch k {
	case DelayPolicyKind:
		return "delay"
	case PriorityPolicyKind:
		return "priority"
	default:
		return fmt.Sprintf("PolicyKind(%d)", int(k))
	}
}

func ParsePolicyKind(s string) (PolicyKind, error) {
	switch s {
	case "delay":
		return DelayPolicyKind, nil
	case "priority":
		return PriorityPolicyKind, nil
	default:
		return 0, fmt.Errorf("unknown policy %q", s)
	}
}

func (k PolicyKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *PolicyKind) UnmarshalText(text []byte) error {
	parsed, err := ParsePolicyKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Policy decides when held consensus events are released. Released events
// are sent on the ready channel the policy was built with, exactly once each.
type Policy interface {
	Kind() PolicyKind
	// Decode interprets a genome as a schedule this policy can install.
	Decode(validators int, genome model.Genome) (model.Schedule, error)
	// Install atomically replaces the active schedule.
	Install(model.Schedule) error
	// Hold takes ownership of e and reports true, or reports false if e
	// should be delivered right away.
	Hold(e *model.Event, t model.ConsensusMessageType) bool
	// Run performs background releases until ctx is done.
	Run(ctx context.Context)
	// Flush returns every event still held by the policy in delivery order.
	// It must only be called after Run has returned.
	Flush() []*model.Event
	// Applied returns the total delay imposed on held events since the last
	// Reset.
	Applied() time.Duration
	Reset()
}

var (
	_ Policy = (*DelayPolicy)(nil)
	_ Policy = (*PriorityPolicy)(nil)
)

// DelayPolicy delays each consensus message by the duration its DelayMap
// entry names. Every delayed event has its own timer, so events may be
// released out of submission order. At most maxInFlight events are delayed
// at once; beyond that events are delivered without delay.
type DelayPolicy struct {
	clk      clock.Clock
	ready    chan<- *model.Event
	inFlight *semaphore.Weighted

	schedule atomic.Pointer[model.DelayMap]
	applied  atomic.Int64
}

func NewDelayPolicy(clk clock.Clock, ready chan<- *model.Event, maxInFlight int64) *DelayPolicy {
	return &DelayPolicy{
		clk:      clk,
		ready:    ready,
		inFlight: semaphore.NewWeighted(maxInFlight),
	}
}

func (*DelayPolicy) Kind() PolicyKind { return DelayPolicyKind }

func (*DelayPolicy) Decode(validators int, genome model.Genome) (model.Schedule, error) {
	return model.NewDelayMap(validators, genome)
}

func (p *DelayPolicy) Install(s model.Schedule) error {
	dm, ok := s.(*model.DelayMap)
	if !ok {
		return fmt.Errorf("%T on delay policy: %w", s, ErrScheduleMismatch)
	}
	p.schedule.Store(dm)
	return nil
}

func (p *DelayPolicy) Hold(e *model.Event, t model.ConsensusMessageType) bool {
	dm := p.schedule.Load()
	if dm == nil {
		return false
	}
	delay := dm.Delay(e.From, e.To, t)
	if delay <= 0 {
		return false
	}
	if !p.inFlight.TryAcquire(1) {
		metrics.overflow.Add(context.Background(), 1)
		log.Debugw("Delay bound reached, delivering immediately", "event", e.ID, "from", e.From, "to", e.To, "type", t)
		return false
	}
	timer := p.clk.Timer(delay)
	p.applied.Add(int64(delay))
	metrics.delay.Record(context.Background(), delay.Seconds())
	go func() {
		defer p.inFlight.Release(1)
		<-timer.C
		p.ready <- e
	}()
	return true
}

// Run returns immediately: delayed events are released by their own timers,
// which outlive shutdown so that no held event is lost.
func (*DelayPolicy) Run(context.Context) {}

func (*DelayPolicy) Flush() []*model.Event { return nil }

func (p *DelayPolicy) Applied() time.Duration { return time.Duration(p.applied.Load()) }

func (p *DelayPolicy) Reset() { p.applied.Store(0) }

// PriorityPolicy queues consensus messages by the priority their
// PriorityMap entry names and releases the highest priority one at a time,
// at a rate steered by a RateController.
type PriorityPolicy struct {
	clk   clock.Clock
	ready chan<- *model.Event

	schedule atomic.Pointer[model.PriorityMap]

	mu      sync.Mutex
	queue   *eventQueue
	rate    *RateController
	applied time.Duration
}

func NewPriorityPolicy(clk clock.Clock, ready chan<- *model.Event, rc RateConfig) (*PriorityPolicy, error) {
	rate, err := NewRateController(rc)
	if err != nil {
		return nil, err
	}
	return &PriorityPolicy{
		clk:   clk,
		ready: ready,
		queue: newEventQueue(),
		rate:  rate,
	}, nil
}

func (*PriorityPolicy) Kind() PolicyKind { return PriorityPolicyKind }

func (*PriorityPolicy) Decode(validators int, genome model.Genome) (model.Schedule, error) {
	return model.NewPriorityMap(validators, genome)
}

func (p *PriorityPolicy) Install(s model.Schedule) error {
	pm, ok := s.(*model.PriorityMap)
	if !ok {
		return fmt.Errorf("%T on priority policy: %w", s, ErrScheduleMismatch)
	}
	p.schedule.Store(pm)
	return nil
}

func (p *PriorityPolicy) Hold(e *model.Event, t model.ConsensusMessageType) bool {
	pm := p.schedule.Load()
	if pm == nil {
		return false
	}
	p.push(&queuedEvent{
		event:    e,
		priority: pm.Priority(e.From, e.To, t),
		queuedAt: p.clk.Now(),
	})
	return true
}

func (p *PriorityPolicy) Run(ctx context.Context) {
	for {
		p.mu.Lock()
		interval := p.rate.Interval()
		p.mu.Unlock()

		timer := p.clk.Timer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		item := p.pop()
		if item == nil {
			continue
		}
		select {
		case p.ready <- item.event:
		case <-ctx.Done():
			p.push(item)
			return
		}
	}
}

func (p *PriorityPolicy) push(item *queuedEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue.Insert(item)
	metrics.queueDepth.Add(context.Background(), 1)
}

func (p *PriorityPolicy) pop() *queuedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	rate := p.rate.Adjust(p.queue.Len())
	metrics.rate.Record(context.Background(), rate)
	item := p.queue.Remove()
	if item != nil {
		p.applied += p.clk.Since(item.queuedAt)
		metrics.queueDepth.Add(context.Background(), -1)
	}
	return item
}

func (p *PriorityPolicy) Flush() []*model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	flushed := make([]*model.Event, 0, p.queue.Len())
	for item := p.queue.Remove(); item != nil; item = p.queue.Remove() {
		flushed = append(flushed, item.event)
	}
	metrics.queueDepth.Add(context.Background(), -int64(len(flushed)))
	return flushed
}

// Len returns the number of queued events.
func (p *PriorityPolicy) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

// Rate returns the current release rate in events per second.
func (p *PriorityPolicy) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate.Rate()
}

func (p *PriorityPolicy) Applied() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.applied
}

// Reset restores the initial rate and clears the applied delay. Queued
// events stay queued.
func (p *PriorityPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rate.Reset()
	p.applied = 0
}
