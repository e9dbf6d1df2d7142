package event

import (
	"context"
	"sync"
	"sync/atomic"
)

// Bus fans Events out to every subscribed Emitter over three buffered
// lanes (HIGH/NORMAL/LOW). A single dispatch goroutine always drains HIGH
// before NORMAL before LOW, so a burst of low-priority state_changed
// events can never delay delivery of a flow_failed event. Publish never
// blocks the caller: a full lane drops the event and increments Dropped
// rather than stall the flow or scheduler goroutine that raised it.
type Bus struct {
	high, normal, low chan Event
	emitters          []Emitter
	mu                sync.RWMutex
	dropped           atomic.Int64
	done              chan struct{}
	wg                sync.WaitGroup
}

// NewBus starts a Bus with the given per-lane buffer size, delivering to
// the supplied emitters. Call Close to stop the dispatch goroutine.
func NewBus(laneBuffer int, emitters ...Emitter) *Bus {
	if laneBuffer <= 0 {
		laneBuffer = 256
	}
	b := &Bus{
		high:     make(chan Event, laneBuffer),
		normal:   make(chan Event, laneBuffer),
		low:      make(chan Event, laneBuffer),
		emitters: append([]Emitter(nil), emitters...),
		done:     make(chan struct{}),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// Subscribe adds an emitter to receive every future event. Safe to call
// while the bus is running.
func (b *Bus) Subscribe(e Emitter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emitters = append(b.emitters, e)
}

// Publish enqueues an event on the lane matching its Priority. If that
// lane is full the event is dropped (counted in Dropped) rather than
// block the publisher.
func (b *Bus) Publish(e Event) {
	var lane chan Event
	switch e.Priority {
	case PriorityHigh:
		lane = b.high
	case PriorityLow:
		lane = b.low
	default:
		lane = b.normal
	}
	select {
	case lane <- e:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded because their lane was
// full.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

func (b *Bus) run() {
	defer b.wg.Done()
	for {
		select {
		case e := <-b.high:
			b.deliver(e)
			continue
		default:
		}
		select {
		case e := <-b.normal:
			b.deliver(e)
			continue
		default:
		}
		select {
		case e := <-b.high:
			b.deliver(e)
		case e := <-b.normal:
			b.deliver(e)
		case e := <-b.low:
			b.deliver(e)
		case <-b.done:
			b.drain()
			return
		}
	}
}

// drain flushes whatever is left in the lanes, highest priority first,
// after Close has been signaled.
func (b *Bus) drain() {
	for _, lane := range []chan Event{b.high, b.normal, b.low} {
		for {
			select {
			case e := <-lane:
				b.deliver(e)
			default:
				goto next
			}
		}
	next:
	}
}

func (b *Bus) deliver(e Event) {
	b.mu.RLock()
	emitters := b.emitters
	b.mu.RUnlock()
	for _, em := range emitters {
		em.Emit(e)
	}
}

// Close stops the dispatch goroutine after delivering whatever remains
// buffered, then flushes every subscribed emitter.
func (b *Bus) Close(ctx context.Context) error {
	close(b.done)
	b.wg.Wait()

	b.mu.RLock()
	emitters := b.emitters
	b.mu.RUnlock()

	var firstErr error
	for _, em := range emitters {
		if err := em.Flush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
