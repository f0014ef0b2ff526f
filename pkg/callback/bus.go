// Package callback implements the event bus that reports play/task
// lifecycle progress to subscribers (terminal output, JSON log, profiler)
// without letting a slow subscriber stall the run.
package callback

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/liliang-cn/gosinble/pkg/types"
)

// EventKind names one point in the play/task lifecycle.
type EventKind string

const (
	EventPlaybookStart EventKind = "playbook_start"
	EventPlayStart     EventKind = "play_start"
	EventTaskStart     EventKind = "task_start"
	EventTaskResult    EventKind = "task_result"
	EventHandlerRun    EventKind = "handler_run"
	EventFactsGathered EventKind = "facts_gathered"
	EventPlayEnd       EventKind = "play_end"
	EventRunEnd        EventKind = "run_end"
)

// Event is one published occurrence; payload fields are populated
// according to Kind and otherwise left zero.
type Event struct {
	Kind      EventKind
	Time      time.Time
	Play      *types.Play
	Task      *types.Task
	Hosts     []types.Host
	Result    *types.ExecutionResult
	Stats     *RunStats
	// PlaybookName carries the playbook's name/path for EventPlaybookStart
	// and EventRunEnd, which have no single Play to hang a name off.
	PlaybookName string
	// Success reports the overall outcome at EventPlayEnd and EventRunEnd.
	Success bool
	// Host and Facts are populated for EventFactsGathered.
	Host  string
	Facts map[string]interface{}
}

// subscriber owns one buffered delivery channel, drained by its own
// goroutine so a slow consumer never blocks Publish.
type subscriber struct {
	name    string
	ch      chan Event
	dropped uint64
	mu      sync.Mutex
}

const subscriberBufferSize = 256

// Bus fans a single stream of events out to many subscribers. Delivery
// to each subscriber is sequential/FIFO; there is no ordering guarantee
// across subscribers. A full subscriber channel drops the oldest queued
// event (not the newest) and counts it, rather than blocking Publish.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers a named handler function, run on its own goroutine
// for the bus's lifetime. Subscribing twice under the same name replaces
// the previous subscriber.
func (b *Bus) Subscribe(name string, handle func(Event)) {
	b.mu.Lock()
	sub := &subscriber{name: name, ch: make(chan Event, subscriberBufferSize)}
	b.subscribers[name] = sub
	b.mu.Unlock()

	go func() {
		for ev := range sub.ch {
			handle(ev)
		}
	}()
}

// Unsubscribe stops and removes a named subscriber.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[name]; ok {
		close(sub.ch)
		delete(b.subscribers, name)
	}
}

// Publish fans ev out to every subscriber without blocking: a subscriber
// whose buffer is full has its oldest queued event dropped to make room.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		b.deliver(sub, ev)
	}
}

func (b *Bus) deliver(sub *subscriber, ev Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	select {
	case sub.ch <- ev:
		return
	default:
	}
	// buffer full: drop the oldest queued event, then try again
	select {
	case <-sub.ch:
		atomic.AddUint64(&sub.dropped, 1)
	default:
	}
	select {
	case sub.ch <- ev:
	default:
		atomic.AddUint64(&sub.dropped, 1)
	}
}

// Dropped reports how many events a named subscriber has lost to a full
// buffer since it subscribed.
func (b *Bus) Dropped(name string) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sub, ok := b.subscribers[name]; ok {
		return atomic.LoadUint64(&sub.dropped)
	}
	return 0
}

// Close unsubscribes everyone, closing their delivery channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, name)
	}
}
