package callback

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversPublishedEventsToSubscriber(t *testing.T) {
	b := NewBus()
	var count int32
	var wg sync.WaitGroup
	wg.Add(1)
	b.Subscribe("counter", func(ev Event) {
		if atomic.AddInt32(&count, 1) == 1 {
			wg.Done()
		}
	})

	b.Publish(Event{Kind: EventRunEnd, Time: time.Now()})
	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&count))
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus()
	var count int32
	b.Subscribe("sub", func(ev Event) { atomic.AddInt32(&count, 1) })
	b.Unsubscribe("sub")

	b.Publish(Event{Kind: EventRunEnd})
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&count))
}

func TestBusDropsOldestWhenSubscriberBufferFull(t *testing.T) {
	b := NewBus()
	block := make(chan struct{})
	var handled int32
	b.Subscribe("slow", func(ev Event) {
		<-block
		atomic.AddInt32(&handled, 1)
	})

	for i := 0; i < subscriberBufferSize+10; i++ {
		b.Publish(Event{Kind: EventTaskResult})
	}

	require.Eventually(t, func() bool {
		return b.Dropped("slow") > 0
	}, time.Second, time.Millisecond)

	close(block)
}

func TestBusDroppedReturnsZeroForUnknownSubscriber(t *testing.T) {
	b := NewBus()
	assert.EqualValues(t, 0, b.Dropped("nope"))
}

func TestBusCloseUnsubscribesEveryone(t *testing.T) {
	b := NewBus()
	var count int32
	b.Subscribe("a", func(ev Event) { atomic.AddInt32(&count, 1) })
	b.Close()

	b.Publish(Event{Kind: EventRunEnd})
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&count))
}
