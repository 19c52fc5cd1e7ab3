package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToAllSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub1 := broker.Subscribe()
	sub2 := broker.Subscribe()
	defer broker.Unsubscribe(sub1)
	defer broker.Unsubscribe(sub2)

	broker.Publish(&Event{
		Type:     EventJobDispatched,
		Message:  "job dispatched",
		WorkerID: "w1",
		JobID:    "j1",
	})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case event := <-sub:
			assert.Equal(t, EventJobDispatched, event.Type)
			assert.Equal(t, "w1", event.WorkerID)
			assert.Equal(t, "j1", event.JobID)
			assert.False(t, event.Timestamp.IsZero(), "publish stamps the event")
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	require.Equal(t, 1, broker.SubscriberCount())

	broker.Unsubscribe(sub)
	assert.Equal(t, 0, broker.SubscriberCount())

	_, open := <-sub
	assert.False(t, open, "channel closed after unsubscribe")
}

func TestBrokerSkipsFullSubscriber(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	slow := broker.Subscribe()
	defer broker.Unsubscribe(slow)

	// overflow the 50-slot buffer without draining
	for i := 0; i < 80; i++ {
		broker.Publish(&Event{Type: EventJobSubmitted})
	}

	// give the broadcast loop time to drain the main channel
	assert.Eventually(t, func() bool {
		return len(slow) == cap(slow)
	}, time.Second, 10*time.Millisecond, "slow subscriber capped at its buffer")
}

func TestPublishAfterStopDoesNotBlock(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	broker.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			broker.Publish(&Event{Type: EventWorkerOnline})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked after stop")
	}
}
