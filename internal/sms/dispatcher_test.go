package sms

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	mu        sync.Mutex
	failures  int
	sendCount int
	delivered []Message
}

func (f *fakeChannel) Send(ctx context.Context, phone, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCount++
	if f.sendCount <= f.failures {
		return errors.New("gateway unavailable")
	}
	f.delivered = append(f.delivered, Message{Phone: phone, Body: message})
	return nil
}

func (f *fakeChannel) snapshot() (int, []Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCount, append([]Message(nil), f.delivered...)
}

func testConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		QueueSize:   16,
		Workers:     2,
	}
}

func TestDispatcherDelivers(t *testing.T) {
	ch := &fakeChannel{}
	d := NewDispatcher(ch, testConfig())

	d.Enqueue(Message{Phone: "+998901234567", Body: "Your code: 123456"})
	d.Close()

	count, delivered := ch.snapshot()
	assert.Equal(t, 1, count)
	require.Len(t, delivered, 1)
	assert.Equal(t, "+998901234567", delivered[0].Phone)
}

func TestDispatcherRetriesTransientFailure(t *testing.T) {
	ch := &fakeChannel{failures: 2}
	d := NewDispatcher(ch, testConfig())

	d.Enqueue(Message{Phone: "+998901234567", Body: "Your code: 123456"})
	d.Close()

	count, delivered := ch.snapshot()
	assert.Equal(t, 3, count)
	assert.Len(t, delivered, 1)
}

func TestDispatcherAbandonsAfterMaxAttempts(t *testing.T) {
	ch := &fakeChannel{failures: 100}
	d := NewDispatcher(ch, testConfig())

	d.Enqueue(Message{Phone: "+998901234567", Body: "Your code: 123456"})
	d.Close()

	count, delivered := ch.snapshot()
	assert.Equal(t, 3, count)
	assert.Empty(t, delivered)
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	ch := &fakeChannel{}
	// No workers: nothing drains the queue, so the capacity is the cap.
	d := &Dispatcher{
		channel: ch,
		cfg:     DispatcherConfig{QueueSize: 1},
		queue:   make(chan Message, 1),
	}

	d.Enqueue(Message{Phone: "+998901234567", Body: "a"})
	d.Enqueue(Message{Phone: "+998901234567", Body: "b"})

	assert.Len(t, d.queue, 1)
}

func TestDispatcherCloseDrainsQueue(t *testing.T) {
	ch := &fakeChannel{}
	cfg := testConfig()
	cfg.Workers = 1
	d := NewDispatcher(ch, cfg)

	for i := 0; i < 5; i++ {
		d.Enqueue(Message{Phone: "+998901234567", Body: "code"})
	}
	d.Close()

	count, delivered := ch.snapshot()
	assert.Equal(t, 5, count)
	assert.Len(t, delivered, 5)
}
