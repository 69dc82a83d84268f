package behavior

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

// fakeAck records the acknowledgement decision for one delivery.
type fakeAck struct {
	mu      sync.Mutex
	acked   []uint64
	nacked  []uint64
	requeue map[uint64]bool
}

func newFakeAck() *fakeAck { return &fakeAck{requeue: make(map[uint64]bool)} }

func (f *fakeAck) Ack(tag uint64, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeAck) Nack(tag uint64, _ bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = append(f.nacked, tag)
	f.requeue[tag] = requeue
	return nil
}

func (f *fakeAck) Reject(tag uint64, requeue bool) error { return f.Nack(tag, false, requeue) }

type fakeSink struct {
	mu       sync.Mutex
	inserted []Event
	err      error
}

func (f *fakeSink) InsertEvent(_ context.Context, ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, ev)
	return nil
}

func delivery(t *testing.T, ack amqp.Acknowledger, tag uint64, ev Event) amqp.Delivery {
	t.Helper()
	var body, err = json.Marshal(ev)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: body}
}

func runConsumer(t *testing.T, sink Sink, deliveries ...amqp.Delivery) {
	t.Helper()

	var ch = make(chan amqp.Delivery, len(deliveries))
	for _, d := range deliveries {
		ch <- d
	}

	var ctx, cancel = context.WithCancel(context.Background())
	var done = make(chan error, 1)
	go func() { done <- NewConsumer(ch, sink).Serve(ctx) }()

	// Let the consumer drain, then stop it.
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop on cancellation")
	}
}

func TestConsumerInsertsAndAcks(t *testing.T) {
	var ack = newFakeAck()
	var sink = new(fakeSink)

	runConsumer(t, sink,
		delivery(t, ack, 1, Event{UserID: 42, CourseID: 9, ActionType: ActionView, ActionValue: 1}),
		delivery(t, ack, 2, Event{UserID: 42, CourseID: 7, ActionType: ActionStudy, ActionValue: 4}),
	)

	require.Len(t, sink.inserted, 2)
	require.Equal(t, []uint64{1, 2}, ack.acked, "ack order follows delivery order")
	require.Empty(t, ack.nacked)
	for _, ev := range sink.inserted {
		require.False(t, ev.InsertedTime.IsZero(), "consumer stamps inserted_time")
	}
}

func TestConsumerNacksForRedeliveryOnSinkFailure(t *testing.T) {
	var ack = newFakeAck()
	var sink = &fakeSink{err: errors.New("log store down")}

	runConsumer(t, sink,
		delivery(t, ack, 1, Event{UserID: 42, CourseID: 9, ActionType: ActionView, ActionValue: 1}))

	require.Empty(t, ack.acked)
	require.Equal(t, []uint64{1}, ack.nacked)
	require.True(t, ack.requeue[1], "failed inserts must be redelivered")
}

func TestConsumerDropsMalformedMessages(t *testing.T) {
	var ack = newFakeAck()
	var sink = new(fakeSink)

	runConsumer(t, sink, amqp.Delivery{
		Acknowledger: ack, DeliveryTag: 1, Body: []byte("{not json"),
	})

	require.Empty(t, sink.inserted)
	require.Equal(t, []uint64{1}, ack.nacked)
	require.False(t, ack.requeue[1], "malformed messages must not requeue")
}

func TestConsumerStopsWhenStreamCloses(t *testing.T) {
	var ch = make(chan amqp.Delivery)
	close(ch)

	var err = NewConsumer(ch, new(fakeSink)).Serve(context.Background())
	require.Error(t, err, "a closed stream means the broker connection was lost")
}
