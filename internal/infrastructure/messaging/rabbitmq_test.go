package messaging

import (
	"context"
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/slotline/courtqueue/internal/infrastructure/logging"
)

func testLogger() logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		FilePath: "/tmp/",
		Encoding: "json",
		Level:    "fatal",
		Logger:   "zap",
	})
}

// relayFixture runs the relay against plain channels. Deliveries are
// unbuffered, so once a send returns the previous delivery has been fully
// processed, which makes the drop accounting deterministic.
type relayFixture struct {
	deliveries chan amqp.Delivery
	events     chan []byte
	done       chan struct{}
	drops      int
}

func startRelay(eventsBuffer int) *relayFixture {
	f := &relayFixture{
		deliveries: make(chan amqp.Delivery),
		events:     make(chan []byte, eventsBuffer),
		done:       make(chan struct{}),
	}

	broker := &RabbitMQ{logger: testLogger()}
	broker.OnDrop = func() { f.drops++ }

	go func() {
		defer close(f.done)
		broker.relay(context.Background(), "test-client", f.deliveries, f.events)
	}()

	return f
}

func (f *relayFixture) send(t *testing.T, body string) {
	t.Helper()
	select {
	case f.deliveries <- amqp.Delivery{Body: []byte(body)}:
	case <-f.done:
		t.Fatal("relay ended before delivery was accepted")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out sending delivery")
	}
}

func (f *relayFixture) receive(t *testing.T) string {
	t.Helper()
	select {
	case event := <-f.events:
		return string(event)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return ""
	}
}

func (f *relayFixture) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRelayForwardsDeliveries(t *testing.T) {
	f := startRelay(subscriberBuffer)

	f.send(t, "first")
	f.send(t, "second")
	close(f.deliveries)
	f.waitDone(t)

	if got := f.receive(t); got != "first" {
		t.Fatalf("first event = %q", got)
	}
	if got := f.receive(t); got != "second" {
		t.Fatalf("second event = %q", got)
	}
	if f.drops != 0 {
		t.Fatalf("drops = %d, want 0", f.drops)
	}
}

func TestRelayDropsNewestWhenBufferFull(t *testing.T) {
	f := startRelay(2)

	f.send(t, "kept-1")
	f.send(t, "kept-2")
	f.send(t, "dropped")
	// The extra send below proves the previous delivery was processed (and
	// dropped) rather than still in flight.
	f.send(t, "also-dropped")
	close(f.deliveries)
	f.waitDone(t)

	if got := f.receive(t); got != "kept-1" {
		t.Fatalf("first event = %q", got)
	}
	if got := f.receive(t); got != "kept-2" {
		t.Fatalf("second event = %q", got)
	}
	if f.drops != 2 {
		t.Fatalf("drops = %d, want 2", f.drops)
	}
}

func TestRelayClosesAfterSustainedOverflow(t *testing.T) {
	f := startRelay(1)

	f.send(t, "filler")
	for i := 0; i < maxConsecutiveDrops; i++ {
		f.send(t, fmt.Sprintf("overflow-%d", i))
	}

	// The relay must give up on its own, without the delivery stream
	// closing.
	f.waitDone(t)

	if f.drops != maxConsecutiveDrops {
		t.Fatalf("drops = %d, want %d", f.drops, maxConsecutiveDrops)
	}
}

func TestRelayDropCounterResetsOnSuccessfulSend(t *testing.T) {
	f := startRelay(1)

	f.send(t, "filler")
	for i := 0; i < maxConsecutiveDrops-1; i++ {
		f.send(t, "overflow")
	}

	// Drain one slot so the next delivery lands, resetting the counter.
	if got := f.receive(t); got != "filler" {
		t.Fatalf("drained event = %q", got)
	}
	f.send(t, "landed")

	// Another near-limit run of drops: cumulatively well past the limit,
	// but never maxConsecutiveDrops in a row.
	for i := 0; i < maxConsecutiveDrops-1; i++ {
		f.send(t, "overflow")
	}

	select {
	case <-f.done:
		t.Fatal("relay closed despite the drop counter being reset")
	default:
	}

	close(f.deliveries)
	f.waitDone(t)

	if want := 2 * (maxConsecutiveDrops - 1); f.drops != want {
		t.Fatalf("drops = %d, want %d", f.drops, want)
	}
}

func TestRelayStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	broker := &RabbitMQ{logger: testLogger()}
	deliveries := make(chan amqp.Delivery)
	events := make(chan []byte, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		broker.relay(ctx, "test-client", deliveries, events)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop on context cancel")
	}
}
