package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/kilianp07/lastmile/core/channel"
)

func event(t *testing.T, name string) channel.Event {
	t.Helper()
	ev, err := channel.NewEvent(name, map[string]string{"deliveryId": "d1"})
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	return ev
}

func TestBusPublishSubscribe(t *testing.T) {
	bus := New()
	sub, err := bus.Subscribe(channel.Customer("c1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish(context.Background(), event(t, channel.EventDeliveryStatusUpdate), channel.Customer("c1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case m := <-sub.C():
		if m.Channel != channel.Customer("c1") || m.Event.Name != channel.EventDeliveryStatusUpdate {
			t.Fatalf("unexpected message %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatalf("no message")
	}
	sub.Unsubscribe()
	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected closed channel")
	}
	sub.Unsubscribe()
}

func TestBusChannelIsolation(t *testing.T) {
	bus := New()
	driver, _ := bus.Subscribe(channel.Driver("d2"))
	customer, _ := bus.Subscribe(channel.Customer("c1"))
	_ = bus.Publish(context.Background(), event(t, channel.EventDeliveryLocationUpdate), channel.Customer("c1"))

	select {
	case m := <-driver.C():
		t.Fatalf("driver received %+v", m)
	default:
	}
	select {
	case <-customer.C():
	default:
		t.Fatalf("customer missed the event")
	}
}

func TestBusDeliversOncePerPublish(t *testing.T) {
	bus := New()
	// One identity acting as both store and customer of a delivery.
	sub, _ := bus.Subscribe(channel.Store("x"), channel.Customer("x"), channel.Store("x"))
	if got := len(sub.Channels()); got != 2 {
		t.Fatalf("expected deduplicated channels, got %d", got)
	}
	_ = bus.Publish(context.Background(), event(t, channel.EventDeliveryStatusUpdate), channel.Customer("x"), channel.Store("x"))
	<-sub.C()
	select {
	case m := <-sub.C():
		t.Fatalf("duplicate delivery %+v", m)
	default:
	}
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewWithBuffer(1)
	var dropped []channel.Name
	bus.SetDropHandler(func(n channel.Name) { dropped = append(dropped, n) })
	_, _ = bus.Subscribe(channel.Driver("d1"))
	for i := 0; i < 3; i++ {
		if err := bus.Publish(context.Background(), event(t, channel.EventNewDeliveryAssigned), channel.Driver("d1")); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if bus.Dropped() != 2 || len(dropped) != 2 {
		t.Fatalf("expected 2 drops, got %d/%d", bus.Dropped(), len(dropped))
	}
}

func TestBusClose(t *testing.T) {
	bus := New()
	s1, _ := bus.Subscribe(channel.Driver("a"))
	s2, _ := bus.Subscribe(channel.Driver("a"), channel.Store("b"))
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-s1.C(); ok {
		t.Fatalf("expected s1 closed")
	}
	if _, ok := <-s2.C(); ok {
		t.Fatalf("expected s2 closed")
	}
	if _, err := bus.Subscribe(channel.Driver("a")); err != channel.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := bus.Publish(context.Background(), event(t, "x"), channel.Driver("a")); err != channel.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestBusUnsubscribeAfterClose(t *testing.T) {
	bus := New()
	sub, _ := bus.Subscribe(channel.Driver("a"))
	_ = bus.Close()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic on Unsubscribe after Close: %v", r)
		}
	}()
	sub.Unsubscribe()
	if bus.Subscribers(channel.Driver("a")) != 0 {
		t.Fatalf("expected no subscribers")
	}
}
