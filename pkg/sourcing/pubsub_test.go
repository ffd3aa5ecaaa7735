package sourcing

import (
	"errors"
	"testing"
)

func TestBusDeliversInPublisherOrder(t *testing.T) {
	bus := NewBus()
	var got []int

	bus.Subscribe(func(event any) error { got = append(got, event.(int)*10); return nil })
	bus.Subscribe(func(event any) error { got = append(got, event.(int)*100); return nil })

	bus.Publish(1)
	bus.Publish(2)

	want := []int{10, 100, 20, 200}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	count := 0
	unsubscribe := bus.Subscribe(func(any) error { count++; return nil })

	bus.Publish(struct{}{})
	unsubscribe()
	bus.Publish(struct{}{})

	if count != 1 {
		t.Errorf("got %d deliveries, want 1", count)
	}
}

func TestBusPublishSynchronous(t *testing.T) {
	bus := NewBus()
	done := false
	bus.Subscribe(func(any) error { done = true; return nil })
	bus.Publish(struct{}{})
	if !done {
		t.Errorf("Publish must return only after every subscriber has run")
	}
}

func TestBusPublishReturnsFirstSubscriberError(t *testing.T) {
	bus := NewBus()
	wantErr := errors.New("append failed")
	var secondCalled bool

	bus.Subscribe(func(any) error { return wantErr })
	bus.Subscribe(func(any) error { secondCalled = true; return nil })

	err := bus.Publish(struct{}{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Publish error = %v, want %v", err, wantErr)
	}
	if secondCalled {
		t.Errorf("Publish must not call subscribers after one fails")
	}
}
