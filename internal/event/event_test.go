package event_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hoangnm/dailyquiz/internal/event"
)

type testEvent string

func (e testEvent) Name() string { return string(e) }

func TestBus_PublishSubscribe(t *testing.T) {
	eb := event.NewBus()

	var mu sync.Mutex
	received := make(map[string][]event.Event)
	record := func(name string) event.Handler {
		return func(ctx context.Context, e event.Event) error {
			mu.Lock()
			received[name] = append(received[name], e)
			mu.Unlock()
			return nil
		}
	}

	eb.Subscribe("e1", record("s1"))
	eb.Subscribe("e1", record("s2"))
	eb.Subscribe("e2", record("s3"))

	ctx := context.Background()
	eb.Publish(ctx, testEvent("e1"))
	eb.Publish(ctx, testEvent("e1"))
	eb.Publish(ctx, testEvent("e2"))

	eb.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, received["s1"], 2, "every subscriber of e1 sees both publications")
	assert.Len(t, received["s2"], 2)
	assert.ElementsMatch(t, []event.Event{testEvent("e2")}, received["s3"])
}

func TestBus_HandlerPanicDoesNotPropagate(t *testing.T) {
	eb := event.NewBus()

	var mu sync.Mutex
	var delivered int
	eb.Subscribe("e1", func(ctx context.Context, e event.Event) error {
		panic("boom")
	})
	eb.Subscribe("e1", func(ctx context.Context, e event.Event) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})

	assert.NotPanics(t, func() {
		eb.Publish(context.Background(), testEvent("e1"))
		eb.Stop()
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, delivered, "other handlers still run")
}
