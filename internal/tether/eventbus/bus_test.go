// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFansOutToAllSubscribers(t *testing.T) {
	b := New()
	a := b.Subscribe()
	c := b.Subscribe()

	b.Publish(InterfaceUpEvent{Name: "wlan0"})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case ev := <-ch:
			up, ok := ev.(InterfaceUpEvent)
			require.True(t, ok)
			assert.Equal(t, "wlan0", up.Name)
		case <-time.After(time.Second):
			t.Fatal("expected event was not delivered")
		}
	}
}

func TestBusPublishOrderPerPublisher(t *testing.T) {
	b := New()
	sub := b.Subscribe()

	b.Publish(InterfaceUpEvent{Name: "wlan0"})
	b.Publish(InterfaceDownEvent{Name: "wlan0"})
	b.Publish(InterfaceRemovedEvent{Name: "wlan0"})

	first := <-sub
	second := <-sub
	third := <-sub

	assert.IsType(t, InterfaceUpEvent{}, first)
	assert.IsType(t, InterfaceDownEvent{}, second)
	assert.IsType(t, InterfaceRemovedEvent{}, third)
}

func TestBusDropsRatherThanBlocksOnFullSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe()

	// Flood well past the subscriber's buffer without ever reading; Publish
	// must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(ConfigChangedEvent{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}

	// At least the first buffered batch should be readable.
	select {
	case ev := <-sub:
		assert.IsType(t, ConfigChangedEvent{}, ev)
	default:
		t.Fatal("expected at least one buffered event")
	}
}

func TestBusCloseClosesSubscriberChannels(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	b.Close()

	_, ok := <-sub
	assert.False(t, ok)
}
