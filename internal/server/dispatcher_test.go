package server

import (
	"context"
	"testing"

	"github.com/moonrise-labs/gatherly/internal/events"
)

func TestDispatcherDeliversToSubscriber(t *testing.T) {
	dispatcher := NewNotificationDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "user-1")
	defer cleanup()

	dispatcher.Publish(events.Notification{ID: "n-1", UserID: "user-1", Title: "Event updated"})

	select {
	case notification := <-stream:
		if notification.ID != "n-1" {
			t.Fatalf("unexpected notification %+v", notification)
		}
	default:
		t.Fatal("expected buffered notification")
	}
}

func TestDispatcherIsolatesUsers(t *testing.T) {
	dispatcher := NewNotificationDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "user-1")
	defer cleanup()

	dispatcher.Publish(events.Notification{ID: "n-2", UserID: "someone-else"})

	select {
	case notification := <-stream:
		t.Fatalf("unexpected delivery %+v", notification)
	default:
	}
}

func TestDispatcherCleanupStopsDelivery(t *testing.T) {
	dispatcher := NewNotificationDispatcher()
	stream, cleanup := dispatcher.Subscribe(context.Background(), "user-1")
	cleanup()

	dispatcher.Publish(events.Notification{ID: "n-3", UserID: "user-1"})

	select {
	case notification := <-stream:
		t.Fatalf("unexpected delivery after cleanup %+v", notification)
	default:
	}
}
