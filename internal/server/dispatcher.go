package server

import (
	"context"
	"sync"

	"github.com/moonrise-labs/gatherly/internal/events"
)

// NotificationDispatcher fans freshly persisted notifications out to
// connected SSE subscribers. Delivery is best effort: a slow subscriber's
// full buffer drops the message rather than blocking the publisher.
type NotificationDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*notificationSubscriber
	nextID      int64
	bufferSize  int
}

type notificationSubscriber struct {
	id     int64
	stream chan events.Notification
}

// NewNotificationDispatcher constructs a dispatcher with a small per-subscriber buffer.
func NewNotificationDispatcher() *NotificationDispatcher {
	return &NotificationDispatcher{
		subscribers: make(map[string]map[int64]*notificationSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream for the user's notifications. The stream is
// removed when ctx is cancelled or the returned cleanup runs.
func (d *NotificationDispatcher) Subscribe(ctx context.Context, userID string) (<-chan events.Notification, func()) {
	if userID == "" {
		ch := make(chan events.Notification)
		close(ch)
		return ch, func() {}
	}
	subscriber := &notificationSubscriber{
		id:     d.nextSequence(),
		stream: make(chan events.Notification, d.bufferSize),
	}
	d.registerSubscriber(userID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(userID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the notification to every live stream for its user.
func (d *NotificationDispatcher) Publish(notification events.Notification) {
	if notification.UserID == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[notification.UserID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*notificationSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- notification:
		default:
		}
	}
}

func (d *NotificationDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *NotificationDispatcher) registerSubscriber(userID string, subscriber *notificationSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*notificationSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *NotificationDispatcher) unregisterSubscriber(userID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
}
