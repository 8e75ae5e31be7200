// Package notify is the change notification bus between the sync core and
// its observers. Every handler runs on one UI serial queue.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Overland-East-Bay/club-sync/internal/platform/logging"
	"github.com/Overland-East-Bay/club-sync/internal/platform/serial"
)

type Topic string

const (
	TopicMessageSync  Topic = "message-sync-completed"
	TopicDivisionSync Topic = "division-sync-completed"
	TopicCalendarSync Topic = "calendar-sync-completed"
	TopicUserSync     Topic = "user-sync-completed"

	// TopicHostUnreachable asks observers to show a dismissible banner.
	TopicHostUnreachable Topic = "host-unreachable"

	// TopicSyncSettled follows a sync once no backend request has been in
	// flight for the drain debounce. Observers hide loading indicators.
	TopicSyncSettled Topic = "sync-settled"
)

var Topics = []Topic{TopicMessageSync, TopicDivisionSync, TopicCalendarSync, TopicUserSync, TopicHostUnreachable, TopicSyncSettled}

// Notification tells observers what changed. No subjects means "reload
// everything under this topic".
type Notification struct {
	Topic    Topic    `json:"topic"`
	Subjects []string `json:"subjects,omitempty"`
}

type Handler func(ctx context.Context, n Notification)

// Token identifies a subscription. The zero Token is never issued.
type Token string

type subscription struct {
	token   Token
	topic   Topic
	handler Handler
	active  atomic.Bool
}

// Bus delivers notifications in publish order. Subscribers registered before
// a Publish call receive it; later subscribers do not.
type Bus struct {
	ui *serial.Queue

	mu     sync.RWMutex
	subs   map[Token]*subscription
	topics map[Topic][]*subscription
	closed bool
}

func NewBus() *Bus {
	return &Bus{
		ui:     serial.New("ui"),
		subs:   make(map[Token]*subscription),
		topics: make(map[Topic][]*subscription),
	}
}

// Queue exposes the UI queue so observers can run their own mutations on it.
func (b *Bus) Queue() *serial.Queue { return b.ui }

func (b *Bus) Subscribe(topic Topic, h Handler) Token {
	s := &subscription{token: Token(uuid.NewString()), topic: topic, handler: h}
	s.active.Store(true)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.active.Store(false)
		return s.token
	}
	b.subs[s.token] = s
	b.topics[topic] = append(b.topics[topic], s)
	return s.token
}

// Unsubscribe stops delivery to the token's handler, including notifications
// already queued. Unknown, zero and repeated tokens are ignored.
func (b *Bus) Unsubscribe(token Token) {
	if b == nil || token == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[token]
	if !ok {
		return
	}
	s.active.Store(false)
	delete(b.subs, token)
	list := b.topics[s.topic]
	for i, cur := range list {
		if cur == s {
			b.topics[s.topic] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
}

// Publish queues n for delivery. It never blocks on handlers.
func (b *Bus) Publish(topic Topic, subjects ...string) {
	n := Notification{Topic: topic, Subjects: append([]string(nil), subjects...)}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	targets := append([]*subscription(nil), b.topics[topic]...)
	b.mu.RUnlock()

	if len(targets) == 0 {
		return
	}
	err := b.ui.Go(func(ctx context.Context) {
		for _, s := range targets {
			if s.active.Load() {
				s.handler(ctx, n)
			}
		}
	})
	if err != nil {
		logging.Default().Debug("notification dropped", slog.String("topic", string(topic)), logging.ErrAttr(err))
	}
}

// Flush waits until every notification published before the call was delivered.
func (b *Bus) Flush(ctx context.Context) error {
	return b.ui.Barrier(ctx)
}

// Close delivers what is queued and drops all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.ui.Close()

	b.mu.Lock()
	for _, s := range b.subs {
		s.active.Store(false)
	}
	b.subs = make(map[Token]*subscription)
	b.topics = make(map[Topic][]*subscription)
	b.mu.Unlock()
}
