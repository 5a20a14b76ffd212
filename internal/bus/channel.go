package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

// ChannelBus implements EventBus using Go channels.
// Used as the Community tier event bus.
type ChannelBus struct {
	mu            sync.RWMutex
	bufferSize    int
	subscriptions map[string][]*channelSubscription
	closed        bool
	dropped       atomic.Int64
}

type channelSubscription struct {
	id      string
	orgID   string
	topic   string
	handler domain.MessageHandler
	msgCh   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus
}

// NewChannelBus creates a new channel-based event bus.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize:    bufferSize,
		subscriptions: make(map[string][]*channelSubscription),
	}
}

// Publish sends a message to the organization's subscribers of topic and to
// subscribers registered for AllOrganizations.
func (b *ChannelBus) Publish(ctx context.Context, orgID string, topic string, payload []byte) error {
	msg, err := newMessage(ctx, orgID, topic, payload)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	subs := b.subscriptions[b.makeKey(orgID, topic)]
	subs = append(subs[:len(subs):len(subs)], b.subscriptions[b.makeKey(AllOrganizations, topic)]...)

	// Non-blocking: a full subscriber loses the message.
	for _, sub := range subs {
		select {
		case sub.msgCh <- msg:
		default:
			b.dropped.Add(1)
			slog.Warn("event dropped, subscriber buffer full",
				"org_id", orgID,
				"topic", topic,
				"subscription_id", sub.id,
			)
		}
	}

	return nil
}

// Subscribe registers a handler for a topic of orgID, or of every
// organization when orgID is AllOrganizations.
func (b *ChannelBus) Subscribe(ctx context.Context, orgID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if orgID == "" {
		return nil, fmt.Errorf("orgID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)

	sub := &channelSubscription{
		id:      uuid.New().String(),
		orgID:   orgID,
		topic:   topic,
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
	}

	go b.handleMessages(sub)

	key := b.makeKey(orgID, topic)
	b.subscriptions[key] = append(b.subscriptions[key], sub)

	return sub, nil
}

// handleMessages processes messages for a subscription.
func (b *ChannelBus) handleMessages(sub *channelSubscription) {
	for {
		select {
		case <-sub.ctx.Done():
			return
		case msg := <-sub.msgCh:
			if err := sub.handler(sub.ctx, msg); err != nil {
				slog.Error("handler error",
					"org_id", msg.OrganizationID,
					"topic", msg.Topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Dropped returns the number of messages lost to full subscriber buffers.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close stops every subscription. Publishing afterwards fails.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.cancel()
		}
	}

	b.subscriptions = make(map[string][]*channelSubscription)
	return nil
}

func (b *ChannelBus) makeKey(orgID, topic string) string {
	return orgID + ":" + topic
}

func (b *ChannelBus) remove(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := b.makeKey(sub.orgID, sub.topic)
	subs := b.subscriptions[key]
	for i, s := range subs {
		if s == sub {
			b.subscriptions[key] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscriptions[key]) == 0 {
		delete(b.subscriptions, key)
	}
}

// Unsubscribe stops receiving messages.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	s.bus.remove(s)
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
