package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/harrier/internal/domain"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	orgID := "org-001"

	t.Run("PublishSubscribe", func(t *testing.T) {
		var mu sync.Mutex
		var got *domain.Message

		_, err := bus.Subscribe(ctx, orgID, domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
			mu.Lock()
			got = msg
			mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, orgID, domain.TopicDecision, []byte(`{"decision":"ALLOW"}`)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		waitFor(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return got != nil
		})

		mu.Lock()
		defer mu.Unlock()
		if string(got.Payload) != `{"decision":"ALLOW"}` {
			t.Errorf("unexpected payload %s", got.Payload)
		}
		if got.OrganizationID != orgID || got.Topic != domain.TopicDecision {
			t.Errorf("unexpected envelope: %+v", got)
		}
		if got.ID == "" || got.Timestamp == 0 {
			t.Error("expected message id and timestamp")
		}
	})

	t.Run("OrganizationIsolation", func(t *testing.T) {
		var received1, received2 atomic.Int32

		bus.Subscribe(ctx, "org-a", "isolation.topic", func(ctx context.Context, msg *domain.Message) error {
			received1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "org-b", "isolation.topic", func(ctx context.Context, msg *domain.Message) error {
			received2.Add(1)
			return nil
		})

		bus.Publish(ctx, "org-a", "isolation.topic", []byte("msg1"))

		waitFor(t, func() bool { return received1.Load() == 1 })
		time.Sleep(20 * time.Millisecond)
		if received2.Load() != 0 {
			t.Errorf("org-b should receive 0 messages, got %d", received2.Load())
		}
	})

	t.Run("AllOrganizations", func(t *testing.T) {
		var mu sync.Mutex
		orgs := map[string]bool{}

		_, err := bus.Subscribe(ctx, AllOrganizations, domain.TopicPaymentReceived, func(ctx context.Context, msg *domain.Message) error {
			mu.Lock()
			orgs[msg.OrganizationID] = true
			mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		bus.Publish(ctx, "org-x", domain.TopicPaymentReceived, []byte("1"))
		bus.Publish(ctx, "org-y", domain.TopicPaymentReceived, []byte("2"))

		waitFor(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return orgs["org-x"] && orgs["org-y"]
		})
	})

	t.Run("RequiresOrgID", func(t *testing.T) {
		if err := bus.Publish(ctx, "", "topic", []byte("data")); err == nil {
			t.Error("expected error for empty orgID")
		}
		if err := bus.Publish(ctx, AllOrganizations, "topic", []byte("data")); err == nil {
			t.Error("expected error when publishing to all organizations")
		}
		if _, err := bus.Subscribe(ctx, "", "topic", nil); err == nil {
			t.Error("expected error for empty orgID")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var received atomic.Int32

		sub, _ := bus.Subscribe(ctx, orgID, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			received.Add(1)
			return nil
		})

		bus.Publish(ctx, orgID, "unsub.topic", []byte("msg1"))
		waitFor(t, func() bool { return received.Load() == 1 })

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}

		bus.Publish(ctx, orgID, "unsub.topic", []byte("msg2"))
		time.Sleep(20 * time.Millisecond)

		if received.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", received.Load())
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count1, count2 atomic.Int32

		bus.Subscribe(ctx, orgID, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, orgID, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			return nil
		})

		bus.Publish(ctx, orgID, "multi.topic", []byte("broadcast"))

		waitFor(t, func() bool { return count1.Load() == 1 && count2.Load() == 1 })
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, orgID, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if sub.Topic() != domain.TopicAlert {
			t.Errorf("expected topic %q, got %q", domain.TopicAlert, sub.Topic())
		}
	})
}

func TestChannelBusTraceMetadata(t *testing.T) {
	bus := NewChannelBus(10)
	defer bus.Close()

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	got := make(chan *domain.Message, 1)
	bus.Subscribe(context.Background(), "org-1", "traced", func(ctx context.Context, msg *domain.Message) error {
		got <- msg
		return nil
	})
	bus.Publish(ctx, "org-1", "traced", nil)

	select {
	case msg := <-got:
		if msg.Metadata[MetadataTraceID] != traceID.String() {
			t.Errorf("expected trace id %s, got %q", traceID, msg.Metadata[MetadataTraceID])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestChannelBusDropsWhenFull(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	ctx := context.Background()
	release := make(chan struct{})
	bus.Subscribe(ctx, "org-1", "slow", func(ctx context.Context, msg *domain.Message) error {
		<-release
		return nil
	})

	for i := 0; i < 10; i++ {
		bus.Publish(ctx, "org-1", "slow", []byte("x"))
	}
	close(release)

	if bus.Dropped() == 0 {
		t.Error("expected dropped messages with a full buffer")
	}
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)

	ctx := context.Background()
	orgID := "org-001"

	bus.Subscribe(ctx, orgID, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}

	if err := bus.Publish(ctx, orgID, "close.topic", []byte("data")); err == nil {
		t.Error("expected error after close")
	}
	if _, err := bus.Subscribe(ctx, orgID, "close.topic", nil); err == nil {
		t.Error("expected subscribe error after close")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()
	orgID := "org-load"

	var received atomic.Int32
	const messageCount = 100

	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, orgID, "load.topic", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, orgID, "load.topic", []byte("msg"))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Load() != messageCount {
			t.Errorf("expected %d messages, got %d", messageCount, received.Load())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout: received %d/%d messages", received.Load(), messageCount)
	}
}
