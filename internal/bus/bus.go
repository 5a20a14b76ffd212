// Package bus carries assessment events to downstream collaborators over Go
// channels (Community) or NATS (Pro).
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/harrier/internal/domain"
)

// AllOrganizations subscribes a handler to a topic across every organization.
const AllOrganizations = "*"

// MetadataTraceID carries the publisher's trace id.
const MetadataTraceID = "trace_id"

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// newMessage builds the envelope for a publish. Publishing to
// AllOrganizations is rejected; only subscriptions may use it.
func newMessage(ctx context.Context, orgID, topic string, payload []byte) (*domain.Message, error) {
	if orgID == "" || orgID == AllOrganizations {
		return nil, fmt.Errorf("a concrete orgID is required to publish")
	}
	msg := &domain.Message{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Topic:          topic,
		Payload:        payload,
		Metadata:       make(map[string]string),
		Timestamp:      time.Now().UnixNano(),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		msg.Metadata[MetadataTraceID] = sc.TraceID().String()
	}
	return msg, nil
}
