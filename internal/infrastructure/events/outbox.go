package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"fiscalcore/internal/infrastructure/storage/postgres"
)

// Metadata keys set on every forwarded message.
const (
	MetaTenantID    = "tenant_id"
	MetaAggregateID = "aggregate_id"
	MetaEventType   = "event_type"
)

// OutboxForwarder hands outbox rows to the bus, one topic per event type.
// It implements postgres.OutboxHandler.
type OutboxForwarder struct {
	publisher message.Publisher
}

// NewOutboxForwarder creates the forwarder.
func NewOutboxForwarder(publisher message.Publisher) *OutboxForwarder {
	return &OutboxForwarder{publisher: publisher}
}

// Handle publishes one outbox row. The outbox id becomes the message UUID so
// listeners can deduplicate redeliveries.
func (f *OutboxForwarder) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	wm := message.NewMessage(msg.ID.String(), msg.Payload)
	wm.SetContext(ctx)
	wm.Metadata.Set(MetaTenantID, msg.TenantID)
	wm.Metadata.Set(MetaAggregateID, msg.AggregateID.String())
	wm.Metadata.Set(MetaEventType, msg.EventType)

	if err := f.publisher.Publish(msg.EventType, wm); err != nil {
		return fmt.Errorf("publish %s: %w", msg.EventType, err)
	}
	return nil
}

var _ postgres.OutboxHandler = (*OutboxForwarder)(nil)
