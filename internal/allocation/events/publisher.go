// Package events publishes allocation lifecycle events and document requests.
// All publishing is fire-and-forget after commit: a broker failure is logged
// and never rolls back the transaction that produced the event.
package events

import (
	"context"

	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/logger"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/messaging"
)

// AllocationEventPublisher publishes allocation lifecycle events. A nil
// publisher is valid and drops events, which keeps the service usable
// without a broker (tests, local dev).
type AllocationEventPublisher struct {
	publisher *messaging.Publisher
	documents *messaging.Publisher
	logger    *logger.Logger
}

// NewAllocationEventPublisher creates publishers for the allocation and
// document exchanges.
func NewAllocationEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*AllocationEventPublisher, error) {
	pub, err := messaging.NewPublisher(rmq, messaging.ExchangeAllocationEvents, "allocation-service", log)
	if err != nil {
		return nil, err
	}

	docs, err := messaging.NewPublisher(rmq, messaging.ExchangeDocumentRequests, "allocation-service", log)
	if err != nil {
		return nil, err
	}

	return &AllocationEventPublisher{
		publisher: pub,
		documents: docs,
		logger:    log,
	}, nil
}

// PublishReserved publishes an allocation.reserved event
func (p *AllocationEventPublisher) PublishReserved(ctx context.Context, data messaging.AllocationReservedEvent) {
	p.publish(ctx, messaging.EventAllocationReserved, data)
}

// PublishAdvanced publishes an allocation.advanced event
func (p *AllocationEventPublisher) PublishAdvanced(ctx context.Context, data messaging.AllocationAdvancedEvent) {
	p.publish(ctx, messaging.EventAllocationAdvanced, data)
}

// PublishReturned publishes an allocation.returned event
func (p *AllocationEventPublisher) PublishReturned(ctx context.Context, data messaging.AllocationReturnedEvent) {
	p.publish(ctx, messaging.EventAllocationReturned, data)
}

// PublishCancelled publishes an allocation.cancelled event
func (p *AllocationEventPublisher) PublishCancelled(ctx context.Context, data messaging.AllocationReservedEvent) {
	p.publish(ctx, messaging.EventAllocationCancelled, data)
}

// PublishStockAdjusted publishes an allocation.stock.adjusted event
func (p *AllocationEventPublisher) PublishStockAdjusted(ctx context.Context, data messaging.StockAdjustedEvent) {
	p.publish(ctx, messaging.EventStockAdjusted, data)
}

// PublishDocumentRequest asks the document collaborator to generate a
// document from the given allocation snapshot.
func (p *AllocationEventPublisher) PublishDocumentRequest(ctx context.Context, data messaging.DocumentRequestedEvent) {
	if p == nil || p.documents == nil {
		return
	}
	if err := p.documents.Publish(ctx, messaging.EventDocumentRequested, data); err != nil {
		p.logger.Error().
			Err(err).
			Str("kind", data.Kind).
			Str("allocation_id", data.AllocationID).
			Msg("failed to publish document request")
	}
}

func (p *AllocationEventPublisher) publish(ctx context.Context, eventType string, data interface{}) {
	if p == nil || p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().
			Err(err).
			Str("event_type", eventType).
			Msg("failed to publish allocation event")
	}
}
