// Package consumers wires inbound message-queue subscriptions.
package consumers

import (
	"context"
	"fmt"

	"github.com/meocodex/evento-gestao-24-10-sub002/internal/allocation/repository"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/logger"
	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/messaging"
)

// CatalogConsumer follows the catalog change feed and keeps the local
// material snapshots fresh. Feed payloads carry only the material id; the
// snapshot is always rebuilt from the current row, so a stale or reordered
// message can never write stale fields.
type CatalogConsumer struct {
	consumer  *messaging.Consumer
	snapshots *repository.MaterialSnapshotRepository
	logger    *logger.Logger
}

// NewCatalogConsumer creates a consumer bound to the catalog events exchange
func NewCatalogConsumer(
	rmq *messaging.RabbitMQ,
	snapshots *repository.MaterialSnapshotRepository,
	log *logger.Logger,
) (*CatalogConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, "allocation.catalog-feed", log)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog consumer: %w", err)
	}

	if err := consumer.Subscribe(messaging.ExchangeCatalogEvents, "catalog.material.*"); err != nil {
		return nil, fmt.Errorf("failed to subscribe to catalog events: %w", err)
	}

	c := &CatalogConsumer{
		consumer:  consumer,
		snapshots: snapshots,
		logger:    log.WithComponent("catalog-consumer"),
	}

	consumer.RegisterHandler(messaging.EventMaterialChanged, c.handleMaterialChanged)
	consumer.RegisterHandler(messaging.EventMaterialDeleted, c.handleMaterialDeleted)

	return c, nil
}

// Start begins consuming catalog events
func (c *CatalogConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *CatalogConsumer) handleMaterialChanged(ctx context.Context, event *messaging.Event) error {
	var data messaging.MaterialChangedEvent
	if err := event.UnmarshalData(&data); err != nil {
		c.logger.Error().Err(err).Str("event_id", event.ID).Msg("malformed material change event")
		// Malformed payloads never become processable; drop instead of retrying.
		return nil
	}

	if data.MaterialID == "" {
		c.logger.Warn().Str("event_id", event.ID).Msg("material change event without material_id")
		return nil
	}

	if err := c.snapshots.Refresh(ctx, data.MaterialID); err != nil {
		return fmt.Errorf("failed to refresh material snapshot %s: %w", data.MaterialID, err)
	}

	c.logger.Debug().
		Str("material_id", data.MaterialID).
		Msg("material snapshot refreshed")

	return nil
}

func (c *CatalogConsumer) handleMaterialDeleted(ctx context.Context, event *messaging.Event) error {
	var data messaging.MaterialDeletedEvent
	if err := event.UnmarshalData(&data); err != nil {
		c.logger.Error().Err(err).Str("event_id", event.ID).Msg("malformed material delete event")
		return nil
	}

	if data.MaterialID == "" {
		return nil
	}

	if err := c.snapshots.Delete(ctx, data.MaterialID); err != nil {
		return fmt.Errorf("failed to drop material snapshot %s: %w", data.MaterialID, err)
	}

	c.logger.Debug().
		Str("material_id", data.MaterialID).
		Msg("material snapshot dropped")

	return nil
}
