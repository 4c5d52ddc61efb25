package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Allocation lifecycle events
	EventAllocationReserved   = "allocation.reserved"
	EventAllocationAdvanced   = "allocation.advanced"
	EventAllocationReturned   = "allocation.returned"
	EventAllocationCancelled  = "allocation.cancelled"
	EventStockAdjusted        = "allocation.stock.adjusted"

	// Document generation requests (consumed by the document collaborator)
	EventDocumentRequested = "document.requested"

	// Catalog change feed (inbound; emitted by the surrounding CRUD app)
	EventMaterialChanged = "catalog.material.changed"
	EventMaterialDeleted = "catalog.material.deleted"
)

// Exchange names
const (
	ExchangeAllocationEvents = "allocation.events"
	ExchangeDocumentRequests = "documents.requests"
	ExchangeCatalogEvents    = "catalog.events"
)

// Document kinds
const (
	DocumentRetrievalReceipt     = "retrieval_receipt"
	DocumentTransportDeclaration = "transport_declaration"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.New().String()
}

// Allocation events

// AllocationReservedEvent is published when a reservation commits
type AllocationReservedEvent struct {
	AllocationID string `json:"allocation_id"`
	EventID      string `json:"event_id"`
	MaterialID   string `json:"material_id"`
	SerialUnitID string `json:"serial_unit_id,omitempty"`
	Quantity     int    `json:"quantity"`
	RangeStart   string `json:"range_start"`
	RangeEnd     string `json:"range_end"`
}

// AllocationAdvancedEvent is published after a lifecycle transition commits
type AllocationAdvancedEvent struct {
	AllocationID string `json:"allocation_id"`
	EventID      string `json:"event_id"`
	MaterialID   string `json:"material_id"`
	FromStatus   string `json:"from_status"`
	ToStatus     string `json:"to_status"`
}

// AllocationReturnedEvent is published when a return is recorded
type AllocationReturnedEvent struct {
	AllocationID     string `json:"allocation_id"`
	EventID          string `json:"event_id"`
	MaterialID       string `json:"material_id"`
	ReturnStatus     string `json:"return_status"`
	QuantityReturned int    `json:"quantity_returned"`
}

// StockAdjustedEvent is published when a pooled counter changes outside the
// reservation flow (manual adjustment)
type StockAdjustedEvent struct {
	MaterialID  string `json:"material_id"`
	Delta       int    `json:"delta"`
	NewQuantity int    `json:"new_quantity"`
	Reason      string `json:"reason,omitempty"`
}

// DocumentRequestedEvent carries an allocation snapshot to the external
// document generator. The snapshot is self-contained so the collaborator
// never reads allocation rows.
type DocumentRequestedEvent struct {
	Kind          string `json:"kind"`
	AllocationID  string `json:"allocation_id"`
	EventID       string `json:"event_id"`
	EventName     string `json:"event_name,omitempty"`
	MaterialID    string `json:"material_id"`
	MaterialName  string `json:"material_name,omitempty"`
	SerialUnitID  string `json:"serial_unit_id,omitempty"`
	Quantity      int    `json:"quantity"`
	Carrier       string `json:"carrier,omitempty"`
	DeclaredValue string `json:"declared_value,omitempty"`
	SenderName    string `json:"sender_name,omitempty"`
	RecipientName string `json:"recipient_name,omitempty"`
}

// Catalog change feed (inbound)

// MaterialChangedEvent signals that a material row was edited externally.
// The payload is only an invalidation hint; consumers must re-read the row.
type MaterialChangedEvent struct {
	MaterialID string `json:"material_id"`
}

// MaterialDeletedEvent signals that a material row was removed externally.
type MaterialDeletedEvent struct {
	MaterialID string `json:"material_id"`
}
