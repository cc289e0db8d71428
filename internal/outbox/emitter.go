package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/research-feed-service/internal/domain"
)

// Event is the envelope written to the event stream.
type Event struct {
	ID            string            `json:"event_id"`
	AggregateType string            `json:"aggregate_type"`
	AggregateID   string            `json:"aggregate_id"`
	EventType     string            `json:"event_type"`
	Payload       json.RawMessage   `json:"payload"`
	OccurredAt    time.Time         `json:"occurred_at"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// EmitterConfig configures the Emitter with service context.
type EmitterConfig struct {
	// ServiceName identifies the source service in event metadata.
	ServiceName string
}

// EmitParams contains the parameters for emitting an event.
type EmitParams struct {
	// AggregateID is the changed entity's ID.
	AggregateID string
	// Kind selects the aggregate type.
	Kind domain.EntityKind
	// EventType is e.g. "article.created".
	EventType string
	// Payload is JSON-serialized into the event.
	Payload interface{}
	// RunID ties the event to the ingestion run that produced it (optional).
	RunID string
}

// Emitter creates Events enriched with service context.
type Emitter struct {
	config EmitterConfig
	now    func() time.Time
}

// NewEmitter creates a new Emitter with the given service configuration.
func NewEmitter(config EmitterConfig) *Emitter {
	if config.ServiceName == "" {
		config.ServiceName = "research-feed-service"
	}
	return &Emitter{config: config, now: time.Now}
}

// Emit creates an Event from the given parameters.
func (e *Emitter) Emit(params EmitParams) (Event, error) {
	if params.AggregateID == "" {
		return Event{}, fmt.Errorf("aggregate_id is required")
	}
	if params.EventType == "" {
		return Event{}, fmt.Errorf("event_type is required")
	}
	if !params.Kind.IsValid() {
		return Event{}, fmt.Errorf("unknown entity kind %q", params.Kind)
	}

	payload, err := json.Marshal(params.Payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal payload: %w", err)
	}

	metadata := map[string]string{"source": e.config.ServiceName}
	if params.RunID != "" {
		metadata["run_id"] = params.RunID
	}

	return Event{
		ID:            uuid.New().String(),
		AggregateType: params.Kind.String(),
		AggregateID:   params.AggregateID,
		EventType:     params.EventType,
		Payload:       payload,
		OccurredAt:    e.now().UTC(),
		Metadata:      metadata,
	}, nil
}
