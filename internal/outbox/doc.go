// Package outbox publishes change events for articles and trials.
//
// # Overview
//
// After an upsert commits, the upsert engine builds an Event with the
// Emitter and hands it to a Publisher. Publishing is best-effort: a failure
// is logged by the caller and never undoes the stored change.
//
// # Components
//
//   - Emitter: builds Events from entity change parameters
//   - KafkaPublisher: writes Events to a Kafka topic keyed by entity ID
//   - NoopPublisher: discards Events when Kafka is disabled
//
// # Event Types
//
//   - article.created / article.updated
//   - trial.created / trial.updated
//
// # Usage
//
//	emitter := outbox.NewEmitter(outbox.EmitterConfig{ServiceName: "research-feed-service"})
//	event, err := emitter.Emit(outbox.EmitParams{
//	    AggregateID: article.ID.String(),
//	    Kind:        domain.KindArticle,
//	    EventType:   domain.EventTypeArticleCreated,
//	    Payload:     payload,
//	})
//	err = publisher.Publish(ctx, event)
package outbox
