package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	// Search pipeline stage transitions. One event per transition, all
	// carrying the same request ID for correlation. Delivery is best effort:
	// a lost status update never aborts the search.
	EventSearchStarted    EventType = "search.started"
	EventSearchValidating EventType = "search.validating"
	EventSearchEmbedding  EventType = "search.embedding"
	EventSearchSearching  EventType = "search.searching"
	EventSearchCompleted  EventType = "search.completed"
	EventSearchFailed     EventType = "search.failed"

	// Profile lifecycle events.
	EventProfileSaved   EventType = "profile.saved"
	EventProfileDeleted EventType = "profile.deleted"

	// Reindex job events.
	EventReindexStarted   EventType = "reindex.started"
	EventReindexCompleted EventType = "reindex.completed"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SearchStagePayload is the payload of search.* stage events.
type SearchStagePayload struct {
	Stage   SearchStage `json:"stage"`
	Message string      `json:"message,omitempty"`
	Matches int         `json:"matches,omitempty"`
	Code    ErrorCode   `json:"code,omitempty"`
}

// ProfilePayload is the payload of profile.* events.
type ProfilePayload struct {
	ProviderID string `json:"provider_id"`
	Dimensions int    `json:"dimensions,omitempty"`
}

// ReindexPayload is the payload of reindex.* events.
type ReindexPayload struct {
	Scanned   int `json:"scanned"`
	Reindexed int `json:"reindexed"`
	Failed    int `json:"failed"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
