package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrInvalidQuery = errors.New("invalid query")
)

type EventType string

const (
	EventCreate EventType = "CREATE"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

type Document struct {
	ID        string         `json:"_id"`
	Data      map[string]any `json:"data"`
	CreatedBy string         `json:"_createdBy"`
	UpdatedBy string         `json:"_updatedBy"`
	CreatedAt time.Time      `json:"_createdAt"`
	UpdatedAt time.Time      `json:"_updatedAt"`
}

// Event is a single change to a document. Delete events published by the
// Postgres store only carry the document id.
type Event struct {
	Type       EventType `json:"type"`
	Collection string    `json:"col"`
	Doc        Document  `json:"doc"`
}

// Subscription is a stream of change events. The channel returned by Events
// is closed once Close has been called or the subscribing context is done.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

type Collection interface {
	Name() string
	Get(ctx context.Context, id string) (*Document, error)
	GetAll(ctx context.Context) ([]Document, error)
	Add(ctx context.Context, data map[string]any, actorId string) (*Document, error)
	// AddWithID inserts the document only if no document with id exists.
	// The returned bool reports whether this call created it.
	AddWithID(ctx context.Context, id string, data map[string]any, actorId string) (*Document, bool, error)
	// Update merges the top-level keys of patch into the document data.
	Update(ctx context.Context, id, actorId string, patch map[string]any) (*Document, error)
	Delete(ctx context.Context, id, actorId string) error
	Query(ctx context.Context, field string, value any) ([]Document, error)
	Subscribe(ctx context.Context) (Subscription, error)
	SubscribeToDoc(ctx context.Context, id string) (Subscription, error)
	SubscribeToQuery(ctx context.Context, field string, value any) (Subscription, error)
}

type Store interface {
	Collection(name string) Collection
	Ping(ctx context.Context) error
	Close() error
}

// Encode converts v into a document data map.
func Encode(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document data: %w", err)
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("unmarshal document data: %w", err)
	}
	return data, nil
}

// Decode fills v from a document data map.
func Decode(data map[string]any, v any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal document data: %w", err)
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal document data: %w", err)
	}
	return nil
}

func matchesField(data map[string]any, field string, value any) bool {
	v, ok := data[field]
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == fmt.Sprint(value)
}

func queryValue(value any) string {
	return fmt.Sprint(value)
}
