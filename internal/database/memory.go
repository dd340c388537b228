package database

import (
	"context"
	"log"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. It backs the "memory" DSN used for
// local development and the router and presence tests.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]map[string]Document
	broker *broker
	now    func() time.Time
}

func NewMemoryStore(logger *log.Logger) *MemoryStore {
	return &MemoryStore{
		docs:   make(map[string]map[string]Document),
		broker: newBroker(logger),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Collection(name string) Collection {
	return &memCollection{name: name, s: s}
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	s.broker.closeAll()
	return nil
}

type memCollection struct {
	name string
	s    *MemoryStore
}

func (c *memCollection) Name() string {
	return c.name
}

func cloneDocument(d Document) Document {
	d.Data = maps.Clone(d.Data)
	return d
}

func (c *memCollection) Get(_ context.Context, id string) (*Document, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	doc, ok := c.s.docs[c.name][id]
	if !ok {
		return nil, ErrNotFound
	}
	doc = cloneDocument(doc)
	return &doc, nil
}

func (c *memCollection) GetAll(context.Context) ([]Document, error) {
	return c.filter(func(Document) bool { return true }), nil
}

func (c *memCollection) Add(ctx context.Context, data map[string]any, actorId string) (*Document, error) {
	doc, _, err := c.AddWithID(ctx, uuid.NewString(), data, actorId)
	return doc, err
}

func (c *memCollection) AddWithID(_ context.Context, id string, data map[string]any, actorId string) (*Document, bool, error) {
	c.s.mu.Lock()
	if existing, ok := c.s.docs[c.name][id]; ok {
		c.s.mu.Unlock()
		existing = cloneDocument(existing)
		return &existing, false, nil
	}

	now := c.s.now()
	doc := Document{
		ID:        id,
		Data:      maps.Clone(data),
		CreatedBy: actorId,
		UpdatedBy: actorId,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if doc.Data == nil {
		doc.Data = make(map[string]any)
	}

	if c.s.docs[c.name] == nil {
		c.s.docs[c.name] = make(map[string]Document)
	}
	c.s.docs[c.name][id] = doc
	c.s.mu.Unlock()

	c.s.broker.publish(Event{Type: EventCreate, Collection: c.name, Doc: cloneDocument(doc)})
	return &doc, true, nil
}

func (c *memCollection) Update(_ context.Context, id, actorId string, patch map[string]any) (*Document, error) {
	c.s.mu.Lock()
	doc, ok := c.s.docs[c.name][id]
	if !ok {
		c.s.mu.Unlock()
		return nil, ErrNotFound
	}

	doc = cloneDocument(doc)
	maps.Copy(doc.Data, patch)
	doc.UpdatedBy = actorId
	doc.UpdatedAt = c.s.now()
	c.s.docs[c.name][id] = doc
	c.s.mu.Unlock()

	c.s.broker.publish(Event{Type: EventUpdate, Collection: c.name, Doc: cloneDocument(doc)})
	return &doc, nil
}

func (c *memCollection) Delete(_ context.Context, id, _ string) error {
	c.s.mu.Lock()
	doc, ok := c.s.docs[c.name][id]
	if !ok {
		c.s.mu.Unlock()
		return ErrNotFound
	}
	delete(c.s.docs[c.name], id)
	c.s.mu.Unlock()

	c.s.broker.publish(Event{Type: EventDelete, Collection: c.name, Doc: doc})
	return nil
}

func (c *memCollection) Query(_ context.Context, field string, value any) ([]Document, error) {
	if field == "" {
		return nil, ErrInvalidQuery
	}
	return c.filter(func(d Document) bool {
		return matchesField(d.Data, field, value)
	}), nil
}

func (c *memCollection) filter(keep func(Document) bool) []Document {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	docs := make([]Document, 0)
	for _, d := range c.s.docs[c.name] {
		if keep(d) {
			docs = append(docs, cloneDocument(d))
		}
	}

	slices.SortFunc(docs, func(a, b Document) int {
		if n := a.CreatedAt.Compare(b.CreatedAt); n != 0 {
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})
	return docs
}

func (c *memCollection) Subscribe(ctx context.Context) (Subscription, error) {
	return c.s.broker.subscribe(ctx, c.name, nil), nil
}

func (c *memCollection) SubscribeToDoc(ctx context.Context, id string) (Subscription, error) {
	return c.s.broker.subscribe(ctx, c.name, docFilter(id)), nil
}

func (c *memCollection) SubscribeToQuery(ctx context.Context, field string, value any) (Subscription, error) {
	if field == "" {
		return nil, ErrInvalidQuery
	}
	return c.s.broker.subscribe(ctx, c.name, queryFilter(field, value)), nil
}
