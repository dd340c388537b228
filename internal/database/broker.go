package database

import (
	"context"
	"log"
	"sync"
)

const subscriptionBufferSize = 64

// broker fans change events out to the subscriptions of a store.
type broker struct {
	log    *log.Logger
	mu     sync.RWMutex
	nextId int
	subs   map[int]*subscription
}

type subscription struct {
	id         int
	b          *broker
	collection string
	filter     func(Event) bool
	ch         chan Event
	stop       chan struct{}
	once       sync.Once
}

func newBroker(logger *log.Logger) *broker {
	return &broker{
		log:  logger,
		subs: make(map[int]*subscription),
	}
}

func (b *broker) subscribe(ctx context.Context, collection string, filter func(Event) bool) *subscription {
	b.mu.Lock()
	b.nextId++
	s := &subscription{
		id:         b.nextId,
		b:          b,
		collection: collection,
		filter:     filter,
		ch:         make(chan Event, subscriptionBufferSize),
		stop:       make(chan struct{}),
	}
	b.subs[s.id] = s
	b.mu.Unlock()

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				s.Close()
			case <-s.stop:
			}
		}()
	}

	return s
}

func (b *broker) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		if s.collection != ev.Collection {
			continue
		}
		if s.filter != nil && !s.filter(ev) {
			continue
		}

		select {
		case s.ch <- ev:
		default:
			b.log.Printf("subscription %d on %s is full, dropping %s event for %q", s.id, s.collection, ev.Type, ev.Doc.ID)
		}
	}
}

func (b *broker) closeAll() {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.Close()
	}
}

func (b *broker) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (s *subscription) Events() <-chan Event {
	return s.ch
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		delete(s.b.subs, s.id)
		close(s.ch)
		s.b.mu.Unlock()
		close(s.stop)
	})
	return nil
}

func docFilter(id string) func(Event) bool {
	return func(ev Event) bool {
		return ev.Doc.ID == id
	}
}

// queryFilter matches documents whose field equals value. Delete events
// without document data are always passed through since they cannot be
// evaluated.
func queryFilter(field string, value any) func(Event) bool {
	return func(ev Event) bool {
		if ev.Type == EventDelete && ev.Doc.Data == nil {
			return true
		}
		return matchesField(ev.Doc.Data, field, value)
	}
}
