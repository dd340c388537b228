package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
)

const (
	changesChannel       = "document_changes"
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	listenerPingInterval = 90 * time.Second
	notificationTimeout  = 5 * time.Second
)

// PgStore keeps every collection in a single documents table. Change events
// are produced by a trigger calling pg_notify, so writes made by any replica
// reach the subscribers of every replica.
type PgStore struct {
	log      *log.Logger
	conn     *sql.DB
	listener *pq.Listener
	broker   *broker
	done     chan struct{}
}

type changeNotification struct {
	Op         string `json:"op"`
	Collection string `json:"collection"`
	Id         string `json:"id"`
}

func NewPgStore(logger *log.Logger, dsn string) (*PgStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	listener := pq.NewListener(dsn, minReconnectInterval, maxReconnectInterval, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Printf("pg listener event %d: %v", ev, err)
		}
	})
	if err := listener.Listen(changesChannel); err != nil {
		listener.Close()
		db.Close()
		return nil, fmt.Errorf("listen %s: %w", changesChannel, err)
	}

	s := &PgStore{
		log:      logger,
		conn:     db,
		listener: listener,
		broker:   newBroker(logger),
		done:     make(chan struct{}),
	}

	go s.listen()

	return s, nil
}

func (s *PgStore) Collection(name string) Collection {
	return &pgCollection{name: name, s: s}
}

func (s *PgStore) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func (s *PgStore) Close() error {
	close(s.done)
	s.broker.closeAll()

	if err := s.listener.Close(); err != nil {
		s.log.Println("close pg listener:", err)
	}

	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *PgStore) listen() {
	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case n, ok := <-s.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// the listener reconnected; notifications sent meanwhile are lost
				s.log.Println("pg listener reconnected")
				continue
			}
			s.handleNotification(n)
		case <-ticker.C:
			go func() {
				if err := s.listener.Ping(); err != nil {
					s.log.Println("pg listener ping:", err)
				}
			}()
		case <-s.done:
			return
		}
	}
}

func (s *PgStore) handleNotification(n *pq.Notification) {
	var change changeNotification
	if err := json.Unmarshal([]byte(n.Extra), &change); err != nil {
		s.log.Printf("invalid change notification %q: %v", n.Extra, err)
		return
	}

	ev := Event{Collection: change.Collection}
	switch change.Op {
	case "INSERT":
		ev.Type = EventCreate
	case "UPDATE":
		ev.Type = EventUpdate
	case "DELETE":
		ev.Type = EventDelete
		ev.Doc = Document{ID: change.Id}
		s.broker.publish(ev)
		return
	default:
		s.log.Printf("unknown change op %q", change.Op)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), notificationTimeout)
	defer cancel()

	doc, err := s.Collection(change.Collection).Get(ctx, change.Id)
	if err != nil {
		// deleted again before we could read it; the delete event follows
		s.log.Printf("load changed document %s/%s: %v", change.Collection, change.Id, err)
		return
	}

	ev.Doc = *doc
	s.broker.publish(ev)
}
