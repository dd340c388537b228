package presence

import (
	"context"
	"sync"
	"time"

	"github.com/teris-io/shortid"
)

const heartbeatTimeout = 5 * time.Second

// Socket is the presence of a single connection. It keeps its liveness key
// alive until Close is called.
type Socket struct {
	id     string
	userId string
	t      *Tracker
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Open registers a new socket for userId and starts its heartbeat.
func Open(ctx context.Context, t *Tracker, userId string) (*Socket, error) {
	id, err := shortid.Generate()
	if err != nil {
		return nil, err
	}

	if err := t.AddSocket(ctx, id, userId); err != nil {
		return nil, err
	}

	s := &Socket{
		id:     id,
		userId: userId,
		t:      t,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.heartbeat()

	return s, nil
}

func (s *Socket) Id() string {
	return s.id
}

func (s *Socket) heartbeat() {
	ticker := time.NewTicker(s.t.heartbeatInterval)
	defer func() {
		ticker.Stop()
		close(s.done)
	}()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), heartbeatTimeout)
			if err := s.t.RefreshSocket(ctx, s.id, s.userId); err != nil {
				s.t.log.Printf("heartbeat for socket %s: %v", s.id, err)
			}
			cancel()
		case <-s.stop:
			return
		}
	}
}

// Close stops the heartbeat and deletes the liveness key. Only the first
// call has any effect.
func (s *Socket) Close(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		<-s.done
		err = s.t.RemoveSocket(ctx, s.id, s.userId)
	})
	return err
}
