package database

import (
	"testing"

	"github.com/lib/pq"
	"github.com/npezzotti/board-sync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgStore_handleDeleteNotification(t *testing.T) {
	s := &PgStore{
		log:    testutil.TestLogger(t),
		broker: newBroker(testutil.TestLogger(t)),
	}

	sub := s.broker.subscribe(t.Context(), "BOARDS", docFilter("b1"))
	defer sub.Close()

	s.handleNotification(&pq.Notification{
		Channel: changesChannel,
		Extra:   `{"op":"DELETE","collection":"BOARDS","id":"b1"}`,
	})

	ev := receiveEvent(t, sub)
	assert.Equal(t, EventDelete, ev.Type)
	assert.Equal(t, "b1", ev.Doc.ID)
	assert.Nil(t, ev.Doc.Data)
}

func TestPgStore_handleInvalidNotification(t *testing.T) {
	s := &PgStore{
		log:    testutil.TestLogger(t),
		broker: newBroker(testutil.TestLogger(t)),
	}

	sub := s.broker.subscribe(t.Context(), "BOARDS", nil)
	defer sub.Close()

	require.NotPanics(t, func() {
		s.handleNotification(&pq.Notification{Extra: "not json"})
		s.handleNotification(&pq.Notification{Extra: `{"op":"TRUNCATE","collection":"BOARDS"}`})
	})
	assertNoEvent(t, sub)
}
