package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/board-sync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveEvent(t *testing.T, sub Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "expected subscription channel to be open")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func assertNoEvent(t *testing.T, sub Subscription) {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if ok {
			t.Errorf("expected no event, got %s for %q", ev.Type, ev.Doc.ID)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryCollection_CRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(testutil.TestLogger(t))
	rooms := store.Collection("ROOMS")

	doc, err := rooms.Add(ctx, map[string]any{"name": "lab"}, "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID, "expected generated id")
	assert.Equal(t, "u1", doc.CreatedBy)

	got, err := rooms.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "lab", got.Data["name"])

	updated, err := rooms.Update(ctx, doc.ID, "u2", map[string]any{"description": "wall"})
	require.NoError(t, err)
	assert.Equal(t, "lab", updated.Data["name"], "expected update to merge, not replace")
	assert.Equal(t, "wall", updated.Data["description"])
	assert.Equal(t, "u2", updated.UpdatedBy)

	require.NoError(t, rooms.Delete(ctx, doc.ID, "u2"))
	_, err = rooms.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, rooms.Delete(ctx, doc.ID, "u2"), ErrNotFound)

	_, err = rooms.Update(ctx, "missing", "u1", map[string]any{"a": 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCollection_AddWithID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(testutil.TestLogger(t))
	presence := store.Collection("PRESENCE")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := presence.AddWithID(ctx, "u1", map[string]any{"status": "online"}, "u1")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created, "expected exactly one insert to win")

	all, err := presence.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryCollection_Query(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(testutil.TestLogger(t))
	members := store.Collection("ROOM_MEMBERS")

	_, err := members.Add(ctx, map[string]any{"roomId": "r1"}, "u1")
	require.NoError(t, err)
	_, err = members.Add(ctx, map[string]any{"roomId": "r2"}, "u1")
	require.NoError(t, err)

	docs, err := members.Query(ctx, "roomId", "r1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "r1", docs[0].Data["roomId"])

	docs, err = members.Query(ctx, "roomId", "nope")
	require.NoError(t, err)
	assert.Empty(t, docs)

	_, err = members.Query(ctx, "", "r1")
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestMemoryCollection_Subscriptions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(testutil.TestLogger(t))
	boards := store.Collection("BOARDS")

	all, err := boards.Subscribe(ctx)
	require.NoError(t, err)
	defer all.Close()

	inRoom, err := boards.SubscribeToQuery(ctx, "roomId", "r1")
	require.NoError(t, err)
	defer inRoom.Close()

	doc, err := boards.Add(ctx, map[string]any{"roomId": "r1"}, "u1")
	require.NoError(t, err)

	one, err := boards.SubscribeToDoc(ctx, doc.ID)
	require.NoError(t, err)
	defer one.Close()

	ev := receiveEvent(t, all)
	assert.Equal(t, EventCreate, ev.Type)
	assert.Equal(t, "BOARDS", ev.Collection)
	assert.Equal(t, doc.ID, receiveEvent(t, inRoom).Doc.ID)

	_, err = boards.Add(ctx, map[string]any{"roomId": "r2"}, "u1")
	require.NoError(t, err)
	receiveEvent(t, all)
	assertNoEvent(t, inRoom)
	assertNoEvent(t, one)

	_, err = boards.Update(ctx, doc.ID, "u1", map[string]any{"name": "b"})
	require.NoError(t, err)
	assert.Equal(t, EventUpdate, receiveEvent(t, one).Type)
	assert.Equal(t, EventUpdate, receiveEvent(t, all).Type)
	assert.Equal(t, EventUpdate, receiveEvent(t, inRoom).Type)

	// other collections never leak into a subscription
	_, err = store.Collection("APPS").Add(ctx, map[string]any{"roomId": "r1"}, "u1")
	require.NoError(t, err)
	assertNoEvent(t, all)
	assertNoEvent(t, inRoom)
}

func TestSubscription_Close(t *testing.T) {
	store := NewMemoryStore(testutil.TestLogger(t))
	boards := store.Collection("BOARDS")

	sub, err := boards.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, store.broker.len())

	assert.NoError(t, sub.Close())
	assert.NoError(t, sub.Close(), "expected second close to be a no-op")
	assert.Equal(t, 0, store.broker.len())

	_, ok := <-sub.Events()
	assert.False(t, ok, "expected events channel to be closed")

	_, err = boards.Add(context.Background(), map[string]any{}, "u1")
	assert.NoError(t, err, "expected publish after close not to panic")
}

func TestSubscription_ContextCancel(t *testing.T) {
	store := NewMemoryStore(testutil.TestLogger(t))
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := store.Collection("BOARDS").Subscribe(ctx)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok, "expected channel to be closed after cancel")
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after context cancel")
	}
	assert.Equal(t, 0, store.broker.len())
}

func TestQueryFilter(t *testing.T) {
	filter := queryFilter("roomId", "r1")

	assert.True(t, filter(Event{Type: EventCreate, Doc: Document{Data: map[string]any{"roomId": "r1"}}}))
	assert.False(t, filter(Event{Type: EventCreate, Doc: Document{Data: map[string]any{"roomId": "r2"}}}))
	assert.False(t, filter(Event{Type: EventUpdate, Doc: Document{Data: map[string]any{}}}))
	assert.True(t, filter(Event{Type: EventDelete, Doc: Document{ID: "x"}}), "expected id-only deletes to pass")
}

func TestEncodeDecode(t *testing.T) {
	type membership struct {
		RoomId string `json:"roomId"`
	}

	data, err := Encode(membership{RoomId: "r1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"roomId": "r1"}, data)

	var m membership
	require.NoError(t, Decode(data, &m))
	assert.Equal(t, "r1", m.RoomId)
}
