package server

import (
	"sync"

	"github.com/npezzotti/board-sync/internal/database"
)

// SubscriptionCache holds the live subscriptions of one connection keyed by
// the msgId of the sub request that created them.
type SubscriptionCache struct {
	mu     sync.Mutex
	subs   map[string]database.Subscription
	closed bool
}

func NewSubscriptionCache() *SubscriptionCache {
	return &SubscriptionCache{
		subs: make(map[string]database.Subscription),
	}
}

// Add stores sub under id. A subscription already stored under id is
// returned without being closed; closing it is up to the caller. Once the
// cache has been cleared Add closes sub itself and reports false.
func (sc *SubscriptionCache) Add(id string, sub database.Subscription) (database.Subscription, bool) {
	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		sub.Close()
		return nil, false
	}

	prev := sc.subs[id]
	sc.subs[id] = sub
	sc.mu.Unlock()

	return prev, true
}

// Delete removes id and closes its subscription. Unknown ids are ignored.
func (sc *SubscriptionCache) Delete(id string) bool {
	sc.mu.Lock()
	sub, ok := sc.subs[id]
	delete(sc.subs, id)
	sc.mu.Unlock()

	if !ok {
		return false
	}

	sub.Close()
	return true
}

// Clear closes every subscription and rejects further adds. It returns the
// number of subscriptions closed.
func (sc *SubscriptionCache) Clear() int {
	sc.mu.Lock()
	subs := sc.subs
	sc.subs = make(map[string]database.Subscription)
	sc.closed = true
	sc.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return len(subs)
}

func (sc *SubscriptionCache) Len() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.subs)
}

// WithActive runs fn while id still maps to sub. Delete and Clear wait for
// fn to return, so nothing runs for a subscription once it is removed.
func (sc *SubscriptionCache) WithActive(id string, sub database.Subscription, fn func()) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if cur, ok := sc.subs[id]; !ok || cur != sub {
		return false
	}
	fn()
	return true
}
