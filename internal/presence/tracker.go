// Package presence tracks which users hold a live socket on any replica.
// Every socket owns a TTL-bound liveness key in Redis; a periodic scan flips
// presence records to offline once a user has no live key left.
package presence

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/npezzotti/board-sync/internal/config"
	"github.com/npezzotti/board-sync/internal/database"
	"github.com/npezzotti/board-sync/internal/stats"
	"github.com/npezzotti/board-sync/internal/types"
	"github.com/redis/go-redis/v9"
)

const (
	KeyTTL              = config.LivenessTTL
	HeartbeatInterval   = KeyTTL / 2
	DefaultScanInterval = 10 * time.Second

	scanCount = 100
)

type Option func(*Tracker)

func WithScanInterval(d time.Duration) Option {
	return func(t *Tracker) {
		t.scanInterval = d
	}
}

func WithHeartbeatInterval(d time.Duration) Option {
	return func(t *Tracker) {
		t.heartbeatInterval = d
	}
}

// WithActor sets the identity recorded on presence document writes.
func WithActor(id string) Option {
	return func(t *Tracker) {
		t.actorId = id
	}
}

func WithStats(s stats.StatsProvider) Option {
	return func(t *Tracker) {
		t.stats = s
	}
}

type Tracker struct {
	log               *log.Logger
	rdb               redis.Cmdable
	presence          database.Collection
	prefix            string
	actorId           string
	scanInterval      time.Duration
	heartbeatInterval time.Duration
	stats             stats.StatsProvider
}

func NewTracker(logger *log.Logger, rdb redis.Cmdable, presence database.Collection, prefix string, opts ...Option) *Tracker {
	t := &Tracker{
		log:               logger,
		rdb:               rdb,
		presence:          presence,
		prefix:            prefix,
		scanInterval:      DefaultScanInterval,
		heartbeatInterval: HeartbeatInterval,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// key names the liveness key of one socket. Socket ids never contain ':',
// so everything after the socket id is the user id.
func (t *Tracker) key(socketId, userId string) string {
	return t.keyPrefix() + socketId + ":" + userId
}

func (t *Tracker) keyPrefix() string {
	return t.prefix + ":SOCKET:PRESENCE:"
}

func (t *Tracker) ownsKey(key, userId string) bool {
	rest, ok := strings.CutPrefix(key, t.keyPrefix())
	if !ok {
		return false
	}
	socketId, owner, ok := strings.Cut(rest, ":")
	return ok && socketId != "" && owner == userId
}

func (t *Tracker) userPattern(userId string) string {
	return fmt.Sprintf("%s:SOCKET:PRESENCE:*:%s", escapeGlob(t.prefix), escapeGlob(userId))
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

// AddSocket marks socketId live for userId and puts the user online,
// creating the presence record on first sight.
func (t *Tracker) AddSocket(ctx context.Context, socketId, userId string) error {
	if err := t.rdb.Set(ctx, t.key(socketId, userId), 1, KeyTTL).Err(); err != nil {
		return fmt.Errorf("set liveness key: %w", err)
	}

	data, err := database.Encode(types.Presence{
		UserId: userId,
		Status: types.StatusOnline,
	})
	if err != nil {
		return err
	}

	doc, created, err := t.presence.AddWithID(ctx, userId, data, t.actorId)
	if err != nil {
		return fmt.Errorf("add presence: %w", err)
	}

	if !created && doc.Data["status"] != string(types.StatusOnline) {
		if err := t.setStatus(ctx, userId, types.StatusOnline); err != nil {
			return err
		}
	}

	return nil
}

// RefreshSocket resets the TTL of the liveness key. A key that already
// expired may have let a scan mark the user offline, so the socket is added
// again from scratch.
func (t *Tracker) RefreshSocket(ctx context.Context, socketId, userId string) error {
	ok, err := t.rdb.Expire(ctx, t.key(socketId, userId), KeyTTL).Result()
	if err != nil {
		return fmt.Errorf("refresh liveness key: %w", err)
	}

	if !ok {
		t.log.Printf("liveness key of socket %s expired, restoring", socketId)
		return t.AddSocket(ctx, socketId, userId)
	}

	return nil
}

// RemoveSocket deletes the liveness key. The user's status is left to the
// next reconciliation scan.
func (t *Tracker) RemoveSocket(ctx context.Context, socketId, userId string) error {
	if err := t.rdb.Del(ctx, t.key(socketId, userId)).Err(); err != nil {
		return fmt.Errorf("delete liveness key: %w", err)
	}
	return nil
}

func (t *Tracker) hasLiveSocket(ctx context.Context, userId string) (bool, error) {
	iter := t.rdb.Scan(ctx, 0, t.userPattern(userId), scanCount).Iterator()
	for iter.Next(ctx) {
		// the pattern also matches user ids ending in ":"+userId
		if t.ownsKey(iter.Val(), userId) {
			return true, nil
		}
	}
	return false, iter.Err()
}

func (t *Tracker) setStatus(ctx context.Context, userId string, status types.PresenceStatus) error {
	_, err := t.presence.Update(ctx, userId, t.actorId, map[string]any{"status": string(status)})
	if err != nil {
		return fmt.Errorf("set %s status %s: %w", userId, status, err)
	}
	return nil
}

// Reconcile flips every online user without a live socket to offline and
// returns their ids.
func (t *Tracker) Reconcile(ctx context.Context) ([]string, error) {
	docs, err := t.presence.Query(ctx, "status", string(types.StatusOnline))
	if err != nil {
		return nil, fmt.Errorf("query online users: %w", err)
	}

	var offline []string
	for _, doc := range docs {
		alive, err := t.hasLiveSocket(ctx, doc.ID)
		if err != nil {
			return offline, fmt.Errorf("scan liveness keys: %w", err)
		}
		if alive {
			continue
		}

		if err := t.setStatus(ctx, doc.ID, types.StatusOffline); err != nil {
			return offline, err
		}

		// a socket may have connected between the scan and the write
		alive, err = t.hasLiveSocket(ctx, doc.ID)
		if err != nil {
			return offline, fmt.Errorf("scan liveness keys: %w", err)
		}
		if alive {
			if err := t.setStatus(ctx, doc.ID, types.StatusOnline); err != nil {
				return offline, err
			}
			continue
		}

		offline = append(offline, doc.ID)
		if t.stats != nil {
			t.stats.Incr(stats.PresenceOffline)
		}
	}

	return offline, nil
}

// Run reconciles on every scan interval until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.scanInterval)
	defer ticker.Stop()

	t.log.Printf("presence scan running every %s", t.scanInterval)
	for {
		select {
		case <-ticker.C:
			offline, err := t.Reconcile(ctx)
			if err != nil {
				t.log.Println("presence scan:", err)
			}
			if len(offline) > 0 {
				t.log.Printf("presence scan: %d users went offline", len(offline))
			}
		case <-ctx.Done():
			t.log.Println("presence scan stopped")
			return
		}
	}
}
