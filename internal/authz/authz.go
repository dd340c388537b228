// Package authz decides whether a user may mutate a document before the
// request reaches storage. Only collections registered with Protect are
// checked; every other collection is passed through.
package authz

import (
	"context"
	"errors"
	"log"
	"maps"
	"slices"
	"sync"

	"github.com/npezzotti/board-sync/internal/database"
	"github.com/npezzotti/board-sync/internal/stats"
	"github.com/npezzotti/board-sync/internal/types"
)

type Action string

const (
	Create Action = "create"
	Read   Action = "read"
	Update Action = "update"
	Delete Action = "delete"
)

// Target is the document an action applies to: the candidate data for
// create, the persisted document id for everything else. Updates also carry
// the patch so the resulting document is checked as well.
type Target struct {
	ID   string
	Data map[string]any
}

func DocTarget(data map[string]any) Target {
	return Target{Data: data}
}

func IDTarget(id string) Target {
	return Target{ID: id}
}

func UpdateTarget(id string, patch map[string]any) Target {
	return Target{ID: id, Data: patch}
}

type Option func(*Gate)

func WithServiceIdentities(ids ...string) Option {
	return func(g *Gate) {
		for _, id := range ids {
			if id != "" {
				g.services[id] = struct{}{}
			}
		}
	}
}

func WithAbilities(a Abilities) Option {
	return func(g *Gate) {
		g.abilities = a
	}
}

func WithStats(s stats.StatsProvider) Option {
	return func(g *Gate) {
		g.stats = s
	}
}

type Gate struct {
	log       *log.Logger
	users     database.Collection
	abilities Abilities
	services  map[string]struct{}
	stats     stats.StatsProvider

	mu        sync.RWMutex
	protected map[string]*ProtectedCollection
}

func NewGate(logger *log.Logger, users database.Collection, opts ...Option) *Gate {
	g := &Gate{
		log:       logger,
		users:     users,
		abilities: DefaultAbilities,
		services:  make(map[string]struct{}),
		protected: make(map[string]*ProtectedCollection),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Protect registers a collection and its rules, replacing any previous
// registration under the same name.
func (g *Gate) Protect(pcs ...ProtectedCollection) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, pc := range pcs {
		g.protected[pc.Name] = &pc
	}
}

func (g *Gate) IsProtected(collection string) bool {
	_, ok := g.getProtected(collection)
	return ok
}

func (g *Gate) IsService(userId string) bool {
	_, ok := g.services[userId]
	return ok
}

func (g *Gate) getProtected(collection string) (*ProtectedCollection, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	pc, ok := g.protected[collection]
	return pc, ok
}

// Authorize reports whether userId may perform action on target in
// collection. Lookup failures of any kind deny.
func (g *Gate) Authorize(ctx context.Context, action Action, userId, collection string, target Target) bool {
	ok, reason := g.authorize(ctx, action, userId, collection, target)
	if !ok {
		g.log.Printf("denied %s on %s for user %q: %s", action, collection, userId, reason)
		if g.stats != nil {
			g.stats.Incr(stats.AuthDenied)
		}
	}
	return ok
}

func (g *Gate) authorize(ctx context.Context, action Action, userId, collection string, target Target) (bool, string) {
	pc, ok := g.getProtected(collection)
	if !ok {
		return true, ""
	}

	if userId == "" {
		return false, "no user"
	}

	if g.IsService(userId) {
		return true, ""
	}

	role, err := g.userRole(ctx, userId)
	if err != nil {
		return false, err.Error()
	}

	if !g.abilities.Can(role, action, collection) {
		return false, "role " + role + " lacks ability"
	}

	if field, ok := pc.reservedField(target.Data); ok && role != RoleAdmin {
		return false, "field " + field + " is reserved"
	}

	switch action {
	case Create:
		rules := pc.rulesFor(Create)
		if len(rules) == 0 {
			return false, "no create rules"
		}
		if !g.anyRule(ctx, rules, action, userId, target.Data) {
			return false, "no rule matched"
		}
		return true, ""
	case Update:
		if pc.SelfKeyed && target.ID != userId {
			return false, "not the document owner"
		}
		rules := pc.rulesFor(Update)
		if len(rules) == 0 {
			if pc.SelfKeyed {
				return true, ""
			}
			return false, "no update rules"
		}
		doc, err := pc.Collection.Get(ctx, target.ID)
		if err != nil {
			return false, "load document: " + err.Error()
		}
		if !g.anyRule(ctx, rules, action, userId, doc.Data) {
			return false, "no rule matched"
		}
		// the patch must not move the document somewhere the user has no rights
		if target.Data != nil && !g.anyRule(ctx, rules, action, userId, merge(doc.Data, target.Data)) {
			return false, "no rule matched updated document"
		}
		return true, ""
	case Read, Delete:
		// not rule-checked yet
		return true, ""
	default:
		return false, "unknown action"
	}
}

var errNoRole = errors.New("user has no role")

func merge(data, patch map[string]any) map[string]any {
	out := maps.Clone(data)
	if out == nil {
		out = make(map[string]any, len(patch))
	}
	maps.Copy(out, patch)
	return out
}

func (g *Gate) userRole(ctx context.Context, userId string) (string, error) {
	doc, err := g.users.Get(ctx, userId)
	if err != nil {
		return "", err
	}

	var u types.User
	if err := database.Decode(doc.Data, &u); err != nil {
		return "", err
	}
	if u.UserRole == "" {
		return "", errNoRole
	}

	return u.UserRole, nil
}

func (g *Gate) anyRule(ctx context.Context, rules []Rule, action Action, userId string, data map[string]any) bool {
	for _, rule := range rules {
		if g.validate(ctx, rule, action, userId, data) {
			return true
		}
	}
	return false
}

func (g *Gate) validate(ctx context.Context, rule Rule, action Action, userId string, data map[string]any) bool {
	refId, ok := data[rule.RefPropName]
	if !ok || refId == nil || refId == "" {
		return false
	}

	docs, err := rule.Membership.Query(ctx, rule.RefPropName, refId)
	if err != nil {
		g.log.Printf("query %s membership: %v", rule.Membership.Name(), err)
		return false
	}

	for _, doc := range docs {
		var m types.Membership
		if err := database.Decode(doc.Data, &m); err != nil {
			continue
		}

		member, ok := m.Member(userId)
		if !ok {
			continue
		}

		return slices.Contains(rule.Roles, member.Role) && slices.Contains(rule.AvailableActions, action)
	}

	return false
}
