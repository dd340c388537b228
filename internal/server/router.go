package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/npezzotti/board-sync/internal/authz"
	"github.com/npezzotti/board-sync/internal/database"
	"github.com/npezzotti/board-sync/internal/types"
)

// Authorizer gates mutations before they reach a collection.
type Authorizer interface {
	Authorize(ctx context.Context, action authz.Action, userId, collection string, target authz.Target) bool
}

const (
	ActionCreate    = "create"
	ActionRead      = "read"
	ActionUpdate    = "update"
	ActionQuery     = "query"
	ActionDelete    = "delete"
	ActionSubscribe = "subscribe"
)

var (
	errBadRoute   = errors.New("invalid route")
	errBadRequest = errors.New("invalid request")
	errDenied     = errors.New("not allowed")
)

// DefaultResources maps route resource names to the store's collections.
func DefaultResources(store database.Store) map[string]database.Collection {
	return map[string]database.Collection{
		"room":        store.Collection(types.RoomsCollection),
		"board":       store.Collection(types.BoardsCollection),
		"app":         store.Collection(types.AppsCollection),
		"user":        store.Collection(types.UsersCollection),
		"presence":    store.Collection(types.PresenceCollection),
		"roommembers": store.Collection(types.RoomMembersCollection),
	}
}

type routeKey struct {
	typ    MessageType
	action string
}

type handlerFunc func(ctx context.Context, userId string, coll database.Collection, body RequestBody) (any, error)

type RouterOption func(*Router)

// WithRoomMembers makes room creation also create the room's membership
// document with the creator as owner.
func WithRoomMembers(members database.Collection) RouterOption {
	return func(r *Router) {
		r.roomMembers = members
	}
}

// Router turns {type, route, body} requests into collection operations.
// It is shared by the websocket clients and the HTTP API.
type Router struct {
	log         *log.Logger
	gate        Authorizer
	resources   map[string]database.Collection
	roomMembers database.Collection
	handlers    map[routeKey]handlerFunc
}

func NewRouter(logger *log.Logger, gate Authorizer, resources map[string]database.Collection, opts ...RouterOption) *Router {
	r := &Router{
		log:       logger,
		gate:      gate,
		resources: resources,
	}

	r.handlers = map[routeKey]handlerFunc{
		{TypePost, ActionCreate}: r.create,
		{TypePost, ActionUpdate}: r.update,
		{TypeGet, ActionRead}:    r.read,
		{TypeGet, ActionQuery}:   r.query,
		{TypeDel, ActionDelete}:  r.delete,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// ParseRoute splits /api/{resource}/{action}.
func ParseRoute(route string) (string, string, error) {
	parts := strings.Split(strings.Trim(route, "/"), "/")
	if len(parts) != 3 || parts[0] != "api" || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("%w: %q", errBadRoute, route)
	}
	return parts[1], parts[2], nil
}

func (r *Router) lookup(route string) (database.Collection, string, error) {
	resource, action, err := ParseRoute(route)
	if err != nil {
		return nil, "", err
	}

	coll, ok := r.resources[resource]
	if !ok {
		return nil, "", fmt.Errorf("%w: unknown resource %q", errBadRoute, resource)
	}

	return coll, action, nil
}

// Handle executes a post, get or del request and builds the reply.
func (r *Router) Handle(ctx context.Context, userId string, msg *ClientMessage) *ServerMessage {
	coll, action, err := r.lookup(msg.Route)
	if err != nil {
		return r.failure(msg, err)
	}

	handler, ok := r.handlers[routeKey{msg.Type, action}]
	if !ok {
		return r.failure(msg, fmt.Errorf("%w: no %s handler for %q", errBadRoute, msg.Type, action))
	}

	body, err := msg.requestBody()
	if err != nil {
		return r.failure(msg, fmt.Errorf("%w: %w", errBadRequest, err))
	}

	data, err := handler(ctx, userId, coll, body)
	if err != nil {
		return r.failure(msg, err)
	}

	return NoErrOK(msg, data)
}

// Subscribe opens the subscription a sub request asks for: a single
// document when the body carries an id, a query when it carries a field,
// the whole collection otherwise. The subscription is nil on failure.
func (r *Router) Subscribe(ctx context.Context, userId string, msg *ClientMessage) (database.Subscription, *ServerMessage) {
	coll, action, err := r.lookup(msg.Route)
	if err != nil {
		return nil, r.failure(msg, err)
	}
	if action != ActionSubscribe {
		return nil, r.failure(msg, fmt.Errorf("%w: no %s handler for %q", errBadRoute, msg.Type, action))
	}

	body, err := msg.requestBody()
	if err != nil {
		return nil, r.failure(msg, fmt.Errorf("%w: %w", errBadRequest, err))
	}

	if !r.gate.Authorize(ctx, authz.Read, userId, coll.Name(), authz.IDTarget(body.Id)) {
		return nil, r.failure(msg, errDenied)
	}

	var sub database.Subscription
	switch {
	case body.Id != "":
		sub, err = coll.SubscribeToDoc(ctx, body.Id)
	case body.Field != "":
		sub, err = coll.SubscribeToQuery(ctx, body.Field, body.Value)
	default:
		sub, err = coll.Subscribe(ctx)
	}
	if err != nil {
		return nil, r.failure(msg, err)
	}

	return sub, NoErrOK(msg, nil)
}

func (r *Router) failure(msg *ClientMessage, err error) *ServerMessage {
	switch {
	case errors.Is(err, errDenied):
		return ErrFailed(msg, MsgNotAllowed)
	case errors.Is(err, database.ErrNotFound):
		return ErrFailed(msg, MsgNotFound)
	case errors.Is(err, errBadRoute), errors.Is(err, errBadRequest), errors.Is(err, database.ErrInvalidQuery):
		r.log.Printf("msg %q: %v", msg.MsgId, err)
		return ErrFailed(msg, MsgBadRequest)
	default:
		r.log.Printf("msg %q: %s %s: %v", msg.MsgId, msg.Type, msg.Route, err)
		return ErrFailed(msg, MsgInternal)
	}
}

func (r *Router) create(ctx context.Context, userId string, coll database.Collection, body RequestBody) (any, error) {
	if body.Data == nil {
		return nil, fmt.Errorf("%w: missing data", errBadRequest)
	}

	if !r.gate.Authorize(ctx, authz.Create, userId, coll.Name(), authz.DocTarget(body.Data)) {
		return nil, errDenied
	}

	doc, err := coll.Add(ctx, body.Data, userId)
	if err != nil {
		return nil, fmt.Errorf("add to %s: %w", coll.Name(), err)
	}

	if coll.Name() == types.RoomsCollection && r.roomMembers != nil {
		if err := r.addRoomOwner(ctx, doc.ID, userId); err != nil {
			r.log.Printf("room %q: %v", doc.ID, err)
		}
	}

	return doc, nil
}

func (r *Router) addRoomOwner(ctx context.Context, roomId, userId string) error {
	data, err := database.Encode(types.Membership{
		RoomId:  roomId,
		Members: []types.Member{{UserId: userId, Role: authz.MemberOwner}},
	})
	if err != nil {
		return err
	}

	if _, _, err := r.roomMembers.AddWithID(ctx, roomId, data, userId); err != nil {
		return fmt.Errorf("create membership: %w", err)
	}
	return nil
}

func (r *Router) update(ctx context.Context, userId string, coll database.Collection, body RequestBody) (any, error) {
	if body.Id == "" || body.Updates == nil {
		return nil, fmt.Errorf("%w: missing id or updates", errBadRequest)
	}

	if !r.gate.Authorize(ctx, authz.Update, userId, coll.Name(), authz.UpdateTarget(body.Id, body.Updates)) {
		return nil, errDenied
	}

	return coll.Update(ctx, body.Id, userId, body.Updates)
}

func (r *Router) read(ctx context.Context, userId string, coll database.Collection, body RequestBody) (any, error) {
	if !r.gate.Authorize(ctx, authz.Read, userId, coll.Name(), authz.IDTarget(body.Id)) {
		return nil, errDenied
	}

	if body.Id == "" {
		return coll.GetAll(ctx)
	}
	return coll.Get(ctx, body.Id)
}

func (r *Router) query(ctx context.Context, userId string, coll database.Collection, body RequestBody) (any, error) {
	if body.Field == "" {
		return nil, fmt.Errorf("%w: missing field", errBadRequest)
	}

	if !r.gate.Authorize(ctx, authz.Read, userId, coll.Name(), authz.Target{}) {
		return nil, errDenied
	}

	return coll.Query(ctx, body.Field, body.Value)
}

func (r *Router) delete(ctx context.Context, userId string, coll database.Collection, body RequestBody) (any, error) {
	if body.Id == "" {
		return nil, fmt.Errorf("%w: missing id", errBadRequest)
	}

	if !r.gate.Authorize(ctx, authz.Delete, userId, coll.Name(), authz.IDTarget(body.Id)) {
		return nil, errDenied
	}

	if err := coll.Delete(ctx, body.Id, userId); err != nil {
		return nil, err
	}
	return map[string]string{"id": body.Id}, nil
}
