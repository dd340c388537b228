package authz

import (
	"context"
	"testing"

	"github.com/npezzotti/board-sync/internal/database"
	"github.com/npezzotti/board-sync/internal/stats"
	"github.com/npezzotti/board-sync/internal/testutil"
	"github.com/npezzotti/board-sync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const serviceId = "sage-service"

type fixture struct {
	store        *database.MemoryStore
	gate         *Gate
	boardId      string
	membershipId string
}

// newFixture seeds a room r1 owned by "owner" with "member" and "viewer",
// plus one board in it.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := database.NewMemoryStore(testutil.TestLogger(t))

	users := store.Collection(types.UsersCollection)
	for id, role := range map[string]string{
		"owner":     RoleUser,
		"member":    RoleUser,
		"viewer":    RoleUser,
		"outsider":  RoleUser,
		"spectator": RoleSpectator,
		"admin":     RoleAdmin,
		"norole":    "",
	} {
		data, err := database.Encode(types.User{Id: id, Name: id, UserRole: role})
		require.NoError(t, err)
		_, _, err = users.AddWithID(ctx, id, data, serviceId)
		require.NoError(t, err)
	}

	membership, err := database.Encode(types.Membership{
		RoomId: "r1",
		Members: []types.Member{
			{UserId: "owner", Role: MemberOwner},
			{UserId: "member", Role: MemberMember},
			{UserId: "viewer", Role: MemberViewer},
			{UserId: "spectator", Role: MemberOwner},
		},
	})
	require.NoError(t, err)
	members, err := store.Collection(types.RoomMembersCollection).Add(ctx, membership, serviceId)
	require.NoError(t, err)

	board, err := store.Collection(types.BoardsCollection).Add(ctx, map[string]any{"roomId": "r1", "name": "b"}, "owner")
	require.NoError(t, err)

	gate := NewGate(testutil.TestLogger(t), users, WithServiceIdentities(serviceId), WithStats(stats.NewNopStats()))
	gate.Protect(DefaultProtected(store)...)

	return &fixture{store: store, gate: gate, boardId: board.ID, membershipId: members.ID}
}

func TestAuthorize_Create(t *testing.T) {
	f := newFixture(t)

	tcases := []struct {
		name       string
		userId     string
		collection string
		data       map[string]any
		expected   bool
	}{
		{
			name:       "unprotected collection passes through",
			userId:     "outsider",
			collection: "UNPROTECTED_COLLECTION",
			data:       map[string]any{},
			expected:   true,
		},
		{
			name:       "unprotected collection passes through without user",
			collection: types.RoomsCollection,
			data:       map[string]any{},
			expected:   true,
		},
		{
			name:       "empty user denied",
			collection: types.BoardsCollection,
			data:       map[string]any{"roomId": "r1"},
			expected:   false,
		},
		{
			name:       "service identity bypasses rules",
			userId:     serviceId,
			collection: types.BoardsCollection,
			data:       map[string]any{"roomId": "nowhere"},
			expected:   true,
		},
		{
			name:       "unknown user denied",
			userId:     "ghost",
			collection: types.BoardsCollection,
			data:       map[string]any{"roomId": "r1"},
			expected:   false,
		},
		{
			name:       "user without role denied",
			userId:     "norole",
			collection: types.BoardsCollection,
			data:       map[string]any{"roomId": "r1"},
			expected:   false,
		},
		{
			name:       "role without ability denied even as room owner",
			userId:     "spectator",
			collection: types.BoardsCollection,
			data:       map[string]any{"roomId": "r1"},
			expected:   false,
		},
		{
			name:       "room member creates board",
			userId:     "member",
			collection: types.BoardsCollection,
			data:       map[string]any{"roomId": "r1"},
			expected:   true,
		},
		{
			name:       "viewer cannot create board",
			userId:     "viewer",
			collection: types.BoardsCollection,
			data:       map[string]any{"roomId": "r1"},
			expected:   false,
		},
		{
			name:       "non member denied",
			userId:     "outsider",
			collection: types.BoardsCollection,
			data:       map[string]any{"roomId": "r1"},
			expected:   false,
		},
		{
			name:       "missing reference property denied",
			userId:     "owner",
			collection: types.BoardsCollection,
			data:       map[string]any{"name": "x"},
			expected:   false,
		},
		{
			name:       "missing membership document denied",
			userId:     "owner",
			collection: types.AppsCollection,
			data:       map[string]any{"roomId": "r2"},
			expected:   false,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ok := f.gate.Authorize(context.Background(), Create, tc.userId, tc.collection, DocTarget(tc.data))
			assert.Equal(t, tc.expected, ok)
		})
	}
}

func TestAuthorize_Update(t *testing.T) {
	f := newFixture(t)

	tcases := []struct {
		name     string
		userId   string
		docId    string
		expected bool
	}{
		{
			name:     "owner updates board",
			userId:   "owner",
			docId:    f.boardId,
			expected: true,
		},
		{
			name:     "member cannot update owner-only board",
			userId:   "member",
			docId:    f.boardId,
			expected: false,
		},
		{
			name:     "missing document denied",
			userId:   "owner",
			docId:    "missing",
			expected: false,
		},
		{
			name:     "admin role still needs membership",
			userId:   "admin",
			docId:    f.boardId,
			expected: false,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ok := f.gate.Authorize(context.Background(), Update, tc.userId, types.BoardsCollection, IDTarget(tc.docId))
			assert.Equal(t, tc.expected, ok)
		})
	}
}

func TestAuthorize_UpdateChecksResult(t *testing.T) {
	f := newFixture(t)

	promoted := []any{
		map[string]any{"userId": "owner", "role": MemberOwner},
		map[string]any{"userId": "member", "role": MemberOwner},
	}

	tcases := []struct {
		name       string
		userId     string
		collection string
		target     Target
		expected   bool
	}{
		{
			name:       "member cannot promote itself",
			userId:     "member",
			collection: types.RoomMembersCollection,
			target:     UpdateTarget(f.membershipId, map[string]any{"members": promoted}),
			expected:   false,
		},
		{
			name:       "owner promotes member",
			userId:     "owner",
			collection: types.RoomMembersCollection,
			target:     UpdateTarget(f.membershipId, map[string]any{"members": promoted}),
			expected:   true,
		},
		{
			name:       "owner cannot move membership to another room",
			userId:     "owner",
			collection: types.RoomMembersCollection,
			target:     UpdateTarget(f.membershipId, map[string]any{"roomId": "r2"}),
			expected:   false,
		},
		{
			name:       "owner cannot move board to another room",
			userId:     "owner",
			collection: types.BoardsCollection,
			target:     UpdateTarget(f.boardId, map[string]any{"roomId": "r2"}),
			expected:   false,
		},
		{
			name:       "owner renames board",
			userId:     "owner",
			collection: types.BoardsCollection,
			target:     UpdateTarget(f.boardId, map[string]any{"name": "renamed"}),
			expected:   true,
		},
		{
			name:       "user renames itself",
			userId:     "member",
			collection: types.UsersCollection,
			target:     UpdateTarget("member", map[string]any{"name": "m"}),
			expected:   true,
		},
		{
			name:       "user cannot grant itself a role",
			userId:     "member",
			collection: types.UsersCollection,
			target:     UpdateTarget("member", map[string]any{"userRole": RoleAdmin}),
			expected:   false,
		},
		{
			name:       "user cannot update another user",
			userId:     "member",
			collection: types.UsersCollection,
			target:     UpdateTarget("owner", map[string]any{"name": "o"}),
			expected:   false,
		},
		{
			name:       "admin sets a role",
			userId:     "admin",
			collection: types.UsersCollection,
			target:     UpdateTarget("admin", map[string]any{"userRole": RoleUser}),
			expected:   true,
		},
		{
			name:       "user cannot update another user's presence",
			userId:     "member",
			collection: types.PresenceCollection,
			target:     UpdateTarget("owner", map[string]any{"status": "offline"}),
			expected:   false,
		},
		{
			name:       "user cannot create a user document",
			userId:     "member",
			collection: types.UsersCollection,
			target:     DocTarget(map[string]any{"name": "x"}),
			expected:   false,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			action := Update
			if tc.target.ID == "" {
				action = Create
			}
			ok := f.gate.Authorize(context.Background(), action, tc.userId, tc.collection, tc.target)
			assert.Equal(t, tc.expected, ok)
		})
	}
}

func TestAuthorize_ReadDeleteUnguarded(t *testing.T) {
	f := newFixture(t)

	for _, action := range []Action{Read, Delete} {
		assert.True(t, f.gate.Authorize(context.Background(), action, "outsider", types.BoardsCollection, IDTarget(f.boardId)),
			"expected %s to be allowed", action)
	}
	assert.False(t, f.gate.Authorize(context.Background(), Delete, "spectator", types.BoardsCollection, IDTarget(f.boardId)),
		"expected ability matrix to still apply to delete")
}

func TestAuthorize_NoRulesForAction(t *testing.T) {
	f := newFixture(t)
	f.gate.Protect(ProtectedCollection{
		Name:       types.AppsCollection,
		Collection: f.store.Collection(types.AppsCollection),
		Rules: []Rule{{
			RefPropName:      "roomId",
			Membership:       f.store.Collection(types.RoomMembersCollection),
			Roles:            []string{MemberOwner},
			AvailableActions: []Action{Update},
		}},
	})

	assert.False(t, f.gate.Authorize(context.Background(), Create, "owner", types.AppsCollection, DocTarget(map[string]any{"roomId": "r1"})))
}

func TestAuthorize_AnyRulePasses(t *testing.T) {
	f := newFixture(t)

	failing := &database.MockCollection{}
	failing.On("Query", mock.Anything, "roomId", "r1").Return([]database.Document{}, nil).Once()
	defer failing.AssertExpectations(t)

	f.gate.Protect(ProtectedCollection{
		Name:       types.AppsCollection,
		Collection: f.store.Collection(types.AppsCollection),
		Rules: []Rule{
			{
				RefPropName:      "roomId",
				Membership:       failing,
				Roles:            []string{MemberOwner},
				AvailableActions: []Action{Create},
			},
			{
				RefPropName:      "roomId",
				Membership:       f.store.Collection(types.RoomMembersCollection),
				Roles:            []string{MemberMember},
				AvailableActions: []Action{Create},
			},
		},
	})

	assert.True(t, f.gate.Authorize(context.Background(), Create, "member", types.AppsCollection, DocTarget(map[string]any{"roomId": "r1"})))
}

func TestAuthorize_CountsDenials(t *testing.T) {
	store := database.NewMemoryStore(testutil.TestLogger(t))
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.AuthDenied).Once()
	defer su.AssertExpectations(t)

	gate := NewGate(testutil.TestLogger(t), store.Collection(types.UsersCollection), WithStats(su))
	gate.Protect(DefaultProtected(store)...)

	assert.False(t, gate.Authorize(context.Background(), Create, "", types.BoardsCollection, DocTarget(nil)))
	assert.True(t, gate.Authorize(context.Background(), Create, "", "UNPROTECTED", DocTarget(nil)))
}

func TestAbilities_Can(t *testing.T) {
	assert.True(t, DefaultAbilities.Can(RoleAdmin, Delete, types.UsersCollection))
	assert.True(t, DefaultAbilities.Can(RoleGuest, Create, types.AppsCollection))
	assert.False(t, DefaultAbilities.Can(RoleGuest, Create, types.BoardsCollection))
	assert.False(t, DefaultAbilities.Can(RoleSpectator, Update, types.AppsCollection))
	assert.True(t, DefaultAbilities.Can(RoleSpectator, Update, types.PresenceCollection))
	assert.False(t, DefaultAbilities.Can("nobody", Read, types.RoomsCollection))
	assert.False(t, DefaultAbilities.Can(RoleUser, Read, "UNKNOWN"))
}
