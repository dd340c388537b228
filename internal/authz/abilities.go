package authz

import (
	"slices"

	"github.com/npezzotti/board-sync/internal/types"
)

// User roles stored on the USERS document.
const (
	RoleAdmin     = "admin"
	RoleUser      = "user"
	RoleGuest     = "guest"
	RoleSpectator = "spectator"
)

var (
	allActions = []Action{Create, Read, Update, Delete}
	readOnly   = []Action{Read}
	readUpdate = []Action{Read, Update}
)

// Abilities maps a user role to the actions it may perform per collection,
// independent of any membership rule.
type Abilities map[string]map[string][]Action

func (a Abilities) Can(role string, action Action, resource string) bool {
	resources, ok := a[role]
	if !ok {
		return false
	}
	return slices.Contains(resources[resource], action)
}

var DefaultAbilities = Abilities{
	RoleAdmin: {
		types.RoomsCollection:       allActions,
		types.BoardsCollection:      allActions,
		types.AppsCollection:        allActions,
		types.UsersCollection:       allActions,
		types.PresenceCollection:    allActions,
		types.RoomMembersCollection: allActions,
	},
	RoleUser: {
		types.RoomsCollection:       allActions,
		types.BoardsCollection:      allActions,
		types.AppsCollection:        allActions,
		types.UsersCollection:       readUpdate,
		types.PresenceCollection:    readUpdate,
		types.RoomMembersCollection: allActions,
	},
	RoleGuest: {
		types.RoomsCollection:       readOnly,
		types.BoardsCollection:      readOnly,
		types.AppsCollection:        allActions,
		types.UsersCollection:       readUpdate,
		types.PresenceCollection:    readUpdate,
		types.RoomMembersCollection: readOnly,
	},
	RoleSpectator: {
		types.RoomsCollection:       readOnly,
		types.BoardsCollection:      readOnly,
		types.AppsCollection:        readOnly,
		types.UsersCollection:       readOnly,
		types.PresenceCollection:    readUpdate,
		types.RoomMembersCollection: readOnly,
	},
}
