package authz

import (
	"github.com/npezzotti/board-sync/internal/database"
	"github.com/npezzotti/board-sync/internal/types"
)

// Membership roles stored in ROOM_MEMBERS documents.
const (
	MemberOwner  = "owner"
	MemberAdmin  = "admin"
	MemberMember = "member"
	MemberViewer = "viewer"
)

// Rule grants AvailableActions to members holding one of Roles in the
// membership document referenced by the RefPropName field of the target.
type Rule struct {
	RefPropName      string
	Membership       database.Collection
	Roles            []string
	AvailableActions []Action
}

type ProtectedCollection struct {
	Name       string
	Collection database.Collection
	Rules      []Rule

	// SelfKeyed collections hold one document per user under the user's id.
	// Only that user may update it; rules, if any, apply on top.
	SelfKeyed      bool
	// ReservedFields may only be written by admins.
	ReservedFields []string
}

func (pc *ProtectedCollection) rulesFor(action Action) []Rule {
	var rules []Rule
	for _, r := range pc.Rules {
		for _, a := range r.AvailableActions {
			if a == action {
				rules = append(rules, r)
				break
			}
		}
	}
	return rules
}

// DefaultProtected returns the protected collections of a board deployment:
// boards and apps are guarded by the membership of the room they belong to,
// membership documents by themselves, and user and presence documents by
// their owner.
func DefaultProtected(store database.Store) []ProtectedCollection {
	roomMembers := store.Collection(types.RoomMembersCollection)

	return []ProtectedCollection{
		{
			Name:       types.BoardsCollection,
			Collection: store.Collection(types.BoardsCollection),
			Rules: []Rule{
				{
					RefPropName:      "roomId",
					Membership:       roomMembers,
					Roles:            []string{MemberOwner, MemberAdmin, MemberMember},
					AvailableActions: []Action{Create},
				},
				{
					RefPropName:      "roomId",
					Membership:       roomMembers,
					Roles:            []string{MemberOwner, MemberAdmin},
					AvailableActions: []Action{Update},
				},
			},
		},
		{
			Name:       types.RoomMembersCollection,
			Collection: roomMembers,
			Rules: []Rule{
				{
					RefPropName:      "roomId",
					Membership:       roomMembers,
					Roles:            []string{MemberOwner, MemberAdmin},
					AvailableActions: []Action{Create, Update},
				},
			},
		},
		{
			Name:           types.UsersCollection,
			Collection:     store.Collection(types.UsersCollection),
			SelfKeyed:      true,
			ReservedFields: []string{"userRole"},
		},
		{
			Name:       types.PresenceCollection,
			Collection: store.Collection(types.PresenceCollection),
			SelfKeyed:  true,
		},
		{
			Name:       types.AppsCollection,
			Collection: store.Collection(types.AppsCollection),
			Rules: []Rule{
				{
					RefPropName:      "roomId",
					Membership:       roomMembers,
					Roles:            []string{MemberOwner, MemberAdmin, MemberMember},
					AvailableActions: []Action{Create, Update},
				},
			},
		},
	}
}

func (pc *ProtectedCollection) reservedField(data map[string]any) (string, bool) {
	for _, f := range pc.ReservedFields {
		if _, ok := data[f]; ok {
			return f, true
		}
	}
	return "", false
}
