package types

import (
	"time"
)

// Collection names shared by the stores, the authorization rules and the router.
const (
	RoomsCollection       = "ROOMS"
	BoardsCollection      = "BOARDS"
	AppsCollection        = "APPS"
	UsersCollection       = "USERS"
	PresenceCollection    = "PRESENCE"
	RoomMembersCollection = "ROOM_MEMBERS"
	AccountsCollection    = "ACCOUNTS"
)

type User struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	UserRole  string    `json:"userRole"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Depth  float64 `json:"depth"`
}

type Viewport struct {
	Position Cursor `json:"position"`
	Size     Size   `json:"size"`
}

// Presence is the per-user presence record. Records are never deleted, only
// flipped between online and offline.
type Presence struct {
	UserId   string         `json:"userId"`
	Status   PresenceStatus `json:"status"`
	RoomId   string         `json:"roomId"`
	BoardId  string         `json:"boardId"`
	Cursor   Cursor         `json:"cursor"`
	Viewport Viewport       `json:"viewport"`
}

type Member struct {
	UserId string `json:"userId"`
	Role   string `json:"role"`
}

// Membership maps a referenced entity (a room) to its members.
type Membership struct {
	RoomId  string   `json:"roomId"`
	Members []Member `json:"members"`
}

// Member returns the entry for userId, if any.
func (m Membership) Member(userId string) (Member, bool) {
	for _, mem := range m.Members {
		if mem.UserId == userId {
			return mem, true
		}
	}
	return Member{}, false
}

// Account holds login credentials; its document id is the email address.
type Account struct {
	UserId       string `json:"userId"`
	PasswordHash string `json:"passwordHash"`
}
