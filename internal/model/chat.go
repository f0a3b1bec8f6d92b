package model

import (
	"sort"
	"time"
)

// Chat is a one-to-one conversation. Members are stored sorted and never change.
type Chat struct {
	ID            string    `json:"id"`
	Members       [2]string `json:"members"`
	LastMessageID *string   `json:"lastMessageId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// UserRoomPrefix marks personal rooms; chat ids never carry it.
const UserRoomPrefix = "user:"

// UserRoom is the room every connection of userID joins on connect.
func UserRoom(userID string) string { return UserRoomPrefix + userID }

// PairOf returns the canonical member order used for pair uniqueness.
func PairOf(a, b string) [2]string {
	pair := []string{a, b}
	sort.Strings(pair)
	return [2]string{pair[0], pair[1]}
}

func (c *Chat) HasMember(userID string) bool {
	return userID != "" && (c.Members[0] == userID || c.Members[1] == userID)
}

// Peer returns the other member, or "" if userID is not a member.
func (c *Chat) Peer(userID string) string {
	switch userID {
	case c.Members[0]:
		return c.Members[1]
	case c.Members[1]:
		return c.Members[0]
	default:
		return ""
	}
}

// ChatView is the chat as rendered to a member: populated members and last message preview.
type ChatView struct {
	ID          string       `json:"id"`
	Members     []UserPublic `json:"members"`
	LastMessage *Message     `json:"lastMessage"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}
