package model

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Conversation is a thread between a fixed set of participants.
type Conversation struct {
	ID            string    `json:"_id"`
	Participants  []string  `json:"participants"`
	Title         string    `json:"title"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	CreatedAt     time.Time `json:"createdAt"`
}

// HasParticipant reports whether userID is a member of c.
func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// ConversationView is a Conversation with participants resolved and the
// display name computed for one viewer.
type ConversationView struct {
	ID            string        `json:"_id"`
	Participants  []UserSummary `json:"participants"`
	Title         string        `json:"title"`
	Name          string        `json:"name"`
	LastMessageAt time.Time     `json:"lastMessageAt"`
	CreatedAt     time.Time     `json:"createdAt"`
	UnreadCount   int64         `json:"unreadCount"`
}

// NewConversationView resolves c's participants against users. Ids missing
// from users are kept with only the id set.
func NewConversationView(c Conversation, users map[string]User, viewerID string) ConversationView {
	participants := make([]UserSummary, 0, len(c.Participants))
	for _, id := range c.Participants {
		u, ok := users[id]
		if !ok {
			u = User{ID: id}
		}
		participants = append(participants, u)
	}
	return ConversationView{
		ID:            c.ID,
		Participants:  participants,
		Title:         c.Title,
		Name:          DisplayName(c.Title, participants, viewerID),
		LastMessageAt: c.LastMessageAt,
		CreatedAt:     c.CreatedAt,
	}
}

// NormalizeParticipants trims, drops blanks, deduplicates and sorts ids.
func NormalizeParticipants(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ParticipantKey is the order-independent identity of a participant set.
// Each id is length-prefixed so ids containing separators cannot collide.
func ParticipantKey(ids []string) string {
	var b strings.Builder
	for _, id := range NormalizeParticipants(ids) {
		b.WriteString(strconv.Itoa(len(id)))
		b.WriteByte(':')
		b.WriteString(id)
	}
	return b.String()
}

// DisplayName labels a conversation for viewerID. An explicit title wins,
// otherwise the other participants' full names are joined with ", ".
func DisplayName(title string, participants []User, viewerID string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	names := make([]string, 0, len(participants))
	for _, p := range participants {
		if p.ID == viewerID {
			continue
		}
		name := p.FullName()
		if name == "" {
			name = p.ID
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}
