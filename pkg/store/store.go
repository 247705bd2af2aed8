// Package store persists conversations, messages and unread counters.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mahaj/chatcore/pkg/model"
)

var ErrNotFound = errors.New("not found")

type Store interface {
	// CreateConversation returns the conversation already registered for
	// conv's participant set, or persists conv (assigning ID and timestamps)
	// and records it on every participant. created reports which happened.
	CreateConversation(ctx context.Context, conv model.Conversation) (c model.Conversation, created bool, err error)
	GetConversation(ctx context.Context, id string) (model.Conversation, error)
	ListUserConversations(ctx context.Context, userID string) ([]model.Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error

	// InsertMessage assigns ID and Timestamp and persists msg.
	InsertMessage(ctx context.Context, msg model.Message) (model.Message, error)
	// ListMessages returns a conversation's messages in commit order.
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	// MarkRead flips read on every message not sent by readerID, up to and
	// including message upTo, and returns how many changed. An empty upTo
	// covers the whole conversation.
	MarkRead(ctx context.Context, conversationID, readerID, upTo string) (int, error)
}

// Counters tracks unread messages per user and conversation.
type Counters interface {
	Increment(ctx context.Context, userID, conversationID string) error
	Reset(ctx context.Context, userID, conversationID string) error
	Counts(ctx context.Context, userID string) (map[string]int64, error)
}
