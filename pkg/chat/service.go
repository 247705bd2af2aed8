// Package chat implements conversation and message operations on top of a
// Store and the user directory.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/mahaj/chatcore/pkg/directory"
	clog "github.com/mahaj/chatcore/pkg/log"
	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/store"
)

type Service struct {
	store      store.Store
	users      directory.Directory
	maxContent int
}

type Option func(*Service)

// WithMaxContentLength rejects messages longer than n runes. Zero disables the check.
func WithMaxContentLength(n int) Option {
	return func(s *Service) { s.maxContent = n }
}

func NewService(st store.Store, users directory.Directory, opts ...Option) *Service {
	s := &Service{store: st, users: users}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ListConversations returns userID's conversations, most recent activity
// first. A directory failure degrades to id-only participants.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]model.ConversationView, error) {
	convs, err := s.store.ListUserConversations(ctx, userID)
	if err != nil {
		return nil, transient("list conversations", err)
	}
	sortConversations(convs)

	var ids []string
	for _, c := range convs {
		ids = append(ids, c.Participants...)
	}
	users := s.resolve(ctx, model.NormalizeParticipants(ids))

	views := make([]model.ConversationView, 0, len(convs))
	for _, c := range convs {
		views = append(views, model.NewConversationView(c, users, userID))
	}
	return views, nil
}

// ConversationIDs lists the ids of every conversation userID is in.
func (s *Service) ConversationIDs(ctx context.Context, userID string) ([]string, error) {
	convs, err := s.store.ListUserConversations(ctx, userID)
	if err != nil {
		return nil, transient("list conversations", err)
	}
	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// Participants returns the member ids of a conversation.
func (s *Service) Participants(ctx context.Context, conversationID string) ([]string, error) {
	c, err := s.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return c.Participants, nil
}

// GetMessages returns the conversation's messages oldest first and marks
// the returned messages not sent by callerID as read. Messages committed
// after the listing stay unread. A failed read-mark is logged and the
// messages are still returned.
func (s *Service) GetMessages(ctx context.Context, conversationID, callerID string) ([]model.MessageView, error) {
	c, err := s.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(callerID) {
		return nil, ErrAccessDenied
	}

	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, transient("list messages", err)
	}

	if len(msgs) > 0 {
		last := msgs[len(msgs)-1].ID
		if _, err := s.store.MarkRead(ctx, conversationID, callerID, last); err != nil {
			clog.Ctx(ctx).Warn().Err(err).
				Str(clog.FieldConvID, conversationID).
				Str(clog.FieldUserID, callerID).
				Msg("mark messages read failed")
		} else {
			for i := range msgs {
				if msgs[i].SenderID != callerID {
					msgs[i].Read = true
				}
			}
		}
	}

	users := s.resolve(ctx, c.Participants)
	views := make([]model.MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, model.NewMessageView(m, users[m.SenderID]))
	}
	return views, nil
}

// CreateConversation returns the conversation between creatorID and
// participantIDs, creating it unless one with the identical member set
// exists. created is false when an existing conversation is returned.
func (s *Service) CreateConversation(ctx context.Context, creatorID string, participantIDs []string, title string) (view model.ConversationView, created bool, err error) {
	all := model.NormalizeParticipants(append(append([]string(nil), participantIDs...), creatorID))
	if len(all) < 2 {
		return view, false, fmt.Errorf("%w: a conversation needs at least two participants", ErrInvalidParticipants)
	}

	users, err := s.users.GetMany(ctx, all)
	if err != nil {
		return view, false, transient("resolve participants", err)
	}
	if len(users) != len(all) {
		return view, false, ErrInvalidParticipants
	}

	conv, created, err := s.store.CreateConversation(ctx, model.Conversation{
		Participants: all,
		Title:        strings.TrimSpace(title),
	})
	if err != nil {
		return view, false, transient("create conversation", err)
	}
	if created {
		clog.Ctx(ctx).Info().Str(clog.FieldConvID, conv.ID).Strs("participants", all).Msg("conversation created")
	}
	return model.NewConversationView(conv, users, creatorID), created, nil
}

// PostMessage persists content from senderID and bumps the conversation's
// lastMessageAt. The returned message carries the sender's display fields.
func (s *Service) PostMessage(ctx context.Context, conversationID, senderID, content string) (model.MessageView, error) {
	c, err := s.conversation(ctx, conversationID)
	if err != nil {
		return model.MessageView{}, err
	}
	if !c.HasParticipant(senderID) {
		return model.MessageView{}, ErrAccessDenied
	}
	if strings.TrimSpace(content) == "" {
		return model.MessageView{}, ErrInvalidContent
	}
	if s.maxContent > 0 && utf8.RuneCountInString(content) > s.maxContent {
		return model.MessageView{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidContent, s.maxContent)
	}

	msg, err := s.store.InsertMessage(ctx, model.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
	})
	if err != nil {
		return model.MessageView{}, transient("insert message", err)
	}

	// list ordering only; the message itself is already durable
	if err := s.store.TouchConversation(ctx, conversationID, msg.Timestamp); err != nil {
		clog.Ctx(ctx).Warn().Err(err).Str(clog.FieldConvID, conversationID).Msg("update lastMessageAt failed")
	}

	sender, err := s.users.Get(ctx, senderID)
	if err != nil {
		clog.Ctx(ctx).Warn().Err(err).Str(clog.FieldUserID, senderID).Msg("resolve sender failed")
		sender = model.User{ID: senderID}
	}
	return model.NewMessageView(msg, sender), nil
}

// ListUsers returns the directory without the caller.
func (s *Service) ListUsers(ctx context.Context, callerID string) ([]model.User, error) {
	users, err := s.users.ListExcept(ctx, callerID)
	if err != nil {
		return nil, transient("list users", err)
	}
	return users, nil
}

func (s *Service) conversation(ctx context.Context, id string) (model.Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return model.Conversation{}, ErrNotFound
	}
	c, err := s.store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Conversation{}, ErrNotFound
	}
	if err != nil {
		return model.Conversation{}, transient("get conversation", err)
	}
	return c, nil
}

func (s *Service) resolve(ctx context.Context, ids []string) map[string]model.User {
	if len(ids) == 0 {
		return nil
	}
	users, err := s.users.GetMany(ctx, ids)
	if err != nil {
		clog.Ctx(ctx).Warn().Err(err).Int("count", len(ids)).Msg("resolve participants failed")
		return nil
	}
	return users
}

func sortConversations(convs []model.Conversation) {
	sort.Slice(convs, func(i, j int) bool {
		a, b := convs[i], convs[j]
		if !a.LastMessageAt.Equal(b.LastMessageAt) {
			return a.LastMessageAt.After(b.LastMessageAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}
