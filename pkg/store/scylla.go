package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/gocql/gocql"

	"github.com/mahaj/chatcore/pkg/db"
	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/snowflake"
)

// Scylla is the ScyllaDB-backed Store. The conversations_by_participants
// lightweight transaction serializes concurrent creates of the same set.
type Scylla struct {
	session *db.Session
	node    *snowflake.Node
}

func NewScylla(session *db.Session, node *snowflake.Node) *Scylla {
	return &Scylla{session: session, node: node}
}

func (s *Scylla) CreateConversation(ctx context.Context, conv model.Conversation) (model.Conversation, bool, error) {
	conv.Participants = model.NormalizeParticipants(conv.Participants)
	key := model.ParticipantKey(conv.Participants)

	now := time.Now().UTC().Truncate(time.Millisecond)
	conv.ID = s.node.GenerateString()
	conv.CreatedAt = now
	conv.LastMessageAt = now

	existing := make(map[string]interface{})
	applied, err := s.session.Query(
		`INSERT INTO conversations_by_participants (participant_key, conversation_id) VALUES (?, ?) IF NOT EXISTS`,
		key, conv.ID,
	).WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		return model.Conversation{}, false, fmt.Errorf("claim participant key: %w", err)
	}

	if !applied {
		id, _ := existing["conversation_id"].(string)
		found, err := s.GetConversation(ctx, id)
		if err == nil {
			return found, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return model.Conversation{}, false, err
		}
		// key claimed by a writer that died before the row landed; finish its work
		conv.ID = id
	}

	if err := s.writeConversation(ctx, conv); err != nil {
		return model.Conversation{}, false, err
	}
	return conv, applied, nil
}

func (s *Scylla) writeConversation(ctx context.Context, conv model.Conversation) error {
	err := s.session.Query(
		`INSERT INTO conversations (id, participants, title, last_message_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.Participants, conv.Title, conv.LastMessageAt, conv.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	b := s.session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	for _, p := range conv.Participants {
		b.Query(`INSERT INTO user_conversations (user_id, conversation_id) VALUES (?, ?)`, p, conv.ID)
	}
	if err := s.session.ExecuteBatch(b); err != nil {
		return fmt.Errorf("register participants: %w", err)
	}
	return nil
}

func (s *Scylla) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	var c model.Conversation
	err := s.session.Query(
		`SELECT id, participants, title, last_message_at, created_at FROM conversations WHERE id = ?`, id,
	).WithContext(ctx).Scan(&c.ID, &c.Participants, &c.Title, &c.LastMessageAt, &c.CreatedAt)
	if errors.Is(err, gocql.ErrNotFound) {
		return model.Conversation{}, ErrNotFound
	}
	if err != nil {
		return model.Conversation{}, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return c, nil
}

func (s *Scylla) ListUserConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	iter := s.session.Query(`SELECT conversation_id FROM user_conversations WHERE user_id = ?`, userID).
		WithContext(ctx).Iter()
	var ids []string
	var id string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list user conversations: %w", err)
	}

	out := make([]model.Conversation, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetConversation(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Scylla) TouchConversation(ctx context.Context, id string, at time.Time) error {
	err := s.session.Query(`UPDATE conversations SET last_message_at = ? WHERE id = ?`, at, id).
		WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("touch conversation %s: %w", id, err)
	}
	return nil
}

func (s *Scylla) InsertMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	id := s.node.Generate()
	msg.ID = strconv.FormatInt(id, 10)
	msg.Timestamp = snowflake.Time(id).UTC()
	msg.Read = false

	err := s.session.Query(
		`INSERT INTO messages (conversation_id, id, sender_id, content, timestamp, read) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ConversationID, id, msg.SenderID, msg.Content, msg.Timestamp, false,
	).WithContext(ctx).Exec()
	if err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (s *Scylla) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	iter := s.session.Query(
		`SELECT id, sender_id, content, timestamp, read FROM messages WHERE conversation_id = ?`, conversationID,
	).WithContext(ctx).Iter()

	var out []model.Message
	var (
		id      int64
		sender  string
		content string
		ts      time.Time
		read    bool
	)
	for iter.Scan(&id, &sender, &content, &ts, &read) {
		out = append(out, model.Message{
			ID:             strconv.FormatInt(id, 10),
			ConversationID: conversationID,
			SenderID:       sender,
			Content:        content,
			Timestamp:      ts,
			Read:           read,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

func (s *Scylla) MarkRead(ctx context.Context, conversationID, readerID, upTo string) (int, error) {
	last := int64(math.MaxInt64)
	if upTo != "" {
		id, err := strconv.ParseInt(upTo, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("mark read up to %q: %w", upTo, err)
		}
		last = id
	}
	iter := s.session.Query(
		`SELECT id, sender_id, read FROM messages WHERE conversation_id = ? AND id <= ?`, conversationID, last,
	).WithContext(ctx).Iter()

	b := s.session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	var (
		id     int64
		sender string
		read   bool
	)
	for iter.Scan(&id, &sender, &read) {
		if read || sender == readerID {
			continue
		}
		b.Query(`UPDATE messages SET read = true WHERE conversation_id = ? AND id = ?`, conversationID, id)
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("scan unread: %w", err)
	}
	n := b.Size()
	if n == 0 {
		return 0, nil
	}
	if err := s.session.ExecuteBatch(b); err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return n, nil
}

// ScyllaCounters keeps unread counts in the conversation_counters table.
type ScyllaCounters struct {
	session *db.Session
}

func NewScyllaCounters(session *db.Session) *ScyllaCounters {
	return &ScyllaCounters{session: session}
}

func (c *ScyllaCounters) Increment(ctx context.Context, userID, conversationID string) error {
	return c.session.Query(
		`UPDATE conversation_counters SET unread_count = unread_count + 1 WHERE user_id = ? AND conversation_id = ?`,
		userID, conversationID,
	).WithContext(ctx).Exec()
}

// Reset deletes the row; counters cannot be set to zero.
func (c *ScyllaCounters) Reset(ctx context.Context, userID, conversationID string) error {
	return c.session.Query(
		`DELETE FROM conversation_counters WHERE user_id = ? AND conversation_id = ?`,
		userID, conversationID,
	).WithContext(ctx).Exec()
}

func (c *ScyllaCounters) Counts(ctx context.Context, userID string) (map[string]int64, error) {
	iter := c.session.Query(
		`SELECT conversation_id, unread_count FROM conversation_counters WHERE user_id = ?`, userID,
	).WithContext(ctx).Iter()
	out := make(map[string]int64)
	var (
		conv  string
		count int64
	)
	for iter.Scan(&conv, &count) {
		out[conv] = count
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}
	return out, nil
}
