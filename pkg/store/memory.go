package store

import (
	"context"
	"sync"
	"time"

	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/snowflake"
)

// Memory keeps everything in process. It backs tests and single-node dev runs.
type Memory struct {
	mu            sync.RWMutex
	node          *snowflake.Node
	now           func() time.Time
	conversations map[string]model.Conversation
	byKey         map[string]string
	byUser        map[string]map[string]struct{}
	messages      map[string][]model.Message
}

func NewMemory(node *snowflake.Node) *Memory {
	return &Memory{
		node:          node,
		now:           time.Now,
		conversations: make(map[string]model.Conversation),
		byKey:         make(map[string]string),
		byUser:        make(map[string]map[string]struct{}),
		messages:      make(map[string][]model.Message),
	}
}

func (m *Memory) CreateConversation(_ context.Context, conv model.Conversation) (model.Conversation, bool, error) {
	conv.Participants = model.NormalizeParticipants(conv.Participants)
	key := model.ParticipantKey(conv.Participants)

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byKey[key]; ok {
		return cloneConversation(m.conversations[id]), false, nil
	}

	now := m.now().UTC()
	conv.ID = m.node.GenerateString()
	conv.CreatedAt = now
	conv.LastMessageAt = now
	m.conversations[conv.ID] = conv
	m.byKey[key] = conv.ID
	for _, p := range conv.Participants {
		if m.byUser[p] == nil {
			m.byUser[p] = make(map[string]struct{})
		}
		m.byUser[p][conv.ID] = struct{}{}
	}
	return cloneConversation(conv), true, nil
}

func (m *Memory) GetConversation(_ context.Context, id string) (model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok {
		return model.Conversation{}, ErrNotFound
	}
	return cloneConversation(c), nil
}

func (m *Memory) ListUserConversations(_ context.Context, userID string) ([]model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Conversation, 0, len(m.byUser[userID]))
	for id := range m.byUser[userID] {
		out = append(out, cloneConversation(m.conversations[id]))
	}
	return out, nil
}

func (m *Memory) TouchConversation(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	if at.After(c.LastMessageAt) {
		c.LastMessageAt = at
		m.conversations[id] = c
	}
	return nil
}

func (m *Memory) InsertMessage(_ context.Context, msg model.Message) (model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[msg.ConversationID]; !ok {
		return model.Message{}, ErrNotFound
	}

	ts := m.now().UTC()
	list := m.messages[msg.ConversationID]
	if n := len(list); n > 0 && ts.Before(list[n-1].Timestamp) {
		ts = list[n-1].Timestamp
	}
	msg.ID = m.node.GenerateString()
	msg.Timestamp = ts
	msg.Read = false
	m.messages[msg.ConversationID] = append(list, msg)
	return msg, nil
}

func (m *Memory) ListMessages(_ context.Context, conversationID string) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.messages[conversationID]
	out := make([]model.Message, len(list))
	copy(out, list)
	return out, nil
}

func (m *Memory) MarkRead(_ context.Context, conversationID, readerID, upTo string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.messages[conversationID]
	n := 0
	for i := range list {
		if list[i].SenderID != readerID && !list[i].Read {
			list[i].Read = true
			n++
		}
		if list[i].ID == upTo {
			break
		}
	}
	return n, nil
}

func cloneConversation(c model.Conversation) model.Conversation {
	c.Participants = append([]string(nil), c.Participants...)
	return c
}

// MemoryCounters is the in-process Counters implementation.
type MemoryCounters struct {
	mu     sync.Mutex
	counts map[string]map[string]int64
}

func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{counts: make(map[string]map[string]int64)}
}

func (c *MemoryCounters) Increment(_ context.Context, userID, conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts[userID] == nil {
		c.counts[userID] = make(map[string]int64)
	}
	c.counts[userID][conversationID]++
	return nil
}

func (c *MemoryCounters) Reset(_ context.Context, userID, conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts[userID], conversationID)
	return nil
}

func (c *MemoryCounters) Counts(_ context.Context, userID string) (map[string]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.counts[userID]))
	for k, v := range c.counts[userID] {
		out[k] = v
	}
	return out, nil
}
