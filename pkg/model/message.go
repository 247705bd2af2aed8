package model

import "time"

// Message is a single chat line inside a conversation. Only Read ever
// changes after insert.
type Message struct {
	ID             string    `json:"_id"`
	ConversationID string    `json:"conversation"`
	SenderID       string    `json:"sender"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Read           bool      `json:"read"`
}

// MessageView is a Message with the sender's display fields attached for delivery.
type MessageView struct {
	ID             string      `json:"_id"`
	ConversationID string      `json:"conversation"`
	Sender         UserSummary `json:"sender"`
	Content        string      `json:"content"`
	Timestamp      time.Time   `json:"timestamp"`
	Read           bool        `json:"read"`
}

// NewMessageView attaches sender to m.
func NewMessageView(m Message, sender UserSummary) MessageView {
	if sender.ID == "" {
		sender.ID = m.SenderID
	}
	return MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         sender,
		Content:        m.Content,
		Timestamp:      m.Timestamp,
		Read:           m.Read,
	}
}
