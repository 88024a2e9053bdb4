package chat

import (
	"time"

	"tradiehub/internal/participant"
)

// ---------------------------------------------
// 🗄️ Store & API Models
// ---------------------------------------------

// Thread is the single conversation between an unordered pair of participants.
type Thread struct {
	ThreadID           string                  `json:"thread_id"`
	ParticipantA       participant.Participant `json:"participant_a"`
	ParticipantB       participant.Participant `json:"participant_b"`
	LastMessagePreview string                  `json:"last_message_preview"`
	LastMessageAt      time.Time               `json:"last_message_at"`
	MessageCount       int64                   `json:"message_count"`
	IsActive           bool                    `json:"is_active"`
	CreatedAt          time.Time               `json:"created_at"`
}

// OtherParticipant returns the member of the thread that is not self.
func (t *Thread) OtherParticipant(self participant.Participant) (participant.Participant, error) {
	switch self {
	case t.ParticipantA:
		return t.ParticipantB, nil
	case t.ParticipantB:
		return t.ParticipantA, nil
	}
	return participant.Participant{}, ErrNotParticipant
}

func (t *Thread) Has(p participant.Participant) bool {
	return t.ParticipantA == p || t.ParticipantB == p
}

// ReplyTo is a snapshot of the quoted message, copied at send time.
type ReplyTo struct {
	MessageID  string `json:"message_id"`
	SenderName string `json:"sender_name,omitempty"`
	Content    string `json:"content,omitempty"`
}

type Message struct {
	ThreadID  string                  `json:"thread_id"`
	MessageID string                  `json:"message_id"`
	Seq       int64                   `json:"seq"`
	Sender    participant.Participant `json:"sender"`
	Receiver  participant.Participant `json:"receiver"`
	Content   string                  `json:"content"`
	SentAt    time.Time               `json:"sent_at"`
	Read      bool                    `json:"read"`
	ReplyTo   *ReplyTo                `json:"reply_to,omitempty"`
}

// MessageRef is what AppendMessage reports back. MirrorErr is set when the
// relational mirror could not be written; the message was still delivered.
type MessageRef struct {
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
	Seq       int64  `json:"-"`
	MirrorErr error  `json:"-"`
}

// ChatSummary is one entry of a participant's chat list, read from the mirror.
type ChatSummary struct {
	ThreadID         string                  `json:"thread_id"`
	OtherParticipant participant.Participant `json:"other_participant"`
	LastMessage      string                  `json:"last_message"`
	LastMessageAt    *time.Time              `json:"last_message_at"`
	UnreadCount      int64                   `json:"unread_count"`
}

type ChatStats struct {
	TotalChats            int64 `json:"total_chats"`
	TotalMessagesSent     int64 `json:"total_messages_sent"`
	TotalMessagesReceived int64 `json:"total_messages_received"`
	UnreadMessages        int64 `json:"unread_messages"`
	ActiveChatsToday      int64 `json:"active_chats_today"`
}

// SearchQuery filters a participant's mirrored messages by text. ThreadID
// narrows the search to one thread when set.
type SearchQuery struct {
	Text     string
	ThreadID string
	Offset   int64
	Limit    int64
}

// ---------------------------------------------
// 📨 Inbound DTOs
// ---------------------------------------------

type SendMessageRequest struct {
	Receiver participant.Participant `json:"receiver"`
	Message  string                  `json:"message"`
	ReplyTo  *ReplyTo                `json:"reply_to,omitempty"`
}

type SendMessageResponse struct {
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
}

type CreateRoomRequest struct {
	TradieID    int64 `json:"tradie_id"`
	HomeownerID int64 `json:"homeowner_id"`
}

type CreateRoomResponse struct {
	ThreadID string `json:"thread_id"`
}

type BlockRequest struct {
	Blocked participant.Participant `json:"blocked"`
}

// ---------------------------------------------
// ⚡ Internal Hub Models
// ---------------------------------------------

// MessageEvent is published on Redis after a message is appended and fanned
// out to the websocket clients of both participants.
type MessageEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message"`
}

// WSMessage is the JSON a connected client sends to post a message.
// The sender is taken from the authenticated connection.
type WSMessage struct {
	Receiver participant.Participant `json:"receiver"`
	Content  string                  `json:"content"`
	ReplyTo  *ReplyTo                `json:"reply_to,omitempty"`
}
