package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"tradiehub/internal/participant"
)

// MirrorRow is one message held by MemoryMirror.
type MirrorRow struct {
	ChatID  int64
	Message Message
}

// MirrorChat is one chat row held by MemoryMirror.
type MirrorChat struct {
	ID            int64
	Thread        Thread
	LastMessage   string
	LastSender    string
	LastSeq       int64
	LastMessageAt time.Time
	Active        bool
}

// MemoryMirror implements Mirror in process memory. It backs --memory mode
// and tests. Fail, when set, is consulted with the method name before every
// call.
type MemoryMirror struct {
	mu     sync.Mutex
	nextID int64
	chats  map[string]*MirrorChat
	rows   map[string][]MirrorRow
	Fail   func(method string) error
}

func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{chats: make(map[string]*MirrorChat), rows: make(map[string][]MirrorRow)}
}

var _ Mirror = (*MemoryMirror)(nil)

func (m *MemoryMirror) fail(method string) error {
	if m.Fail == nil {
		return nil
	}
	return m.Fail(method)
}

func (m *MemoryMirror) EnsureChat(ctx context.Context, t *Thread) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("EnsureChat"); err != nil {
		return 0, err
	}
	if c, ok := m.chats[t.ThreadID]; ok {
		return c.ID, nil
	}
	m.nextID++
	m.chats[t.ThreadID] = &MirrorChat{ID: m.nextID, Thread: *t, Active: t.IsActive}
	return m.nextID, nil
}

func (m *MemoryMirror) InsertMessage(ctx context.Context, chatID int64, msg *Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertMessage"); err != nil {
		return false, err
	}
	for _, r := range m.rows[msg.ThreadID] {
		if r.Message.MessageID == msg.MessageID {
			return false, nil
		}
	}
	m.rows[msg.ThreadID] = append(m.rows[msg.ThreadID], MirrorRow{ChatID: chatID, Message: *msg})
	return true, nil
}

func (m *MemoryMirror) UpdateLastMessage(ctx context.Context, chatID int64, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateLastMessage"); err != nil {
		return err
	}
	for _, c := range m.chats {
		newer := msg.SentAt.After(c.LastMessageAt) ||
			(msg.SentAt.Equal(c.LastMessageAt) && msg.Seq >= c.LastSeq)
		if c.ID == chatID && newer {
			c.LastMessage = msg.Content
			c.LastSender = msg.Sender.Key()
			c.LastSeq = msg.Seq
			c.LastMessageAt = msg.SentAt
		}
	}
	return nil
}

func (m *MemoryMirror) MarkRead(ctx context.Context, threadID string, reader participant.Participant) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("MarkRead"); err != nil {
		return 0, err
	}
	var n int64
	for i := range m.rows[threadID] {
		r := &m.rows[threadID][i]
		if r.Message.Receiver == reader && !r.Message.Read {
			r.Message.Read = true
			n++
		}
	}
	return n, nil
}

func (m *MemoryMirror) SetActive(ctx context.Context, threadID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("SetActive"); err != nil {
		return err
	}
	if c, ok := m.chats[threadID]; ok {
		c.Active = active
	}
	return nil
}

func (m *MemoryMirror) MessageIDs(ctx context.Context, threadID string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("MessageIDs"); err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(m.rows[threadID]))
	for _, r := range m.rows[threadID] {
		ids[r.Message.MessageID] = struct{}{}
	}
	return ids, nil
}

func (m *MemoryMirror) unread(threadID string, p participant.Participant) int64 {
	var n int64
	for _, r := range m.rows[threadID] {
		if r.Message.Receiver == p && !r.Message.Read {
			n++
		}
	}
	return n
}

func (m *MemoryMirror) ListChats(ctx context.Context, p participant.Participant) ([]*ChatSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListChats"); err != nil {
		return nil, err
	}

	var chats []*MirrorChat
	for _, c := range m.chats {
		if c.Active && c.Thread.Has(p) {
			chats = append(chats, c)
		}
	}
	sort.Slice(chats, func(i, j int) bool {
		if !chats[i].LastMessageAt.Equal(chats[j].LastMessageAt) {
			return chats[i].LastMessageAt.After(chats[j].LastMessageAt)
		}
		return chats[i].ID > chats[j].ID
	})

	out := make([]*ChatSummary, 0, len(chats))
	for _, c := range chats {
		other, err := c.Thread.OtherParticipant(p)
		if err != nil {
			return nil, err
		}
		s := &ChatSummary{
			ThreadID:         c.Thread.ThreadID,
			OtherParticipant: other,
			LastMessage:      c.LastMessage,
			UnreadCount:      m.unread(c.Thread.ThreadID, p),
		}
		if !c.LastMessageAt.IsZero() {
			at := c.LastMessageAt
			s.LastMessageAt = &at
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *MemoryMirror) Stats(ctx context.Context, p participant.Participant, since time.Time) (*ChatStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("Stats"); err != nil {
		return nil, err
	}

	st := &ChatStats{}
	for _, c := range m.chats {
		if !c.Active || !c.Thread.Has(p) {
			continue
		}
		st.TotalChats++
		if !c.LastMessageAt.IsZero() && !c.LastMessageAt.Before(since) {
			st.ActiveChatsToday++
		}
	}
	for _, rows := range m.rows {
		for _, r := range rows {
			switch {
			case r.Message.Sender == p:
				st.TotalMessagesSent++
			case r.Message.Receiver == p:
				st.TotalMessagesReceived++
				if !r.Message.Read {
					st.UnreadMessages++
				}
			}
		}
	}
	return st, nil
}

func (m *MemoryMirror) SearchMessages(ctx context.Context, p participant.Participant, q SearchQuery) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("SearchMessages"); err != nil {
		return nil, err
	}

	text := strings.ToLower(q.Text)
	var found []*Message
	for threadID, rows := range m.rows {
		if q.ThreadID != "" && threadID != q.ThreadID {
			continue
		}
		for _, r := range rows {
			if r.Message.Sender != p && r.Message.Receiver != p {
				continue
			}
			if strings.Contains(strings.ToLower(r.Message.Content), text) {
				msg := r.Message
				found = append(found, &msg)
			}
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if !found[i].SentAt.Equal(found[j].SentAt) {
			return found[i].SentAt.After(found[j].SentAt)
		}
		if found[i].ThreadID != found[j].ThreadID {
			return found[i].ThreadID < found[j].ThreadID
		}
		return found[i].Seq > found[j].Seq
	})

	if q.Offset >= int64(len(found)) {
		return []*Message{}, nil
	}
	found = found[q.Offset:]
	if q.Limit > 0 && int64(len(found)) > q.Limit {
		found = found[:q.Limit]
	}
	return found, nil
}

// Rows returns a copy of the mirrored messages of a thread in insert order.
func (m *MemoryMirror) Rows(threadID string) []MirrorRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MirrorRow(nil), m.rows[threadID]...)
}

// Chat returns a copy of the mirrored chat row, if any.
func (m *MemoryMirror) Chat(threadID string) (MirrorChat, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[threadID]
	if !ok {
		return MirrorChat{}, false
	}
	return *c, true
}

// ChatCount reports how many chat rows exist.
func (m *MemoryMirror) ChatCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chats)
}
