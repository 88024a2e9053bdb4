package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tradiehub/internal/participant"
)

// Repository is the PostgreSQL mirror of threads and messages.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Mirror = (*Repository)(nil)

func (r *Repository) EnsureChat(ctx context.Context, t *Thread) (int64, error) {
	query := `
		INSERT INTO chats (external_thread_id, participant_1_type, participant_1_id,
		                   participant_2_type, participant_2_id, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (external_thread_id) DO UPDATE SET external_thread_id = EXCLUDED.external_thread_id
		RETURNING id
	`
	var id int64
	err := r.db.QueryRowContext(ctx, query,
		t.ThreadID,
		string(t.ParticipantA.Kind), t.ParticipantA.ID,
		string(t.ParticipantB.Kind), t.ParticipantB.ID,
		t.IsActive,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure chat %s: %w", t.ThreadID, err)
	}
	return id, nil
}

func (r *Repository) InsertMessage(ctx context.Context, chatID int64, m *Message) (bool, error) {
	var replyTo any
	if m.ReplyTo != nil {
		b, err := json.Marshal(m.ReplyTo)
		if err != nil {
			return false, fmt.Errorf("encode reply_to: %w", err)
		}
		replyTo = string(b)
	}

	query := `
		INSERT INTO messages (chat_id, external_thread_id, external_message_id, seq,
		                      sender_type, sender_id, receiver_type, receiver_id,
		                      message, reply_to, is_read, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (external_thread_id, external_message_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		chatID, m.ThreadID, m.MessageID, m.Seq,
		string(m.Sender.Kind), m.Sender.ID,
		string(m.Receiver.Kind), m.Receiver.ID,
		m.Content, replyTo, m.Read, m.SentAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert message %s/%s: %w", m.ThreadID, m.MessageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Repository) UpdateLastMessage(ctx context.Context, chatID int64, m *Message) error {
	query := `
		UPDATE chats
		SET last_message = $2, last_sender = $3, last_message_at = $4, updated_at = NOW()
		WHERE id = $1 AND (last_message_at IS NULL OR last_message_at <= $4)
	`
	_, err := r.db.ExecContext(ctx, query, chatID, m.Content, m.Sender.Key(), m.SentAt)
	if err != nil {
		return fmt.Errorf("update chat %d last message: %w", chatID, err)
	}
	return nil
}

func (r *Repository) MarkRead(ctx context.Context, threadID string, reader participant.Participant) (int64, error) {
	query := `
		UPDATE messages
		SET is_read = TRUE, read_at = NOW()
		WHERE external_thread_id = $1 AND receiver_type = $2 AND receiver_id = $3 AND is_read = FALSE
	`
	res, err := r.db.ExecContext(ctx, query, threadID, string(reader.Kind), reader.ID)
	if err != nil {
		return 0, fmt.Errorf("mark chat %s read: %w", threadID, err)
	}
	return res.RowsAffected()
}

func (r *Repository) SetActive(ctx context.Context, threadID string, active bool) error {
	query := "UPDATE chats SET is_active = $2, updated_at = NOW() WHERE external_thread_id = $1"
	_, err := r.db.ExecContext(ctx, query, threadID, active)
	if err != nil {
		return fmt.Errorf("set chat %s active: %w", threadID, err)
	}
	return nil
}

func (r *Repository) MessageIDs(ctx context.Context, threadID string) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT external_message_id FROM messages WHERE external_thread_id = $1", threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// forParticipant matches chats where ($1, $2) is either participant.
const forParticipant = `((c.participant_1_type = $1 AND c.participant_1_id = $2)
	OR (c.participant_2_type = $1 AND c.participant_2_id = $2))`

func (r *Repository) ListChats(ctx context.Context, p participant.Participant) ([]*ChatSummary, error) {
	query := `
		SELECT c.external_thread_id,
		       c.participant_1_type, c.participant_1_id,
		       c.participant_2_type, c.participant_2_id,
		       COALESCE(c.last_message, ''), c.last_message_at,
		       (SELECT COUNT(*) FROM messages m
		         WHERE m.chat_id = c.id AND m.receiver_type = $1 AND m.receiver_id = $2 AND NOT m.is_read)
		FROM chats c
		WHERE c.is_active AND ` + forParticipant + `
		ORDER BY c.last_message_at DESC NULLS LAST, c.id DESC
	`
	rows, err := r.db.QueryContext(ctx, query, string(p.Kind), p.ID)
	if err != nil {
		return nil, fmt.Errorf("list chats of %s: %w", p, err)
	}
	defer rows.Close()

	out := []*ChatSummary{}
	for rows.Next() {
		var (
			s            ChatSummary
			aKind, bKind string
			aID, bID     int64
			at           sql.NullTime
		)
		if err := rows.Scan(&s.ThreadID, &aKind, &aID, &bKind, &bID, &s.LastMessage, &at, &s.UnreadCount); err != nil {
			return nil, err
		}
		t := Thread{
			ParticipantA: participant.Participant{Kind: participant.Kind(aKind), ID: aID},
			ParticipantB: participant.Participant{Kind: participant.Kind(bKind), ID: bID},
		}
		if s.OtherParticipant, err = t.OtherParticipant(p); err != nil {
			return nil, err
		}
		if at.Valid {
			v := at.Time.UTC()
			s.LastMessageAt = &v
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *Repository) Stats(ctx context.Context, p participant.Participant, since time.Time) (*ChatStats, error) {
	query := `
		SELECT
		  (SELECT COUNT(*) FROM chats c WHERE c.is_active AND ` + forParticipant + `),
		  (SELECT COUNT(*) FROM messages WHERE sender_type = $1 AND sender_id = $2),
		  (SELECT COUNT(*) FROM messages WHERE receiver_type = $1 AND receiver_id = $2),
		  (SELECT COUNT(*) FROM messages WHERE receiver_type = $1 AND receiver_id = $2 AND NOT is_read),
		  (SELECT COUNT(*) FROM chats c WHERE c.is_active AND ` + forParticipant + ` AND c.last_message_at >= $3)
	`
	var st ChatStats
	err := r.db.QueryRowContext(ctx, query, string(p.Kind), p.ID, since).Scan(
		&st.TotalChats, &st.TotalMessagesSent, &st.TotalMessagesReceived, &st.UnreadMessages, &st.ActiveChatsToday)
	if err != nil {
		return nil, fmt.Errorf("chat stats of %s: %w", p, err)
	}
	return &st, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *Repository) SearchMessages(ctx context.Context, p participant.Participant, q SearchQuery) ([]*Message, error) {
	query := `
		SELECT external_thread_id, external_message_id, seq,
		       sender_type, sender_id, receiver_type, receiver_id,
		       message, reply_to::text, is_read, sent_at
		FROM messages
		WHERE ((sender_type = $1 AND sender_id = $2) OR (receiver_type = $1 AND receiver_id = $2))
		  AND message ILIKE $3
		  AND ($4::text = '' OR external_thread_id = $4)
		ORDER BY sent_at DESC, external_thread_id, seq DESC
		LIMIT $5 OFFSET $6
	`
	pattern := "%" + likeEscaper.Replace(q.Text) + "%"
	rows, err := r.db.QueryContext(ctx, query, string(p.Kind), p.ID, pattern, q.ThreadID, q.Limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("search messages of %s: %w", p, err)
	}
	defer rows.Close()

	out := []*Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(rows *sql.Rows) (*Message, error) {
	var (
		m                   Message
		senderKind, rcvKind string
		replyTo             sql.NullString
	)
	err := rows.Scan(&m.ThreadID, &m.MessageID, &m.Seq,
		&senderKind, &m.Sender.ID, &rcvKind, &m.Receiver.ID,
		&m.Content, &replyTo, &m.Read, &m.SentAt)
	if err != nil {
		return nil, err
	}
	m.Sender.Kind = participant.Kind(senderKind)
	m.Receiver.Kind = participant.Kind(rcvKind)
	m.SentAt = m.SentAt.UTC()
	if replyTo.Valid {
		m.ReplyTo = &ReplyTo{}
		if err := json.Unmarshal([]byte(replyTo.String), m.ReplyTo); err != nil {
			return nil, fmt.Errorf("decode reply_to of %s/%s: %w", m.ThreadID, m.MessageID, err)
		}
	}
	return &m, nil
}
