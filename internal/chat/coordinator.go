package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"tradiehub/internal/apperr"
	"tradiehub/internal/db"
	"tradiehub/internal/keylock"
	"tradiehub/internal/logger"
	"tradiehub/internal/metrics"
	"tradiehub/internal/participant"
	"tradiehub/internal/realtime"
)

// Mirror is the relational copy of threads and messages. Every write is
// idempotent so that live traffic and reconciliation can overlap.
type Mirror interface {
	// EnsureChat finds or creates the chat row for the thread and returns its id.
	EnsureChat(ctx context.Context, t *Thread) (int64, error)
	// InsertMessage inserts the message unless it is already mirrored and
	// reports whether a row was added.
	InsertMessage(ctx context.Context, chatID int64, m *Message) (bool, error)
	UpdateLastMessage(ctx context.Context, chatID int64, m *Message) error
	// MarkRead flags every unread message addressed to reader.
	MarkRead(ctx context.Context, threadID string, reader participant.Participant) (int64, error)
	SetActive(ctx context.Context, threadID string, active bool) error
	// MessageIDs lists the external message ids already mirrored for a thread.
	MessageIDs(ctx context.Context, threadID string) (map[string]struct{}, error)

	// ListChats returns p's active chats, most recent first, with p's unread counts.
	ListChats(ctx context.Context, p participant.Participant) ([]*ChatSummary, error)
	// Stats counts p's chats and messages. Chats with a message at or after
	// since are counted as active today.
	Stats(ctx context.Context, p participant.Participant, since time.Time) (*ChatStats, error)
	// SearchMessages returns messages sent or received by p containing q.Text,
	// newest first.
	SearchMessages(ctx context.Context, p participant.Participant, q SearchQuery) ([]*Message, error)
}

// ReconcileQueue schedules a later mirror backfill for a thread.
type ReconcileQueue interface {
	EnqueueReconcile(ctx context.Context, threadID string) error
}

// Publisher fans an appended message out to live listeners.
type Publisher interface {
	PublishMessage(ctx context.Context, m *Message) error
}

// Mirror stages, used in PartialSyncError and metrics labels.
const (
	StageEnsureChat        = "ensure_chat"
	StageInsertMessage     = "insert_message"
	StageUpdateLastMessage = "update_last_message"
	StageMarkRead          = "mark_read"
)

// Real-time stages, used when an append ends with ErrDeliveryUnknown.
const (
	StageRealtimeMessage = "realtime_message"
	StageRealtimeSummary = "realtime_summary"
)

type CoordinatorOptions struct {
	RealtimeTimeout time.Duration
	MirrorTimeout   time.Duration
	PageSize        int
}

// Coordinator writes messages to the real-time store first and mirrors them
// into the relational store second. Only the real-time write decides whether
// a send succeeded.
type Coordinator struct {
	store     realtime.Store
	registry  *Registry
	mirror    Mirror
	alloc     *IdentityAllocator
	locks     *keylock.Locker
	opts      CoordinatorOptions
	queue     ReconcileQueue
	publisher Publisher
	now       func() time.Time
}

func NewCoordinator(store realtime.Store, registry *Registry, mirror Mirror, locks *keylock.Locker, opts CoordinatorOptions) *Coordinator {
	if opts.PageSize <= 0 {
		opts.PageSize = 200
	}
	return &Coordinator{
		store:    store,
		registry: registry,
		mirror:   mirror,
		alloc:    NewIdentityAllocator(store),
		locks:    locks,
		opts:     opts,
		now:      time.Now,
	}
}

// SetReconcileQueue installs the queue partial-sync failures are sent to.
func (c *Coordinator) SetReconcileQueue(q ReconcileQueue) { c.queue = q }

func (c *Coordinator) SetPublisher(p Publisher) { c.publisher = p }

// AppendMessage allocates the next message id, writes the message and the
// thread summary to the real-time store, then mirrors both. Appends to one
// thread are serialized.
//
// A failed or timed-out real-time write returns ErrDeliveryUnknown and queues
// the thread for reconciliation, since the message may have landed. A failed
// mirror write does not fail the call; it is reported in MessageRef.MirrorErr
// and queued for reconciliation.
func (c *Coordinator) AppendMessage(ctx context.Context, threadID string, sender, receiver participant.Participant, content string, replyTo *ReplyTo) (MessageRef, error) {
	if err := validatePair(sender, receiver); err != nil {
		return MessageRef{}, err
	}
	if content == "" {
		return MessageRef{}, ErrEmptyMessage
	}

	unlock, err := c.locks.Lock(ctx, "thread:"+threadID)
	if err != nil {
		return MessageRef{}, fmt.Errorf("lock thread %s: %w: %w", threadID, apperr.ErrStoreUnavailable, err)
	}
	defer unlock()

	thread, err := c.registry.Get(ctx, threadID)
	if err != nil {
		return MessageRef{}, err
	}
	if !thread.Has(sender) || !thread.Has(receiver) {
		return MessageRef{}, ErrNotParticipant
	}

	msg := &Message{
		ThreadID: threadID,
		Sender:   sender,
		Receiver: receiver,
		Content:  content,
		ReplyTo:  replyTo,
	}
	if err := c.writeMessage(ctx, msg); err != nil {
		if errors.Is(err, ErrDeliveryUnknown) {
			c.reportDeliveryUnknown(ctx, msg, StageRealtimeMessage, err)
		}
		return MessageRef{}, err
	}
	ref := MessageRef{ThreadID: threadID, MessageID: msg.MessageID, Seq: msg.Seq}

	if err := c.writeThreadSummary(ctx, msg); err != nil {
		c.reportDeliveryUnknown(ctx, msg, StageRealtimeSummary, err)
		return ref, err
	}
	metrics.MessagesAppended.Inc()
	logger.Debug("message appended", "thread_id", threadID, "message_id", msg.MessageID, "sender", sender.String())

	if pse := c.mirrorMessage(ctx, thread, msg); pse != nil {
		c.reportPartialSync(ctx, pse)
		ref.MirrorErr = pse
	}

	if c.publisher != nil {
		if err := c.publisher.PublishMessage(ctx, msg); err != nil {
			logger.Warn("publish message failed", "event", "publish_failed",
				"thread_id", threadID, "message_id", msg.MessageID, "error", err)
		}
	}
	return ref, nil
}

// writeMessage allocates an id and creates the message node if absent. A node
// already sitting at the allocated id means the counter was reset, so the
// allocator is asked again.
func (c *Coordinator) writeMessage(ctx context.Context, msg *Message) error {
	err := db.WithRetries(func() error {
		cctx, cancel := withTimeout(ctx, c.opts.RealtimeTimeout)
		id, seq, err := c.alloc.NextMessageID(cctx, msg.ThreadID)
		cancel()
		if err != nil {
			return err
		}
		msg.MessageID, msg.Seq, msg.SentAt = id, seq, c.now().UTC().Truncate(time.Millisecond)

		cctx, cancel = withTimeout(ctx, c.opts.RealtimeTimeout)
		created, err := c.store.SetIfAbsent(cctx, messagePath(msg.ThreadID, id), encodeMessage(msg))
		cancel()
		if err != nil {
			return fmt.Errorf("write message %s/%s: %w: %w", msg.ThreadID, id, ErrDeliveryUnknown, err)
		}
		if !created {
			logger.Warn("message id already taken", "event", "message_id_collision",
				"thread_id", msg.ThreadID, "message_id", id)
			return errMessageIDTaken
		}
		return nil
	}, db.DefaultMaxRetries, func(err error) bool { return errors.Is(err, errMessageIDTaken) })
	if err != nil && errors.Is(err, errMessageIDTaken) {
		return fmt.Errorf("allocate message id for %s: %w", msg.ThreadID, err)
	}
	return err
}

func (c *Coordinator) writeThreadSummary(ctx context.Context, msg *Message) error {
	cctx, cancel := withTimeout(ctx, c.opts.RealtimeTimeout)
	defer cancel()

	err := c.store.Update(cctx, threadPath(msg.ThreadID), realtime.Node{
		"last_message":      msg.Content,
		"last_sender":       msg.Sender.Key(),
		"last_message_id":   msg.MessageID,
		"last_message_time": millis(msg.SentAt),
		"updated_at":        realtime.ServerTimestamp,
	})
	if err == nil {
		_, err = c.store.Increment(cctx, threadPath(msg.ThreadID), "message_count", 1)
	}
	if err != nil {
		return fmt.Errorf("update thread %s summary: %w: %w", msg.ThreadID, ErrDeliveryUnknown, err)
	}
	return nil
}

func (c *Coordinator) mirrorMessage(ctx context.Context, thread *Thread, msg *Message) *PartialSyncError {
	mctx, cancel := withTimeout(ctx, c.opts.MirrorTimeout)
	defer cancel()

	fail := func(stage string, err error) *PartialSyncError {
		return &PartialSyncError{ThreadID: msg.ThreadID, MessageID: msg.MessageID, Sender: msg.Sender, Stage: stage, Err: err}
	}

	chatID, err := c.mirror.EnsureChat(mctx, thread)
	if err != nil {
		return fail(StageEnsureChat, err)
	}
	if _, err := c.mirror.InsertMessage(mctx, chatID, msg); err != nil {
		return fail(StageInsertMessage, err)
	}
	if err := c.mirror.UpdateLastMessage(mctx, chatID, msg); err != nil {
		return fail(StageUpdateLastMessage, err)
	}
	return nil
}

func (c *Coordinator) reportPartialSync(ctx context.Context, pse *PartialSyncError) {
	logger.Error("relational mirror write failed",
		"event", "partial_sync_failure",
		"thread_id", pse.ThreadID,
		"message_id", pse.MessageID,
		"sender", pse.Sender.String(),
		"stage", pse.Stage,
		"error", pse.Err,
	)
	metrics.MirrorFailures.WithLabelValues(pse.Stage).Inc()
	c.enqueueReconcile(ctx, pse.ThreadID)
}

// reportDeliveryUnknown handles a real-time write that failed after an id was
// allocated. The node may exist, so the thread is queued for reconciliation.
func (c *Coordinator) reportDeliveryUnknown(ctx context.Context, msg *Message, stage string, err error) {
	logger.Error("real-time write outcome unknown",
		"event", "delivery_unknown",
		"thread_id", msg.ThreadID,
		"message_id", msg.MessageID,
		"sender", msg.Sender.String(),
		"stage", stage,
		"error", err,
	)
	metrics.DeliveryUnknown.WithLabelValues(stage).Inc()
	c.enqueueReconcile(ctx, msg.ThreadID)
}

func (c *Coordinator) enqueueReconcile(ctx context.Context, threadID string) {
	if c.queue == nil {
		return
	}
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := c.queue.EnqueueReconcile(qctx, threadID); err != nil {
		logger.Error("enqueue reconcile failed", "event", "reconcile_enqueue_failed",
			"thread_id", threadID, "error", err)
	}
}

// MarkAsRead flips read on every unread message addressed to reader and
// returns how many it flipped. Only the read fields are written.
func (c *Coordinator) MarkAsRead(ctx context.Context, threadID string, reader participant.Participant) (int, error) {
	thread, err := c.registry.Get(ctx, threadID)
	if err != nil {
		return 0, err
	}
	if !thread.Has(reader) {
		return 0, ErrNotParticipant
	}

	marked := 0
	err = c.eachMessage(ctx, threadID, func(path string, m *Message) error {
		if m.Read || !addressedTo(m, reader) {
			return nil
		}
		cctx, cancel := withTimeout(ctx, c.opts.RealtimeTimeout)
		defer cancel()
		if err := c.store.Update(cctx, path, realtime.Node{
			"read":    "true",
			"read_at": realtime.ServerTimestamp,
		}); err != nil {
			return fmt.Errorf("mark %s read: %w", path, err)
		}
		marked++
		return nil
	})
	if err != nil {
		return marked, err
	}

	mctx, cancel := withTimeout(ctx, c.opts.MirrorTimeout)
	defer cancel()
	if _, err := c.mirror.MarkRead(mctx, threadID, reader); err != nil {
		logger.Error("relational mirror write failed",
			"event", "partial_sync_failure",
			"thread_id", threadID,
			"reader", reader.String(),
			"stage", StageMarkRead,
			"error", err,
		)
		metrics.MirrorFailures.WithLabelValues(StageMarkRead).Inc()
	}
	return marked, nil
}

// addressedTo falls back to "not sent by reader" for messages written
// before receivers were recorded.
func addressedTo(m *Message, reader participant.Participant) bool {
	if m.Receiver.IsZero() {
		return m.Sender != reader
	}
	return m.Receiver == reader
}

// ReconcileFromRealtimeStore inserts every real-time message missing from
// the mirror and returns how many rows it added. It never updates or deletes
// mirrored messages, so it can run repeatedly alongside live traffic.
func (c *Coordinator) ReconcileFromRealtimeStore(ctx context.Context, threadID string) (int, error) {
	thread, err := c.registry.Get(ctx, threadID)
	if err != nil {
		return 0, err
	}

	chatID, err := c.mirror.EnsureChat(ctx, thread)
	if err != nil {
		return 0, fmt.Errorf("reconcile %s: ensure chat: %w", threadID, err)
	}
	mirrored, err := c.mirror.MessageIDs(ctx, threadID)
	if err != nil {
		return 0, fmt.Errorf("reconcile %s: list mirrored messages: %w", threadID, err)
	}

	inserted := 0
	var last *Message
	err = c.eachMessage(ctx, threadID, func(_ string, m *Message) error {
		if last == nil || m.Seq > last.Seq {
			last = m
		}
		if _, ok := mirrored[m.MessageID]; ok {
			return nil
		}
		added, err := c.mirror.InsertMessage(ctx, chatID, m)
		if err != nil {
			return fmt.Errorf("insert message %s: %w", m.MessageID, err)
		}
		if added {
			inserted++
		}
		return nil
	})
	if err != nil {
		return inserted, fmt.Errorf("reconcile %s: %w", threadID, err)
	}

	if inserted > 0 && last != nil {
		if err := c.mirror.UpdateLastMessage(ctx, chatID, last); err != nil {
			return inserted, fmt.Errorf("reconcile %s: update last message: %w", threadID, err)
		}
	}
	metrics.ReconciledMessages.Add(float64(inserted))
	logger.Info("thread reconciled", "event", "reconcile_done", "thread_id", threadID, "inserted", inserted)
	return inserted, nil
}

// Messages returns up to limit messages of a thread in send order, starting at offset.
func (c *Coordinator) Messages(ctx context.Context, threadID string, offset, limit int64) ([]*Message, error) {
	if _, err := c.registry.Get(ctx, threadID); err != nil {
		return nil, err
	}
	cctx, cancel := withTimeout(ctx, c.opts.RealtimeTimeout)
	ids, err := c.store.Children(cctx, messagesPath(threadID), offset, limit)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", threadID, err)
	}

	out := make([]*Message, 0, len(ids))
	for _, id := range ids {
		m, err := c.readMessage(ctx, threadID, id)
		if errors.Is(err, realtime.ErrNodeNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *Coordinator) readMessage(ctx context.Context, threadID, name string) (*Message, error) {
	cctx, cancel := withTimeout(ctx, c.opts.RealtimeTimeout)
	defer cancel()
	n, err := c.store.Get(cctx, messagePath(threadID, name))
	if err != nil {
		if errors.Is(err, realtime.ErrNodeNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("read message %s/%s: %w", threadID, name, err)
	}
	return decodeMessage(threadID, name, n)
}

// eachMessage walks every message of a thread page by page.
func (c *Coordinator) eachMessage(ctx context.Context, threadID string, fn func(path string, m *Message) error) error {
	page := int64(c.opts.PageSize)
	for offset := int64(0); ; offset += page {
		cctx, cancel := withTimeout(ctx, c.opts.RealtimeTimeout)
		ids, err := c.store.Children(cctx, messagesPath(threadID), offset, page)
		cancel()
		if err != nil {
			return fmt.Errorf("list messages of %s: %w", threadID, err)
		}
		for _, id := range ids {
			m, err := c.readMessage(ctx, threadID, id)
			if errors.Is(err, realtime.ErrNodeNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := fn(messagePath(threadID, id), m); err != nil {
				return err
			}
		}
		if int64(len(ids)) < page {
			return nil
		}
	}
}

func encodeMessage(m *Message) realtime.Node {
	n := realtime.Node{
		"message_id":    m.MessageID,
		"seq":           strconv.FormatInt(m.Seq, 10),
		"sender":        m.Sender.Key(),
		"receiver":      m.Receiver.Key(),
		"sender_id":     strconv.FormatInt(m.Sender.ID, 10),
		"sender_type":   string(m.Sender.Kind),
		"receiver_id":   strconv.FormatInt(m.Receiver.ID, 10),
		"receiver_type": string(m.Receiver.Kind),
		"content":       m.Content,
		"date":          millis(m.SentAt),
		"read":          "false",
	}
	if m.ReplyTo != nil {
		n["reply_to_message_id"] = m.ReplyTo.MessageID
		n["reply_to_sender_name"] = m.ReplyTo.SenderName
		n["reply_to_content"] = m.ReplyTo.Content
	}
	return n
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// decodeMessage reads a message node. Older nodes are keyed "msg_<n>" and
// carry only sender_id/sender_type.
func decodeMessage(threadID, name string, n realtime.Node) (*Message, error) {
	m := &Message{
		ThreadID:  threadID,
		MessageID: n["message_id"],
		Seq:       n.Int("seq"),
		Content:   n["content"],
		SentAt:    n.Time("date"),
		Read:      n.Bool("read"),
	}
	if m.MessageID == "" {
		m.MessageID = name
	}
	if m.Seq == 0 {
		m.Seq, _ = strconv.ParseInt(m.MessageID, 10, 64)
	}

	var err error
	if m.Sender, err = nodeParticipant(n, "sender"); err != nil {
		return nil, fmt.Errorf("decode message %s/%s: %w", threadID, name, err)
	}
	if m.Receiver, err = nodeParticipant(n, "receiver"); err != nil {
		if n["receiver"] != "" {
			return nil, fmt.Errorf("decode message %s/%s: %w", threadID, name, err)
		}
		m.Receiver = participant.Participant{}
	}

	if id := n["reply_to_message_id"]; id != "" {
		m.ReplyTo = &ReplyTo{
			MessageID:  id,
			SenderName: n["reply_to_sender_name"],
			Content:    n["reply_to_content"],
		}
	}
	return m, nil
}

func nodeParticipant(n realtime.Node, role string) (participant.Participant, error) {
	if key := n[role]; key != "" {
		return participant.ParseKey(key)
	}
	id, err := strconv.ParseInt(n[role+"_id"], 10, 64)
	if err != nil {
		return participant.Participant{}, fmt.Errorf("missing %s", role)
	}
	p := participant.Participant{Kind: participant.Kind(n[role+"_type"]), ID: id}
	return p, p.Validate()
}
