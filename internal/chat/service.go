package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"tradiehub/internal/apperr"
	"tradiehub/internal/logger"
	"tradiehub/internal/participant"
)

const MaxMessageLength = 5000

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200

	MinSearchLength    = 2
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// Service is what HTTP handlers and websocket clients call. It enforces
// input rules and block lists before anything reaches a store.
type Service struct {
	registry      *Registry
	coordinator   *Coordinator
	mirror        Mirror
	mirrorTimeout time.Duration
}

func NewService(registry *Registry, coordinator *Coordinator, mirror Mirror, mirrorTimeout time.Duration) *Service {
	return &Service{
		registry:      registry,
		coordinator:   coordinator,
		mirror:        mirror,
		mirrorTimeout: mirrorTimeout,
	}
}

func (s *Service) Registry() *Registry { return s.registry }

func (s *Service) Coordinator() *Coordinator { return s.coordinator }

// SendMessage delivers a message from sender to req.Receiver, creating their
// thread on first contact.
func (s *Service) SendMessage(ctx context.Context, sender participant.Participant, req *SendMessageRequest) (*SendMessageResponse, error) {
	content, err := validateSend(sender, req)
	if err != nil {
		return nil, err
	}
	if err := s.checkBlocked(ctx, sender, req.Receiver); err != nil {
		return nil, err
	}

	thread, err := s.registry.FindOrCreate(ctx, sender, req.Receiver)
	if err != nil {
		return nil, err
	}
	if !thread.IsActive {
		return nil, ErrThreadInactive
	}

	ref, err := s.coordinator.AppendMessage(ctx, thread.ThreadID, sender, req.Receiver, content, req.ReplyTo)
	if err != nil {
		return nil, err
	}
	return &SendMessageResponse{ThreadID: ref.ThreadID, MessageID: ref.MessageID}, nil
}

func validateSend(sender participant.Participant, req *SendMessageRequest) (string, error) {
	if err := sender.Validate(); err != nil {
		return "", fmt.Errorf("%w: sender: %v", ErrInvalidParticipant, err)
	}
	if err := req.Receiver.Validate(); err != nil {
		return "", fmt.Errorf("%w: receiver: %v", ErrInvalidParticipant, err)
	}
	if sender == req.Receiver {
		return "", ErrSameParticipant
	}
	content := strings.TrimSpace(req.Message)
	if content == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return "", ErrMessageTooLong
	}
	if req.ReplyTo != nil && req.ReplyTo.MessageID == "" {
		return "", fmt.Errorf("%w: reply_to.message_id is required", apperr.ErrValidation)
	}
	return content, nil
}

// checkBlocked refuses contact when either side has blocked the other.
func (s *Service) checkBlocked(ctx context.Context, a, b participant.Participant) error {
	for _, pair := range [][2]participant.Participant{{b, a}, {a, b}} {
		blocked, err := s.registry.IsBlocked(ctx, pair[0], pair[1])
		if err != nil {
			return err
		}
		if blocked {
			return ErrBlocked
		}
	}
	return nil
}

// CreateRoom opens (or returns) the thread between a tradie and a homeowner.
// The caller must be one of the two.
func (s *Service) CreateRoom(ctx context.Context, caller participant.Participant, req *CreateRoomRequest) (*CreateRoomResponse, error) {
	tradie := participant.NewTradie(req.TradieID)
	homeowner := participant.NewHomeowner(req.HomeownerID)
	if err := validatePair(tradie, homeowner); err != nil {
		return nil, err
	}
	if caller != tradie && caller != homeowner {
		return nil, ErrNotParticipant
	}
	if err := s.checkBlocked(ctx, tradie, homeowner); err != nil {
		return nil, err
	}

	thread, err := s.registry.FindOrCreate(ctx, tradie, homeowner)
	if err != nil {
		return nil, err
	}
	return &CreateRoomResponse{ThreadID: thread.ThreadID}, nil
}

func (s *Service) MarkRead(ctx context.Context, threadID string, reader participant.Participant) (int, error) {
	return s.coordinator.MarkAsRead(ctx, threadID, reader)
}

// History returns a page of a thread's messages to one of its participants.
func (s *Service) History(ctx context.Context, threadID string, reader participant.Participant, offset, limit int64) ([]*Message, error) {
	thread, err := s.registry.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !thread.Has(reader) {
		return nil, ErrNotParticipant
	}
	return s.coordinator.Messages(ctx, threadID, max(offset, 0), clampLimit(limit, DefaultHistoryLimit, MaxHistoryLimit))
}

func clampLimit(limit, def, most int64) int64 {
	if limit <= 0 {
		return def
	}
	return min(limit, most)
}

func mirrorUnavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, apperr.ErrStoreUnavailable, err)
}

// Chats lists the caller's active chats from the relational mirror, most
// recent first.
func (s *Service) Chats(ctx context.Context, p participant.Participant) ([]*ChatSummary, error) {
	mctx, cancel := withTimeout(ctx, s.mirrorTimeout)
	defer cancel()
	chats, err := s.mirror.ListChats(mctx, p)
	if err != nil {
		return nil, mirrorUnavailable("list chats", err)
	}
	return chats, nil
}

// Stats counts the caller's chats and messages. A chat is active today when
// its last message was sent since UTC midnight.
func (s *Service) Stats(ctx context.Context, p participant.Participant) (*ChatStats, error) {
	mctx, cancel := withTimeout(ctx, s.mirrorTimeout)
	defer cancel()
	since := time.Now().UTC().Truncate(24 * time.Hour)
	st, err := s.mirror.Stats(mctx, p, since)
	if err != nil {
		return nil, mirrorUnavailable("chat stats", err)
	}
	return st, nil
}

// Search finds the caller's mirrored messages containing q.Text.
func (s *Service) Search(ctx context.Context, p participant.Participant, q SearchQuery) ([]*Message, error) {
	q.Text = strings.TrimSpace(q.Text)
	if utf8.RuneCountInString(q.Text) < MinSearchLength {
		return nil, ErrSearchTooShort
	}
	if q.ThreadID != "" {
		thread, err := s.registry.Get(ctx, q.ThreadID)
		if err != nil {
			return nil, err
		}
		if !thread.Has(p) {
			return nil, ErrNotParticipant
		}
	}
	q.Offset = max(q.Offset, 0)
	q.Limit = clampLimit(q.Limit, DefaultSearchLimit, MaxSearchLimit)

	mctx, cancel := withTimeout(ctx, s.mirrorTimeout)
	defer cancel()
	msgs, err := s.mirror.SearchMessages(mctx, p, q)
	if err != nil {
		return nil, mirrorUnavailable("search messages", err)
	}
	return msgs, nil
}

func (s *Service) Block(ctx context.Context, blocker, blocked participant.Participant) error {
	if err := s.registry.Block(ctx, blocker, blocked); err != nil {
		return err
	}
	s.mirrorActive(ctx, ThreadID(blocker, blocked), false)
	return nil
}

func (s *Service) Unblock(ctx context.Context, blocker, blocked participant.Participant) error {
	if err := s.registry.Unblock(ctx, blocker, blocked); err != nil {
		return err
	}
	threadID := ThreadID(blocker, blocked)
	thread, err := s.registry.Get(ctx, threadID)
	if err != nil {
		return nil
	}
	s.mirrorActive(ctx, threadID, thread.IsActive)
	return nil
}

func (s *Service) mirrorActive(ctx context.Context, threadID string, active bool) {
	mctx, cancel := withTimeout(ctx, s.mirrorTimeout)
	defer cancel()
	if err := s.mirror.SetActive(mctx, threadID, active); err != nil {
		logger.Error("relational mirror write failed",
			"event", "partial_sync_failure", "thread_id", threadID, "stage", "set_active", "error", err)
	}
}

// Reconcile backfills the mirror for one thread the caller belongs to.
func (s *Service) Reconcile(ctx context.Context, threadID string, caller participant.Participant) (int, error) {
	thread, err := s.registry.Get(ctx, threadID)
	if err != nil {
		return 0, err
	}
	if !thread.Has(caller) {
		return 0, ErrNotParticipant
	}
	return s.coordinator.ReconcileFromRealtimeStore(ctx, threadID)
}
