package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tradiehub/internal/logger"
	"tradiehub/internal/participant"
	"tradiehub/internal/realtime"
)

// RegistryOptions bounds the registry's store calls and its legacy scan.
type RegistryOptions struct {
	Timeout            time.Duration
	LegacyScanPageSize int
	LegacyScanMaxPages int
}

// Registry owns the mapping from a participant pair to its thread and the
// per-participant block lists.
type Registry struct {
	store realtime.Store
	opts  RegistryOptions
}

func NewRegistry(store realtime.Store, opts RegistryOptions) *Registry {
	if opts.LegacyScanPageSize <= 0 {
		opts.LegacyScanPageSize = 100
	}
	if opts.LegacyScanMaxPages <= 0 {
		opts.LegacyScanMaxPages = 50
	}
	return &Registry{store: store, opts: opts}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// FindOrCreate returns the single thread between a and b, creating it on
// first contact. Concurrent callers compute the same key; the first write
// wins and everyone reads back the stored record.
func (r *Registry) FindOrCreate(ctx context.Context, a, b participant.Participant) (*Thread, error) {
	if err := validatePair(a, b); err != nil {
		return nil, err
	}
	threadID := ThreadID(a, b)

	t, err := r.Get(ctx, threadID)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrThreadNotFound) {
		return nil, err
	}

	cctx, cancel := withTimeout(ctx, r.opts.Timeout)
	created, err := r.store.SetIfAbsent(cctx, threadPath(threadID), newThreadNode(threadID, a, b))
	cancel()
	if err != nil {
		return nil, fmt.Errorf("create thread %s: %w", threadID, err)
	}
	if created {
		logger.Info("thread created", "event", "thread_created", "thread_id", threadID)
	}
	return r.Get(ctx, threadID)
}

// Get reads a thread by id.
func (r *Registry) Get(ctx context.Context, threadID string) (*Thread, error) {
	cctx, cancel := withTimeout(ctx, r.opts.Timeout)
	defer cancel()

	n, err := r.store.Get(cctx, threadPath(threadID))
	if errors.Is(err, realtime.ErrNodeNotFound) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read thread %s: %w", threadID, err)
	}
	return decodeThread(threadID, n)
}

// OtherParticipant is a pure lookup on the thread.
func (r *Registry) OtherParticipant(t *Thread, self participant.Participant) (participant.Participant, error) {
	return t.OtherParticipant(self)
}

// FindLegacyThread scans the thread index for a record created before
// deterministic ids, matching on the embedded tradie and homeowner ids.
// The scan is bounded by LegacyScanMaxPages pages of LegacyScanPageSize.
func (r *Registry) FindLegacyThread(ctx context.Context, a, b participant.Participant) (*Thread, error) {
	if err := validatePair(a, b); err != nil {
		return nil, err
	}
	var tradie, homeowner participant.Participant
	for _, p := range []participant.Participant{a, b} {
		switch p.Kind {
		case participant.Tradie:
			tradie = p
		case participant.Homeowner:
			homeowner = p
		}
	}
	if tradie.IsZero() || homeowner.IsZero() {
		return nil, fmt.Errorf("%w: legacy threads pair a tradie with a homeowner", ErrThreadNotFound)
	}

	tradieID := strconv.FormatInt(tradie.ID, 10)
	homeownerID := strconv.FormatInt(homeowner.ID, 10)
	page := int64(r.opts.LegacyScanPageSize)

	for i := 0; i < r.opts.LegacyScanMaxPages; i++ {
		ids, err := r.ListThreadIDs(ctx, int64(i)*page, page)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			cctx, cancel := withTimeout(ctx, r.opts.Timeout)
			n, err := r.store.Get(cctx, threadPath(id))
			cancel()
			if errors.Is(err, realtime.ErrNodeNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("read thread %s: %w", id, err)
			}
			if matchesLegacy(n, tradieID, homeownerID) {
				return decodeThread(id, n)
			}
		}
		if int64(len(ids)) < page {
			return nil, ErrThreadNotFound
		}
	}
	logger.Warn("legacy thread scan hit page limit",
		"event", "legacy_scan_truncated", "tradie", tradie.String(), "homeowner", homeowner.String(),
		"max_pages", r.opts.LegacyScanMaxPages)
	return nil, ErrThreadNotFound
}

func matchesLegacy(n realtime.Node, tradieID, homeownerID string) bool {
	if n["tradie_id"] == tradieID && n["homeowner_id"] == homeownerID {
		return true
	}
	return n["sender_1"] == tradieID && n["sender_2"] == homeownerID
}

// ListThreadIDs pages through every thread id in creation order.
func (r *Registry) ListThreadIDs(ctx context.Context, offset, limit int64) ([]string, error) {
	cctx, cancel := withTimeout(ctx, r.opts.Timeout)
	defer cancel()
	ids, err := r.store.Children(cctx, threadsRoot, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	return ids, nil
}

// Block adds blocked to blocker's block list and deactivates their thread.
// Blocking twice keeps the original blocked_at.
func (r *Registry) Block(ctx context.Context, blocker, blocked participant.Participant) error {
	if err := validatePair(blocker, blocked); err != nil {
		return err
	}
	cctx, cancel := withTimeout(ctx, r.opts.Timeout)
	_, err := r.store.SetIfAbsent(cctx, blockPath(blocker, blocked), realtime.Node{
		"kind":       string(blocked.Kind),
		"id":         strconv.FormatInt(blocked.ID, 10),
		"blocked_at": realtime.ServerTimestamp,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("block %s for %s: %w", blocked, blocker, err)
	}
	return r.setActive(ctx, ThreadID(blocker, blocked), false)
}

// Unblock removes blocked from blocker's list. The thread is reactivated
// only when the other side does not block blocker as well.
func (r *Registry) Unblock(ctx context.Context, blocker, blocked participant.Participant) error {
	if err := validatePair(blocker, blocked); err != nil {
		return err
	}
	cctx, cancel := withTimeout(ctx, r.opts.Timeout)
	err := r.store.Remove(cctx, blockPath(blocker, blocked))
	cancel()
	if err != nil {
		return fmt.Errorf("unblock %s for %s: %w", blocked, blocker, err)
	}

	reverse, err := r.IsBlocked(ctx, blocked, blocker)
	if err != nil {
		return err
	}
	if reverse {
		return nil
	}
	return r.setActive(ctx, ThreadID(blocker, blocked), true)
}

// IsBlocked reports whether by has who on its block list.
func (r *Registry) IsBlocked(ctx context.Context, by, who participant.Participant) (bool, error) {
	cctx, cancel := withTimeout(ctx, r.opts.Timeout)
	defer cancel()
	_, err := r.store.Get(cctx, blockPath(by, who))
	if errors.Is(err, realtime.ErrNodeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read block list of %s: %w", by, err)
	}
	return true, nil
}

// setActive flips is_active on an existing thread. A pair that never talked
// has no thread and nothing to flip.
func (r *Registry) setActive(ctx context.Context, threadID string, active bool) error {
	if _, err := r.Get(ctx, threadID); err != nil {
		if errors.Is(err, ErrThreadNotFound) {
			return nil
		}
		return err
	}
	cctx, cancel := withTimeout(ctx, r.opts.Timeout)
	defer cancel()
	err := r.store.Update(cctx, threadPath(threadID), realtime.Node{
		"is_active":  strconv.FormatBool(active),
		"updated_at": realtime.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("set thread %s active=%t: %w", threadID, active, err)
	}
	return nil
}

func validatePair(a, b participant.Participant) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParticipant, err)
	}
	if err := b.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParticipant, err)
	}
	if a == b {
		return ErrSameParticipant
	}
	return nil
}

func newThreadNode(threadID string, a, b participant.Participant) realtime.Node {
	lo, hi := participant.Ordered(a, b)
	n := realtime.Node{
		"thread_id":         threadID,
		"participant_a":     lo.Key(),
		"participant_b":     hi.Key(),
		"created_at":        realtime.ServerTimestamp,
		"updated_at":        realtime.ServerTimestamp,
		"last_message":      "",
		"last_message_time": realtime.ServerTimestamp,
		"message_count":     "0",
		"is_active":         "true",
	}
	for _, p := range []participant.Participant{lo, hi} {
		switch p.Kind {
		case participant.Tradie:
			n["tradie_id"] = strconv.FormatInt(p.ID, 10)
		case participant.Homeowner:
			n["homeowner_id"] = strconv.FormatInt(p.ID, 10)
		}
	}
	return n
}

// decodeThread reads a thread node. Older nodes carry only the embedded
// tradie/homeowner ids; when both keys and ids are missing the pair is
// recovered from a deterministic thread id.
func decodeThread(threadID string, n realtime.Node) (*Thread, error) {
	a, b, err := threadParticipants(threadID, n)
	if err != nil {
		return nil, fmt.Errorf("decode thread %s: %w", threadID, err)
	}
	active := true
	if v, ok := n["is_active"]; ok {
		active = n.Bool("is_active") || v == ""
	}
	return &Thread{
		ThreadID:           threadID,
		ParticipantA:       a,
		ParticipantB:       b,
		LastMessagePreview: n["last_message"],
		LastMessageAt:      n.Time("last_message_time"),
		MessageCount:       n.Int("message_count"),
		IsActive:           active,
		CreatedAt:          n.Time("created_at"),
	}, nil
}

func threadParticipants(threadID string, n realtime.Node) (participant.Participant, participant.Participant, error) {
	if n["participant_a"] != "" && n["participant_b"] != "" {
		a, err := participant.ParseKey(n["participant_a"])
		if err != nil {
			return a, a, err
		}
		b, err := participant.ParseKey(n["participant_b"])
		return a, b, err
	}

	tradie, homeowner := n["tradie_id"], n["homeowner_id"]
	if tradie == "" {
		tradie, homeowner = n["sender_1"], n["sender_2"]
	}
	if tradie != "" && homeowner != "" {
		tid, err := strconv.ParseInt(tradie, 10, 64)
		if err != nil {
			return participant.Participant{}, participant.Participant{}, err
		}
		hid, err := strconv.ParseInt(homeowner, 10, 64)
		if err != nil {
			return participant.Participant{}, participant.Participant{}, err
		}
		a, b := participant.Ordered(participant.NewTradie(tid), participant.NewHomeowner(hid))
		return a, b, nil
	}

	keys, ok := strings.CutPrefix(threadID, "thread_")
	if ok {
		if ka, kb, ok := strings.Cut(keys, "_"); ok {
			a, errA := participant.ParseKey(ka)
			b, errB := participant.ParseKey(kb)
			if errA == nil && errB == nil {
				return a, b, nil
			}
		}
	}
	return participant.Participant{}, participant.Participant{}, errors.New("no participants recorded")
}
