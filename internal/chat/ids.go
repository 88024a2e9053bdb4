package chat

import (
	"context"
	"fmt"
	"strconv"

	"tradiehub/internal/participant"
	"tradiehub/internal/realtime"
)

const (
	threadsRoot  = "threads"
	profilesRoot = "userProfiles"

	fieldMessageSeq = "message_seq"
)

func threadPath(threadID string) string { return realtime.Join(threadsRoot, threadID) }

func messagesPath(threadID string) string {
	return realtime.Join(threadsRoot, threadID, "messages")
}

func messagePath(threadID, messageID string) string {
	return realtime.Join(threadsRoot, threadID, "messages", messageID)
}

func blockPath(blocker, blocked participant.Participant) string {
	return realtime.Join(profilesRoot, blocker.Key(), "blockedUsers", blocked.Key())
}

// ThreadID derives the thread identifier from the participant pair. The pair
// is put in canonical order first, so (a, b) and (b, a) give the same id and
// two racing creators converge on one key without coordination.
func ThreadID(a, b participant.Participant) string {
	lo, hi := participant.Ordered(a, b)
	return "thread_" + lo.Key() + "_" + hi.Key()
}

// IdentityAllocator hands out message ids from the store's atomic counter on
// the thread node.
type IdentityAllocator struct {
	store realtime.Store
}

func NewIdentityAllocator(store realtime.Store) *IdentityAllocator {
	return &IdentityAllocator{store: store}
}

// NextThreadID is ThreadID; it exists so callers can depend on the allocator alone.
func (a *IdentityAllocator) NextThreadID(p, q participant.Participant) string {
	return ThreadID(p, q)
}

// NextMessageID increments the thread's sequence counter server-side and
// returns the new value as the message id. It fails fast when the store is
// unreachable; there is no local fallback.
func (a *IdentityAllocator) NextMessageID(ctx context.Context, threadID string) (string, int64, error) {
	seq, err := a.store.Increment(ctx, threadPath(threadID), fieldMessageSeq, 1)
	if err != nil {
		return "", 0, fmt.Errorf("allocate message id for %s: %w", threadID, err)
	}
	return strconv.FormatInt(seq, 10), seq, nil
}
