package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradiehub/internal/participant"
	"tradiehub/internal/realtime"
)

var (
	homeowner = participant.NewHomeowner(12)
	tradie    = participant.NewTradie(5)
)

func newTestRegistry(store realtime.Store) *Registry {
	return NewRegistry(store, RegistryOptions{Timeout: time.Second, LegacyScanPageSize: 2, LegacyScanMaxPages: 3})
}

func TestFindOrCreate_SameThreadEitherOrder(t *testing.T) {
	r := newTestRegistry(realtime.NewMemoryStore())
	ctx := context.Background()

	t1, err := r.FindOrCreate(ctx, homeowner, tradie)
	require.NoError(t, err)
	t2, err := r.FindOrCreate(ctx, tradie, homeowner)
	require.NoError(t, err)

	assert.Equal(t, t1.ThreadID, t2.ThreadID)
	assert.Equal(t, homeowner, t1.ParticipantA)
	assert.Equal(t, tradie, t1.ParticipantB)
	assert.True(t, t1.IsActive)
	assert.Zero(t, t1.MessageCount)
}

func TestFindOrCreate_ConcurrentCallersShareOneRecord(t *testing.T) {
	store := realtime.NewMemoryStore()
	var clock int64
	var mu sync.Mutex
	store.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock++
		return time.UnixMilli(1_700_000_000_000 + clock)
	})
	r := newTestRegistry(store)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	created := make([]time.Time, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := homeowner, tradie
			if i%2 == 1 {
				a, b = b, a
			}
			th, err := r.FindOrCreate(ctx, a, b)
			if assert.NoError(t, err) {
				created[i] = th.CreatedAt
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Equal(t, created[0], created[i], "every caller sees the first writer's created_at")
	}
	ids, err := r.ListThreadIDs(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{ThreadID(homeowner, tradie)}, ids)
}

func TestFindOrCreate_Validation(t *testing.T) {
	r := newTestRegistry(realtime.NewMemoryStore())
	ctx := context.Background()

	_, err := r.FindOrCreate(ctx, tradie, tradie)
	assert.ErrorIs(t, err, ErrSameParticipant)

	_, err = r.FindOrCreate(ctx, participant.Participant{Kind: "admin", ID: 1}, tradie)
	assert.ErrorIs(t, err, ErrInvalidParticipant)
}

func TestGet_NotFound(t *testing.T) {
	r := newTestRegistry(realtime.NewMemoryStore())
	_, err := r.Get(context.Background(), "thread_h1_t1")
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestOtherParticipant(t *testing.T) {
	th := &Thread{ParticipantA: homeowner, ParticipantB: tradie}
	r := newTestRegistry(realtime.NewMemoryStore())

	other, err := r.OtherParticipant(th, homeowner)
	require.NoError(t, err)
	assert.Equal(t, tradie, other)

	other, err = r.OtherParticipant(th, tradie)
	require.NoError(t, err)
	assert.Equal(t, homeowner, other)

	_, err = r.OtherParticipant(th, participant.NewTradie(6))
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func seedLegacyThreads(t *testing.T, store realtime.Store, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		require.NoError(t, store.Set(ctx, threadPath(fmt.Sprintf("thread_%d", i)), realtime.Node{
			"sender_1":     fmt.Sprint(100 + i),
			"sender_2":     fmt.Sprint(200 + i),
			"last_message": fmt.Sprintf("legacy %d", i),
		}))
	}
}

func TestFindLegacyThread(t *testing.T) {
	store := realtime.NewMemoryStore()
	seedLegacyThreads(t, store, 5)
	r := newTestRegistry(store)

	th, err := r.FindLegacyThread(context.Background(), participant.NewHomeowner(204), participant.NewTradie(104))
	require.NoError(t, err)
	assert.Equal(t, "thread_4", th.ThreadID)
	assert.Equal(t, participant.NewHomeowner(204), th.ParticipantA)
	assert.Equal(t, participant.NewTradie(104), th.ParticipantB)
	assert.Equal(t, "legacy 4", th.LastMessagePreview)
	assert.True(t, th.IsActive)
}

func TestFindLegacyThread_BoundedScan(t *testing.T) {
	store := realtime.NewMemoryStore()
	// Three pages of two hold six threads; the seventh is out of reach.
	seedLegacyThreads(t, store, 7)
	r := newTestRegistry(store)

	_, err := r.FindLegacyThread(context.Background(), participant.NewTradie(107), participant.NewHomeowner(207))
	assert.ErrorIs(t, err, ErrThreadNotFound)

	_, err = r.FindLegacyThread(context.Background(), participant.NewTradie(106), participant.NewHomeowner(206))
	assert.NoError(t, err)
}

func TestFindLegacyThread_MatchesCurrentRecords(t *testing.T) {
	r := newTestRegistry(realtime.NewMemoryStore())
	ctx := context.Background()
	created, err := r.FindOrCreate(ctx, homeowner, tradie)
	require.NoError(t, err)

	found, err := r.FindLegacyThread(ctx, tradie, homeowner)
	require.NoError(t, err)
	assert.Equal(t, created.ThreadID, found.ThreadID)
}

func TestBlockUnblock_TogglesThread(t *testing.T) {
	r := newTestRegistry(realtime.NewMemoryStore())
	ctx := context.Background()
	_, err := r.FindOrCreate(ctx, homeowner, tradie)
	require.NoError(t, err)

	require.NoError(t, r.Block(ctx, homeowner, tradie))
	blocked, err := r.IsBlocked(ctx, homeowner, tradie)
	require.NoError(t, err)
	assert.True(t, blocked)
	blocked, err = r.IsBlocked(ctx, tradie, homeowner)
	require.NoError(t, err)
	assert.False(t, blocked, "block lists are one-directional")

	th, err := r.Get(ctx, ThreadID(homeowner, tradie))
	require.NoError(t, err)
	assert.False(t, th.IsActive)

	require.NoError(t, r.Unblock(ctx, homeowner, tradie))
	th, err = r.Get(ctx, ThreadID(homeowner, tradie))
	require.NoError(t, err)
	assert.True(t, th.IsActive)
}

func TestUnblock_StaysInactiveWhileOtherSideBlocks(t *testing.T) {
	r := newTestRegistry(realtime.NewMemoryStore())
	ctx := context.Background()
	_, err := r.FindOrCreate(ctx, homeowner, tradie)
	require.NoError(t, err)

	require.NoError(t, r.Block(ctx, homeowner, tradie))
	require.NoError(t, r.Block(ctx, tradie, homeowner))
	require.NoError(t, r.Unblock(ctx, homeowner, tradie))

	th, err := r.Get(ctx, ThreadID(homeowner, tradie))
	require.NoError(t, err)
	assert.False(t, th.IsActive)
}

func TestBlock_WithoutThreadCreatesNone(t *testing.T) {
	r := newTestRegistry(realtime.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, r.Block(ctx, homeowner, tradie))
	_, err := r.Get(ctx, ThreadID(homeowner, tradie))
	assert.ErrorIs(t, err, ErrThreadNotFound)
}
