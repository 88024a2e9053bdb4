package chat_test

import (
	"context"
	"database/sql"
	"math/rand/v2"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradiehub/internal/chat"
	"tradiehub/internal/db"
	"tradiehub/internal/keylock"
	"tradiehub/internal/participant"
	"tradiehub/internal/realtime"
)

// These run against a live PostgreSQL when DB_TEST_DSN is set. Every test
// uses fresh random participant ids so runs do not see each other's rows.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("DB_TEST_DSN")
	if dsn == "" {
		t.Skip("DB_TEST_DSN not set")
	}
	database, err := db.NewDatabase(dsn)
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(context.Background()))
	t.Cleanup(func() { database.Close() })
	return database.Conn
}

func randomPair() (participant.Participant, participant.Participant) {
	return participant.NewHomeowner(rand.Int64N(1<<40) + 1), participant.NewTradie(rand.Int64N(1<<40) + 1)
}

type pgFixture struct {
	conn        *sql.DB
	repo        *chat.Repository
	registry    *chat.Registry
	coordinator *chat.Coordinator
	service     *chat.Service
}

func newPGFixture(t *testing.T) *pgFixture {
	t.Helper()
	f := &pgFixture{conn: newTestDB(t)}
	f.repo = chat.NewRepository(f.conn)
	store := realtime.NewMemoryStore()
	f.registry = chat.NewRegistry(store, chat.RegistryOptions{Timeout: time.Second})
	f.coordinator = chat.NewCoordinator(store, f.registry, f.repo, keylock.New(), chat.CoordinatorOptions{
		RealtimeTimeout: time.Second,
		MirrorTimeout:   5 * time.Second,
		PageSize:        2,
	})
	f.service = chat.NewService(f.registry, f.coordinator, f.repo, 5*time.Second)
	return f
}

func (f *pgFixture) cleanup(t *testing.T, threadIDs ...string) {
	t.Cleanup(func() {
		for _, id := range threadIDs {
			f.conn.ExecContext(context.Background(), "DELETE FROM chats WHERE external_thread_id = $1", id)
		}
	})
}

func (f *pgFixture) countRows(t *testing.T, threadID string) int {
	t.Helper()
	var n int
	require.NoError(t, f.conn.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM messages WHERE external_thread_id = $1", threadID).Scan(&n))
	return n
}

func TestRepository_EnsureChatAndInsertAreIdempotent(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	a, b := randomPair()
	th := &chat.Thread{ThreadID: chat.ThreadID(a, b), ParticipantA: a, ParticipantB: b, IsActive: true}
	f.cleanup(t, th.ThreadID)

	id1, err := f.repo.EnsureChat(ctx, th)
	require.NoError(t, err)
	id2, err := f.repo.EnsureChat(ctx, th)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	msg := &chat.Message{
		ThreadID: th.ThreadID, MessageID: "1", Seq: 1, Sender: a, Receiver: b,
		Content: "hello", SentAt: time.Now().UTC().Truncate(time.Millisecond),
		ReplyTo: &chat.ReplyTo{MessageID: "0", Content: "earlier"},
	}
	added, err := f.repo.InsertMessage(ctx, id1, msg)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = f.repo.InsertMessage(ctx, id1, msg)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, f.countRows(t, th.ThreadID))

	found, err := f.repo.SearchMessages(ctx, a, chat.SearchQuery{Text: "HELLO", Limit: 10})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, msg.SentAt.Equal(found[0].SentAt))
	assert.Equal(t, msg.ReplyTo, found[0].ReplyTo)
}

func TestRepository_ReconcileTwiceAddsNoDuplicates(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	a, b := randomPair()
	threadID := chat.ThreadID(a, b)
	f.cleanup(t, threadID)

	for _, text := range []string{"one", "two", "three", "four", "five"} {
		_, err := f.service.SendMessage(ctx, a, &chat.SendMessageRequest{Receiver: b, Message: text})
		require.NoError(t, err)
	}
	require.Equal(t, 5, f.countRows(t, threadID))

	_, err := f.conn.ExecContext(ctx,
		"DELETE FROM messages WHERE external_thread_id = $1 AND external_message_id <> '1'", threadID)
	require.NoError(t, err)

	n, err := f.coordinator.ReconcileFromRealtimeStore(ctx, threadID)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	n, err = f.coordinator.ReconcileFromRealtimeStore(ctx, threadID)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 5, f.countRows(t, threadID))

	_, err = f.conn.ExecContext(ctx,
		"DELETE FROM messages WHERE external_thread_id = $1 AND external_message_id IN ('2', '4')", threadID)
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := f.coordinator.ReconcileFromRealtimeStore(ctx, threadID)
			if assert.NoError(t, err) {
				mu.Lock()
				total += n
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, total, "concurrent reconciles insert each missing row once")
	assert.Equal(t, 5, f.countRows(t, threadID))

	chats, err := f.repo.ListChats(ctx, a)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "five", chats[0].LastMessage)
}

func TestRepository_ReadSide(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	h, t1 := randomPair()
	t2 := participant.NewTradie(rand.Int64N(1<<40) + 1)
	f.cleanup(t, chat.ThreadID(h, t1), chat.ThreadID(h, t2))

	say := func(from, to participant.Participant, text string) {
		_, err := f.service.SendMessage(ctx, from, &chat.SendMessageRequest{Receiver: to, Message: text})
		require.NoError(t, err)
	}
	say(h, t1, "deck is 50% done")
	say(t1, h, "deck_rail arrives friday")
	say(t2, h, "Deck quote attached")

	chats, err := f.service.Chats(ctx, h)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, t2, chats[0].OtherParticipant)
	assert.EqualValues(t, 1, chats[0].UnreadCount)
	assert.EqualValues(t, 1, chats[1].UnreadCount)

	st, err := f.service.Stats(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, &chat.ChatStats{
		TotalChats: 2, TotalMessagesSent: 1, TotalMessagesReceived: 2, UnreadMessages: 2, ActiveChatsToday: 2,
	}, st)

	found, err := f.service.Search(ctx, h, chat.SearchQuery{Text: "deck"})
	require.NoError(t, err)
	assert.Len(t, found, 3)

	found, err = f.service.Search(ctx, h, chat.SearchQuery{Text: "50%"})
	require.NoError(t, err)
	require.Len(t, found, 1, "wildcards in the query are literal")
	found, err = f.service.Search(ctx, h, chat.SearchQuery{Text: "5%d"})
	require.NoError(t, err)
	assert.Empty(t, found)
	found, err = f.service.Search(ctx, h, chat.SearchQuery{Text: "e_k"})
	require.NoError(t, err)
	assert.Empty(t, found)
	found, err = f.service.Search(ctx, h, chat.SearchQuery{Text: "k_r"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "deck_rail arrives friday", found[0].Content)

	require.NoError(t, f.service.Block(ctx, h, t2))
	chats, err = f.service.Chats(ctx, h)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, t1, chats[0].OtherParticipant)
}
