package notify_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradiehub/internal/chat"
	"tradiehub/internal/keylock"
	"tradiehub/internal/logger"
	"tradiehub/internal/notify"
	"tradiehub/internal/participant"
	"tradiehub/internal/realtime"
)

var (
	homeowner = participant.NewHomeowner(3)
	tradie    = participant.NewTradie(9)
)

type env struct {
	store       *realtime.MemoryStore
	registry    *chat.Registry
	coordinator *chat.Coordinator
	dispatcher  *notify.Dispatcher
}

func newEnv() *env {
	e := &env{store: realtime.NewMemoryStore()}
	e.registry = chat.NewRegistry(e.store, chat.RegistryOptions{Timeout: time.Second})
	e.coordinator = chat.NewCoordinator(e.store, e.registry, chat.NewMemoryMirror(), keylock.New(), chat.CoordinatorOptions{
		RealtimeTimeout: time.Second,
		MirrorTimeout:   time.Second,
	})
	e.dispatcher = notify.NewDispatcher(e.registry, e.coordinator)
	return e
}

func TestRender_ApplicationRejected(t *testing.T) {
	got, err := notify.Render(notify.KindApplicationRejected, map[string]string{"job_title": "Fix roof"})
	require.NoError(t, err)
	assert.Equal(t, "Thank you for your application for 'Fix roof'. Unfortunately, we have decided to go with "+
		"another candidate. We appreciate your interest and encourage you to apply for future opportunities.", got)

	_, err = notify.Render(notify.KindApplicationRejected, map[string]string{})
	assert.Error(t, err)

	_, err = notify.Render("application_accepted", nil)
	assert.ErrorIs(t, err, notify.ErrUnknownKind)
}

func TestSend_AppendsToPairThread(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	ref, err := e.dispatcher.Send(ctx, homeowner, tradie, notify.KindApplicationRejected, map[string]string{"job_title": "Paint fence"})
	require.NoError(t, err)
	assert.Equal(t, chat.ThreadID(homeowner, tradie), ref.ThreadID)
	assert.Equal(t, "1", ref.MessageID)

	msgs, err := e.coordinator.Messages(ctx, ref.ThreadID, 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, homeowner, msgs[0].Sender)
	assert.Equal(t, tradie, msgs[0].Receiver)
	assert.Contains(t, msgs[0].Content, "'Paint fence'")
}

func TestSend_SkipsWhenRecipientBlockedSender(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	require.NoError(t, e.registry.Block(ctx, tradie, homeowner))

	_, err := e.dispatcher.Send(ctx, homeowner, tradie, notify.KindApplicationRejected, map[string]string{"job_title": "x"})
	assert.ErrorIs(t, err, notify.ErrSkipped)

	ids, err := e.registry.ListThreadIDs(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestNotify_SwallowsFailures(t *testing.T) {
	e := newEnv()
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, "info")
	t.Cleanup(func() { logger.Init("info") })

	e.store.SetFault(func(op, path string) error { return errors.New("connection refused") })

	assert.NotPanics(t, func() {
		e.dispatcher.Notify(context.Background(), homeowner, tradie, notify.KindApplicationRejected, map[string]string{"job_title": "x"})
	})
	assert.Contains(t, buf.String(), "event=notification_failed")
	assert.Contains(t, buf.String(), "kind=application_rejected")
}
