package tasks_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tradiehub/internal/chat"
	"tradiehub/internal/tasks"
)

// --- Mocks ---

type MockAsynqClient struct {
	mock.Mock
}

func (m *MockAsynqClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}

type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) ReconcileFromRealtimeStore(ctx context.Context, threadID string) (int, error) {
	args := m.Called(ctx, threadID)
	return args.Int(0), args.Error(1)
}

type MockThreadLister struct {
	mock.Mock
}

func (m *MockThreadLister) ListThreadIDs(ctx context.Context, offset, limit int64) ([]string, error) {
	args := m.Called(ctx, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) EnqueueReconcile(ctx context.Context, threadID string) error {
	return m.Called(ctx, threadID).Error(0)
}

func reconcileTask(t *testing.T, threadID string) *asynq.Task {
	t.Helper()
	task, err := tasks.NewReconcileTask(threadID)
	require.NoError(t, err)
	return task
}

// --- Tests ---

func TestEnqueueReconcile(t *testing.T) {
	client := new(MockAsynqClient)
	client.On("EnqueueContext", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		var p tasks.ReconcilePayload
		return task.Type() == tasks.TypeChatReconcile &&
			json.Unmarshal(task.Payload(), &p) == nil && p.ThreadID == "thread_h1_t2"
	}), mock.Anything).Return(&asynq.TaskInfo{ID: "reconcile:thread_h1_t2"}, nil).Once()

	require.NoError(t, tasks.NewQueue(client).EnqueueReconcile(context.Background(), "thread_h1_t2"))
	client.AssertExpectations(t)
}

func TestEnqueueReconcile_AlreadyQueued(t *testing.T) {
	client := new(MockAsynqClient)
	client.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(nil, asynq.ErrTaskIDConflict)

	assert.NoError(t, tasks.NewQueue(client).EnqueueReconcile(context.Background(), "thread_h1_t2"))
}

func TestEnqueueReconcile_RedisDown(t *testing.T) {
	client := new(MockAsynqClient)
	client.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("dial tcp: refused"))

	err := tasks.NewQueue(client).EnqueueReconcile(context.Background(), "thread_h1_t2")
	assert.ErrorContains(t, err, "thread_h1_t2")
}

func TestHandleReconcileTask_Success(t *testing.T) {
	r := new(MockReconciler)
	r.On("ReconcileFromRealtimeStore", mock.Anything, "thread_h1_t2").Return(3, nil)

	err := tasks.NewTaskProcessor(r).HandleReconcileTask(context.Background(), reconcileTask(t, "thread_h1_t2"))
	assert.NoError(t, err)
	r.AssertExpectations(t)
}

func TestHandleReconcileTask_Retryable(t *testing.T) {
	r := new(MockReconciler)
	r.On("ReconcileFromRealtimeStore", mock.Anything, "thread_h1_t2").Return(0, errors.New("pq: down"))

	err := tasks.NewTaskProcessor(r).HandleReconcileTask(context.Background(), reconcileTask(t, "thread_h1_t2"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleReconcileTask_SkipRetry(t *testing.T) {
	r := new(MockReconciler)
	r.On("ReconcileFromRealtimeStore", mock.Anything, "thread_gone").Return(0, fmt.Errorf("get: %w", chat.ErrThreadNotFound))
	p := tasks.NewTaskProcessor(r)

	tests := []struct {
		name string
		task *asynq.Task
	}{
		{"bad payload", asynq.NewTask(tasks.TypeChatReconcile, []byte("{"))},
		{"empty thread", asynq.NewTask(tasks.TypeChatReconcile, []byte(`{}`))},
		{"missing thread", reconcileTask(t, "thread_gone")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, p.HandleReconcileTask(context.Background(), tt.task), asynq.SkipRetry)
		})
	}
}

func TestNewSweeper_InvalidCron(t *testing.T) {
	_, err := tasks.NewSweeper(new(MockThreadLister), new(MockQueue), "every tuesday", 10)
	assert.Error(t, err)
}

func TestSweepOnce_Pages(t *testing.T) {
	lister := new(MockThreadLister)
	lister.On("ListThreadIDs", mock.Anything, int64(0), int64(2)).Return([]string{"a", "b"}, nil)
	lister.On("ListThreadIDs", mock.Anything, int64(2), int64(2)).Return([]string{"c"}, nil)
	queue := new(MockQueue)
	for _, id := range []string{"a", "b", "c"} {
		queue.On("EnqueueReconcile", mock.Anything, id).Return(nil).Once()
	}

	s, err := tasks.NewSweeper(lister, queue, "*/15 * * * *", 2)
	require.NoError(t, err)
	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	lister.AssertExpectations(t)
	queue.AssertExpectations(t)
}

func TestSweepOnce_StopsOnEnqueueError(t *testing.T) {
	lister := new(MockThreadLister)
	lister.On("ListThreadIDs", mock.Anything, int64(0), int64(5)).Return([]string{"a", "b"}, nil)
	queue := new(MockQueue)
	queue.On("EnqueueReconcile", mock.Anything, "a").Return(errors.New("redis down"))

	s, err := tasks.NewSweeper(lister, queue, "@hourly", 5)
	require.NoError(t, err)
	n, err := s.SweepOnce(context.Background())
	assert.Error(t, err)
	assert.Zero(t, n)
	queue.AssertNotCalled(t, "EnqueueReconcile", mock.Anything, "b")
}
