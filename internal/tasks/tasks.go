package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"tradiehub/internal/chat"
	"tradiehub/internal/logger"
)

// TaskType defines the type of a background task.
const (
	TypeChatReconcile = "chat:reconcile"
)

const QueueReconcile = "reconcile"

type ReconcilePayload struct {
	ThreadID string `json:"thread_id"`
}

func NewReconcileTask(threadID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ReconcilePayload{ThreadID: threadID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeChatReconcile, payload), nil
}

// RedisOpt builds the asynq connection from an existing go-redis client.
func RedisOpt(rdb *redis.Client) asynq.RedisClientOpt {
	opts := rdb.Options()
	return asynq.RedisClientOpt{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
}

// --- Task Client (Enqueuing tasks) ---

// Enqueuer is the part of asynq.Client the queue uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue schedules mirror reconciliation for threads. At most one reconcile
// task per thread is pending at a time.
type Queue struct {
	client Enqueuer
}

func NewQueue(client Enqueuer) *Queue {
	return &Queue{client: client}
}

func (q *Queue) EnqueueReconcile(ctx context.Context, threadID string) error {
	task, err := NewReconcileTask(threadID)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueReconcile),
		asynq.TaskID("reconcile:"+threadID),
		asynq.MaxRetry(10),
		asynq.Timeout(time.Minute),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		logger.Debug("reconcile already queued", "thread_id", threadID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue reconcile %s: %w", threadID, err)
	}
	return nil
}

// --- Task Server (Processing tasks) ---

type Reconciler interface {
	ReconcileFromRealtimeStore(ctx context.Context, threadID string) (int, error)
}

// TaskProcessor handles the processing of tasks.
type TaskProcessor struct {
	reconciler Reconciler
}

func NewTaskProcessor(reconciler Reconciler) *TaskProcessor {
	return &TaskProcessor{reconciler: reconciler}
}

func (p *TaskProcessor) HandleReconcileTask(ctx context.Context, t *asynq.Task) error {
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal reconcile payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.ThreadID == "" {
		return fmt.Errorf("reconcile payload without thread id: %w", asynq.SkipRetry)
	}

	n, err := p.reconciler.ReconcileFromRealtimeStore(ctx, payload.ThreadID)
	if errors.Is(err, chat.ErrThreadNotFound) {
		return fmt.Errorf("reconcile %s: %v: %w", payload.ThreadID, err, asynq.SkipRetry)
	}
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", payload.ThreadID, err)
	}
	logger.Info("reconcile task done", "thread_id", payload.ThreadID, "inserted", n)
	return nil
}

// NewServeMux registers the task handlers.
func NewServeMux(p *TaskProcessor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeChatReconcile, p.HandleReconcileTask)
	return mux
}

// SetupServer configures an asynq server for the reconcile queue.
func SetupServer(opt asynq.RedisClientOpt, concurrency int) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueReconcile: 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("task failed", "type", task.Type(), "payload", string(task.Payload()), "error", err)
		}),
	})
}
