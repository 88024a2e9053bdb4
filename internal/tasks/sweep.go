package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"tradiehub/internal/chat"
	"tradiehub/internal/logger"
)

type ThreadLister interface {
	ListThreadIDs(ctx context.Context, offset, limit int64) ([]string, error)
}

// Sweeper queues a reconcile for every thread on each cron tick.
type Sweeper struct {
	threads  ThreadLister
	queue    chat.ReconcileQueue
	cron     string
	pageSize int64
}

func NewSweeper(threads ThreadLister, queue chat.ReconcileQueue, cron string, pageSize int) (*Sweeper, error) {
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("invalid reconcile cron expression: %s", cron)
	}
	if pageSize <= 0 {
		pageSize = 200
	}
	return &Sweeper{threads: threads, queue: queue, cron: cron, pageSize: int64(pageSize)}, nil
}

// SweepOnce queues every thread and returns how many were queued.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	queued := 0
	for offset := int64(0); ; offset += s.pageSize {
		ids, err := s.threads.ListThreadIDs(ctx, offset, s.pageSize)
		if err != nil {
			return queued, err
		}
		for _, id := range ids {
			if err := s.queue.EnqueueReconcile(ctx, id); err != nil {
				return queued, err
			}
			queued++
		}
		if int64(len(ids)) < s.pageSize {
			return queued, nil
		}
	}
}

// Run sweeps on every tick of the cron expression until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	logger.Info("reconcile_sweep_started", "cron", s.cron)
	for {
		next, err := gronx.NextTickAfter(s.cron, time.Now().UTC(), false)
		if err != nil {
			logger.Error("reconcile_sweep_nexttick_failed", "cron", s.cron, "error", err)
			next = time.Now().Add(30 * time.Second)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("reconcile_sweep_stopping")
			return
		case <-timer.C:
		}

		n, err := s.SweepOnce(ctx)
		if err != nil {
			logger.Error("reconcile_sweep_failed", "queued", n, "error", err)
			continue
		}
		logger.Info("reconcile_sweep_done", "queued", n)
	}
}
