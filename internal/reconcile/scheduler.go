package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Enqueuer is the subset of *asynq.Client used by Scheduler.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler enqueues delayed gateway queries. It implements payment.Reconciler.
type Scheduler struct {
	Client   Enqueuer
	Delay    time.Duration
	MaxRetry int
	Queue    string
}

// ScheduleQuery enqueues a query for the order after Delay. A query already queued
// for the same order absorbs the new one.
func (s Scheduler) ScheduleQuery(ctx context.Context, provider, orderID string) error {
	if s.Client == nil {
		return errors.New("reconcile scheduler has no client")
	}
	task, err := NewQueryTask(provider, orderID)
	if err != nil {
		return err
	}
	delay := s.Delay
	if delay <= 0 {
		delay = time.Minute
	}
	maxRetry := s.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 8
	}
	queue := s.Queue
	if queue == "" {
		queue = Queue
	}
	_, err = s.Client.EnqueueContext(ctx, task,
		asynq.Queue(queue),
		asynq.TaskID(queryTaskID(provider, orderID)),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(maxRetry),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s for order %s: %w", TypeQuery, orderID, err)
	}
	return nil
}
