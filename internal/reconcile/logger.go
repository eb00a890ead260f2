package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Logger adapts zerolog to the asynq.Logger interface.
type Logger struct {
	Z zerolog.Logger
}

var _ asynq.Logger = Logger{}

func (l Logger) Debug(args ...interface{}) { l.Z.Debug().Msg(fmt.Sprint(args...)) }
func (l Logger) Info(args ...interface{})  { l.Z.Info().Msg(fmt.Sprint(args...)) }
func (l Logger) Warn(args ...interface{})  { l.Z.Warn().Msg(fmt.Sprint(args...)) }
func (l Logger) Error(args ...interface{}) { l.Z.Error().Msg(fmt.Sprint(args...)) }
func (l Logger) Fatal(args ...interface{}) { l.Z.Fatal().Msg(fmt.Sprint(args...)) }

// ErrorHandler logs task failures. Pending queries are expected and logged at debug.
func ErrorHandler(logger zerolog.Logger) asynq.ErrorHandler {
	return asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, known := asynq.GetMaxRetry(ctx)
		evt := logger.Warn()
		if errors.Is(err, ErrStillPending) {
			evt = logger.Debug()
		}
		if known && retried >= maxRetry {
			evt = logger.Error()
		}
		evt.Err(err).
			Str("task_type", task.Type()).
			Int("retried", retried).
			Int("max_retry", maxRetry).
			Msg("payment_task_failed")
	})
}
