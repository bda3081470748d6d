/*
Package tasklog brackets asynchronous work in task.start/task.end
events with parent chaining, the way every C8/C9 operation is made
introspectable without a single run ever failing silently.
*/
package tasklog

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/vatesfr/xobackup/internal/common/logger"
	"github.com/vatesfr/xobackup/pkg/payloads"
	"go.uber.org/zap"
)

// Event is one entry in the flat, time-ordered log stream a run
// produces. Consolidate folds these back into a tree keyed by
// ParentID.
type Event struct {
	Type      string // "task.start" | "task.end"
	TaskID    string
	ParentID  string
	Timestamp time.Time
	Message   string
	Data      any
	Status    payloads.Status
	Result    any
}

// Sink receives every event a Logger emits, in order.
type Sink func(Event)

// Logger wraps work in task.start/task.end events. It never owns the
// sink's delivery guarantees; it only shapes and times the events.
type Logger struct {
	sink Sink
	log  *logger.Logger
}

func New(sink Sink, log *logger.Logger) *Logger {
	return &Logger{sink: sink, log: log}
}

// Opts configures one wrapped unit of work.
type Opts struct {
	Message string
	Data    any
}

// Resulter, when returned by fn, lets the caller shape the success
// value recorded in the task.end event independently of the raw return
// value (e.g. to capture only a created object's id).
type Resulter interface {
	TaskResult() any
}

// Wrap brackets fn with task.start/task.end events under parentID,
// allocating a fresh taskID. It rethrows fn's error after logging the
// failure so it still propagates to the caller.
func (l *Logger) Wrap(ctx context.Context, parentID string, opts Opts, fn func(ctx context.Context, taskID string) (any, error)) (any, error) {
	taskID := uuid.Must(uuid.NewV4()).String()

	l.emit(Event{
		Type:      "task.start",
		TaskID:    taskID,
		ParentID:  parentID,
		Timestamp: now(),
		Message:   opts.Message,
		Data:      opts.Data,
	})

	result, err := fn(ctx, taskID)

	end := Event{
		Type:      "task.end",
		TaskID:    taskID,
		ParentID:  parentID,
		Timestamp: now(),
	}
	if err != nil {
		end.Status = payloads.Failure
		end.Result = err.Error()
		l.emit(end)
		l.log.Debug("task failed", zap.String("taskId", taskID), zap.Error(err))
		return nil, err
	}

	end.Status = payloads.Success
	if r, ok := result.(Resulter); ok {
		end.Result = r.TaskResult()
	} else {
		end.Result = result
	}
	l.emit(end)
	return result, nil
}

// WrapFn is Wrap with the task.start payload computed from the call
// arguments, allowing nested wraps to reference the allocated taskID
// before fn runs.
func (l *Logger) WrapFn(ctx context.Context, parentID string, optsFn func() Opts, fn func(ctx context.Context, taskID string) (any, error)) (any, error) {
	return l.Wrap(ctx, parentID, optsFn(), fn)
}

func (l *Logger) emit(e Event) {
	if l.sink != nil {
		l.sink(e)
	}
}

// now is a seam so tests can freeze time if needed; production always
// uses wall-clock time.
var now = time.Now
