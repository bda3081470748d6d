package tasklog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vatesfr/xobackup/internal/common/logger"
	"github.com/vatesfr/xobackup/pkg/payloads"
	"github.com/vatesfr/xobackup/pkg/tasklog"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(false)
	require.NoError(t, err)
	return l
}

func TestWrapEmitsStartAndSuccessEnd(t *testing.T) {
	var events []tasklog.Event
	tl := tasklog.New(func(e tasklog.Event) { events = append(events, e) }, newTestLogger(t))

	_, err := tl.Wrap(context.Background(), "parent-1", tasklog.Opts{Message: "snapshot"}, func(ctx context.Context, taskID string) (any, error) {
		require.NotEmpty(t, taskID)
		return "ok", nil
	})
	require.NoError(t, err)

	require.Len(t, events, 2)
	require.Equal(t, "task.start", events[0].Type)
	require.Equal(t, "parent-1", events[0].ParentID)
	require.Equal(t, "task.end", events[1].Type)
	require.Equal(t, payloads.Success, events[1].Status)
	require.Equal(t, events[0].TaskID, events[1].TaskID)
}

func TestWrapEmitsFailureEndAndPropagatesError(t *testing.T) {
	var events []tasklog.Event
	tl := tasklog.New(func(e tasklog.Event) { events = append(events, e) }, newTestLogger(t))
	boom := errors.New("boom")

	_, err := tl.Wrap(context.Background(), "", tasklog.Opts{}, func(ctx context.Context, taskID string) (any, error) {
		return nil, boom
	})

	require.ErrorIs(t, err, boom)
	require.Equal(t, payloads.Failure, events[1].Status)
	require.Equal(t, "boom", events[1].Result)
}

func TestConsolidateDiscardsDegenerateTranferPairs(t *testing.T) {
	ts := time.Now()
	events := []tasklog.Event{
		{Type: "task.start", TaskID: "a", ParentID: "root", Message: "tranfer", Timestamp: ts},
		{Type: "task.end", TaskID: "a", ParentID: "root", Status: payloads.Success, Timestamp: ts},
		{Type: "task.start", TaskID: "b", ParentID: "root", Message: "export", Timestamp: ts},
		{Type: "task.end", TaskID: "b", ParentID: "root", Status: payloads.Success, Timestamp: ts.Add(time.Second)},
	}

	byParent := tasklog.Consolidate(events)
	require.Len(t, byParent["root"], 1)
	require.Equal(t, "b", byParent["root"][0].TaskID)
}
