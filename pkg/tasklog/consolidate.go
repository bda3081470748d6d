package tasklog

import "github.com/vatesfr/xobackup/pkg/payloads"

// Node is a consolidated task, reconstructed by pairing a task.start
// with its matching task.end.
type Node struct {
	TaskID   string
	ParentID string
	Message  string
	Data     any
	Status   payloads.Status
	Result   any
	Start    int64 // unix millis
	End      int64
	Duration int64
}

// discardedMessages is the known quirk (§9 design note): degenerate
// task pairs with identical start/end times and one of these messages
// are discarded. They come from synchronous wrappers that add no
// information. "tranfer" is a verbatim misspelling carried over from
// the original log stream and must not be "fixed".
var discardedMessages = map[string]bool{
	"merge":   true,
	"tranfer": true,
}

// Consolidate folds a flat, time-ordered event stream into a tree of
// Nodes keyed by ParentID ("" for job-level roots).
func Consolidate(events []Event) map[string][]*Node {
	byTaskID := make(map[string]*Node)
	order := make([]string, 0, len(events))

	for _, e := range events {
		switch e.Type {
		case "task.start", "job.start":
			n := &Node{
				TaskID:   e.TaskID,
				ParentID: e.ParentID,
				Message:  e.Message,
				Data:     e.Data,
				Start:    e.Timestamp.UnixMilli(),
			}
			byTaskID[e.TaskID] = n
			order = append(order, e.TaskID)
		case "task.end", "job.end":
			n, ok := byTaskID[e.TaskID]
			if !ok {
				continue
			}
			n.Status = e.Status
			n.Result = e.Result
			n.End = e.Timestamp.UnixMilli()
			n.Duration = n.End - n.Start
		}
	}

	byParent := make(map[string][]*Node)
	for _, taskID := range order {
		n := byTaskID[taskID]
		if n.Duration == 0 && discardedMessages[n.Message] {
			continue
		}
		byParent[n.ParentID] = append(byParent[n.ParentID], n)
	}
	return byParent
}
