package hypervisor

import (
	"context"
	"fmt"
	"time"
)

// pollTask satisfies library.Task by polling task.get until the
// hypervisor-side operation (snapshot, export, import) reaches a
// terminal status. The interval is fixed rather than configurable: a
// tight poll loop on a JSON-RPC transport that is itself retried by
// Call would otherwise compound backoff policies.
type pollTask struct {
	client *Client
	ref    string
}

type taskStatus struct {
	Status string `mapstructure:"status"`
	Result any    `mapstructure:"result"`
	Error  any    `mapstructure:"error"`
}

func (t *pollTask) Wait(ctx context.Context) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		var raw map[string]any
		if err := t.client.Call(ctx, "task.get", map[string]any{"id": t.ref}, &raw); err != nil {
			return err
		}

		var status taskStatus
		if err := decode(raw, &status); err != nil {
			return err
		}

		switch status.Status {
		case "success":
			return nil
		case "failure":
			return fmt.Errorf("hypervisor task %s failed: %v", t.ref, status.Error)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
