/*
Package executor is the job runner (C9): it is the entire public
surface the outer scheduler needs. Run resolves which VMs a job
applies to, then fans a Worker run out across them, optionally bounded
and never stopped short by one VM's failure.
*/
package executor

import (
	"context"
	"time"

	"github.com/vatesfr/xobackup/internal/common/logger"
	"github.com/vatesfr/xobackup/pkg/payloads"
	"github.com/vatesfr/xobackup/pkg/tasklog"
	"github.com/vatesfr/xobackup/pkg/worker"
	"github.com/vatesfr/xobackup/pkg/xoerrors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// defaultConcurrency is the errgroup limit used when Concurrency is zero
// or negative. errgroup treats a negative limit as no limit, so by
// default every matched VM of a job runs at once.
const defaultConcurrency = -1

// Executor wires a pool of per-VM Workers to one job run.
type Executor struct {
	NewWorker   func() *worker.Worker
	TaskLog     *tasklog.Logger
	Log         *logger.Logger
	Concurrency int
}

// Run resolves job.VMs against the caller-supplied candidates and runs
// one Worker per match, at most Concurrency at a time when Concurrency
// is positive and all at once otherwise. A VM whose
// run fails does not cancel its siblings (§4.9); every error is
// collected and returned together.
func (e *Executor) Run(ctx context.Context, job payloads.Job, schedule payloads.Schedule, candidates []payloads.VM) error {
	result, err := e.TaskLog.Wrap(ctx, "", tasklog.Opts{
		Message: "backup-job",
		Data:    map[string]string{"jobId": job.ID, "scheduleId": schedule.ID},
	}, func(ctx context.Context, taskID string) (any, error) {
		return nil, e.run(ctx, taskID, job, schedule, candidates)
	})
	_ = result
	return err
}

func (e *Executor) run(ctx context.Context, taskID string, job payloads.Job, schedule payloads.Schedule, candidates []payloads.VM) error {
	vms := matchVMs(job, candidates)
	if len(vms) == 0 {
		return xoerrors.New(xoerrors.ErrNoVMsMatchPattern, "job %s: no VM matched its predicate", job.ID)
	}

	concurrency := e.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	errs := make([]error, len(vms))
	now := time.Now()
	for i, vm := range vms {
		i, vm := i, vm
		g.Go(func() error {
			w := e.NewWorker()
			errs[i] = w.Run(gctx, worker.Options{
				VM:           vm,
				Job:          job,
				Schedule:     schedule,
				ParentTaskID: taskID,
				Now:          now,
			})
			if errs[i] != nil {
				e.Log.Debug("vm backup failed",
					zap.String("job", job.ID),
					zap.String("vm", vm.UUID.String()),
					zap.Error(errs[i]))
			}
			return nil
		})
	}
	_ = g.Wait()

	var out error
	for _, err := range errs {
		if err != nil {
			out = multierr.Append(out, err)
		}
	}
	return out
}

// matchVMs evaluates job.VMs against every candidate, preserving
// candidate order.
func matchVMs(job payloads.Job, candidates []payloads.VM) []payloads.VM {
	if job.VMs == nil {
		return nil
	}
	var matched []payloads.VM
	for _, vm := range candidates {
		if vm.IsATemplate || vm.IsASnapshot {
			continue
		}
		if job.VMs(vm) {
			matched = append(matched, vm)
		}
	}
	return matched
}
