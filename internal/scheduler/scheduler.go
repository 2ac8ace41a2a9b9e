package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tanq16/kestrel/internal/output"
)

// ErrSkipped is returned by a job that ended without a result but did not
// fail.
var ErrSkipped = errors.New("skipped")

// Job is one unit of batch work.
type Job struct {
	Label string
	Run   func(ctx context.Context) (string, error)
}

// Run executes jobs on numWorkers workers, reporting each outcome to mgr.
// It returns the number of failed jobs once all workers are done.
func Run(ctx context.Context, jobs []Job, numWorkers int, mgr *output.Manager) int {
	if mgr == nil {
		mgr = output.NewManager()
	}
	numWorkers = max(1, min(numWorkers, len(jobs)))
	jobCh := make(chan Job, len(jobs))
	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)

	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				if !processJob(ctx, job, mgr) {
					mu.Lock()
					failed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	return failed
}

func processJob(ctx context.Context, job Job, mgr *output.Manager) bool {
	id := mgr.Register(job.Label)
	if err := ctx.Err(); err != nil {
		mgr.ReportError(id, err)
		return false
	}
	msg, err := job.Run(ctx)
	switch {
	case errors.Is(err, ErrSkipped):
		mgr.Skip(id, msg)
	case err != nil:
		log.Debug().Str("op", "scheduler/job").Err(err).Msgf("job %s failed", job.Label)
		mgr.ReportError(id, err)
		return false
	default:
		mgr.Complete(id, msg)
	}
	return true
}
