package pipeline

import (
	"context"

	"github.com/lakshaymaurya-felt/clearfile/internal/scan"
)

// JobKind selects what a background task does.
type JobKind int

const (
	// JobScan only refreshes the candidate list.
	JobScan JobKind = iota
	// JobCleanup backs up and deletes the current candidate list.
	JobCleanup
	// JobScanAndCleanup scans and then cleans up what was found.
	JobScanAndCleanup
)

func (k JobKind) String() string {
	switch k {
	case JobScan:
		return "scan"
	case JobCleanup:
		return "cleanup"
	case JobScanAndCleanup:
		return "scan+cleanup"
	default:
		return "unknown"
	}
}

// Job describes one background operation.
type Job struct {
	Kind    JobKind
	Volumes []scan.Volume
	Options Options
}

// Task is a running background operation.
type Task struct {
	cancel  context.CancelFunc
	done    chan struct{}
	summary *Summary
	err     error
}

// Cancel asks the task to stop at the next file boundary.
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes and returns its summary and error.
func (t *Task) Wait() (*Summary, error) {
	<-t.done
	return t.summary, t.err
}

// Start runs job on its own goroutine. It returns ErrBusy when another
// operation holds the pipeline; otherwise the pipeline stays busy until the
// task finishes.
func (p *Pipeline) Start(ctx context.Context, job Job) (*Task, error) {
	if err := p.acquire(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(t.done)
		defer cancel()
		defer p.release()

		t.summary, t.err = p.run(ctx, job)
	}()
	return t, nil
}

func (p *Pipeline) run(ctx context.Context, job Job) (*Summary, error) {
	switch job.Kind {
	case JobScan:
		return p.scan(ctx, job.Volumes)
	case JobCleanup:
		return p.cleanup(ctx, p.Candidates(), job.Options)
	default:
		summary, err := p.scan(ctx, job.Volumes)
		if err != nil {
			return summary, err
		}
		return p.cleanup(ctx, p.Candidates(), job.Options)
	}
}
