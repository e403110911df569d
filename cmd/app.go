package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/lakshaymaurya-felt/clearfile/internal/backup"
	"github.com/lakshaymaurya-felt/clearfile/internal/classify"
	"github.com/lakshaymaurya-felt/clearfile/internal/config"
	"github.com/lakshaymaurya-felt/clearfile/internal/events"
	"github.com/lakshaymaurya-felt/clearfile/internal/guard"
	"github.com/lakshaymaurya-felt/clearfile/internal/lock"
	"github.com/lakshaymaurya-felt/clearfile/internal/logging"
	"github.com/lakshaymaurya-felt/clearfile/internal/pipeline"
	"github.com/lakshaymaurya-felt/clearfile/internal/scan"
	"github.com/lakshaymaurya-felt/clearfile/internal/search"
	"github.com/lakshaymaurya-felt/clearfile/internal/ui"
)

// app holds the components one command invocation works with.
type app struct {
	log     *zap.Logger
	fs      afero.Fs
	guard   *guard.Guard
	locks   *lock.ProcessChecker
	scanner *scan.Scanner
	store   *backup.Store

	// interactive is set when stderr is a terminal and the live view runs.
	interactive bool
	broadcast   *events.Broadcaster
	out         io.Writer
}

// newApp wires the components from the loaded configuration. The backup
// store is only opened when withStore is set so that read-only commands do
// not create the backup directory.
func newApp(ctx context.Context, out io.Writer, withStore bool) (*app, error) {
	log, runID := logging.NewRunLogger(logging.FromContext(ctx))
	runMetrics.SetRunInfo(runID, appVersion)

	a := &app{
		log:         log,
		fs:          afero.NewOsFs(),
		guard:       newGuard(cfg),
		locks:       lock.NewProcessChecker(lock.WithLogger(log)),
		interactive: !noProgress && ui.IsTerminal(os.Stderr),
		out:         out,
	}

	classifier := classify.New(a.fs, classify.Rule{
		Extensions: cfg.RubbishExtensions,
		MaxAge:     cfg.MaxAge(),
		MinSize:    cfg.MinSizeBytes,
	})
	a.scanner = scan.New(a.fs, a.guard, classifier,
		scan.WithLogger(log),
		scan.WithSkipHandler(func(scan.Skip) {
			runMetrics.RecordSkip(events.StageScan)
		}),
	)

	if withStore {
		store, err := backup.NewStore(cfg.BackupDir,
			backup.WithFs(a.fs),
			backup.WithLockChecker(a.locks),
			backup.WithLogger(log),
			backup.WithCompressionLevel(cfg.CompressionLevel),
		)
		if err != nil {
			return nil, err
		}
		a.store = store

		// Warm the open-handle snapshot so the first lock check is not slow.
		if err := a.locks.Refresh(ctx); err != nil {
			log.Debug("open file snapshot unavailable", zap.Error(err))
		}
	}

	log.Debug("run started", zap.Bool("interactive", a.interactive))
	return a, nil
}

// newGuard protects the configured paths plus the backup directory, so files
// restored there without metadata are never swept up by the next clean.
func newGuard(c *config.Config) *guard.Guard {
	prefixes := make([]string, 0, len(c.ProtectedPaths)+1)
	prefixes = append(prefixes, c.ProtectedPaths...)
	prefixes = append(prefixes, c.BackupDir)
	return guard.New(prefixes, guard.WithCaseInsensitive(runtime.GOOS == "windows"))
}

// sink returns the event sink for a pipeline run. The live view reads from
// the broadcaster; otherwise per-file lines go straight to out.
func (a *app) sink() events.Sink {
	var display events.Sink
	if a.interactive {
		a.broadcast = events.NewBroadcaster()
		display = a.broadcast
	} else {
		display = ui.PlainSink(a.out)
	}
	return events.Multi(runMetrics, events.Log(a.log), display)
}

// pipeline builds a pipeline over the app's components.
func (a *app) pipeline() *pipeline.Pipeline {
	return pipeline.New(a.scanner, a.guard, a.store,
		pipeline.WithFs(a.fs),
		pipeline.WithLockChecker(a.locks),
		pipeline.WithSink(a.sink()),
		pipeline.WithLogger(a.log),
		pipeline.WithRetentionDays(cfg.RetentionDays),
	)
}

// searcher builds a searcher that never descends into protected paths.
func (a *app) searcher() *search.Searcher {
	return search.NewSearcher(a.fs, runtime.NumCPU(),
		search.WithGuard(a.guard),
		search.WithLogger(a.log),
	)
}

// volumes resolves command arguments to volume roots. No arguments means
// every mounted volume.
func (a *app) volumes(ctx context.Context, args []string) ([]scan.Volume, error) {
	if len(args) > 0 {
		vols := scan.VolumesFromPaths(args)
		if len(vols) == 0 {
			return nil, fmt.Errorf("no usable paths in %v", args)
		}
		return vols, nil
	}
	vols, err := scan.ListVolumes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}
	return vols, nil
}

// runPhase starts job on p and blocks until it finishes, showing the live
// progress view when attached to a terminal.
func (a *app) runPhase(ctx context.Context, p *pipeline.Pipeline, title string, job pipeline.Job) (*pipeline.Summary, error) {
	if a.broadcast == nil {
		task, err := p.Start(ctx, job)
		if err != nil {
			return nil, err
		}
		return task.Wait()
	}

	stream := a.broadcast.Subscribe()
	task, err := p.Start(ctx, job)
	if err != nil {
		a.broadcast.Unsubscribe(stream)
		return nil, err
	}
	go func() {
		<-task.Done()
		a.broadcast.Unsubscribe(stream)
	}()

	cancelled, err := ui.RunProgress(title, stream, task.Cancel, os.Stderr)
	if err != nil {
		// The view failed; keep the run going and wait for it headless.
		a.log.Warn("progress view unavailable", zap.Error(err))
	}
	summary, runErr := task.Wait()
	if cancelled {
		a.log.Info("cancelled by user", zap.String("phase", job.Kind.String()))
	}
	return summary, runErr
}
