package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/autoglean/cache"
	"github.com/saiset-co/autoglean/poller"
	"github.com/saiset-co/autoglean/types"
)

type Stage string

const (
	StageRead      Stage = "read"
	StageLookup    Stage = "lookup"
	StageCacheHit  Stage = "cache_hit"
	StageUpload    Stage = "upload"
	StageExtract   Stage = "extract"
	StagePoll      Stage = "poll"
	StageStore     Stage = "store"
	StageDone      Stage = "done"
	StageFailed    Stage = "failed"
	StageCancelled Stage = "cancelled"
)

const defaultFileDelay = 500 * time.Millisecond

// FileError names the file and the step a failure happened in.
type FileError struct {
	FileName string
	Stage    Stage
	Err      error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.FileName, e.Stage, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

type ProgressEvent struct {
	FileName string
	Index    int
	Total    int
	Stage    Stage
	Message  string
	Attempt  int
	Status   types.TaskState
}

type ProgressObserver interface {
	OnProgress(event ProgressEvent)
}

type ProgressObserverFunc func(event ProgressEvent)

func (f ProgressObserverFunc) OnProgress(event ProgressEvent) {
	f(event)
}

type FileOutcome struct {
	FileName  string
	CacheKey  string
	FromCache bool
	JobID     string
	TaskID    string
	Result    *types.ExtractionResult
	Err       error
	Duration  time.Duration
}

// JobRunner is the upload, start and poll protocol.
type JobRunner interface {
	Submit(ctx context.Context, file poller.Source) (string, error)
	StartTask(ctx context.Context, jobID, extractorID string) (string, error)
	PollUntilTerminal(ctx context.Context, taskID string, observer types.PollObserver) (*types.ExtractionResult, error)
}

// CacheHitRecorder reports results served locally so backend usage
// analytics stay accurate.
type CacheHitRecorder interface {
	RecordCacheHit(ctx context.Context, record *types.CacheHitRecord) error
}

type Option func(*Workflow)

func WithCacheHitRecorder(recorder CacheHitRecorder) Option {
	return func(w *Workflow) {
		w.recorder = recorder
	}
}

func WithSleeper(sleep poller.Sleeper) Option {
	return func(w *Workflow) {
		w.sleep = sleep
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Workflow) {
		w.now = now
	}
}

// Workflow processes files one at a time: fingerprint, cache lookup, and on
// a miss upload, start, poll and store. A failure affects only its own file.
type Workflow struct {
	runner        JobRunner
	cache         types.ResultCache
	fingerprinter *cache.Fingerprinter
	recorder      CacheHitRecorder
	config        *types.WorkflowConfig
	logger        types.Logger
	metrics       types.MetricsManager
	sleep         poller.Sleeper
	now           func() time.Time
}

func New(runner JobRunner, resultCache types.ResultCache, fingerprinter *cache.Fingerprinter, config *types.WorkflowConfig, logger types.Logger, metrics types.MetricsManager, opts ...Option) (*Workflow, error) {
	if runner == nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "job runner is nil")
	}

	if resultCache == nil {
		resultCache = cache.NewDisabledCache()
	}

	if fingerprinter == nil {
		fingerprinter, _ = cache.NewFingerprinter(cache.FingerprintContent)
	}

	if config == nil {
		config = &types.WorkflowConfig{InterFileDelay: defaultFileDelay, RecordCacheHit: true}
	}

	w := &Workflow{
		runner:        runner,
		cache:         resultCache,
		fingerprinter: fingerprinter,
		config:        config,
		logger:        logger,
		metrics:       metrics,
		sleep:         poller.SleepContext,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Run processes files in order and returns one outcome per file. Once ctx is
// done the remaining files are reported as cancelled.
func (w *Workflow) Run(ctx context.Context, extractor *types.Extractor, files []cache.FileSource, observer ProgressObserver) []FileOutcome {
	outcomes := make([]FileOutcome, 0, len(files))
	notify := func(event ProgressEvent) {
		if observer != nil {
			event.Total = len(files)
			observer.OnProgress(event)
		}
	}

	if extractor == nil {
		for i, file := range files {
			outcome := FileOutcome{
				FileName: file.Name(),
				Err: &FileError{
					FileName: file.Name(),
					Stage:    StageRead,
					Err:      types.Errorf(types.ErrInvalidParameter, "extractor is nil"),
				},
			}
			w.recordFile("failed", 0)
			outcomes = append(outcomes, outcome)
			notify(ProgressEvent{FileName: file.Name(), Index: i, Stage: StageFailed, Message: outcome.Err.Error()})
		}
		return outcomes
	}

	for i, file := range files {
		if i > 0 && ctx.Err() == nil && w.config.InterFileDelay > 0 {
			_ = w.sleep(ctx, w.config.InterFileDelay)
		}

		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, w.cancelled(file.Name(), err))
			notify(ProgressEvent{FileName: file.Name(), Index: i, Stage: StageCancelled, Message: "Cancelled"})
			continue
		}

		outcome := w.processFile(ctx, extractor, file, func(event ProgressEvent) {
			event.Index = i
			notify(event)
		})
		outcomes = append(outcomes, outcome)

		if outcome.Err != nil {
			stage := StageFailed
			if ctx.Err() != nil {
				stage = StageCancelled
			}
			notify(ProgressEvent{FileName: file.Name(), Index: i, Stage: stage, Message: outcome.Err.Error()})
		}
	}

	return outcomes
}

func (w *Workflow) processFile(ctx context.Context, extractor *types.Extractor, file cache.FileSource, notify func(ProgressEvent)) FileOutcome {
	start := w.now()
	outcome := FileOutcome{FileName: file.Name()}

	finish := func(result string) FileOutcome {
		outcome.Duration = w.now().Sub(start)
		w.recordFile(result, outcome.Duration)
		return outcome
	}

	fail := func(stage Stage, err error) FileOutcome {
		outcome.Err = &FileError{FileName: file.Name(), Stage: stage, Err: err}
		if ctx.Err() != nil {
			return finish("cancelled")
		}
		w.logger.Warn("File extraction failed",
			zap.String("file_name", file.Name()),
			zap.String("stage", string(stage)),
			zap.Error(err))
		return finish("failed")
	}

	notify(ProgressEvent{FileName: file.Name(), Stage: StageRead, Message: "Reading file..."})

	key, err := w.fingerprinter.Fingerprint(ctx, file, extractor.ExtractorID, extractor.VersionToken())
	switch {
	case err != nil && ctx.Err() != nil:
		return fail(StageRead, ctx.Err())
	case errors.Is(err, types.ErrFileRead):
		return fail(StageRead, err)
	case err != nil:
		w.logger.Warn("Fingerprint failed, cache bypassed",
			zap.String("file_name", file.Name()),
			zap.Error(err))
	}
	outcome.CacheKey = key

	if key != "" {
		notify(ProgressEvent{FileName: file.Name(), Stage: StageLookup, Message: "Checking cache..."})

		if entry, ok := w.cache.Lookup(ctx, key); ok {
			outcome.FromCache = true
			outcome.JobID = entry.JobID
			outcome.TaskID = entry.TaskID
			outcome.Result = &types.ExtractionResult{
				JobID:         entry.JobID,
				ExtractorID:   entry.ExtractorID,
				FileName:      file.Name(),
				ResultContent: entry.Content,
			}

			w.recordCacheHit(ctx, extractor, file.Name(), entry)
			notify(ProgressEvent{FileName: file.Name(), Stage: StageCacheHit, Message: "Loaded from cache"})

			return finish("cached")
		}
	}

	notify(ProgressEvent{FileName: file.Name(), Stage: StageUpload, Message: "Uploading..."})

	jobID, err := w.runner.Submit(ctx, file)
	if err != nil {
		return fail(StageUpload, err)
	}
	outcome.JobID = jobID

	notify(ProgressEvent{FileName: file.Name(), Stage: StageExtract, Message: "Starting extraction..."})

	taskID, err := w.runner.StartTask(ctx, jobID, extractor.ExtractorID)
	if err != nil {
		return fail(StageExtract, err)
	}
	outcome.TaskID = taskID

	notify(ProgressEvent{FileName: file.Name(), Stage: StagePoll, Message: "Processing document..."})

	result, err := w.runner.PollUntilTerminal(ctx, taskID, types.PollObserverFunc(func(update types.PollUpdate) {
		notify(ProgressEvent{
			FileName: file.Name(),
			Stage:    StagePoll,
			Message:  fmt.Sprintf("Processing document... (%s)", update.Status),
			Attempt:  update.Attempt,
			Status:   update.Status,
		})
	}))
	if err != nil {
		return fail(StagePoll, err)
	}
	outcome.Result = result

	if key != "" {
		notify(ProgressEvent{FileName: file.Name(), Stage: StageStore, Message: "Saving to cache..."})
		w.cache.Store(ctx, &types.CacheEntry{
			Key:              key,
			ExtractorID:      extractor.ExtractorID,
			ExtractorVersion: extractor.VersionToken(),
			FileName:         file.Name(),
			TaskID:           taskID,
			JobID:            jobID,
			Content:          result.ResultContent,
			ExtractedAt:      w.now(),
		})
	}

	notify(ProgressEvent{FileName: file.Name(), Stage: StageDone, Message: "Completed!"})

	return finish("extracted")
}

func (w *Workflow) recordCacheHit(ctx context.Context, extractor *types.Extractor, fileName string, entry *types.CacheEntry) {
	if w.recorder == nil || !w.config.RecordCacheHit {
		return
	}

	err := w.recorder.RecordCacheHit(ctx, &types.CacheHitRecord{
		ExtractorID: extractor.ExtractorID,
		FileName:    fileName,
		CacheKey:    entry.Key,
		TaskID:      entry.TaskID,
	})
	if err != nil {
		w.logger.Info("Cache hit not reported to backend",
			zap.String("file_name", fileName),
			zap.Error(err))
	}
}

func (w *Workflow) cancelled(fileName string, err error) FileOutcome {
	w.recordFile("cancelled", 0)
	return FileOutcome{
		FileName: fileName,
		Err:      &FileError{FileName: fileName, Stage: StageCancelled, Err: err},
	}
}

func (w *Workflow) recordFile(outcome string, duration time.Duration) {
	if w.metrics == nil {
		return
	}

	w.metrics.Counter("workflow_files_total", map[string]string{"outcome": outcome}).Inc()
	w.metrics.Histogram("workflow_file_duration_seconds", nil, map[string]string{"outcome": outcome}).Observe(duration.Seconds())
}
