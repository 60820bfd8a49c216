package poller

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/autoglean/client"
	"github.com/saiset-co/autoglean/types"
)

// TaskAPI is the part of the backend the poller drives.
type TaskAPI interface {
	UploadFile(ctx context.Context, fileName string, content io.Reader) (*types.UploadResponse, error)
	StartExtraction(ctx context.Context, jobID, extractorID string) (*types.ExtractionResponse, error)
	TaskStatus(ctx context.Context, taskID string) (*types.TaskStatus, error)
}

// Source is a file that can be uploaded.
type Source interface {
	Name() string
	Open() (io.ReadCloser, error)
}

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

type Option func(*Poller)

func WithSleeper(sleep Sleeper) Option {
	return func(p *Poller) {
		p.sleep = sleep
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		p.now = now
	}
}

type Poller struct {
	api            TaskAPI
	logger         types.Logger
	metrics        types.MetricsManager
	schedule       Schedule
	maxQueryErrors int
	sleep          Sleeper
	now            func() time.Time
}

// Submission is the outcome of a full upload, start and poll cycle.
type Submission struct {
	JobID  string
	TaskID string
	Result *types.ExtractionResult
}

func New(api TaskAPI, config *types.PollerConfig, logger types.Logger, metrics types.MetricsManager, opts ...Option) (*Poller, error) {
	if api == nil {
		return nil, types.ErrClientNotInitialized
	}

	p := &Poller{
		api:            api,
		logger:         logger,
		metrics:        metrics,
		schedule:       NewSchedule(config),
		maxQueryErrors: 3,
		sleep:          SleepContext,
		now:            time.Now,
	}

	if config != nil {
		p.maxQueryErrors = config.MaxQueryErrors
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

func (p *Poller) Schedule() Schedule {
	return p.schedule
}

// Submit uploads file and returns the job id.
func (p *Poller) Submit(ctx context.Context, file Source) (string, error) {
	content, err := file.Open()
	if err != nil {
		return "", types.Wrap(types.ErrUpload, types.Wrap(types.ErrFileRead, err))
	}
	defer content.Close()

	resp, err := p.api.UploadFile(ctx, file.Name(), content)
	if err != nil {
		return "", types.Wrap(types.ErrUpload, err)
	}

	p.logger.Debug("File uploaded",
		zap.String("file_name", file.Name()),
		zap.String("job_id", resp.JobID))

	return resp.JobID, nil
}

// StartTask starts extraction of an uploaded job and returns the task id.
func (p *Poller) StartTask(ctx context.Context, jobID, extractorID string) (string, error) {
	resp, err := p.api.StartExtraction(ctx, jobID, extractorID)
	if err != nil {
		return "", types.Wrap(types.ErrStartExtraction, err)
	}

	p.logger.Debug("Extraction started",
		zap.String("job_id", jobID),
		zap.String("extractor_id", extractorID),
		zap.String("task_id", resp.TaskID))

	return resp.TaskID, nil
}

// PollUntilTerminal queries the task until it succeeds, fails or the attempt
// budget runs out. It issues at most MaxAttempts queries and never sleeps
// after the last one. observer, if set, gets at most one update per attempt,
// in attempt order, and cannot influence the timing.
//
// A query that fails in transport consumes an attempt; more than
// max_query_errors consecutive failures end the poll with that error.
// A status reply that cannot be decoded ends it at once.
func (p *Poller) PollUntilTerminal(ctx context.Context, taskID string, observer types.PollObserver) (*types.ExtractionResult, error) {
	start := p.now()
	state := types.PollState{
		TaskID:   taskID,
		Deadline: start.Add(p.schedule.Budget()),
	}

	queryErrors := 0

	for attempt := 0; attempt < p.schedule.MaxAttempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			p.recordOutcome("cancelled")
			return nil, err
		}

		state.Attempt = attempt
		last := attempt == p.schedule.MaxAttempts()-1
		delay := p.schedule.Delay(attempt)
		if last {
			delay = 0
		}

		status, err := p.api.TaskStatus(ctx, taskID)
		switch {
		case err != nil && ctx.Err() != nil:
			p.recordOutcome("cancelled")
			return nil, ctx.Err()
		case errors.Is(err, types.ErrMalformedResponse):
			p.recordOutcome("malformed")
			return nil, err
		case err != nil:
			queryErrors++
			p.recordAttempt("error")
			p.logger.Warn("Task status query failed",
				zap.String("task_id", taskID),
				zap.Int("attempt", attempt),
				zap.Int("consecutive_errors", queryErrors),
				zap.Error(err))

			if queryErrors > p.maxQueryErrors {
				p.recordOutcome("query_error")
				return nil, types.WrapError(err, "task status query")
			}
		default:
			queryErrors = 0
			state.Status = status.Status
			p.recordAttempt(string(status.Status))

			if observer != nil {
				observer.OnPollUpdate(types.PollUpdate{
					TaskID:    taskID,
					Attempt:   attempt,
					Status:    status.Status,
					NextDelay: delay,
					Raw:       status,
				})
			}

			if status.Status.IsTerminal() {
				return p.terminal(taskID, status)
			}
		}

		if last {
			break
		}

		if err := p.sleep(ctx, delay); err != nil {
			p.recordOutcome("cancelled")
			return nil, err
		}
	}

	p.recordOutcome("timeout")

	return nil, &types.PollTimeoutError{
		TaskID:     taskID,
		Attempts:   p.schedule.MaxAttempts(),
		LastStatus: state.Status,
		Elapsed:    p.now().Sub(start),
	}
}

// SubmitAndPoll runs Submit, StartTask and PollUntilTerminal in sequence.
func (p *Poller) SubmitAndPoll(ctx context.Context, file Source, extractorID string, observer types.PollObserver) (*Submission, error) {
	jobID, err := p.Submit(ctx, file)
	if err != nil {
		return nil, err
	}

	taskID, err := p.StartTask(ctx, jobID, extractorID)
	if err != nil {
		return &Submission{JobID: jobID}, err
	}

	result, err := p.PollUntilTerminal(ctx, taskID, observer)
	if err != nil {
		return &Submission{JobID: jobID, TaskID: taskID}, err
	}

	return &Submission{JobID: jobID, TaskID: taskID, Result: result}, nil
}

func (p *Poller) terminal(taskID string, status *types.TaskStatus) (*types.ExtractionResult, error) {
	if status.Status == types.TaskFailure {
		p.recordOutcome("task_failed")
		return nil, &types.TaskFailedError{TaskID: taskID, Message: status.Error}
	}

	result, err := client.DecodeTaskResult(status.Result)
	if err != nil {
		p.recordOutcome("malformed")
		return nil, err
	}

	if result.Status == types.ResultFailed {
		p.recordOutcome("extraction_failed")
		return nil, &types.DomainExtractionError{
			TaskID:    taskID,
			JobID:     result.JobID,
			Message:   result.Error,
			ErrorType: result.ErrorType,
		}
	}

	extraction := *result.Result
	if extraction.JobID == "" {
		extraction.JobID = result.JobID
	}

	p.recordOutcome("succeeded")

	return &extraction, nil
}

func (p *Poller) recordAttempt(status string) {
	if p.metrics == nil {
		return
	}
	p.metrics.Counter("poller_attempts_total", map[string]string{"status": status}).Inc()
}

func (p *Poller) recordOutcome(outcome string) {
	if p.metrics == nil {
		return
	}
	p.metrics.Counter("poller_outcomes_total", map[string]string{"outcome": outcome}).Inc()
}

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
