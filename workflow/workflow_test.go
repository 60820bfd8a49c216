package workflow

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/autoglean/cache"
	"github.com/saiset-co/autoglean/logger"
	"github.com/saiset-co/autoglean/poller"
	"github.com/saiset-co/autoglean/types"
)

const extractorUUID = "0b8f6a9e-3c1d-4f2e-9a7b-5d6c4e3f2a1b"

type fakeRunner struct {
	mu         sync.Mutex
	events     []string
	active     string
	overlap    bool
	submitErrs map[string]error
	pollErrs   map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{submitErrs: map[string]error{}, pollErrs: map[string]error{}}
}

func (f *fakeRunner) record(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeRunner) Submit(_ context.Context, file poller.Source) (string, error) {
	f.mu.Lock()
	if f.active != "" && f.active != file.Name() {
		f.overlap = true
	}
	f.active = file.Name()
	f.mu.Unlock()

	f.record("submit:" + file.Name())
	if err := f.submitErrs[file.Name()]; err != nil {
		f.finish()
		return "", types.Wrap(types.ErrUpload, err)
	}
	return "job-" + file.Name(), nil
}

func (f *fakeRunner) StartTask(_ context.Context, jobID, _ string) (string, error) {
	f.record("start:" + strings.TrimPrefix(jobID, "job-"))
	return "task-" + strings.TrimPrefix(jobID, "job-"), nil
}

func (f *fakeRunner) PollUntilTerminal(_ context.Context, taskID string, observer types.PollObserver) (*types.ExtractionResult, error) {
	name := strings.TrimPrefix(taskID, "task-")
	defer f.finish()

	f.record("poll:" + name)
	if observer != nil {
		observer.OnPollUpdate(types.PollUpdate{TaskID: taskID, Attempt: 0, Status: types.TaskProcessing})
		observer.OnPollUpdate(types.PollUpdate{TaskID: taskID, Attempt: 1, Status: types.TaskSuccess})
	}
	f.record("terminal:" + name)

	if err := f.pollErrs[name]; err != nil {
		return nil, err
	}

	return &types.ExtractionResult{
		JobID:         "job-" + name,
		ExtractorID:   extractorUUID,
		FileName:      name,
		ResultContent: "# " + name,
	}, nil
}

func (f *fakeRunner) finish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = ""
}

func (f *fakeRunner) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []*types.CacheHitRecord
	err     error
}

func (r *fakeRecorder) RecordCacheHit(_ context.Context, record *types.CacheHitRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return r.err
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

type brokenFile struct{ name string }

func (b brokenFile) Name() string                 { return b.name }
func (b brokenFile) Size() int64                  { return 10 }
func (b brokenFile) ModTime() time.Time           { return time.Time{} }
func (b brokenFile) Open() (io.ReadCloser, error) { return nil, errors.New("permission denied") }

func file(name, content string) cache.FileSource {
	return &cache.MemoryFile{FileName: name, Data: []byte(content)}
}

func testExtractor(version string) *types.Extractor {
	return &types.Extractor{ID: 7, ExtractorID: extractorUUID, UpdatedAt: version, Visibility: types.VisibilityPublic}
}

type harness struct {
	workflow *Workflow
	runner   *fakeRunner
	recorder *fakeRecorder
	sleeper  *sleepRecorder
	cache    *cache.ResultCache
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	rc, err := cache.NewResultCache(context.Background(), &types.CacheConfig{
		Enabled:    true,
		Type:       "memory",
		MaxEntries: 10,
	}, logger.NewNop(), nil)
	require.NoError(t, err)
	require.NoError(t, rc.Start())
	t.Cleanup(func() { _ = rc.Stop() })

	fp, err := cache.NewFingerprinter(cache.FingerprintContent)
	require.NoError(t, err)

	h := &harness{
		runner:   newFakeRunner(),
		recorder: &fakeRecorder{},
		sleeper:  &sleepRecorder{},
		cache:    rc,
	}

	h.workflow, err = New(h.runner, rc, fp, &types.WorkflowConfig{
		InterFileDelay: 500 * time.Millisecond,
		RecordCacheHit: true,
	}, logger.NewNop(), nil, WithCacheHitRecorder(h.recorder), WithSleeper(h.sleeper.Sleep))
	require.NoError(t, err)

	return h
}

func TestWorkflow_SequentialProcessing(t *testing.T) {
	h := newHarness(t)

	files := []cache.FileSource{file("a.pdf", "A"), file("b.pdf", "B"), file("c.pdf", "C")}
	outcomes := h.workflow.Run(context.Background(), testExtractor("v1"), files, nil)

	require.Len(t, outcomes, 3)
	for i, outcome := range outcomes {
		require.NoError(t, outcome.Err)
		assert.Equal(t, files[i].Name(), outcome.FileName)
		assert.False(t, outcome.FromCache)
	}

	assert.Equal(t, []string{
		"submit:a.pdf", "start:a.pdf", "poll:a.pdf", "terminal:a.pdf",
		"submit:b.pdf", "start:b.pdf", "poll:b.pdf", "terminal:b.pdf",
		"submit:c.pdf", "start:c.pdf", "poll:c.pdf", "terminal:c.pdf",
	}, h.runner.Events())
	assert.False(t, h.runner.overlap)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, h.sleeper.delays)
}

func TestWorkflow_CacheHitSkipsBackend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	extractor := testExtractor("2025-05-02T11:30:00")

	first := h.workflow.Run(ctx, extractor, []cache.FileSource{file("invoice.pdf", "%PDF-1")}, nil)
	require.NoError(t, first[0].Err)
	require.NotEmpty(t, first[0].CacheKey)
	assert.Len(t, h.runner.Events(), 4)

	var stages []Stage
	observer := ProgressObserverFunc(func(event ProgressEvent) { stages = append(stages, event.Stage) })

	second := h.workflow.Run(ctx, extractor, []cache.FileSource{file("invoice.pdf", "%PDF-1")}, observer)
	require.NoError(t, second[0].Err)

	assert.True(t, second[0].FromCache)
	assert.Equal(t, first[0].CacheKey, second[0].CacheKey)
	assert.Equal(t, "# invoice.pdf", second[0].Result.ResultContent)
	assert.Equal(t, "task-invoice.pdf", second[0].TaskID)
	assert.Len(t, h.runner.Events(), 4, "cache hit issues no upload, start or poll")
	assert.Equal(t, []Stage{StageRead, StageLookup, StageCacheHit}, stages)

	require.Len(t, h.recorder.records, 1)
	assert.Equal(t, first[0].CacheKey, h.recorder.records[0].CacheKey)
	assert.Equal(t, extractorUUID, h.recorder.records[0].ExtractorID)
}

func TestWorkflow_CacheHitReportFailureIsNotAnError(t *testing.T) {
	h := newHarness(t)
	h.recorder.err = errors.New("404 not found")
	ctx := context.Background()

	h.workflow.Run(ctx, testExtractor("v1"), []cache.FileSource{file("a.pdf", "A")}, nil)
	outcomes := h.workflow.Run(ctx, testExtractor("v1"), []cache.FileSource{file("a.pdf", "A")}, nil)

	require.NoError(t, outcomes[0].Err)
	assert.True(t, outcomes[0].FromCache)
}

func TestWorkflow_CacheHitNamesCurrentFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.workflow.Run(ctx, testExtractor("v1"), []cache.FileSource{file("invoice.pdf", "%PDF-1")}, nil)
	outcomes := h.workflow.Run(ctx, testExtractor("v1"), []cache.FileSource{file("invoice-copy.pdf", "%PDF-1")}, nil)

	require.NoError(t, outcomes[0].Err)
	assert.True(t, outcomes[0].FromCache)
	assert.Equal(t, "invoice-copy.pdf", outcomes[0].FileName)
	assert.Equal(t, "invoice-copy.pdf", outcomes[0].Result.FileName)
	assert.Equal(t, "# invoice.pdf", outcomes[0].Result.ResultContent)

	require.Len(t, h.recorder.records, 1)
	assert.Equal(t, "invoice-copy.pdf", h.recorder.records[0].FileName)
}

func TestWorkflow_VersionBumpMisses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.workflow.Run(ctx, testExtractor("v1"), []cache.FileSource{file("a.pdf", "A")}, nil)
	outcomes := h.workflow.Run(ctx, testExtractor("v2"), []cache.FileSource{file("a.pdf", "A")}, nil)

	require.NoError(t, outcomes[0].Err)
	assert.False(t, outcomes[0].FromCache)
	assert.Len(t, h.runner.Events(), 8)
}

func TestWorkflow_ErrorsAreIsolatedPerFile(t *testing.T) {
	h := newHarness(t)
	h.runner.submitErrs["b.pdf"] = errors.New("413 payload too large")
	h.runner.pollErrs["c.pdf"] = &types.DomainExtractionError{TaskID: "task-c.pdf", Message: "Document is password protected"}

	files := []cache.FileSource{file("a.pdf", "A"), file("b.pdf", "B"), file("c.pdf", "C"), file("d.pdf", "D")}
	outcomes := h.workflow.Run(context.Background(), testExtractor("v1"), files, nil)

	require.Len(t, outcomes, 4)
	assert.NoError(t, outcomes[0].Err)
	assert.NoError(t, outcomes[3].Err)

	var uploadErr *FileError
	require.ErrorAs(t, outcomes[1].Err, &uploadErr)
	assert.Equal(t, StageUpload, uploadErr.Stage)
	assert.ErrorIs(t, outcomes[1].Err, types.ErrUpload)
	assert.Contains(t, outcomes[1].Err.Error(), "b.pdf")

	var pollErr *FileError
	require.ErrorAs(t, outcomes[2].Err, &pollErr)
	assert.Equal(t, StagePoll, pollErr.Stage)
	var domain *types.DomainExtractionError
	assert.ErrorAs(t, outcomes[2].Err, &domain)
	assert.Contains(t, outcomes[2].Err.Error(), "c.pdf")
	assert.Contains(t, outcomes[2].Err.Error(), "Document is password protected")

	_, ok := h.cache.Lookup(context.Background(), outcomes[2].CacheKey)
	assert.False(t, ok, "failed extractions are not cached")
}

func TestWorkflow_UnreadableFile(t *testing.T) {
	h := newHarness(t)

	outcomes := h.workflow.Run(context.Background(), testExtractor("v1"), []cache.FileSource{brokenFile{name: "locked.pdf"}}, nil)

	var fileErr *FileError
	require.ErrorAs(t, outcomes[0].Err, &fileErr)
	assert.Equal(t, StageRead, fileErr.Stage)
	assert.ErrorIs(t, outcomes[0].Err, types.ErrFileRead)
	assert.Empty(t, h.runner.Events())
}

func TestWorkflow_BadExtractorIDBypassesCache(t *testing.T) {
	h := newHarness(t)
	extractor := &types.Extractor{ExtractorID: "coordinates", UpdatedAt: "v1"}

	outcomes := h.workflow.Run(context.Background(), extractor, []cache.FileSource{file("a.pdf", "A")}, nil)

	require.NoError(t, outcomes[0].Err)
	assert.Empty(t, outcomes[0].CacheKey)
	assert.Equal(t, 0, h.cache.Stats(context.Background()).Entries)
}

func TestWorkflow_CancellationMarksRemainingFiles(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	observer := ProgressObserverFunc(func(event ProgressEvent) {
		if event.Stage == StageDone && event.FileName == "a.pdf" {
			cancel()
		}
	})

	files := []cache.FileSource{file("a.pdf", "A"), file("b.pdf", "B"), file("c.pdf", "C")}
	outcomes := h.workflow.Run(ctx, testExtractor("v1"), files, observer)

	require.Len(t, outcomes, 3)
	assert.NoError(t, outcomes[0].Err)

	for _, outcome := range outcomes[1:] {
		var fileErr *FileError
		require.ErrorAs(t, outcome.Err, &fileErr)
		assert.Equal(t, StageCancelled, fileErr.Stage)
		assert.ErrorIs(t, outcome.Err, context.Canceled)
	}

	assert.Len(t, h.runner.Events(), 4)
}

func TestWorkflow_ProgressEvents(t *testing.T) {
	h := newHarness(t)

	var events []ProgressEvent
	observer := ProgressObserverFunc(func(event ProgressEvent) { events = append(events, event) })

	h.workflow.Run(context.Background(), testExtractor("v1"), []cache.FileSource{file("a.pdf", "A")}, observer)

	var stages []Stage
	for _, event := range events {
		stages = append(stages, event.Stage)
		assert.Equal(t, "a.pdf", event.FileName)
		assert.Equal(t, 1, event.Total)
	}

	assert.Equal(t, []Stage{
		StageRead, StageLookup, StageUpload, StageExtract, StagePoll,
		StagePoll, StagePoll, StageStore, StageDone,
	}, stages)
	assert.Equal(t, 1, events[6].Attempt)
	assert.Equal(t, types.TaskSuccess, events[6].Status)
}

func TestWorkflow_NilExtractorFailsEveryFile(t *testing.T) {
	h := newHarness(t)

	var stages []Stage
	observer := ProgressObserverFunc(func(event ProgressEvent) { stages = append(stages, event.Stage) })

	files := []cache.FileSource{file("a.pdf", "A"), file("b.pdf", "B")}
	outcomes := h.workflow.Run(context.Background(), nil, files, observer)

	require.Len(t, outcomes, 2)
	for i, outcome := range outcomes {
		assert.Equal(t, files[i].Name(), outcome.FileName)
		assert.ErrorIs(t, outcome.Err, types.ErrInvalidParameter)

		var fileErr *FileError
		require.ErrorAs(t, outcome.Err, &fileErr)
		assert.Equal(t, files[i].Name(), fileErr.FileName)
	}
	assert.Equal(t, []Stage{StageFailed, StageFailed}, stages)
	assert.Empty(t, h.runner.Events())
}

func TestNew_RequiresRunner(t *testing.T) {
	_, err := New(nil, nil, nil, nil, logger.NewNop(), nil)
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}
