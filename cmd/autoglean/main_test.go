package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/autoglean/types"
	"github.com/saiset-co/autoglean/workflow"
)

const testExtractorID = "5f0c6a52-3f43-4c7e-9b7a-2d1e8f7c9a10"

const extractorsJSON = `[{"id": 7, "extractor_id": "` + testExtractorID + `", "name_en": "Invoices",
	"visibility": "public", "output_format": "markdown", "owner_name_en": "Sara", "usage_count": 12345,
	"updated_at": "2025-05-01T10:00:00"}]`

type fakeBackend struct {
	uploads   atomic.Int32
	cacheHits atomic.Int32
	favorites atomic.Int32
	jobQuery  atomic.Value
}

func (b *fakeBackend) handle(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	ctx.SetContentType("application/json")

	switch {
	case path == "/api/extractors":
		ctx.SetBodyString(extractorsJSON)
	case path == "/api/upload":
		b.uploads.Add(1)
		ctx.SetBodyString(`{"job_id": "j1", "file_name": "invoice.pdf"}`)
	case path == "/api/extract":
		ctx.SetBodyString(`{"task_id": "t1", "job_id": "j1", "status": "queued"}`)
	case path == "/api/task/t1":
		ctx.SetBodyString(`{"task_id": "t1", "status": "success", "result": {"status": "completed", "job_id": "j1",
			"result": {"job_id": "j1", "extractor_id": "` + testExtractorID + `", "file_name": "invoice.pdf",
			"result_content": "# Invoice 42"}}}`)
	case path == "/api/jobs/cache-hit":
		b.cacheHits.Add(1)
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	case strings.HasPrefix(path, "/api/extractors/7/history"):
		ctx.SetBodyString(`[{"id": 2, "change_type": "visibility_changed", "changed_by_user_name_en": "Sara",
			"changed_at": "2025-05-04T09:00:00Z", "changes": {"from": "private", "to": "public"}}]`)
	case path == "/api/extractors/7/api-export/toggle":
		ctx.SetBodyString(`{"id": 1, "extractor_id": 7, "api_key": "ag_live_abc", "is_active": false, "usage_count": 3}`)
	case path == "/api/extractors/7/favorite":
		b.favorites.Add(1)
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	case path == "/api/extractors/7/rate":
		ctx.SetStatusCode(fasthttp.StatusCreated)
		ctx.SetBodyString(`{"id": 3, "extractor_id": 7, "user_id": 1, "user_name_en": "Sara", "rating": 4,
			"review": null, "created_at": "2025-05-03T08:00:00"}`)
	case path == "/api/extractors/7/shares":
		ctx.SetBodyString(`[{"id": 1, "extractor_id": 7, "shared_with_user_id": 9, "shared_with_user_name_en": "Omar",
			"can_edit": false, "shared_at": "2025-05-03T08:00:00"}]`)
	case path == "/api/extractors/7/share/9":
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	case path == "/api/jobs":
		b.jobQuery.Store(string(ctx.QueryArgs().QueryString()))
		ctx.SetBodyString(`{"total": 31, "jobs": [{"id": 11, "job_id": "j1", "extractor_name": "Invoices",
			"file_name": "invoice.pdf", "status": "completed", "created_at": "2025-05-03T08:00:00",
			"is_cached_result": true, "total_tokens": 1234}]}`)
	case path == "/api/leaderboard":
		ctx.SetBodyString(`{"top_extractors_by_usage": [{"id": 7, "name_en": "Invoices", "owner_name_en": "Sara",
			"usage_count": 4200, "rating_avg": 4.3, "rating_count": 8}],
			"top_extractors_by_rating": [], "top_users_by_extractor_count": [], "top_users_by_usage": [],
			"top_users_by_rating": [], "top_departments_by_extractor_count": [],
			"top_departments_by_usage": [{"department_en": "Finance", "user_count": 4, "extractor_count": 6,
			"total_usage": 9000, "rating_avg": null, "rating_count": 0}],
			"top_departments_by_rating": []}`)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetBodyString(`{"detail": "Not found"}`)
	}
}

func startBackend(t *testing.T) (*fakeBackend, string) {
	t.Helper()

	backend := &fakeBackend{}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &fasthttp.Server{Handler: backend.handle}
	go func() { _ = srv.Serve(ln) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.ShutdownWithContext(ctx)
	})

	return backend, "http://" + ln.Addr().String()
}

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "autoglean.yaml")
	body := `
name: autoglean-test
version: 1.0.0
api:
  base_url: ` + baseURL + `
  timeout: 2s
  retries: 0
logger:
  level: error
cache:
  enabled: true
  type: clover
  config:
    path: ` + filepath.Join(dir, "cache") + `
poller:
  short_delay: 1ms
  medium_delay: 1ms
  long_delay: 1ms
  short_attempts: 2
  medium_attempts: 4
  max_attempts: 5
workflow:
  inter_file_delay: 1ms
  record_cache_hit: true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run(append([]string{"autoglean"}, args...))

	return out.String(), err
}

func TestApp_ListExtractors(t *testing.T) {
	_, url := startBackend(t)

	out, err := runApp(t, "--config", writeConfig(t, url), "extractors")
	require.NoError(t, err)

	assert.Contains(t, out, testExtractorID)
	assert.Contains(t, out, "Invoices")
	assert.Contains(t, out, "12,345")
}

func TestApp_ExtractServesRepeatFromCache(t *testing.T) {
	backend, url := startBackend(t)
	configPath := writeConfig(t, url)

	input := filepath.Join(t.TempDir(), "invoice.pdf")
	require.NoError(t, os.WriteFile(input, []byte("%PDF-1.7 invoice"), 0o600))
	outDir := t.TempDir()

	out, err := runApp(t, "--config", configPath, "extract", "--extractor", testExtractorID, "--output", outDir, input)
	require.NoError(t, err)
	assert.Contains(t, out, "backend")
	assert.Equal(t, int32(1), backend.uploads.Load())

	result, err := os.ReadFile(filepath.Join(outDir, "invoice.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Invoice 42", string(result))

	out, err = runApp(t, "--config", configPath, "extract", "--extractor", testExtractorID, "-q", input)
	require.NoError(t, err)
	assert.Contains(t, out, "cache")
	assert.Equal(t, int32(1), backend.uploads.Load())
	assert.Equal(t, int32(1), backend.cacheHits.Load())
}

func TestWriteResults_KeepsCollidingStemsApart(t *testing.T) {
	dir := t.TempDir()

	outcomes := []workflow.FileOutcome{
		{FileName: "a.pdf", Result: &types.ExtractionResult{ResultContent: "from pdf"}},
		{FileName: "a.docx", Result: &types.ExtractionResult{ResultContent: "from docx"}},
		{FileName: "b.pdf", Err: assert.AnError},
		{FileName: "a.txt", Result: &types.ExtractionResult{ResultContent: "from txt"}},
	}

	require.NoError(t, writeResults(dir, "json", outcomes))

	for name, want := range map[string]string{
		"a.json":   "from pdf",
		"a-2.json": "from docx",
		"a-3.json": "from txt",
	} {
		got, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Equal(t, want, string(got))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestApp_ExtractRequiresFiles(t *testing.T) {
	_, url := startBackend(t)

	_, err := runApp(t, "--config", writeConfig(t, url), "extract", "--extractor", testExtractorID)
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestApp_ExtractMissingFile(t *testing.T) {
	_, url := startBackend(t)

	_, err := runApp(t, "--config", writeConfig(t, url), "extract", "--extractor", testExtractorID,
		filepath.Join(t.TempDir(), "missing.pdf"))
	assert.ErrorIs(t, err, types.ErrFileRead)
}

func TestApp_History(t *testing.T) {
	_, url := startBackend(t)

	out, err := runApp(t, "--config", writeConfig(t, url), "history", "7")
	require.NoError(t, err)

	assert.Contains(t, out, "visibility_changed")
	assert.Contains(t, out, "private -> public")
}

func TestApp_APIKeyDisable(t *testing.T) {
	_, url := startBackend(t)

	out, err := runApp(t, "--config", writeConfig(t, url), "api-key", "disable", "7")
	require.NoError(t, err)

	assert.Contains(t, out, "ag_live_abc")
	assert.Contains(t, out, "false")
}

func TestApp_BadExtractorID(t *testing.T) {
	_, url := startBackend(t)

	_, err := runApp(t, "--config", writeConfig(t, url), "history", "seven")
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestApp_CacheStatsAndClear(t *testing.T) {
	_, url := startBackend(t)
	configPath := writeConfig(t, url)

	out, err := runApp(t, "--config", configPath, "cache", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "clover")
	assert.Contains(t, out, "0 / 200")

	out, err = runApp(t, "--config", configPath, "cache", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Cache cleared")
}

func TestApp_Metrics(t *testing.T) {
	_, url := startBackend(t)

	out, err := runApp(t, "--config", writeConfig(t, url), "metrics")
	require.NoError(t, err)

	assert.Contains(t, out, "cache_entries")
}

func TestRenderOutcomes(t *testing.T) {
	var out bytes.Buffer

	renderOutcomes(&out, []workflow.FileOutcome{
		{FileName: "a.pdf", FromCache: true, Result: &types.ExtractionResult{ResultContent: "hello"}},
		{FileName: "b.pdf", Err: &workflow.FileError{FileName: "b.pdf", Stage: workflow.StageUpload, Err: types.ErrUpload}},
		{FileName: "c.pdf", Err: &workflow.FileError{FileName: "c.pdf", Stage: workflow.StageCancelled, Err: context.Canceled}},
	})

	text := out.String()
	assert.Contains(t, text, "a.pdf")
	assert.Contains(t, text, "cache")
	assert.Contains(t, text, "5 B")
	assert.Contains(t, text, "failed")
	assert.Contains(t, text, types.ErrUpload.Error())
	assert.Contains(t, text, "cancelled")
}

func TestDescribeChange(t *testing.T) {
	assert.Equal(t, "llm, prompt", describeChange(types.UpdatedChange{Fields: map[string]types.FieldChange{
		"prompt": {},
		"llm":    {},
	}}))
	assert.Equal(t, "private -> public", describeChange(types.VisibilityChange{
		From: types.VisibilityPrivate,
		To:   types.VisibilityPublic,
	}))
	assert.Empty(t, describeChange(types.CreatedChange{}))
}

func TestProgressPrinter_CollapsesRepeatedPollStatus(t *testing.T) {
	var out bytes.Buffer
	printer := newProgressPrinter(&out)

	for _, status := range []types.TaskState{types.TaskPending, types.TaskPending, types.TaskProcessing, types.TaskProcessing} {
		printer.OnProgress(workflow.ProgressEvent{
			FileName: "a.pdf",
			Total:    1,
			Stage:    workflow.StagePoll,
			Status:   status,
			Message:  "Processing document... (" + string(status) + ")",
		})
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[1/1] a.pdf: Processing document... (pending)", lines[0])
}

func TestApp_HealthReportsUnhealthyBackend(t *testing.T) {
	_, url := startBackend(t)

	out, err := runApp(t, "--config", writeConfig(t, url), "health")
	require.Error(t, err)

	assert.Contains(t, out, "backend")
	assert.Contains(t, out, "unhealthy")
	assert.Contains(t, out, "circuit closed")
}

func TestApp_ConfigShow(t *testing.T) {
	_, url := startBackend(t)
	t.Setenv("AUTOGLEAN_TOKEN", "top-secret")

	out, err := runApp(t, "--config", writeConfig(t, url), "config", "show", "api")
	require.NoError(t, err)

	assert.Contains(t, out, url)
	assert.NotContains(t, out, "top-secret")

	out, err = runApp(t, "--config", writeConfig(t, url), "config", "show", "cache.type")
	require.NoError(t, err)
	assert.Equal(t, "clover", strings.TrimSpace(out))
}

func TestApp_FavoriteAndUnfavorite(t *testing.T) {
	backend, url := startBackend(t)
	configPath := writeConfig(t, url)

	out, err := runApp(t, "--config", configPath, "favorite", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "added to favorites")

	out, err = runApp(t, "--config", configPath, "unfavorite", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "removed from favorites")
	assert.Equal(t, int32(2), backend.favorites.Load())
}

func TestApp_Rate(t *testing.T) {
	_, url := startBackend(t)
	configPath := writeConfig(t, url)

	out, err := runApp(t, "--config", configPath, "rate", "7", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "****")
	assert.Contains(t, out, "Sara")

	_, err = runApp(t, "--config", configPath, "rate", "7", "9")
	assert.ErrorIs(t, err, types.ErrInvalidParameter)

	_, err = runApp(t, "--config", configPath, "rate", "7")
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestApp_Shares(t *testing.T) {
	_, url := startBackend(t)
	configPath := writeConfig(t, url)

	out, err := runApp(t, "--config", configPath, "share", "list", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "Omar")

	out, err = runApp(t, "--config", configPath, "share", "remove", "7", "9")
	require.NoError(t, err)
	assert.Contains(t, out, "no longer shared with user 9")
}

func TestApp_JobsShowsCachedResults(t *testing.T) {
	backend, url := startBackend(t)

	out, err := runApp(t, "--config", writeConfig(t, url), "jobs", "--extractor-id", "7", "--limit", "10")
	require.NoError(t, err)

	assert.Equal(t, "extractor_id=7&limit=10", backend.jobQuery.Load())
	assert.Contains(t, out, "invoice.pdf")
	assert.Contains(t, out, "1,234")
	assert.Contains(t, out, "true")
	assert.Contains(t, out, "1 of 31 jobs")
}

func TestApp_Leaderboard(t *testing.T) {
	_, url := startBackend(t)

	out, err := runApp(t, "--config", writeConfig(t, url), "leaderboard", "--limit", "5")
	require.NoError(t, err)

	assert.Contains(t, out, "Top extractors by usage")
	assert.Contains(t, out, "4,200")
	assert.Contains(t, out, "4.3 (8)")
	assert.Contains(t, out, "Finance")
	assert.Contains(t, out, "9,000")
}
