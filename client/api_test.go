package client

import (
	"context"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/autoglean/logger"
	"github.com/saiset-co/autoglean/types"
	"github.com/saiset-co/autoglean/utils"
)

const extractorsJSON = `[{
	"id": 7,
	"extractor_id": "0b8f6a9e-3c1d-4f2e-9a7b-5d6c4e3f2a1b",
	"name_en": "Invoices",
	"name_ar": "الفواتير",
	"icon": "📄",
	"llm": "gpt-4o",
	"temperature": 0.1,
	"max_tokens": 4096,
	"output_format": "markdown",
	"visibility": "public",
	"owner_id": 1,
	"owner_name_en": "Admin",
	"owner_name_ar": "المدير",
	"usage_count": 12,
	"rating_avg": 4.5,
	"rating_count": 2,
	"is_favorited": true,
	"created_at": "2025-05-01T10:00:00",
	"updated_at": "2025-05-02T11:30:00.123456"
}]`

func newTestAPI(t *testing.T, handler fasthttp.RequestHandler) *API {
	t.Helper()
	url := startServer(t, handler)
	return NewAPI(newTestClient(t, url, func(cfg *types.APIConfig) { cfg.Token = "tok" }), logger.NewNop())
}

func TestAPI_UploadFile(t *testing.T) {
	var gotPath, gotName, gotContent atomic.Value

	api := newTestAPI(t, func(ctx *fasthttp.RequestCtx) {
		gotPath.Store(string(ctx.Path()))
		header, err := ctx.FormFile("file")
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			return
		}
		f, _ := header.Open()
		data, _ := io.ReadAll(f)
		_ = f.Close()
		gotName.Store(header.Filename)
		gotContent.Store(string(data))
		ctx.SetBodyString(`{"job_id":"job-1","file_name":"invoice.pdf","file_path":"/data/job-1/invoice.pdf","message":"ok"}`)
	})

	resp, err := api.UploadFile(context.Background(), "invoice.pdf", strings.NewReader("%PDF-1.7"))
	require.NoError(t, err)
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, "/api/upload", gotPath.Load())
	assert.Equal(t, "invoice.pdf", gotName.Load())
	assert.Equal(t, "%PDF-1.7", gotContent.Load())
}

func TestAPI_UploadFileRejectsMissingJobID(t *testing.T) {
	api := newTestAPI(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(`{"file_name":"invoice.pdf"}`)
	})

	_, err := api.UploadFile(context.Background(), "invoice.pdf", strings.NewReader("x"))
	assert.ErrorIs(t, err, types.ErrMalformedResponse)
}

func TestAPI_StartExtraction(t *testing.T) {
	var body atomic.Value

	api := newTestAPI(t, func(ctx *fasthttp.RequestCtx) {
		body.Store(string(ctx.PostBody()))
		ctx.SetBodyString(`{"task_id":"task-1","job_id":"job-1","status":"processing","message":"Extraction task started"}`)
	})

	resp, err := api.StartExtraction(context.Background(), "job-1", "0b8f6a9e-3c1d-4f2e-9a7b-5d6c4e3f2a1b")
	require.NoError(t, err)
	assert.Equal(t, "task-1", resp.TaskID)
	assert.JSONEq(t, `{"job_id":"job-1","extractor_id":"0b8f6a9e-3c1d-4f2e-9a7b-5d6c4e3f2a1b"}`, body.Load().(string))
}

func TestAPI_TaskStatusSingleQuery(t *testing.T) {
	var calls atomic.Int32

	api := newTestAPI(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	})

	_, err := api.TaskStatus(context.Background(), "task-1")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAPI_TaskStatusDecodes(t *testing.T) {
	api := newTestAPI(t, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) != "/api/task/task-1" {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		ctx.SetBodyString(`{"task_id":"task-1","status":"success","result":{"status":"completed","job_id":"job-1","result":{"result_content":"# ok"}}}`)
	})

	status, err := api.TaskStatus(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskSuccess, status.Status)
	assert.True(t, status.Status.IsTerminal())

	result, err := DecodeTaskResult(status.Result)
	require.NoError(t, err)
	assert.Equal(t, "# ok", result.Result.ResultContent)
}

func TestAPI_ListExtractors(t *testing.T) {
	api := newTestAPI(t, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Request.Header.Peek("Authorization")) != "Bearer tok" {
			ctx.SetStatusCode(fasthttp.StatusUnauthorized)
			return
		}
		ctx.SetBodyString(extractorsJSON)
	})

	extractors, err := api.ListExtractors(context.Background())
	require.NoError(t, err)
	require.Len(t, extractors, 1)
	assert.Equal(t, "Invoices", extractors[0].NameEN)
	assert.Equal(t, "2025-05-02T11:30:00.123456", extractors[0].VersionToken())
	require.NotNil(t, extractors[0].RatingAvg)
	assert.InDelta(t, 4.5, *extractors[0].RatingAvg, 0.0001)

	found, err := api.FindExtractor(context.Background(), "0b8f6a9e-3c1d-4f2e-9a7b-5d6c4e3f2a1b")
	require.NoError(t, err)
	assert.Equal(t, int64(7), found.ID)

	_, err = api.FindExtractor(context.Background(), "11111111-2222-3333-4444-555555555555")
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestAPI_ListExtractorsMalformed(t *testing.T) {
	cases := map[string]string{
		"not a list":   `{"extractors":{}}`,
		"bad uuid":     `[{"id":1,"extractor_id":"nope","visibility":"public","updated_at":"x"}]`,
		"bad json":     `[{`,
		"empty":        ``,
		"missing rows": `null`,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			api := newTestAPI(t, func(ctx *fasthttp.RequestCtx) {
				ctx.SetBodyString(payload)
			})

			_, err := api.ListExtractors(context.Background())
			assert.ErrorIs(t, err, types.ErrMalformedResponse)
		})
	}
}

func TestAPI_APIKeyLifecycle(t *testing.T) {
	var lastMethod, lastPath, lastBody atomic.Value

	api := newTestAPI(t, func(ctx *fasthttp.RequestCtx) {
		lastMethod.Store(string(ctx.Method()))
		lastPath.Store(string(ctx.Path()))
		lastBody.Store(string(ctx.PostBody()))

		switch string(ctx.Method()) {
		case fasthttp.MethodPost:
			ctx.SetBodyString(`{"api_key":"ag_live_123","message":"API key created successfully"}`)
		case fasthttp.MethodDelete:
			ctx.SetBodyString(`{"message":"API key deleted successfully"}`)
		default:
			ctx.SetBodyString(`{"id":3,"extractor_id":7,"api_key":"ag_live_123","is_active":false,"created_at":"2025-05-01T10:00:00","usage_count":4}`)
		}
	})

	ctx := context.Background()

	created, err := api.CreateAPIKey(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "ag_live_123", created.APIKey)
	assert.Equal(t, "/api/extractors/7/api-export", lastPath.Load())

	key, err := api.GetAPIKey(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(4), key.UsageCount)

	key, err = api.ToggleAPIKey(ctx, 7, false)
	require.NoError(t, err)
	assert.False(t, key.IsActive)
	assert.Equal(t, fasthttp.MethodPut, lastMethod.Load())
	assert.Equal(t, "/api/extractors/7/api-export/toggle", lastPath.Load())
	assert.JSONEq(t, `{"is_active":false}`, lastBody.Load().(string))

	require.NoError(t, api.DeleteAPIKey(ctx, 7))
	assert.Equal(t, fasthttp.MethodDelete, lastMethod.Load())
}

func TestAPI_RecordCacheHit(t *testing.T) {
	var body, path atomic.Value

	api := newTestAPI(t, func(ctx *fasthttp.RequestCtx) {
		path.Store(string(ctx.Path()))
		body.Store(string(ctx.PostBody()))
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	})

	err := api.RecordCacheHit(context.Background(), &types.CacheHitRecord{
		ExtractorID: "0b8f6a9e-3c1d-4f2e-9a7b-5d6c4e3f2a1b",
		FileName:    "invoice.pdf",
		CacheKey:    "ag1:abc",
		TaskID:      "task-1",
	})
	require.NoError(t, err)

	var sent types.CacheHitRecord
	require.NoError(t, utils.Unmarshal([]byte(body.Load().(string)), &sent))
	assert.Equal(t, types.DefaultCacheHitPath, path.Load())
	assert.Equal(t, "ag1:abc", sent.CacheKey)
}

func TestAPI_RecordCacheHitUsesConfiguredPath(t *testing.T) {
	var path atomic.Value

	url := startServer(t, func(ctx *fasthttp.RequestCtx) {
		path.Store(string(ctx.Path()))
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	})
	api := NewAPI(newTestClient(t, url, func(cfg *types.APIConfig) {
		cfg.CacheHitPath = "/api/usage/cached"
	}), logger.NewNop())

	require.NoError(t, api.RecordCacheHit(context.Background(), &types.CacheHitRecord{FileName: "a.pdf"}))
	assert.Equal(t, "/api/usage/cached", path.Load())
}

func TestErrorDetail(t *testing.T) {
	assert.Equal(t, "Not found", utils.ErrorDetail([]byte(`{"detail":"Not found"}`)))
	assert.Equal(t, "field required; value is not a valid uuid",
		utils.ErrorDetail([]byte(`{"detail":[{"msg":"field required"},{"msg":"value is not a valid uuid"}]}`)))
	assert.Equal(t, "Internal Server Error", utils.ErrorDetail([]byte(`{"error":"Internal Server Error"}`)))
	assert.Equal(t, "upstream down", utils.ErrorDetail([]byte("upstream down\n")))
	assert.Empty(t, utils.ErrorDetail(nil))
}
