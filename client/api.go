package client

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/url"
	"strconv"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/autoglean/types"
)

// API is the typed AutoGlean backend surface on top of HTTPClient.
type API struct {
	client *HTTPClient
	logger types.Logger
	config *types.APIConfig
}

func NewAPI(client *HTTPClient, logger types.Logger) *API {
	return &API{
		client: client,
		logger: logger,
		config: client.config,
	}
}

func (a *API) Client() *HTTPClient {
	return a.client
}

// UploadFile posts content as the multipart field "file".
func (a *API) UploadFile(ctx context.Context, fileName string, content io.Reader) (*types.UploadResponse, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return nil, types.WrapError(err, "failed to build upload form")
	}

	if _, err := io.Copy(part, content); err != nil {
		return nil, types.Wrap(types.ErrFileRead, err)
	}

	if err := writer.Close(); err != nil {
		return nil, types.WrapError(err, "failed to build upload form")
	}

	body, _, err := a.client.Call(ctx, fasthttp.MethodPost, "/api/upload", buf.Bytes(), &types.CallOptions{
		Timeout:     a.config.UploadTimeout,
		ContentType: writer.FormDataContentType(),
	})
	if err != nil {
		return nil, err
	}

	var resp types.UploadResponse
	if err := Decode(body, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

func (a *API) StartExtraction(ctx context.Context, jobID, extractorID string) (*types.ExtractionResponse, error) {
	body, _, err := a.client.Call(ctx, fasthttp.MethodPost, "/api/extract", &types.ExtractionRequest{
		JobID:       jobID,
		ExtractorID: extractorID,
	}, nil)
	if err != nil {
		return nil, err
	}

	var resp types.ExtractionResponse
	if err := Decode(body, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// TaskStatus performs exactly one status query with no transport retries;
// the poller owns the retry budget.
func (a *API) TaskStatus(ctx context.Context, taskID string) (*types.TaskStatus, error) {
	body, _, err := a.client.Call(ctx, fasthttp.MethodGet, "/api/task/"+url.PathEscape(taskID), nil, &types.CallOptions{
		NoRetry: true,
	})
	if err != nil {
		return nil, err
	}

	var status types.TaskStatus
	if err := Decode(body, &status); err != nil {
		return nil, err
	}

	return &status, nil
}

// Health calls the backend liveness endpoint. It is not retried.
func (a *API) Health(ctx context.Context) (*types.BackendHealth, error) {
	body, _, err := a.client.Call(ctx, fasthttp.MethodGet, "/health", nil, &types.CallOptions{NoRetry: true})
	if err != nil {
		return nil, err
	}

	var health types.BackendHealth
	if err := Decode(body, &health); err != nil {
		return nil, err
	}

	return &health, nil
}

func (a *API) ListExtractors(ctx context.Context) ([]types.Extractor, error) {
	body, _, err := a.client.Call(ctx, fasthttp.MethodGet, "/api/extractors", nil, &types.CallOptions{Auth: true})
	if err != nil {
		return nil, err
	}

	return DecodeList[types.Extractor](body)
}

// FindExtractor returns the extractor whose stable UUID is extractorID.
func (a *API) FindExtractor(ctx context.Context, extractorID string) (*types.Extractor, error) {
	extractors, err := a.ListExtractors(ctx)
	if err != nil {
		return nil, err
	}

	for i := range extractors {
		if extractors[i].ExtractorID == extractorID {
			return &extractors[i], nil
		}
	}

	return nil, types.Errorf(types.ErrInvalidParameter, "extractor %s not found", extractorID)
}

func (a *API) History(ctx context.Context, id int64) ([]types.HistoryRecord, error) {
	body, _, err := a.client.Call(ctx, fasthttp.MethodGet, extractorPath(id, "/history"), nil, &types.CallOptions{Auth: true})
	if err != nil {
		return nil, err
	}

	return DecodeHistory(body)
}

func (a *API) CreateAPIKey(ctx context.Context, id int64) (*types.APIKeyCreateResponse, error) {
	body, _, err := a.client.Call(ctx, fasthttp.MethodPost, extractorPath(id, "/api-export"), nil, &types.CallOptions{Auth: true})
	if err != nil {
		return nil, err
	}

	var resp types.APIKeyCreateResponse
	if err := Decode(body, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

func (a *API) GetAPIKey(ctx context.Context, id int64) (*types.APIKey, error) {
	body, _, err := a.client.Call(ctx, fasthttp.MethodGet, extractorPath(id, "/api-export"), nil, &types.CallOptions{Auth: true})
	if err != nil {
		return nil, err
	}

	var key types.APIKey
	if err := Decode(body, &key); err != nil {
		return nil, err
	}

	return &key, nil
}

func (a *API) ToggleAPIKey(ctx context.Context, id int64, active bool) (*types.APIKey, error) {
	body, _, err := a.client.Call(ctx, fasthttp.MethodPut, extractorPath(id, "/api-export/toggle"),
		&types.APIKeyToggleRequest{IsActive: active}, &types.CallOptions{Auth: true})
	if err != nil {
		return nil, err
	}

	var key types.APIKey
	if err := Decode(body, &key); err != nil {
		return nil, err
	}

	return &key, nil
}

func (a *API) DeleteAPIKey(ctx context.Context, id int64) error {
	_, _, err := a.client.Call(ctx, fasthttp.MethodDelete, extractorPath(id, "/api-export"), nil, &types.CallOptions{Auth: true})
	return err
}

// RecordCacheHit reports a result served from the local cache so usage
// counters stay accurate. The path comes from api.cache_hit_path; any 2xx
// reply is accepted.
func (a *API) RecordCacheHit(ctx context.Context, record *types.CacheHitRecord) error {
	path := a.config.CacheHitPath
	if path == "" {
		path = types.DefaultCacheHitPath
	}

	_, _, err := a.client.Call(ctx, fasthttp.MethodPost, path, record, &types.CallOptions{Auth: true})
	if err != nil {
		a.logger.Debug("Cache hit not recorded",
			zap.String("path", path),
			zap.String("extractor_id", record.ExtractorID),
			zap.String("file_name", record.FileName),
			zap.Error(err))
	}
	return err
}

func extractorPath(id int64, suffix string) string {
	return "/api/extractors/" + strconv.FormatInt(id, 10) + suffix
}
