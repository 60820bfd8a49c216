package types

import (
	"encoding/json"
	"time"
)

type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskProcessing TaskState = "processing"
	TaskSuccess    TaskState = "success"
	TaskFailure    TaskState = "failure"
)

func (s TaskState) IsTerminal() bool {
	return s == TaskSuccess || s == TaskFailure
}

const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
)

type UploadResponse struct {
	JobID    string `json:"job_id" validate:"required"`
	FileName string `json:"file_name"`
	FilePath string `json:"file_path"`
	Message  string `json:"message,omitempty"`
}

type ExtractionRequest struct {
	JobID       string `json:"job_id"`
	ExtractorID string `json:"extractor_id"`
}

type ExtractionResponse struct {
	TaskID  string `json:"task_id" validate:"required"`
	JobID   string `json:"job_id,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// TaskStatus is the reply of GET /api/task/{task_id}. Result is kept raw
// because its shape depends on Status: progress meta while processing, the
// task return value on success.
type TaskStatus struct {
	TaskID string          `json:"task_id" validate:"required"`
	Status TaskState       `json:"status" validate:"required"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type TaskResult struct {
	Status    string            `json:"status" validate:"required,oneof=completed failed"`
	JobID     string            `json:"job_id"`
	Result    *ExtractionResult `json:"result,omitempty" validate:"required_if=Status completed"`
	Error     string            `json:"error,omitempty"`
	ErrorType string            `json:"error_type,omitempty"`
}

type ExtractionResult struct {
	JobID         string     `json:"job_id"`
	ExtractorID   string     `json:"extractor_id"`
	FileName      string     `json:"file_name"`
	ResultContent string     `json:"result_content"`
	ResultPath    string     `json:"result_path,omitempty"`
	Usage         TokenUsage `json:"usage"`
	Model         string     `json:"model,omitempty"`
}

type TokenUsage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	TotalTokens      int  `json:"total_tokens"`
	CachedTokens     *int `json:"cached_tokens,omitempty"`
}

type CacheHitRecord struct {
	ExtractorID string `json:"extractor_id"`
	FileName    string `json:"file_name"`
	CacheKey    string `json:"cache_key"`
	TaskID      string `json:"task_id,omitempty"`
}

// PollState is the per-task view of one PollUntilTerminal call.
type PollState struct {
	TaskID   string
	Attempt  int
	Status   TaskState
	Deadline time.Time
}

type PollUpdate struct {
	TaskID    string
	Attempt   int
	Status    TaskState
	NextDelay time.Duration
	Raw       *TaskStatus
}

type PollObserver interface {
	OnPollUpdate(update PollUpdate)
}

type PollObserverFunc func(update PollUpdate)

func (f PollObserverFunc) OnPollUpdate(update PollUpdate) {
	f(update)
}
