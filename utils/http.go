package utils

import (
	"strings"

	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

type errorBody struct {
	Detail  interface{} `json:"detail"`
	Error   string      `json:"error"`
	Message string      `json:"message"`
}

// ErrorDetail extracts a human readable message from an error reply.
// FastAPI sends {"detail": "..."} or, for validation failures,
// {"detail": [{"msg": "..."}]}. Unknown shapes fall back to the raw body.
func ErrorDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var parsed errorBody
	if err := Unmarshal(body, &parsed); err != nil {
		return truncate(strings.TrimSpace(string(body)), 200)
	}

	switch detail := parsed.Detail.(type) {
	case string:
		return detail
	case []interface{}:
		messages := make([]string, 0, len(detail))
		for _, item := range detail {
			if obj, ok := item.(map[string]interface{}); ok {
				if msg, ok := obj["msg"].(string); ok {
					messages = append(messages, msg)
				}
			}
		}
		if len(messages) > 0 {
			return strings.Join(messages, "; ")
		}
	}

	if parsed.Message != "" {
		return parsed.Message
	}
	if parsed.Error != "" {
		return parsed.Error
	}

	return truncate(strings.TrimSpace(string(body)), 200)
}

func NewRequestID() string {
	return uuid.NewString()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
