package types

import (
	"context"
	"time"
)

type CallOptions struct {
	Timeout     time.Duration
	Retry       int
	NoRetry     bool
	Headers     map[string]string
	ContentType string
	Auth        bool
}

// TokenProvider supplies the bearer credential for authenticated calls.
// An empty token means the call goes out unauthenticated.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}
