package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/saiset-co/autoglean/types"
)

// sweeper runs ResultCache.Sweep on a cron schedule such as "@every 10m" or
// a standard five-field expression.
type sweeper struct {
	logger types.Logger
	cron   *cron.Cron
	mu     sync.Mutex
	active bool
}

func newSweeper(logger types.Logger, schedule string, sweep func()) (*sweeper, error) {
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{logger: logger}),
		cron.SkipIfStillRunning(cronLogger{logger: logger}),
	))

	if _, err := c.AddFunc(schedule, sweep); err != nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "sweep schedule %q: %v", schedule, err)
	}

	return &sweeper{logger: logger, cron: c}, nil
}

func (s *sweeper) start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return
	}
	s.cron.Start()
	s.active = true
}

func (s *sweeper) stop(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	s.active = false

	stopCtx := s.cron.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		s.logger.Warn("Cache sweep still running at shutdown")
	}
}

type cronLogger struct {
	logger types.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, cronFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(cronFields(keysAndValues), zap.Error(err))...)
}

func cronFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}
