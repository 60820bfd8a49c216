package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/autoglean/types"
)

const defaultCheckTimeout = 5 * time.Second

type Option func(*Manager)

// WithCheckTimeout bounds every single checker. Non-positive values keep the
// default.
func WithCheckTimeout(d time.Duration) Option {
	return func(hm *Manager) {
		if d > 0 {
			hm.timeout = d
		}
	}
}

type namedChecker struct {
	name  string
	check types.HealthChecker
}

// Manager runs the registered checkers concurrently and folds their results
// into one report. A checker that panics or outlives its timeout counts as
// unhealthy.
type Manager struct {
	service types.ServiceInfo
	logger  types.Logger
	timeout time.Duration
	now     func() time.Time

	mu       sync.RWMutex
	checkers []namedChecker
}

func NewManager(service types.ServiceInfo, logger types.Logger, opts ...Option) *Manager {
	hm := &Manager{
		service: service,
		logger:  logger,
		timeout: defaultCheckTimeout,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(hm)
	}

	return hm
}

// RegisterChecker adds a checker, replacing an earlier one of the same name.
func (hm *Manager) RegisterChecker(name string, checker types.HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	for i := range hm.checkers {
		if hm.checkers[i].name == name {
			hm.checkers[i].check = checker
			return
		}
	}
	hm.checkers = append(hm.checkers, namedChecker{name: name, check: checker})
}

func (hm *Manager) Check(ctx context.Context) types.HealthReport {
	hm.mu.RLock()
	checkers := append([]namedChecker(nil), hm.checkers...)
	hm.mu.RUnlock()

	results := make([]types.HealthCheck, len(checkers))

	var g errgroup.Group
	for i, c := range checkers {
		i, c := i, c
		g.Go(func() error {
			results[i] = hm.run(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	report := hm.fold(results)

	hm.logger.Debug("Health checked",
		zap.String("status", string(report.Status)),
		zap.Int("healthy", report.Summary.Healthy),
		zap.Int("unhealthy", report.Summary.Unhealthy),
		zap.Int("unknown", report.Summary.Unknown))

	return report
}

func (hm *Manager) run(ctx context.Context, c namedChecker) types.HealthCheck {
	start := hm.now()

	checkCtx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	done := make(chan types.HealthCheck, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				hm.logger.Error("Health check panicked", zap.String("check", c.name), zap.Any("panic", r))
				done <- types.HealthCheck{Status: types.StatusUnhealthy, Message: fmt.Sprintf("Health check panicked: %v", r)}
			}
		}()
		done <- c.check(checkCtx)
	}()

	var result types.HealthCheck
	select {
	case result = <-done:
	case <-checkCtx.Done():
		result = types.HealthCheck{Status: types.StatusUnhealthy, Message: "Health check timeout"}
		if errors.Is(checkCtx.Err(), context.Canceled) {
			result.Message = "Health check cancelled"
		}
	}

	result.Name = c.name
	result.CheckedAt = hm.now()
	result.Duration = result.CheckedAt.Sub(start)

	return result
}

func (hm *Manager) fold(results []types.HealthCheck) types.HealthReport {
	report := types.HealthReport{
		Status:    types.StatusHealthy,
		Timestamp: hm.now(),
		Service:   hm.service,
		Checks:    make(map[string]types.HealthCheck, len(results)),
		Summary:   types.HealthSummary{Total: len(results)},
	}

	for _, result := range results {
		report.Checks[result.Name] = result

		switch result.Status {
		case types.StatusHealthy:
			report.Summary.Healthy++
		case types.StatusUnhealthy:
			report.Summary.Unhealthy++
		default:
			report.Summary.Unknown++
		}
	}

	switch {
	case report.Summary.Unhealthy > 0:
		report.Status = types.StatusUnhealthy
	case report.Summary.Unknown > 0:
		report.Status = types.StatusUnknown
	}

	return report
}
