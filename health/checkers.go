package health

import (
	"context"
	"fmt"

	"github.com/saiset-co/autoglean/types"
)

type BackendPinger interface {
	Health(ctx context.Context) (*types.BackendHealth, error)
}

type BreakerReporter interface {
	BreakerState() string
}

// BackendChecker reports the backend healthy when GET /health answers with
// status "healthy".
func BackendChecker(api BackendPinger) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		resp, err := api.Health(ctx)
		if err != nil {
			return types.HealthCheck{Status: types.StatusUnhealthy, Message: err.Error()}
		}

		check := types.HealthCheck{
			Status:  types.StatusHealthy,
			Message: fmt.Sprintf("%s %s", resp.Service, resp.Version),
			Details: map[string]interface{}{"service": resp.Service, "version": resp.Version},
		}
		if resp.Status != "healthy" {
			check.Status = types.StatusUnhealthy
			check.Message = "backend reports " + resp.Status
		}

		return check
	}
}

func CacheChecker(cache types.ResultCache) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		if !cache.IsRunning() {
			return types.HealthCheck{Status: types.StatusUnhealthy, Message: "cache is not running"}
		}

		stats := cache.Stats(ctx)

		return types.HealthCheck{
			Status:  types.StatusHealthy,
			Message: fmt.Sprintf("%s, %d entries", stats.Backend, stats.Entries),
			Details: map[string]interface{}{"backend": stats.Backend, "entries": stats.Entries, "bytes": stats.Bytes},
		}
	}
}

// BreakerChecker is unhealthy while the circuit is open and unknown while it
// probes in half-open state.
func BreakerChecker(client BreakerReporter) types.HealthChecker {
	return func(_ context.Context) types.HealthCheck {
		state := client.BreakerState()

		switch state {
		case "open", "stopped":
			return types.HealthCheck{Status: types.StatusUnhealthy, Message: "circuit " + state}
		case "half-open":
			return types.HealthCheck{Status: types.StatusUnknown, Message: "circuit half-open"}
		default:
			return types.HealthCheck{Status: types.StatusHealthy, Message: "circuit " + state}
		}
	}
}
