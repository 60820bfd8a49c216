package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/saiset-co/autoglean/cache"
	"github.com/saiset-co/autoglean/client"
	"github.com/saiset-co/autoglean/config"
	"github.com/saiset-co/autoglean/logger"
	"github.com/saiset-co/autoglean/metrics"
	"github.com/saiset-co/autoglean/types"
)

type runtimeOptions struct {
	cache   bool
	api     bool
	metrics bool
}

// runtime holds the components one command needs. close stops them in
// reverse start order.
type runtime struct {
	config  *types.ServiceConfig
	logger  types.LoggerManager
	metrics *metrics.Manager
	cache   types.ResultCache
	client  *client.HTTPClient
	api     *client.API
}

func openRuntime(ctx context.Context, configPath string, opts runtimeOptions) (*runtime, error) {
	configManager, err := config.NewManager(ctx, configPath)
	if err != nil {
		return nil, err
	}
	cfg := configManager.GetConfig()

	if opts.metrics && (cfg.Metrics == nil || !cfg.Metrics.Enabled) {
		cfg.Metrics = &types.MetricsConfig{Enabled: true, Type: "prometheus"}
	}

	log, err := logger.NewManager(cfg.Logger)
	if err != nil {
		return nil, err
	}
	if err := log.Start(); err != nil {
		return nil, types.WrapError(err, "failed to start logger")
	}

	rt := &runtime{config: cfg, logger: log}

	rt.metrics, err = metrics.NewManager(ctx, cfg.Metrics, log)
	if err != nil {
		rt.close()
		return nil, err
	}
	if err := rt.metrics.Start(); err != nil {
		rt.close()
		return nil, err
	}

	if opts.cache {
		resultCache, err := cache.New(ctx, cfg.Cache, log, rt.metrics)
		if err != nil {
			rt.close()
			return nil, err
		}
		if err := resultCache.Start(); err != nil {
			rt.close()
			return nil, err
		}
		rt.cache = resultCache
	}

	if opts.api {
		rt.client, err = client.NewHTTPClient(ctx, log, rt.metrics, cfg.API)
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.api = client.NewAPI(rt.client, log)
	}

	log.Debug("Runtime ready",
		zap.String("base_url", cfg.API.BaseURL),
		zap.Bool("cache", opts.cache),
		zap.Bool("api", opts.api))

	return rt, nil
}

func (rt *runtime) close() {
	if rt.client != nil {
		rt.client.Close()
	}

	if rt.cache != nil && rt.cache.IsRunning() {
		if err := rt.cache.Stop(); err != nil {
			rt.logger.Warn("Cache stop failed", zap.Error(err))
		}
	}

	if rt.metrics != nil && rt.metrics.IsRunning() {
		_ = rt.metrics.Stop()
	}

	_ = rt.logger.Stop()
}
