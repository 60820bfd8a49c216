package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/saiset-co/autoglean/cache"
	"github.com/saiset-co/autoglean/config"
	"github.com/saiset-co/autoglean/health"
	"github.com/saiset-co/autoglean/poller"
	"github.com/saiset-co/autoglean/types"
	"github.com/saiset-co/autoglean/workflow"
)

func extractCommand() *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "extract files with an extractor, serving repeats from the cache",
		ArgsUsage: "FILE...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "extractor", Aliases: []string{"e"}, Usage: "extractor UUID", Required: true},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "directory to write result files to"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "do not print progress"},
		},
		Action: runExtract,
	}
}

func runExtract(c *cli.Context) error {
	if c.NArg() == 0 {
		return types.Errorf(types.ErrInvalidParameter, "no files given")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	files := make([]cache.FileSource, 0, c.NArg())
	for _, path := range c.Args().Slice() {
		file, err := cache.OpenLocalFile(path)
		if err != nil {
			return types.WrapError(err, path)
		}
		files = append(files, file)
	}

	rt, err := openRuntime(ctx, c.String("config"), runtimeOptions{cache: true, api: true})
	if err != nil {
		return err
	}
	defer rt.close()

	extractor, err := rt.api.FindExtractor(ctx, c.String("extractor"))
	if err != nil {
		return err
	}

	fingerprinter, err := cache.NewFingerprinter(rt.config.Cache.Fingerprint)
	if err != nil {
		return err
	}

	p, err := poller.New(rt.api, rt.config.Poller, rt.logger, rt.metrics)
	if err != nil {
		return err
	}

	wf, err := workflow.New(p, rt.cache, fingerprinter, rt.config.Workflow, rt.logger, rt.metrics,
		workflow.WithCacheHitRecorder(rt.api))
	if err != nil {
		return err
	}

	var observer workflow.ProgressObserver
	if !c.Bool("quiet") {
		observer = newProgressPrinter(c.App.ErrWriter)
	}

	outcomes := wf.Run(ctx, extractor, files, observer)

	if dir := c.String("output"); dir != "" {
		if err := writeResults(dir, extractor.OutputFormat, outcomes); err != nil {
			return err
		}
	}

	renderOutcomes(c.App.Writer, outcomes)

	failed := 0
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d files failed", failed, len(outcomes)), 1)
	}

	return nil
}

func writeResults(dir, format string, outcomes []workflow.FileOutcome) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.WrapError(err, "output directory")
	}

	ext := resultExtension(format)
	taken := make(map[string]bool, len(outcomes))
	for _, outcome := range outcomes {
		if outcome.Err != nil || outcome.Result == nil {
			continue
		}

		path := filepath.Join(dir, resultFileName(outcome.FileName, ext, taken))
		if err := os.WriteFile(path, []byte(outcome.Result.ResultContent), 0o644); err != nil {
			return types.WrapError(err, "write result "+path)
		}
	}

	return nil
}

// resultFileName derives an output name from the input's base name. Inputs
// that share a stem within one run get a numeric suffix.
func resultFileName(fileName, ext string, taken map[string]bool) string {
	base := filepath.Base(fileName)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." {
		stem = "result"
	}

	name := stem + ext
	for n := 2; taken[name]; n++ {
		name = stem + "-" + strconv.Itoa(n) + ext
	}
	taken[name] = true

	return name
}

func resultExtension(format string) string {
	switch strings.ToLower(format) {
	case "json":
		return ".json"
	case "csv":
		return ".csv"
	case "text", "txt":
		return ".txt"
	default:
		return ".md"
	}
}

func extractorsCommand() *cli.Command {
	return &cli.Command{
		Name:  "extractors",
		Usage: "list extractors visible to the current token",
		Action: func(c *cli.Context) error {
			return withAPI(c, func(ctx context.Context, rt *runtime) error {
				extractors, err := rt.api.ListExtractors(ctx)
				if err != nil {
					return err
				}
				renderExtractors(c.App.Writer, extractors)
				return nil
			})
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "show the change history of an extractor",
		ArgsUsage: "ID",
		Action: func(c *cli.Context) error {
			id, err := extractorIDArg(c)
			if err != nil {
				return err
			}

			return withAPI(c, func(ctx context.Context, rt *runtime) error {
				records, err := rt.api.History(ctx, id)
				if err != nil {
					return err
				}
				renderHistory(c.App.Writer, records)
				return nil
			})
		},
	}
}

func cacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "inspect or maintain the local result cache",
		Subcommands: []*cli.Command{
			{
				Name:  "stats",
				Usage: "show entry counts, sizes and hit ratio",
				Action: func(c *cli.Context) error {
					return withCache(c, func(ctx context.Context, rt *runtime) error {
						renderStats(c.App.Writer, rt.cache.Stats(ctx))
						return nil
					})
				},
			},
			{
				Name:  "clear",
				Usage: "remove every cached result",
				Action: func(c *cli.Context) error {
					return withCache(c, func(ctx context.Context, rt *runtime) error {
						rt.cache.ClearAll(ctx)
						_, _ = fmt.Fprintln(c.App.Writer, "Cache cleared")
						return nil
					})
				},
			},
			{
				Name:  "sweep",
				Usage: "remove expired entries now",
				Action: func(c *cli.Context) error {
					return withCache(c, func(ctx context.Context, rt *runtime) error {
						removed := rt.cache.Sweep(ctx)
						_, _ = fmt.Fprintf(c.App.Writer, "Removed %d expired entries\n", removed)
						return nil
					})
				},
			},
		},
	}
}

func apiKeyCommand() *cli.Command {
	return &cli.Command{
		Name:  "api-key",
		Usage: "manage the API export key of an extractor",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "create an API key",
				ArgsUsage: "ID",
				Action: extractorAction(func(ctx context.Context, c *cli.Context, rt *runtime, id int64) error {
					resp, err := rt.api.CreateAPIKey(ctx, id)
					if err != nil {
						return err
					}
					_, _ = fmt.Fprintln(c.App.Writer, resp.APIKey)
					return nil
				}),
			},
			{
				Name:      "get",
				Usage:     "show the API key",
				ArgsUsage: "ID",
				Action: extractorAction(func(ctx context.Context, c *cli.Context, rt *runtime, id int64) error {
					key, err := rt.api.GetAPIKey(ctx, id)
					if err != nil {
						return err
					}
					renderAPIKey(c.App.Writer, key)
					return nil
				}),
			},
			{
				Name:      "enable",
				Usage:     "activate the API key",
				ArgsUsage: "ID",
				Action:    toggleAPIKey(true),
			},
			{
				Name:      "disable",
				Usage:     "deactivate the API key",
				ArgsUsage: "ID",
				Action:    toggleAPIKey(false),
			},
			{
				Name:      "delete",
				Usage:     "delete the API key",
				ArgsUsage: "ID",
				Action: extractorAction(func(ctx context.Context, c *cli.Context, rt *runtime, id int64) error {
					if err := rt.api.DeleteAPIKey(ctx, id); err != nil {
						return err
					}
					_, _ = fmt.Fprintln(c.App.Writer, "API key deleted")
					return nil
				}),
			},
		},
	}
}

func toggleAPIKey(active bool) cli.ActionFunc {
	return extractorAction(func(ctx context.Context, c *cli.Context, rt *runtime, id int64) error {
		key, err := rt.api.ToggleAPIKey(ctx, id, active)
		if err != nil {
			return err
		}
		renderAPIKey(c.App.Writer, key)
		return nil
	})
}

func extractorAction(action func(ctx context.Context, c *cli.Context, rt *runtime, id int64) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		id, err := extractorIDArg(c)
		if err != nil {
			return err
		}

		return withAPI(c, func(ctx context.Context, rt *runtime) error {
			return action(ctx, c, rt, id)
		})
	}
}

func metricsCommand() *cli.Command {
	return &cli.Command{
		Name:  "metrics",
		Usage: "print cache metrics in Prometheus text format",
		Action: func(c *cli.Context) error {
			rt, err := openRuntime(c.Context, c.String("config"), runtimeOptions{cache: true, metrics: true})
			if err != nil {
				return err
			}
			defer rt.close()

			rt.cache.Stats(c.Context)

			text, err := rt.metrics.GetText()
			if err != nil {
				return err
			}

			_, err = c.App.Writer.Write(text)
			return err
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "check the backend, the local cache and the circuit breaker",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second, Usage: "per-check timeout"},
		},
		Action: func(c *cli.Context) error {
			rt, err := openRuntime(c.Context, c.String("config"), runtimeOptions{cache: true, api: true})
			if err != nil {
				return err
			}
			defer rt.close()

			hm := health.NewManager(types.ServiceInfo{
				Name:    rt.config.Name,
				Version: rt.config.Version,
				BaseURL: rt.client.BaseURL(),
			}, rt.logger, health.WithCheckTimeout(c.Duration("timeout")))
			hm.RegisterChecker("backend", health.BackendChecker(rt.api))
			hm.RegisterChecker("cache", health.CacheChecker(rt.cache))
			hm.RegisterChecker("circuit_breaker", health.BreakerChecker(rt.client))

			report := hm.Check(c.Context)
			renderHealth(c.App.Writer, report)

			if report.Status == types.StatusUnhealthy {
				return cli.Exit("unhealthy", 1)
			}
			return nil
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "inspect the effective configuration",
		Subcommands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "print the configuration, or the part at a dotted path, as YAML",
				ArgsUsage: "[PATH]",
				Action: func(c *cli.Context) error {
					configManager, err := config.NewManager(c.Context, c.String("config"))
					if err != nil {
						return err
					}

					out, err := configManager.Render(c.Args().First())
					if err != nil {
						return err
					}

					_, err = c.App.Writer.Write(out)
					return err
				},
			},
		},
	}
}

func withAPI(c *cli.Context, fn func(ctx context.Context, rt *runtime) error) error {
	rt, err := openRuntime(c.Context, c.String("config"), runtimeOptions{api: true})
	if err != nil {
		return err
	}
	defer rt.close()

	return fn(c.Context, rt)
}

func withCache(c *cli.Context, fn func(ctx context.Context, rt *runtime) error) error {
	rt, err := openRuntime(c.Context, c.String("config"), runtimeOptions{cache: true})
	if err != nil {
		return err
	}
	defer rt.close()

	return fn(c.Context, rt)
}

func extractorIDArg(c *cli.Context) (int64, error) {
	if c.NArg() != 1 {
		return 0, types.Errorf(types.ErrInvalidParameter, "expected one extractor id")
	}

	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil || id <= 0 {
		return 0, types.Errorf(types.ErrInvalidParameter, "extractor id %q", c.Args().First())
	}

	return id, nil
}
