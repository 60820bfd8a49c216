package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/saiset-co/autoglean/types"
)

func favoriteCommand() *cli.Command {
	return &cli.Command{
		Name:      "favorite",
		Usage:     "add an extractor to your favorites",
		ArgsUsage: "ID",
		Action: extractorAction(func(ctx context.Context, c *cli.Context, rt *runtime, id int64) error {
			if err := rt.api.Favorite(ctx, id); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(c.App.Writer, "Extractor %d added to favorites\n", id)
			return nil
		}),
	}
}

func unfavoriteCommand() *cli.Command {
	return &cli.Command{
		Name:      "unfavorite",
		Usage:     "remove an extractor from your favorites",
		ArgsUsage: "ID",
		Action: extractorAction(func(ctx context.Context, c *cli.Context, rt *runtime, id int64) error {
			if err := rt.api.Unfavorite(ctx, id); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(c.App.Writer, "Extractor %d removed from favorites\n", id)
			return nil
		}),
	}
}

func rateCommand() *cli.Command {
	return &cli.Command{
		Name:      "rate",
		Usage:     "rate an extractor from 1 to 5 stars",
		ArgsUsage: "ID STARS",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "review", Aliases: []string{"r"}, Usage: "optional review text"},
		},
		Action: func(c *cli.Context) error {
			ids, err := int64Args(c, "extractor id", "stars")
			if err != nil {
				return err
			}

			return withAPI(c, func(ctx context.Context, rt *runtime) error {
				rating, err := rt.api.Rate(ctx, ids[0], int(ids[1]), c.String("review"))
				if err != nil {
					return err
				}
				renderRatings(c.App.Writer, []types.Rating{*rating})
				return nil
			})
		},
	}
}

func ratingsCommand() *cli.Command {
	return &cli.Command{
		Name:      "ratings",
		Usage:     "list the ratings of an extractor",
		ArgsUsage: "ID",
		Action: extractorAction(func(ctx context.Context, c *cli.Context, rt *runtime, id int64) error {
			ratings, err := rt.api.Ratings(ctx, id)
			if err != nil {
				return err
			}
			renderRatings(c.App.Writer, ratings)
			return nil
		}),
	}
}

func shareCommand() *cli.Command {
	return &cli.Command{
		Name:  "share",
		Usage: "manage who an extractor is shared with",
		Subcommands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "list the users an extractor is shared with",
				ArgsUsage: "ID",
				Action: extractorAction(func(ctx context.Context, c *cli.Context, rt *runtime, id int64) error {
					shares, err := rt.api.Shares(ctx, id)
					if err != nil {
						return err
					}
					renderShares(c.App.Writer, shares)
					return nil
				}),
			},
			{
				Name:      "add",
				Usage:     "share an extractor with a user",
				ArgsUsage: "ID USER_ID",
				Action: shareAction(func(ctx context.Context, c *cli.Context, rt *runtime, id, userID int64) error {
					share, err := rt.api.Share(ctx, id, userID)
					if err != nil {
						return err
					}
					renderShares(c.App.Writer, []types.Share{*share})
					return nil
				}),
			},
			{
				Name:      "remove",
				Usage:     "stop sharing an extractor with a user",
				ArgsUsage: "ID USER_ID",
				Action: shareAction(func(ctx context.Context, c *cli.Context, rt *runtime, id, userID int64) error {
					if err := rt.api.Unshare(ctx, id, userID); err != nil {
						return err
					}
					_, _ = fmt.Fprintf(c.App.Writer, "Extractor %d no longer shared with user %d\n", id, userID)
					return nil
				}),
			},
		},
	}
}

func shareAction(action func(ctx context.Context, c *cli.Context, rt *runtime, id, userID int64) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		ids, err := int64Args(c, "extractor id", "user id")
		if err != nil {
			return err
		}

		return withAPI(c, func(ctx context.Context, rt *runtime) error {
			return action(ctx, c, rt, ids[0], ids[1])
		})
	}
}

func jobsCommand() *cli.Command {
	return &cli.Command{
		Name:      "jobs",
		Usage:     "list your extraction jobs, or show one",
		ArgsUsage: "[JOB_ID]",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "extractor-id", Usage: "only jobs of this numeric extractor id"},
			&cli.StringFlag{Name: "status", Usage: "only jobs in this status"},
			&cli.IntFlag{Name: "limit", Value: 50, Usage: "page size, at most 200"},
			&cli.IntFlag{Name: "offset", Usage: "rows to skip"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return types.Errorf(types.ErrInvalidParameter, "expected at most one job id")
			}

			return withAPI(c, func(ctx context.Context, rt *runtime) error {
				if c.NArg() == 1 {
					job, err := rt.api.Job(ctx, c.Args().First())
					if err != nil {
						return err
					}
					renderJobs(c.App.Writer, &types.JobList{Total: 1, Jobs: []types.Job{*job}})
					return nil
				}

				list, err := rt.api.Jobs(ctx, types.JobQuery{
					ExtractorID: c.Int64("extractor-id"),
					Status:      c.String("status"),
					Limit:       c.Int("limit"),
					Offset:      c.Int("offset"),
				})
				if err != nil {
					return err
				}
				renderJobs(c.App.Writer, list)
				return nil
			})
		},
	}
}

func leaderboardCommand() *cli.Command {
	return &cli.Command{
		Name:  "leaderboard",
		Usage: "show the top extractors, users and departments",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 10, Usage: "entries per list, at most 50"},
		},
		Action: func(c *cli.Context) error {
			return withAPI(c, func(ctx context.Context, rt *runtime) error {
				board, err := rt.api.Leaderboard(ctx, c.Int("limit"))
				if err != nil {
					return err
				}
				renderLeaderboard(c.App.Writer, board)
				return nil
			})
		},
	}
}

func int64Args(c *cli.Context, names ...string) ([]int64, error) {
	if c.NArg() != len(names) {
		return nil, types.Errorf(types.ErrInvalidParameter, "expected %d arguments, got %d", len(names), c.NArg())
	}

	values := make([]int64, len(names))
	for i, name := range names {
		value, err := strconv.ParseInt(c.Args().Get(i), 10, 64)
		if err != nil || value <= 0 {
			return nil, types.Errorf(types.ErrInvalidParameter, "%s %q", name, c.Args().Get(i))
		}
		values[i] = value
	}

	return values, nil
}
