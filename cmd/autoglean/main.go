package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "autoglean",
		Usage: "run AutoGlean extractions with a local result cache",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file",
				EnvVars: []string{"AUTOGLEAN_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			extractCommand(),
			extractorsCommand(),
			historyCommand(),
			cacheCommand(),
			apiKeyCommand(),
			favoriteCommand(),
			unfavoriteCommand(),
			rateCommand(),
			ratingsCommand(),
			shareCommand(),
			jobsCommand(),
			leaderboardCommand(),
			metricsCommand(),
			healthCommand(),
			configCommand(),
		},
	}
}
