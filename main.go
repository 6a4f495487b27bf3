package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dtnitsch/regscrape/internal/crossref"
	dbactions "github.com/dtnitsch/regscrape/internal/db"
	"github.com/dtnitsch/regscrape/internal/papers"
	"github.com/dtnitsch/regscrape/internal/scrape"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	// .env.local is loaded first so its values win; existing env vars win over both.
	for _, f := range []string{".env.local", ".env"} {
		_ = godotenv.Load(f)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "regscrape",
		Usage: "Build the course dataset from examination regulation pages",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: "config.yaml",
				Usage: "Path to the YAML config (optional)",
			},
			&cli.StringFlag{
				Name:  "scrape-dir",
				Usage: "Directory holding the stage files (overrides scrape_dir)",
			},
			&cli.StringFlag{
				Name:  "cache",
				Usage: "Stage cache backend: file or sqlite (overrides cache.backend)",
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "Path to the run ledger database (overrides db_path)",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Only log errors",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log every item as it is processed",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "scrape",
				Usage: "Run the scrape pipeline, reusing every stage file that already exists",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "until",
						Usage: "Stop after this stage: typeahead, responses, links, regulations or mappings",
					},
				},
				Action: scrape.ScrapeAction,
			},
			{
				Name:  "ids",
				Usage: "Add an id to every paper record and write the subjects sorted",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "input", Value: "papers.json", Usage: "Paper records by subject"},
					&cli.StringFlag{Name: "output", Value: "papers_ids_sorted.json", Usage: "Where to write the records with ids"},
				},
				Action: papers.IdsAction,
			},
			{
				Name:  "dupes",
				Usage: "Report paper ids shared by more than one record",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "input", Value: "papers.json", Usage: "Paper records by subject"},
				},
				Action: papers.DupesAction,
			},
			{
				Name:  "crossref",
				Usage: "Check that course identifiers and subject keys match one to one",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "courses", Value: "courses.json", Usage: "Course list with a value per course"},
					&cli.StringFlag{Name: "subjects", Value: "subjects.json", Usage: "Subjects keyed by course identifier"},
				},
				Action: crossref.CrossrefAction,
			},
			{
				Name:  "db",
				Usage: "Inspect the run ledger",
				Subcommands: []*cli.Command{
					{
						Name:  "runs",
						Usage: "List recent runs",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "limit", Value: 20, Usage: "Maximum number of runs to show"},
						},
						Action: dbactions.RunsAction,
					},
					{
						Name:      "run",
						Usage:     "Show stages, errors and unparsed replies of a run (default: latest)",
						ArgsUsage: "[run-id]",
						Action:    dbactions.RunAction,
					},
					{
						Name:      "errors",
						Usage:     "List the fetch errors of a run (default: latest)",
						ArgsUsage: "[run-id]",
						Action:    dbactions.ErrorsAction,
					},
				},
			},
		},
	}
}
