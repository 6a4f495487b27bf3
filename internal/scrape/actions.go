package scrape

import (
	"fmt"

	"github.com/dtnitsch/regscrape/internal/common"
	"github.com/dtnitsch/regscrape/pkg/caching"
	"github.com/dtnitsch/regscrape/pkg/db"
	"github.com/dtnitsch/regscrape/pkg/fetcher"
	"github.com/dtnitsch/regscrape/pkg/llm"
	"github.com/urfave/cli/v2"
)

func ScrapeAction(c *cli.Context) error {
	logger := common.NewLogger(c)

	cfg, err := common.LoadConfig(c)
	if err != nil {
		return err
	}
	until, err := ParseStage(c.String("until"))
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	var store caching.Store
	if cfg.Cache.Backend == "sqlite" {
		store = database.CacheStore()
	} else {
		store, err = caching.NewFileStore(cfg.ScrapeDir)
		if err != nil {
			return err
		}
	}

	runID, err := database.StartRun(string(until))
	if err != nil {
		return err
	}
	if cfg.HTTP.Cookie == "" {
		logger.Warn("No session cookie set; the site may reject requests", "env", "EXAMREGS_COOKIE")
	}
	logger.Info("Starting scrape", "run_id", runID, "until", until, "scrape_dir", cfg.ScrapeDir, "cache", cfg.Cache.Backend)

	pipeline, err := New(cfg, Options{
		Store:  store,
		Client: fetcher.NewFetcher(cfg.Site.BaseURL, cfg.HTTP),
		Ledger: database,
		RunID:  runID,
		NewCompleter: func() (llm.Completer, error) {
			return llm.NewOpenAI(cfg.LLM)
		},
		Logger: logger,
	})
	if err != nil {
		_ = database.FinishRun(runID, "failed")
		return err
	}

	runErr := pipeline.Run(c.Context, until)
	status := "success"
	if runErr != nil {
		status = "failed"
	}
	if err := database.FinishRun(runID, status); err != nil {
		logger.Warn("Failed to finish run", "run_id", runID, "error", err)
	}
	if runErr != nil {
		return runErr
	}

	logger.Info("Scrape finished", "run_id", runID, "stages", len(pipeline.Summary().Stages), "subjects", len(pipeline.Summary().Subjects))
	return nil
}
