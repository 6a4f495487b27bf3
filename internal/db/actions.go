package db

import (
	"fmt"
	"strings"

	"github.com/dtnitsch/regscrape/internal/common"
	dbpkg "github.com/dtnitsch/regscrape/pkg/db"
	"github.com/urfave/cli/v2"
)

func openLedger(c *cli.Context) (*dbpkg.DB, error) {
	cfg, err := common.LoadConfig(c)
	if err != nil {
		return nil, err
	}
	database, err := dbpkg.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

func RunsAction(c *cli.Context) error {
	database, err := openLedger(c)
	if err != nil {
		return err
	}
	defer database.Close()

	runs, err := database.ListRuns(c.Int("limit"))
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	fmt.Printf("%-6s %-20s %-20s %-12s %-10s %-8s\n",
		"ID", "Started", "Finished", "Until", "Status", "Errors")
	fmt.Println(strings.Repeat("-", 82))

	for _, r := range runs {
		finished := "-"
		if r.FinishedAt.Valid {
			finished = r.FinishedAt.Time.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-6d %-20s %-20s %-12s %-10s %-8d\n",
			r.RunID,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			finished,
			r.UntilStage,
			r.Status,
			r.ErrorCount,
		)
	}

	fmt.Printf("\nTotal: %d runs\n", len(runs))
	fmt.Printf("\nTip: Use 'regscrape db run <id>' to see stages and errors\n")

	return nil
}

// RunAction shows the stages, fetch errors and raw replies of one run.
func RunAction(c *cli.Context) error {
	database, err := openLedger(c)
	if err != nil {
		return err
	}
	defer database.Close()

	runID, err := GetRunIDOrLatest(c, database)
	if err != nil {
		return err
	}

	run, err := database.GetRun(runID)
	if err != nil {
		return err
	}
	events, err := database.GetStageEvents(runID)
	if err != nil {
		return err
	}

	fmt.Printf("Run %d\n", run.RunID)
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Started:  %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Status:   %s\n", run.Status)
	if run.UntilStage != "" {
		fmt.Printf("Until:    %s\n", run.UntilStage)
	}

	fmt.Printf("\nStages (%d):\n", len(events))
	fmt.Println(strings.Repeat("-", 60))
	for _, ev := range events {
		source := "fetched"
		if ev.CacheHit {
			source = "cached"
		}
		fmt.Printf("  %-12s %-8s items: %-6d errors: %d\n", ev.Stage, source, ev.ItemCount, ev.ErrorCount)
	}

	if err := printErrors(database, runID); err != nil {
		return err
	}

	replies, err := database.GetRawReplies(runID)
	if err != nil {
		return err
	}
	if len(replies) > 0 {
		fmt.Printf("\nUnparsed model replies (%d):\n", len(replies))
		fmt.Println(strings.Repeat("-", 60))
		for i, r := range replies {
			fmt.Printf("%2d. %s\n", i+1, r.Name)
		}
	}
	return nil
}

func ErrorsAction(c *cli.Context) error {
	database, err := openLedger(c)
	if err != nil {
		return err
	}
	defer database.Close()

	runID, err := GetRunIDOrLatest(c, database)
	if err != nil {
		return err
	}
	return printErrors(database, runID)
}

func printErrors(database *dbpkg.DB, runID int64) error {
	errs, err := database.GetFetchErrors(runID)
	if err != nil {
		return err
	}
	if len(errs) == 0 {
		fmt.Printf("\nRun %d has no fetch errors\n", runID)
		return nil
	}

	fmt.Printf("\nFetch errors (%d):\n", len(errs))
	fmt.Println(strings.Repeat("-", 60))
	for i, e := range errs {
		fmt.Printf("%2d. [%s] %s -> %d\n", i+1, e.Stage, e.Identifier, e.StatusCode)
	}
	return nil
}
