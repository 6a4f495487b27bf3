package papers

import (
	"fmt"

	"github.com/dtnitsch/regscrape/internal/common"
	"github.com/dtnitsch/regscrape/pkg/papers"
	"github.com/urfave/cli/v2"
)

func IdsAction(c *cli.Context) error {
	logger := common.NewLogger(c)

	catalog, err := papers.Load(c.String("input"))
	if err != nil {
		return err
	}

	problems := papers.GenerateIDs(catalog)
	for _, p := range problems {
		logger.Error("Record has no id", "subject", p.Subject, "missing", p.Key, "record", p.Record)
	}

	output := c.String("output")
	if err := papers.Save(output, catalog); err != nil {
		return err
	}
	logger.Info("Identifiers saved", "path", output, "subjects", len(catalog), "missing", len(problems))
	return nil
}

func DupesAction(c *cli.Context) error {
	logger := common.NewLogger(c)

	catalog, err := papers.Load(c.String("input"))
	if err != nil {
		return err
	}
	if problems := papers.GenerateIDs(catalog); len(problems) > 0 {
		logger.Warn("Records without id were not checked", "count", len(problems))
	}

	dupes := papers.Duplicates(catalog)
	if len(dupes) == 0 {
		fmt.Println("No duplicate identifiers found")
		return nil
	}

	fmt.Printf("%-50s %s\n", "ID", "Count")
	for _, d := range dupes {
		fmt.Printf("%-50s %d\n", d.ID, d.Count)
	}
	return cli.Exit(fmt.Sprintf("%d duplicate identifiers", len(dupes)), 1)
}
