package crossref

import (
	"fmt"

	"github.com/dtnitsch/regscrape/pkg/crossref"
	"github.com/urfave/cli/v2"
)

func CrossrefAction(c *cli.Context) error {
	identifiers, err := crossref.LoadIdentifiers(c.String("courses"))
	if err != nil {
		return err
	}
	keys, err := crossref.LoadKeys(c.String("subjects"))
	if err != nil {
		return err
	}

	report := crossref.Verify(identifiers, keys)
	if report.OneToOne() {
		fmt.Println("There is a 1:1 mapping between course identifiers and subject keys.")
		return nil
	}

	if len(report.Missing) > 0 {
		fmt.Println("The following course identifiers are missing as subject keys:")
		for _, id := range report.Missing {
			fmt.Printf("  - %s\n", id)
		}
	}
	if len(report.Extra) > 0 {
		fmt.Println("The following subject keys have no corresponding course identifier:")
		for _, k := range report.Extra {
			fmt.Printf("  - %s\n", k)
		}
	}
	return cli.Exit(fmt.Sprintf("%d missing, %d extra", len(report.Missing), len(report.Extra)), 1)
}
