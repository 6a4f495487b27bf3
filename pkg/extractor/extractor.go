package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dtnitsch/regscrape/models"
)

// Outcome classifies what link extraction made of one search response.
type Outcome int

const (
	Extracted Outcome = iota
	Ended             // course no longer offered
	Ambiguous         // zero or several links; needs a human
)

func (o Outcome) String() string {
	switch o {
	case Extracted:
		return "extracted"
	case Ended:
		return "ended"
	case Ambiguous:
		return "ambiguous"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Rules holds the compiled, site-specific matching rules.
type Rules struct {
	baseURL  string
	ended    *regexp.Regexp
	link     *regexp.Regexp
	category *regexp.Regexp
}

// ParseRules compiles the configured patterns. baseURL is prefixed to the
// site-relative link found in a search response.
func ParseRules(rules models.MatchRules, baseURL string) (*Rules, error) {
	compile := func(name, expr string) (*regexp.Regexp, error) {
		if expr == "" {
			return nil, fmt.Errorf("empty %s pattern", name)
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern: %w", name, err)
		}
		return re, nil
	}

	ended, err := compile("ended", rules.Ended)
	if err != nil {
		return nil, err
	}
	link, err := compile("link", rules.Link)
	if err != nil {
		return nil, err
	}
	category, err := compile("category", rules.Category)
	if err != nil {
		return nil, err
	}

	return &Rules{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		ended:    ended,
		link:     link,
		category: category,
	}, nil
}

// ExtractLink finds the single detail-page link in a search response body.
// An "ended" marker wins over any links present. found is the number of link
// matches, which is only meaningful for Ambiguous.
func (r *Rules) ExtractLink(body string) (link string, outcome Outcome, found int) {
	if r.ended.MatchString(body) {
		return "", Ended, 0
	}
	matches := r.link.FindAllString(body, -1)
	if len(matches) != 1 {
		return "", Ambiguous, len(matches)
	}
	return r.baseURL + matches[0], Extracted, 1
}

// IsStandardSubject reports whether a course name falls into one of the
// recognised exam categories.
func (r *Rules) IsStandardSubject(name string) bool {
	return r.category.MatchString(name)
}
