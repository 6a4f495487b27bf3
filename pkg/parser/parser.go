package parser

import (
	"bufio"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dtnitsch/regscrape/models"
	"github.com/go-shiori/go-readability"
)

// Parser cuts the regulation text out of a detail page. The marker strings
// are tied to the current page template; when the layout changes the
// markers have to follow.
type Parser struct {
	startMarker string
	endMarker   string
	strip       []*regexp.Regexp
}

// PageInfo is what gets recorded about a fetched regulation page.
type PageInfo struct {
	Title string
	Text  string
}

func NewParser(rules models.MatchRules) (*Parser, error) {
	if rules.StartMarker == "" || rules.EndMarker == "" {
		return nil, fmt.Errorf("start and end markers are required")
	}
	p := &Parser{startMarker: rules.StartMarker, endMarker: rules.EndMarker}
	for _, expr := range rules.StripTags {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid strip pattern %q: %w", expr, err)
		}
		p.strip = append(p.strip, re)
	}
	return p, nil
}

// RelevantPortion returns the page between the start and end markers with
// the strip patterns removed. Strip patterns run per line, so a match eats
// the rest of its line.
//
// Without a start marker the readability main content is used instead; a
// missing end marker means "to the end of the page".
func (p *Parser) RelevantPortion(pageURL, html string) (string, error) {
	var portion string

	start := strings.Index(html, p.startMarker)
	if start < 0 {
		content, err := mainContent(pageURL, html)
		if err != nil {
			return "", err
		}
		portion = content
	} else {
		end := strings.Index(html[start:], p.endMarker)
		if end < 0 {
			portion = html[start:]
		} else {
			portion = html[start : start+end]
		}
	}

	for _, re := range p.strip {
		portion = re.ReplaceAllString(portion, "")
	}
	return portion, nil
}

// mainContent lets go-readability find the article body.
func mainContent(pageURL, html string) (string, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}

	readabilityParser := readability.NewParser()
	article, err := readabilityParser.Parse(strings.NewReader(html), parsedURL)
	if err != nil {
		return "", fmt.Errorf("failed to find main content: %w", err)
	}
	return article.Content, nil
}

// Inspect extracts the title and the visible body text of a page.
func Inspect(html string) (PageInfo, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return PageInfo{}, fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find("script,style,noscript").Remove()

	return PageInfo{
		Title: normalizeText(doc.Find("title").First().Text()),
		Text:  normalizeText(doc.Find("body").Text()),
	}, nil
}

// normalizeText cleans up a string by trimming space and removing excess newlines.
func normalizeText(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Buffer(make([]byte, 0, 64*1024), len(input)+1)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			b.WriteString(line)
			b.WriteString(" ")
		}
	}
	return strings.TrimSpace(b.String())
}
