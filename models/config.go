// Package models defines data structures for configuration and the scraped dataset.
package models

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything a run needs. Defaults reproduce the examregs site
// constants; config.yaml only needs to carry what differs.
type Config struct {
	ScrapeDir string      `yaml:"scrape_dir"`
	Files     StageFiles  `yaml:"files"`
	Site      SiteConfig  `yaml:"site"`
	HTTP      HTTPConfig  `yaml:"http"`
	Rules     MatchRules  `yaml:"rules"`
	LLM       LLMConfig   `yaml:"llm"`
	Cache     CacheConfig `yaml:"cache"`
	DBPath    string      `yaml:"db_path"`
}

// StageFiles names the output of each pipeline stage, relative to ScrapeDir.
type StageFiles struct {
	Typeahead   string `yaml:"typeahead"`
	Responses   string `yaml:"responses"`
	Links       string `yaml:"links"`
	Regulations string `yaml:"regulations"`
	Mappings    string `yaml:"mappings"`
	RawReplies  string `yaml:"raw_replies"`
	Summary     string `yaml:"summary"`
}

type SiteConfig struct {
	BaseURL       string `yaml:"base_url"`
	TypeaheadPath string `yaml:"typeahead_path"`
	SearchPath    string `yaml:"search_path"`
	// UndergradLevel is the CourseLevel value the search stage keeps.
	UndergradLevel int `yaml:"undergrad_level"`
}

type HTTPConfig struct {
	Headers map[string]string `yaml:"headers"`
	// Cookie is normally supplied through EXAMREGS_COOKIE, captured from a browser session.
	Cookie  string        `yaml:"cookie"`
	Timeout time.Duration `yaml:"timeout"` // zero means no timeout
}

// MatchRules are the institution-specific patterns used by link extraction
// and the regulation filter.
type MatchRules struct {
	Ended       string   `yaml:"ended"`
	Link        string   `yaml:"link"`
	Category    string   `yaml:"category"`
	StartMarker string   `yaml:"start_marker"`
	EndMarker   string   `yaml:"end_marker"`
	StripTags   []string `yaml:"strip_tags"`
}

type LLMConfig struct {
	Model        string `yaml:"model"`
	BaseURL      string `yaml:"base_url"`
	SystemPrompt string `yaml:"system_prompt"`
	Prompt       string `yaml:"prompt"`
	APIKey       string `yaml:"-"`
}

// CacheConfig selects where stage outputs are kept: "file" or "sqlite".
type CacheConfig struct {
	Backend string `yaml:"backend"`
}

const DefaultPrompt = `
Read this file. Tell me all the papers that students of this subject may take in the format of a JSON, which looks like
{SUBJECT: [{"code": CODE, "name": NAME, "level": LEVEL}, ...]}
where:
SUBJECT is the name of the subject, ignoring any additional information in parentheses or about the level of the exams;
CODE is the code or number attached to the paper, otherwise simply sequential, but always as a string;
NAME is the name of the paper as given;
LEVEL is "Finals" if the regulations are about finals exams, "Prelims" if about preliminary exams, "Mods" if about moderations, and blank if unclear
Do not surround your response in code fences: output only the valid JSON data.
`

// DefaultConfig returns the configuration used when no config file overrides it.
func DefaultConfig() *Config {
	return &Config{
		ScrapeDir: "scraping",
		Files: StageFiles{
			Typeahead:   "typeahead_results.json",
			Responses:   "responses.json",
			Links:       "links.json",
			Regulations: "regulations.json",
			Mappings:    "mappings.json",
			RawReplies:  "mappings_raw.json",
			Summary:     "summary.yaml",
		},
		Site: SiteConfig{
			BaseURL:        "https://examregs.admin.ox.ac.uk",
			TypeaheadPath:  "/Home/RegulationTypeahead",
			SearchPath:     "/Home/RegulationSearch",
			UndergradLevel: 1,
		},
		HTTP: HTTPConfig{
			Headers: map[string]string{
				"Accept":           "*/*",
				"Accept-Encoding":  "gzip, deflate, br",
				"Content-Type":     "application/x-www-form-urlencoded; charset=UTF-8",
				"Origin":           "https://examregs.admin.ox.ac.uk",
				"Referer":          "https://examregs.admin.ox.ac.uk/",
				"User-Agent":       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/88.0.4324.150 Safari/537.36",
				"X-Requested-With": "XMLHttpRequest",
				"Connection":       "keep-alive",
			},
		},
		Rules: MatchRules{
			Ended:       `ended in \d{4}`,
			Link:        `/Regulation\?code[^"]+`,
			Category:    `FPE|FHS|Moderations|Honour|Prelim|Regulation`, // Foundation Year courses not included
			StartMarker: "You are viewing",
			EndMarker:   "section-index-sidebar-wrapper",
			StripTags:   []string{`<p\s+style.*>`, `<span.*>`},
		},
		LLM: LLMConfig{
			Model:        "gpt-4o",
			SystemPrompt: "You are a helpful assistant.",
			Prompt:       DefaultPrompt,
		},
		Cache:  CacheConfig{Backend: "file"},
		DBPath: "scraping/regscrape.db",
	}
}

// LoadConfig reads a YAML config over DefaultConfig. A missing file is not an
// error; secrets are then taken from the environment.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv("EXAMREGS_COOKIE"); v != "" {
		cfg.HTTP.Cookie = v
	}
	cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.ScrapeDir == "" {
		return errors.New("config: scrape_dir must not be empty")
	}
	switch c.Cache.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	if c.Site.BaseURL == "" {
		return errors.New("config: site.base_url must not be empty")
	}
	return nil
}
