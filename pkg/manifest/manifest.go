package manifest

import "github.com/dtnitsch/regscrape/models"

// RunSummary is written after every scrape. It gives an overview of which
// stages ran, which were served from cache, and what the run produced,
// without having to open the stage files.
type RunSummary struct {
	GeneratedAt string         `yaml:"generated_at"`
	RunID       int64          `yaml:"run_id,omitempty"`
	Until       string         `yaml:"until,omitempty"`
	Stages      []StageSummary `yaml:"stages"`
	Subjects    []string       `yaml:"subjects,omitempty"`
	RawReplies  int            `yaml:"raw_replies,omitempty"`
}

// StageSummary describes one stage of a run.
type StageSummary struct {
	Name     string               `yaml:"name"`
	File     string               `yaml:"file"`
	CacheHit bool                 `yaml:"cache_hit"`
	Items    int                  `yaml:"items"`
	Errors   []models.ErrorRecord `yaml:"errors,omitempty"`
	Skipped  []string             `yaml:"skipped,omitempty"`
}
