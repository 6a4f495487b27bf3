package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dtnitsch/regscrape/models"
	"gopkg.in/yaml.v3"
)

// NewRunSummary starts a summary for the given run.
func NewRunSummary(runID int64, until string) *RunSummary {
	return &RunSummary{
		GeneratedAt: time.Now().Format(time.RFC3339),
		RunID:       runID,
		Until:       until,
		Stages:      []StageSummary{},
	}
}

// AddStage appends a stage in the order the stages ran.
func (s *RunSummary) AddStage(stage StageSummary) {
	s.Stages = append(s.Stages, stage)
}

// SetSubjects records the subject names found in the mappings. Each mapping
// contributes every key it has; the list is deduplicated and sorted.
func (s *RunSummary) SetSubjects(mappings []models.SubjectPaperMapping) {
	seen := make(map[string]bool)
	var subjects []string
	for _, m := range mappings {
		for subject := range m {
			if !seen[subject] {
				seen[subject] = true
				subjects = append(subjects, subject)
			}
		}
	}
	sort.Strings(subjects)
	s.Subjects = subjects
}

// Write saves the summary as YAML at path and returns the path.
func (s *RunSummary) Write(path string) (string, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("error marshalling summary: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("error creating summary directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("error saving summary: %w", err)
	}
	return path, nil
}
