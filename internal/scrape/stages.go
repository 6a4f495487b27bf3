package scrape

import (
	"fmt"
	"strings"

	"github.com/dtnitsch/regscrape/models"
)

// Stage names one step of the scrape pipeline.
type Stage string

const (
	StageTypeahead   Stage = "typeahead"
	StageResponses   Stage = "responses"
	StageLinks       Stage = "links"
	StageRegulations Stage = "regulations"
	StageMappings    Stage = "mappings"
)

// Stages lists every stage in the order it runs.
var Stages = []Stage{StageTypeahead, StageResponses, StageLinks, StageRegulations, StageMappings}

// ParseStage accepts a stage name; the empty string means the full pipeline.
func ParseStage(s string) (Stage, error) {
	if s == "" {
		return StageMappings, nil
	}
	for _, st := range Stages {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	names := make([]string, len(Stages))
	for i, st := range Stages {
		names[i] = string(st)
	}
	return "", fmt.Errorf("unknown stage %q (valid: %s)", s, strings.Join(names, ", "))
}

// File returns the cache key of the stage's output.
func (s Stage) File(files models.StageFiles) string {
	switch s {
	case StageTypeahead:
		return files.Typeahead
	case StageResponses:
		return files.Responses
	case StageLinks:
		return files.Links
	case StageRegulations:
		return files.Regulations
	case StageMappings:
		return files.Mappings
	}
	return ""
}
