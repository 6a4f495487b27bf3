// Package crossref checks that course identifiers and subject keys name
// the same set of courses.
package crossref

import (
	"fmt"
	"sort"

	"github.com/dtnitsch/regscrape/pkg/storage"
)

// Course is an entry of courses.json. Only the identifier is needed.
type Course struct {
	Value string `json:"value"`
}

// Report lists the differences between identifiers and keys.
type Report struct {
	// Missing holds identifiers with no matching key, in identifier order.
	Missing []string `yaml:"missing,omitempty"`
	// Extra holds keys with no matching identifier, sorted.
	Extra []string `yaml:"extra,omitempty"`
}

// OneToOne reports whether both sides hold exactly the same names.
func (r Report) OneToOne() bool {
	return len(r.Missing) == 0 && len(r.Extra) == 0
}

// Verify compares identifiers against keys.
func Verify(identifiers, keys []string) Report {
	keySet := make(map[string]bool, len(keys))
	for _, k := range keys {
		keySet[k] = true
	}
	idSet := make(map[string]bool, len(identifiers))
	for _, id := range identifiers {
		idSet[id] = true
	}

	var r Report
	for _, id := range identifiers {
		if !keySet[id] {
			r.Missing = append(r.Missing, id)
		}
	}
	for _, k := range keys {
		if !idSet[k] {
			r.Extra = append(r.Extra, k)
		}
	}
	sort.Strings(r.Extra)
	return r
}

// LoadIdentifiers returns the value of every course in coursesPath.
func LoadIdentifiers(coursesPath string) ([]string, error) {
	var courses []Course
	if err := storage.ReadJSON(coursesPath, &courses); err != nil {
		return nil, fmt.Errorf("failed to load courses: %w", err)
	}
	ids := make([]string, len(courses))
	for i, c := range courses {
		ids[i] = c.Value
	}
	return ids, nil
}

// LoadKeys returns the top-level keys of subjectsPath.
func LoadKeys(subjectsPath string) ([]string, error) {
	var subjects map[string]any
	if err := storage.ReadJSON(subjectsPath, &subjects); err != nil {
		return nil, fmt.Errorf("failed to load subjects: %w", err)
	}
	keys := make([]string, 0, len(subjects))
	for k := range subjects {
		keys = append(keys, k)
	}
	return keys, nil
}
