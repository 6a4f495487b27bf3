// Package papers generates stable identifiers for paper records and checks
// them for collisions.
package papers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dtnitsch/regscrape/pkg/storage"
)

// Record is one paper entry. Fields other than code and level are carried
// through untouched.
type Record map[string]any

// Catalog maps a subject to its paper records.
type Catalog map[string][]Record

// MissingKeyError reports a record that lacks a field needed for its id.
type MissingKeyError struct {
	Subject string
	Key     string
	Record  Record
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("record in %q has no %q: %v", e.Subject, e.Key, map[string]any(e.Record))
}

// Duplicate is an id shared by more than one record.
type Duplicate struct {
	ID    string
	Count int
}

// Load reads a catalog. Numbers are kept as written so numeric codes
// survive unchanged.
func Load(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("error decoding %s: %w", path, err)
	}
	return c, nil
}

// Save writes the catalog with 2-space indentation. encoding/json sorts map
// keys, so subjects come out in order.
func Save(path string, c Catalog) error {
	return storage.WriteJSON(path, c, 2)
}

// ID builds the identifier for a paper: subject, level and code joined by
// "_", lowercased, with spaces replaced by "_".
func ID(subject, level, code string) string {
	id := strings.ToLower(subject + "_" + level + "_" + code)
	return strings.ReplaceAll(id, " ", "_")
}

// GenerateIDs sets "id" on every record that has a level and a code.
// Records missing either are left alone and reported.
func GenerateIDs(c Catalog) []*MissingKeyError {
	var problems []*MissingKeyError
	for _, subject := range c.Subjects() {
		for _, rec := range c[subject] {
			level, ok := field(rec, "level")
			if !ok {
				problems = append(problems, &MissingKeyError{Subject: subject, Key: "level", Record: rec})
				continue
			}
			code, ok := field(rec, "code")
			if !ok {
				problems = append(problems, &MissingKeyError{Subject: subject, Key: "code", Record: rec})
				continue
			}
			rec["id"] = ID(subject, level, code)
		}
	}
	return problems
}

// Subjects returns the catalog's subjects in sorted order.
func (c Catalog) Subjects() []string {
	subjects := make([]string, 0, len(c))
	for s := range c {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)
	return subjects
}

// Duplicates returns every id carried by two or more records, sorted by id.
func Duplicates(c Catalog) []Duplicate {
	counts := make(map[string]int)
	for _, records := range c {
		for _, rec := range records {
			if id, ok := rec["id"].(string); ok {
				counts[id]++
			}
		}
	}

	var dupes []Duplicate
	for id, n := range counts {
		if n >= 2 {
			dupes = append(dupes, Duplicate{ID: id, Count: n})
		}
	}
	sort.Slice(dupes, func(i, j int) bool { return dupes[i].ID < dupes[j].ID })
	return dupes
}

func field(rec Record, key string) (string, bool) {
	v, ok := rec[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	default:
		return fmt.Sprint(t), true
	}
}
