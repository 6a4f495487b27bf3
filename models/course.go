package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CourseEntry is one course from the regulation search index. It picks up
// Response, then Link, then HTML as it moves through the pipeline.
type CourseEntry struct {
	ID          int    `json:"Id"`
	Name        string `json:"Name"`
	CourseLevel int    `json:"CourseLevel"`
	Response    string `json:"response,omitempty"`
	Link        string `json:"link,omitempty"`
	HTML        string `json:"html,omitempty"`
}

// SetLink attaches the resolved detail-page URL and drops the raw search response.
func (c *CourseEntry) SetLink(link string) {
	c.Link = link
	c.Response = ""
}

// ErrorRecord is a failed HTTP call. Identifier is the course Id for search
// requests and the course name for regulation pages.
type ErrorRecord struct {
	Identifier string `json:"identifier" yaml:"identifier"`
	StatusCode int    `json:"status_code" yaml:"status_code"`
}

// Paper is one examinable paper of a subject.
type Paper struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Level string `json:"level"` // Finals, Prelims, Mods or ""
}

// UnmarshalJSON accepts numeric paper codes, which the model sometimes emits
// despite being asked for strings.
func (p *Paper) UnmarshalJSON(data []byte) error {
	var raw struct {
		Code  any    `json:"code"`
		Name  string `json:"name"`
		Level string `json:"level"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch code := raw.Code.(type) {
	case string:
		p.Code = code
	case json.Number:
		p.Code = code.String()
	case nil:
		p.Code = ""
	default:
		return fmt.Errorf("paper code: unexpected %T", raw.Code)
	}
	p.Name = raw.Name
	p.Level = raw.Level
	return nil
}

// SubjectPaperMapping maps a subject name to its papers.
type SubjectPaperMapping map[string][]Paper

// RawReply keeps model output that could not be decoded as a mapping.
type RawReply struct {
	Name  string `json:"name"`
	Reply string `json:"reply"`
}
