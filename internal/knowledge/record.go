// Package knowledge loads per-agent datasets produced by the crawler and
// serves immutable snapshots of them.
package knowledge

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"
)

// Quality bar for records that may be shown to citizens.
const (
	MinTitleLen   = 10
	MinContentLen = 50
	urlPrefix     = "http"
)

// Record is one crawled entry of an agent dataset.
type Record struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	URL      string   `json:"url,omitempty"`
	Category string   `json:"category,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Priority string   `json:"priority,omitempty"`
	Contact  string   `json:"contact,omitempty"`
}

// UnmarshalJSON accepts the legacy "link" field as an alias for "url".
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var aux struct {
		plain
		Link string `json:"link"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Record(aux.plain)
	if r.URL == "" {
		r.URL = aux.Link
	}
	return nil
}

// Usable reports whether the record passes the quality bar: a title longer
// than MinTitleLen, an http(s) URL and content longer than MinContentLen.
func (r Record) Usable() bool {
	return utf8.RuneCountInString(strings.TrimSpace(r.Title)) > MinTitleLen &&
		strings.HasPrefix(r.URL, urlPrefix) &&
		utf8.RuneCountInString(strings.TrimSpace(r.Content)) > MinContentLen
}

// Dataset is the active record set of one agent. Datasets are never mutated
// after they are published.
type Dataset struct {
	Agent      string    `json:"agent"`
	Records    []Record  `json:"-"`
	LoadedAt   time.Time `json:"loaded_at"`
	SourcePath string    `json:"source_path,omitempty"`
	ModTime    time.Time `json:"mod_time,omitempty"`
	Default    bool      `json:"default"`
}
