// Package outputguard applies the KAYA house style to generated answers:
// filler phrases are removed, answers are kept short, a repeated source
// footer is dropped and a closing question rotates across turns.
package outputguard

import (
	"regexp"
	"strings"
)

// Config holds the style rules.
type Config struct {
	MaxLines      int
	BannedPhrases []string
	Closers       []string
	// FooterMemory is how many distinct source footers are remembered.
	FooterMemory int
	// CloserMemory is how many recent closers are skipped when rotating.
	CloserMemory int
}

// DefaultConfig returns the production style rules.
func DefaultConfig() Config {
	return Config{
		MaxLines: 8,
		BannedPhrases: []string{
			"Ich hoffe, das hilft",
			"Gern geschehen",
			"Als KI-Modell",
			"Bei weiteren Fragen stehe ich zur Verfügung",
			"Ich freue mich, Ihnen helfen zu können",
			"Hoffe, das hilft",
			"Bei Fragen stehe ich zur Verfügung",
		},
		Closers: []string{
			"Passt das so? Sonst feilen wir kurz nach.",
			"Soll ich das direkt verlinken oder per E-Mail schicken?",
			"Weiter mit: Unterlagen · Kosten · Termin.",
		},
		FooterMemory: 5,
		CloserMemory: 3,
	}
}

// State is the per-session memory of footers and closers already shown. The
// zero value is ready to use. It is not safe for concurrent use; the owner
// serializes access.
type State struct {
	Footers []string
	Closers []string
}

var (
	footerPattern = regexp.MustCompile(`(?i)\n?(?:quelle|source):[^\n]*$`)
	closerPattern = regexp.MustCompile(`(?i)(unterlagen|weiter mit|termin|passt das|soll ich)`)
)

// Guard is immutable and safe for concurrent use.
type Guard struct {
	cfg    Config
	banned []*regexp.Regexp
}

// New compiles cfg.
func New(cfg Config) *Guard {
	g := &Guard{cfg: cfg}
	for _, p := range cfg.BannedPhrases {
		g.banned = append(g.banned, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(p)))
	}
	return g
}

// Apply returns raw in house style and records the footer and closer it
// used in st.
func (g *Guard) Apply(raw string, st *State) string {
	if strings.TrimSpace(raw) == "" {
		return raw
	}
	if st == nil {
		st = &State{}
	}

	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		stripped := line
		for _, re := range g.banned {
			stripped = re.ReplaceAllString(stripped, "")
		}
		if stripped != line {
			// Drop punctuation the removed phrase leaves dangling.
			stripped = strings.TrimLeft(stripped, " .,!?;:")
		}
		if line = strings.TrimSpace(stripped); line != "" {
			lines = append(lines, line)
		}
	}
	if g.cfg.MaxLines > 0 && len(lines) > g.cfg.MaxLines {
		lines = lines[:g.cfg.MaxLines]
	}
	text := strings.Join(lines, "\n")

	if loc := footerPattern.FindStringIndex(text); loc != nil {
		key := strings.ToLower(strings.TrimSpace(text[loc[0]:loc[1]]))
		if contains(st.Footers, key) {
			text = text[:loc[0]]
		} else {
			st.Footers = remember(st.Footers, key, g.cfg.FooterMemory)
		}
	}

	if len(g.cfg.Closers) > 0 && !closerPattern.MatchString(text) {
		closer := g.cfg.Closers[0]
		for _, c := range g.cfg.Closers {
			if !contains(st.Closers, c) {
				closer = c
				break
			}
		}
		if text != "" {
			text += "\n"
		}
		text += closer
		st.Closers = remember(st.Closers, closer, g.cfg.CloserMemory)
	}

	return strings.TrimSpace(text)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// remember appends s and keeps at most n most recent entries.
func remember(list []string, s string, n int) []string {
	list = append(list, s)
	if n > 0 && len(list) > n {
		list = append([]string(nil), list[len(list)-n:]...)
	}
	return list
}
