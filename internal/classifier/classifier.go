// Package classifier scores intent, persona, emotional state and urgency of a
// citizen utterance using keyword and fuzzy matching.
package classifier

import (
	"math"
	"strings"

	"github.com/ashureev/kaya/internal/fuzzy"
)

// Default values returned when nothing matches.
const (
	DefaultIntent  = "general"
	DefaultPersona = "general"
	DefaultEmotion = "neutral"
	DefaultUrgency = UrgencyNormal
)

// Urgency levels.
const (
	UrgencyLow      = "low"
	UrgencyNormal   = "normal"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

// Languages.
const (
	LanguageGerman  = "de"
	LanguageEnglish = "en"
)

// Label is a classified value with a confidence in [0,100].
type Label struct {
	Value      string `json:"value"`
	Confidence int    `json:"confidence"`
}

// Result is the classification of a single utterance.
type Result struct {
	Intent   Label  `json:"intent"`
	Persona  Label  `json:"persona"`
	Emotion  Label  `json:"emotion"`
	Urgency  Label  `json:"urgency"`
	Language string `json:"language"`
}

// Summary is a compact single-line description for logs and API responses.
func (r Result) Summary() string {
	return "intent=" + r.Intent.Value +
		" persona=" + r.Persona.Value +
		" emotion=" + r.Emotion.Value +
		" urgency=" + r.Urgency.Value +
		" lang=" + r.Language
}

type compiledValue struct {
	name     string
	keywords []fuzzy.Keyword
}

type compiledCategory struct {
	def    string
	scale  float64
	values []compiledValue
}

// Classifier is immutable after construction and safe for concurrent use.
type Classifier struct {
	intent  compiledCategory
	persona compiledCategory
	emotion compiledCategory
	urgency compiledCategory
	german  map[string]bool
	english map[string]bool
}

// New compiles the given tables.
func New(t Tables) (*Classifier, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{
		intent:  compile(t.Intent),
		persona: compile(t.Persona),
		emotion: compile(t.Emotion),
		urgency: compile(t.Urgency),
		german:  wordSet(t.Language.German),
		english: wordSet(t.Language.English),
	}, nil
}

// NewDefault builds a classifier over the built-in tables.
func NewDefault() (*Classifier, error) {
	t, err := DefaultTables()
	if err != nil {
		return nil, err
	}
	return New(t)
}

func compile(c Category) compiledCategory {
	cc := compiledCategory{def: c.Default, scale: c.Scale}
	for _, v := range c.Values {
		cc.values = append(cc.values, compiledValue{
			name:     v.Name,
			keywords: fuzzy.NewKeywords(v.Keywords),
		})
	}
	return cc
}

func wordSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[fuzzy.Normalize(w)] = true
	}
	return set
}

// Classify scores text against every category. It never fails; text with no
// matches yields the defaults with confidence 0.
func (c *Classifier) Classify(text string) Result {
	t := fuzzy.NewText(text)
	return Result{
		Intent:   c.intent.best(t),
		Persona:  c.persona.best(t),
		Emotion:  c.emotion.best(t),
		Urgency:  c.urgency.best(t),
		Language: c.detectLanguage(t),
	}
}

// ClassifyWithLanguage is Classify with a caller-declared language taking
// precedence over detection. Unsupported declarations are ignored.
func (c *Classifier) ClassifyWithLanguage(text, declared string) Result {
	r := c.Classify(text)
	if lang := normalizeLanguage(declared); lang != "" {
		r.Language = lang
	}
	return r
}

// Categories lists the category names Scores accepts.
var Categories = []string{"intent", "persona", "emotion", "urgency"}

// Scores returns the raw score of every declared value for a category, in
// declaration order. Used by diagnostics.
func (c *Classifier) Scores(category, text string) []Score {
	var cc compiledCategory
	switch category {
	case "intent":
		cc = c.intent
	case "persona":
		cc = c.persona
	case "emotion":
		cc = c.emotion
	case "urgency":
		cc = c.urgency
	default:
		return nil
	}
	t := fuzzy.NewText(text)
	out := make([]Score, 0, len(cc.values))
	for _, v := range cc.values {
		out = append(out, Score{Value: v.name, Score: v.score(t)})
	}
	return out
}

// Score is a raw per-value score.
type Score struct {
	Value string  `json:"value"`
	Score float64 `json:"score"`
}

func (v compiledValue) score(t fuzzy.Text) float64 {
	total := 0.0
	for _, k := range v.keywords {
		total += t.Score(k)
	}
	return total
}

// best returns the highest scoring value. Only a strictly greater score
// replaces the current leader, so ties go to the first-declared value.
func (cc compiledCategory) best(t fuzzy.Text) Label {
	if t.Empty() {
		return Label{Value: cc.def}
	}
	bestName, bestScore := cc.def, 0.0
	for _, v := range cc.values {
		if s := v.score(t); s > bestScore {
			bestName, bestScore = v.name, s
		}
	}
	if bestScore == 0 {
		return Label{Value: cc.def}
	}
	conf := int(math.Round(bestScore * cc.scale))
	return Label{Value: bestName, Confidence: min(100, conf)}
}

// detectLanguage reports English only when English indicators are present
// and no German indicator is.
func (c *Classifier) detectLanguage(t fuzzy.Text) string {
	var de, en int
	for _, tok := range t.Tokens {
		if c.german[tok] {
			de++
		}
		if c.english[tok] {
			en++
		}
	}
	if en > 0 && de == 0 {
		return LanguageEnglish
	}
	return LanguageGerman
}

func normalizeLanguage(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "de", "de-de", "german", "deutsch":
		return LanguageGerman
	case "en", "en-us", "en-gb", "english", "englisch":
		return LanguageEnglish
	default:
		return ""
	}
}
