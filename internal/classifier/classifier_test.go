package classifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := NewDefault()
	require.NoError(t, err)
	return c
}

func TestClassifyIsDeterministic(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t)
	inputs := []string{
		"Ich möchte mein Auto ummelden",
		"Wann ist die nächste Kreistagssitzung?",
		"Ich bin Rentnerin und habe Angst vor dem Antrag",
		"",
	}
	for _, in := range inputs {
		assert.Equal(t, c.Classify(in), c.Classify(in), "input %q", in)
	}
}

func TestClassifyVehicleRegistration(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t)
	got := c.Classify("Ich möchte mein Auto ummelden")

	assert.Equal(t, "kfz_zulassung", got.Intent.Value)
	assert.Greater(t, got.Intent.Confidence, 0)
	assert.LessOrEqual(t, got.Intent.Confidence, 100)
	assert.Equal(t, LanguageGerman, got.Language)
	assert.Equal(t, UrgencyNormal, got.Urgency.Value)
}

func TestClassifyEmptyYieldsDefaults(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t)
	for _, in := range []string{"", "   \t\n"} {
		got := c.Classify(in)
		assert.Equal(t, Label{Value: DefaultIntent}, got.Intent)
		assert.Equal(t, Label{Value: DefaultPersona}, got.Persona)
		assert.Equal(t, Label{Value: DefaultEmotion}, got.Emotion)
		assert.Equal(t, Label{Value: DefaultUrgency}, got.Urgency)
		assert.Equal(t, LanguageGerman, got.Language)
	}
}

func TestClassifyNoMatchYieldsDefaults(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t)
	got := c.Classify("xyzzy qwrt")
	assert.Equal(t, DefaultIntent, got.Intent.Value)
	assert.Zero(t, got.Intent.Confidence)
}

func TestClassifyToleratesTypos(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t)
	got := c.Classify("Wo ist die Zulasungsstelle?")
	assert.Equal(t, "kfz_zulassung", got.Intent.Value)
}

func TestClassifyEmotionAndUrgency(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t)

	frustrated := c.Classify("Ich bin total frustriert, das ist so kompliziert")
	assert.Equal(t, "frustrated", frustrated.Emotion.Value)
	assert.Equal(t, 50, frustrated.Emotion.Confidence)

	critical := c.Classify("Mein Mann schlägt mich, ich brauche sofort Hilfe")
	assert.Equal(t, UrgencyCritical, critical.Urgency.Value)
	assert.Equal(t, 60, critical.Urgency.Confidence)

	low := c.Classify("Das ist nicht dringend")
	assert.Equal(t, UrgencyLow, low.Urgency.Value)

	high := c.Classify("Ich brauche dringend einen Termin")
	assert.Equal(t, UrgencyHigh, high.Urgency.Value)
}

func TestClassifyPersona(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t)
	assert.Equal(t, "senior", c.Classify("Ich bin Rentner und brauche Hilfe").Persona.Value)
	assert.Equal(t, "student", c.Classify("Wie beantrage ich BAföG für mein Studium?").Persona.Value)
}

// Known false positives: "gestern" is within two edits of "eltern" and
// "gefahren" contains "gefahr".
func TestClassifyApproximateMatchFalsePositives(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t)
	got := c.Classify("Ich bin gestern mit dem Auto gefahren")

	assert.Equal(t, "family", got.Persona.Value)
	assert.Equal(t, "critical", got.Urgency.Value)
}

func TestClassifyLanguage(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t)
	assert.Equal(t, LanguageEnglish, c.Classify("Hello, I need help with my car").Language)
	assert.Equal(t, LanguageGerman, c.Classify("Hello, ich brauche Hilfe").Language)
	assert.Equal(t, LanguageEnglish, c.ClassifyWithLanguage("Moin, ich brauche Hilfe", "en").Language)
}

func TestUnsupportedDeclaredLanguageFallsBackToDetection(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t)
	assert.Equal(t, LanguageEnglish, c.ClassifyWithLanguage("Hello", "klingonisch").Language)
	assert.Equal(t, LanguageGerman, c.ClassifyWithLanguage("Hallo, ich brauche Hilfe", "klingonisch").Language)
	assert.Equal(t, LanguageGerman, c.ClassifyWithLanguage("Hallo", "").Language)
}

func TestTieGoesToFirstDeclared(t *testing.T) {
	t.Parallel()

	tables := Tables{
		Intent: Category{Default: "general", Scale: 10, Values: []Value{
			{Name: "first", Keywords: []string{"antrag"}},
			{Name: "second", Keywords: []string{"antrag"}},
		}},
		Persona: Category{Default: "general", Scale: 10},
		Emotion: Category{Default: "neutral", Scale: 10},
		Urgency: Category{Default: "normal", Scale: 10},
	}
	c, err := New(tables)
	require.NoError(t, err)

	got := c.Classify("Wo stelle ich den Antrag?")
	assert.Equal(t, Label{Value: "first", Confidence: 10}, got.Intent)
}

func TestConfidenceIsCapped(t *testing.T) {
	t.Parallel()

	tables := Tables{
		Intent: Category{Default: "general", Scale: 60, Values: []Value{
			{Name: "many", Keywords: []string{"a1", "b2", "c3"}},
		}},
		Persona: Category{Default: "general", Scale: 1},
		Emotion: Category{Default: "neutral", Scale: 1},
		Urgency: Category{Default: "normal", Scale: 1},
	}
	c, err := New(tables)
	require.NoError(t, err)

	assert.Equal(t, 100, c.Classify("a1 b2 c3").Intent.Confidence)
}

func TestLoadTablesRejectsDuplicates(t *testing.T) {
	t.Parallel()

	doc := `
intent:
  default: general
  scale: 1
  values:
    - name: a
      keywords: [x]
    - name: a
      keywords: [y]
persona: {default: general, scale: 1}
emotion: {default: neutral, scale: 1}
urgency: {default: normal, scale: 1}
`
	_, err := LoadTables(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declared twice")
}

func TestScoresListsEveryValue(t *testing.T) {
	t.Parallel()

	c := newTestClassifier(t)
	tables, err := DefaultTables()
	require.NoError(t, err)

	scores := c.Scores("intent", "Auto ummelden")
	require.Len(t, scores, len(tables.Intent.Values))
	assert.Equal(t, tables.Intent.Values[0].Name, scores[0].Value)
	assert.Nil(t, c.Scores("unknown", "x"))
}
