package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/kaya/internal/classifier"
	"github.com/ashureev/kaya/internal/knowledge"
)

type fakeDatasets struct {
	mu   sync.Mutex
	data map[string]*knowledge.Dataset
	gets int
}

func newFakeDatasets() *fakeDatasets {
	f := &fakeDatasets{data: map[string]*knowledge.Dataset{}}
	for _, agent := range knowledge.KnownAgents() {
		f.data[agent] = knowledge.DefaultDataset(agent, time.Now())
	}
	return f
}

func (f *fakeDatasets) Get(agent string) (*knowledge.Dataset, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	ds, ok := f.data[agent]
	return ds, ok
}

func (f *fakeDatasets) set(agent string, records ...knowledge.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[agent] = &knowledge.Dataset{Agent: agent, Records: records}
}

func (f *fakeDatasets) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

type fakeSession struct{ last string }

func (s fakeSession) LastAgent() string { return s.last }

func record(title, category string) knowledge.Record {
	return knowledge.Record{
		Title:    title,
		Content:  "Ausführliche Informationen des Landkreises Oldenburg zu diesem Thema mit Ansprechpartnern.",
		URL:      "https://www.oldenburg-kreis.de/" + strings.ToLower(strings.ReplaceAll(title, " ", "-")),
		Category: category,
	}
}

func classify(t *testing.T, text string) classifier.Result {
	t.Helper()
	c, err := classifier.NewDefault()
	require.NoError(t, err)
	return c.Classify(text)
}

func TestOverrideBeatsIntent(t *testing.T) {
	t.Parallel()

	r := New(newFakeDatasets(), Options{})
	query := "Wann ist die nächste Sitzung zum Bauantrag?"
	class := classify(t, query)
	require.Equal(t, "bauantrag", class.Intent.Value, "intent alone would route to citizen services")

	d := r.Route(query, class, nil)
	assert.Equal(t, "ratsinfo", d.Agent)
	assert.Equal(t, RuleOverride, d.Rule)
}

func TestOverrideOrder(t *testing.T) {
	t.Parallel()

	r := New(newFakeDatasets(), Options{})
	cases := map[string]string{
		"Was sagt der Landrat zur Tagesordnung?":          "politik_landkreis",
		"Wie schicke ich eine XRechnung?":                 "rechnung_ebilling",
		"Welche Veranstaltungen gibt es im Mai?":          "aktionen_veranstaltungen",
		"Ich habe einen Notfall":                          "kaya",
		"Muss ich 112 anrufen?":                           "kaya",
		"Wann tagt der Ausschuss für Jugendhilfe?":        "ratsinfo",
		"Ich suche einen Job beim Bauamt":                 "stellenportal",
		"Gibt es offene Stellen in der Verwaltung?":       "stellenportal",
		"Wie ist die Telefonnummer der Zulassungsstelle?": "kontakte",
		"Welche Sprechzeiten hat das Jugendamt?":          "kontakte",
	}
	for query, want := range cases {
		agent, rule := r.Select(query, classify(t, query), nil)
		assert.Equal(t, want, agent, query)
		assert.Equal(t, RuleOverride, rule, query)
	}
}

func TestJobOverrideIgnoresVerbAndCompounds(t *testing.T) {
	t.Parallel()

	r := New(newFakeDatasets(), Options{})
	for _, query := range []string{"Wo stelle ich den Antrag?", "Wo ist die Zulassungsstelle?", "Hilft mir das Jobcenter?"} {
		agent, _ := r.Select(query, classify(t, query), nil)
		assert.NotEqual(t, "stellenportal", agent, query)
	}
}

func TestIntentMapping(t *testing.T) {
	t.Parallel()

	r := New(newFakeDatasets(), Options{})
	query := "Ich möchte mein Auto ummelden"
	agent, rule := r.Select(query, classify(t, query), nil)
	assert.Equal(t, "buergerdienste", agent)
	assert.Equal(t, RuleIntent, rule)
}

func TestPersonaRefinementOnlyForDefaultTarget(t *testing.T) {
	t.Parallel()

	r := New(newFakeDatasets(), Options{})
	class := classifier.Result{
		Intent:  classifier.Label{Value: classifier.DefaultIntent},
		Persona: classifier.Label{Value: "senior", Confidence: 40},
	}
	agent, rule := r.Select("Wie viel Rente bekomme ich?", class, nil)
	assert.Equal(t, "soziales", agent)
	assert.Equal(t, RulePersona, rule)

	// Without the persona's topic vocabulary nothing is refined.
	agent, rule = r.Select("Wie spät ist es?", class, nil)
	assert.Equal(t, knowledge.DefaultAgent, agent)
	assert.Equal(t, RuleFallback, rule)

	// An intent match is never refined.
	class.Intent = classifier.Label{Value: "kfz_zulassung", Confidence: 50}
	agent, _ = r.Select("Rente und Auto", class, nil)
	assert.Equal(t, "buergerdienste", agent)
}

func TestSessionContinuation(t *testing.T) {
	t.Parallel()

	r := New(newFakeDatasets(), Options{})
	query := "Und was kostet das dort?"
	class := classify(t, query)

	agent, rule := r.Select(query, class, fakeSession{last: "buergerdienste"})
	assert.Equal(t, "buergerdienste", agent)
	assert.Equal(t, RuleSession, rule)

	agent, rule = r.Select(query, class, fakeSession{})
	assert.Equal(t, knowledge.DefaultAgent, agent)
	assert.Equal(t, RuleFallback, rule)

	// Earlier rules still win over continuation.
	agent, _ = r.Select("Gibt es dort eine Sitzung?", classify(t, "Gibt es dort eine Sitzung?"), fakeSession{last: "buergerdienste"})
	assert.Equal(t, "ratsinfo", agent)
}

func TestScenarioNoUsableRecordsYieldsTemplate(t *testing.T) {
	t.Parallel()

	r := New(newFakeDatasets(), Options{})
	query := "Ich möchte mein Auto ummelden"
	d := r.Route(query, classify(t, query), nil)

	assert.Equal(t, "buergerdienste", d.Agent)
	assert.False(t, d.Grounded)
	assert.Empty(t, d.Records)
	assert.Equal(t, NoInformation, d.Answer)
	assert.Zero(t, d.Confidence)
}

func TestRouteBuildsGroundedAnswer(t *testing.T) {
	t.Parallel()

	ds := newFakeDatasets()
	ds.set("buergerdienste",
		record("Fahrzeug ummelden im Landkreis", "kfz_zulassung"),
		record("Wunschkennzeichen reservieren", "kfz_zulassung"),
		record("Personalausweis beantragen", "buergerdienste"),
		knowledge.Record{Title: "Kurz", Category: "kfz_zulassung"},
	)
	r := New(ds, Options{})

	class := classifier.Result{
		Intent:  classifier.Label{Value: "kfz_zulassung", Confidence: 80},
		Persona: classifier.Label{Value: "senior", Confidence: 20},
	}
	d := r.Route("Auto ummelden", class, nil)

	require.True(t, d.Grounded)
	assert.Len(t, d.Records, 2)
	assert.InDelta(t, 0.7, d.Confidence, 1e-9)
	assert.True(t, strings.HasPrefix(d.Answer, "📋 **Relevante Informationen für kfz_zulassung:**"))
	assert.Contains(t, d.Answer, "**1. Fahrzeug ummelden im Landkreis**")
	assert.Contains(t, d.Answer, "→ [Mehr erfahren](https://")
	assert.Contains(t, d.Answer, "Für Senioren")
	assert.True(t, strings.HasSuffix(d.Answer, ContactFooter))
}

func TestFilterCapsAndExactBonus(t *testing.T) {
	t.Parallel()

	var recs []knowledge.Record
	for i := 0; i < 8; i++ {
		recs = append(recs, record("Abfallkalender Bezirk "+string(rune('A'+i)), "umwelt"))
	}

	f := filter(recs, "abfallkalender", "umwelt")
	assert.Len(t, f.records, MaxRecords)
	assert.InDelta(t, 1.0, f.confidence, 1e-9)

	f = filter(recs, "wann kommt der müll", "umwelt")
	assert.Len(t, f.records, MaxRecords)
	assert.InDelta(t, 0.8, f.confidence, 1e-9)

	f = filter(recs, "nichts", "bauantrag")
	assert.Empty(t, f.records)
	assert.Zero(t, f.confidence)
}

func TestFilterMatchesKeywords(t *testing.T) {
	t.Parallel()

	rec := record("Sperrmüll anmelden im Landkreis", "")
	rec.Keywords = []string{"Sperrmüllabholung", "Abholtermin"}

	f := filter([]knowledge.Record{rec}, "sperrmüll", "general")
	require.Len(t, f.records, 1)
	assert.InDelta(t, 0.8, f.confidence, 1e-9)

	f = filter([]knowledge.Record{rec}, "abholtermin", "general")
	require.Len(t, f.records, 1)
	assert.InDelta(t, 0.6, f.confidence, 1e-9)
}

func TestDerivedCachePurgedOnReload(t *testing.T) {
	t.Parallel()

	ds := newFakeDatasets()
	r := New(ds, Options{})
	class := classifier.Result{Intent: classifier.Label{Value: "kfz_zulassung", Confidence: 80}}

	first := r.Route("Auto ummelden", class, nil)
	require.False(t, first.Grounded)
	r.Route("Auto ummelden", class, nil)
	assert.Equal(t, 1, ds.getCount(), "second lookup is served from the derived cache")

	ds.set("buergerdienste", record("Fahrzeug ummelden im Landkreis", "kfz_zulassung"))
	events := make(chan knowledge.Event, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Watch(ctx, chanSubscriber(events))
	events <- knowledge.Event{Changed: []string{"buergerdienste"}}

	require.Eventually(t, func() bool {
		return r.Route("Auto ummelden", class, nil).Grounded
	}, time.Second, 10*time.Millisecond)
}

type chanSubscriber chan knowledge.Event

func (c chanSubscriber) Subscribe() (<-chan knowledge.Event, func()) {
	return c, func() {}
}
