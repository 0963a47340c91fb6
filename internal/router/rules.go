package router

import (
	"github.com/ashureev/kaya/internal/classifier"
	"github.com/ashureev/kaya/internal/fuzzy"
	"github.com/ashureev/kaya/internal/knowledge"
)

// Rule names reported on decisions.
const (
	RuleOverride = "override"
	RuleIntent   = "intent"
	RulePersona  = "persona"
	RuleSession  = "session"
	RuleFallback = "fallback"
)

// input is what every rule sees.
type input struct {
	text      fuzzy.Text
	class     classifier.Result
	lastAgent string
}

// rule selects an agent or passes.
type rule interface {
	name() string
	match(in input) (agent string, ok bool)
}

// overrideRule fires on hard-coded vocabulary in the raw query.
type overrideRule struct {
	agent    string
	keywords []fuzzy.Keyword
	tokens   []string
}

func (r overrideRule) name() string { return RuleOverride }

func (r overrideRule) match(in input) (string, bool) {
	if in.text.ContainsAny(r.keywords) {
		return r.agent, true
	}
	for _, tok := range r.tokens {
		if in.text.HasToken(tok) {
			return r.agent, true
		}
	}
	return "", false
}

// intentRule maps the classified intent to an agent.
type intentRule struct {
	agents map[string]string
}

func (r intentRule) name() string { return RuleIntent }

func (r intentRule) match(in input) (string, bool) {
	agent, ok := r.agents[in.class.Intent.Value]
	return agent, ok
}

// personaRule refines an unclaimed query by persona when the persona's topic
// vocabulary occurs in the query.
type personaRule struct {
	persona  string
	agent    string
	keywords []fuzzy.Keyword
}

func (r personaRule) name() string { return RulePersona }

func (r personaRule) match(in input) (string, bool) {
	if in.class.Persona.Value != r.persona {
		return "", false
	}
	if in.text.ContainsAny(r.keywords) {
		return r.agent, true
	}
	return "", false
}

// sessionRule keeps a follow-up question with the agent of the previous turn.
type sessionRule struct {
	markers []string
}

func (r sessionRule) name() string { return RuleSession }

func (r sessionRule) match(in input) (string, bool) {
	if in.lastAgent == "" {
		return "", false
	}
	for _, m := range r.markers {
		if in.text.HasToken(m) {
			return in.lastAgent, true
		}
	}
	return "", false
}

func defaultRules() []rule {
	rules := []rule{
		overrideRule{agent: "politik_landkreis", keywords: fuzzy.NewKeywords([]string{
			"landrat", "christian pundt", "kreistagsmitglieder", "kreisorgane",
		})},
		overrideRule{agent: "ratsinfo", keywords: fuzzy.NewKeywords([]string{
			"sitzung", "tagesordnung", "kreistag", "beschluss", "ausschuss",
		})},
		overrideRule{agent: "rechnung_ebilling", keywords: fuzzy.NewKeywords([]string{
			"xrechnung", "e-rechnung", "erechnung", "leitweg", "03458-0-051",
		})},
		overrideRule{agent: "aktionen_veranstaltungen", keywords: fuzzy.NewKeywords([]string{
			"aktion saubere landschaft", "veranstaltung", "veranstaltungen",
		})},
		// "stelle" alone is too often a verb or part of "Zulassungsstelle",
		// so short job vocabulary only matches as whole words.
		overrideRule{agent: "stellenportal", keywords: fuzzy.NewKeywords([]string{
			"stellenportal", "stellenangebot", "stellenausschreibung", "freie stelle", "offene stelle",
		}), tokens: []string{"job", "jobs", "bewerbung", "bewerbungen", "bewerben"}},
		overrideRule{agent: "kontakte", keywords: fuzzy.NewKeywords([]string{
			"kontakt", "telefon", "sprechzeit", "öffnungszeit",
		})},
		overrideRule{agent: knowledge.DefaultAgent, keywords: fuzzy.NewKeywords([]string{
			"notfall",
		}), tokens: []string{"112", "110"}},
		intentRule{agents: intentAgents()},
	}
	rules = append(rules,
		personaRule{persona: "youth", agent: "jugend", keywords: fuzzy.NewKeywords([]string{"jugend", "ausbildung", "praktikum", "schule"})},
		personaRule{persona: "student", agent: "jugend", keywords: fuzzy.NewKeywords([]string{"studium", "bafög", "stipendium"})},
		personaRule{persona: "unemployed", agent: "soziales", keywords: fuzzy.NewKeywords([]string{"arbeitslos", "jobcenter", "bürgergeld", "arbeitssuche"})},
		personaRule{persona: "low_income", agent: "soziales", keywords: fuzzy.NewKeywords([]string{"armut", "grundsicherung", "sozialhilfe", "wohngeld"})},
		personaRule{persona: "senior", agent: "soziales", keywords: fuzzy.NewKeywords([]string{"rente", "pflege", "senioren"})},
		personaRule{persona: "family", agent: "soziales", keywords: fuzzy.NewKeywords([]string{"kindergeld", "elterngeld", "kita", "unterhalt"})},
		sessionRule{markers: []string{"dort", "da", "dafür", "dazu", "there"}},
	)
	return rules
}

// intentAgents lists intents routed away from the default agent.
func intentAgents() map[string]string {
	m := make(map[string]string)
	for agent, intents := range map[string][]string{
		"buergerdienste": {"buergerdienste", "kfz_zulassung", "führerschein", "bauantrag", "gewerbe",
			"landwirtschaft", "handwerk", "verkehr", "umwelt", "gesundheit", "bildung", "digitalisierung"},
		"soziales":                 {"soziales", "jobcenter", "senioren", "pflege", "inklusion", "asyl", "gleichstellung"},
		"jugend":                   {"jugend", "studium"},
		"ratsinfo":                 {"ratsinfo"},
		"politik_landkreis":        {"politik"},
		"stellenportal":            {"stellen"},
		"kontakte":                 {"kontakt"},
		"rechnung_ebilling":        {"rechnung"},
		"aktionen_veranstaltungen": {"aktionen"},
	} {
		for _, intent := range intents {
			m[intent] = agent
		}
	}
	return m
}
