package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/kaya/internal/fuzzy"
	"github.com/ashureev/kaya/internal/knowledge"
)

const maxRecordChars = 400

// Exchange is a previous (question, answer) pair of the session.
type Exchange struct {
	User      string
	Assistant string
}

// Prompt is everything the model is told about one utterance.
type Prompt struct {
	Query    string
	Agent    string
	Persona  string
	Emotion  string
	Urgency  string
	Language string
	Records  []knowledge.Record
	History  []Exchange
}

var emotionGuidance = map[string]string{
	"frustrated": "Der Bürger ist frustriert - sei besonders empathisch und lösungsorientiert",
	"anxious":    "Der Bürger ist unsicher - sei beruhigend und unterstützend",
	"positive":   "Der Bürger ist motiviert - sei enthusiastisch und bestärkend",
	"neutral":    "Der Bürger ist neutral - sei professionell und hilfreich",
}

// System renders the system prompt.
func (p Prompt) System() string {
	lang := "Deutsch"
	if p.Language == "en" {
		lang = "Englisch"
	}

	var b strings.Builder
	b.WriteString(`Du bist KAYA, der kommunale KI-Assistent für den Landkreis Oldenburg.

DEINE WESENTLICHEN CHARAKTERISTIKA:
- Du bist bürgernah, empathisch und zielorientiert
- Du löst Probleme sofort, nicht nur informativ
- Du bietest konkrete Schritte (1-3 Schritte)
- Du bist zugänglich für alle Bürger (Barrierefreiheit)

WICHTIGE REGELN:
- Antworte immer auf ` + lang + `
- Keine langen Erklärungen, nur konkrete Schritte
- Bei Dringlichkeit: Telefonnummer anbieten (04431 85-0)
- Nutze ausschließlich die unten stehenden Informationen und erfinde keine Fakten`)

	if p.Agent != "" {
		fmt.Fprintf(&b, "\n\nZUSTÄNDIGER BEREICH: %s", p.Agent)
	}
	if p.Persona != "" && p.Persona != "general" {
		fmt.Fprintf(&b, "\n\nPERSONA KONTEXT: Der Bürger ist %s", p.Persona)
	}
	if g, ok := emotionGuidance[p.Emotion]; ok {
		fmt.Fprintf(&b, "\nEMOTIONALER ZUSTAND: %s", g)
	}
	if p.Urgency == "critical" {
		b.WriteString("\n\nDRINGLICHKEIT: KRITISCH - Biete sofort Hilfe (Telefonnummer, Termine)")
	}

	if len(p.Records) > 0 {
		b.WriteString("\n\nINFORMATIONEN:")
		for i, r := range p.Records {
			fmt.Fprintf(&b, "\n%d. %s: %s", i+1, r.Title, truncate(r.Content, maxRecordChars))
			if r.URL != "" {
				fmt.Fprintf(&b, " (%s)", r.URL)
			}
		}
	}

	b.WriteString("\n\nANTWORTE JETZT auf die Anfrage. Sei konkret und hilfreich.")
	return b.String()
}

// Messages renders prior exchanges followed by the current query.
func (p Prompt) Messages() []Message {
	msgs := make([]Message, 0, 2*len(p.History)+1)
	for _, h := range p.History {
		msgs = append(msgs,
			Message{Role: RoleUser, Content: h.User},
			Message{Role: RoleAssistant, Content: h.Assistant},
		)
	}
	return append(msgs, Message{Role: RoleUser, Content: p.Query})
}

// CacheKey hashes the normalized prompt together with the generation config.
func (p Prompt) CacheKey(provider, model string, maxTokens int, temperature float64) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(provider)
	write(model)
	write(strconv.Itoa(maxTokens))
	write(strconv.FormatFloat(temperature, 'f', -1, 64))
	write(p.System())
	for _, m := range p.History {
		write(fuzzy.Normalize(m.User))
		write(fuzzy.Normalize(m.Assistant))
	}
	write(fuzzy.Normalize(p.Query))
	return hex.EncodeToString(h.Sum(nil))
}

var greeting = regexp.MustCompile(`(?i)^(moin|hallo|hi)\b[!,.]?\s*`)

// PostProcess strips a leading greeting and surrounding whitespace.
func PostProcess(text string) string {
	text = strings.TrimSpace(text)
	stripped := greeting.ReplaceAllString(text, "")
	if stripped == "" {
		return text
	}
	return stripped
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
