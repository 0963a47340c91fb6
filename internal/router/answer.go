package router

import (
	"fmt"
	"strings"

	"github.com/ashureev/kaya/internal/knowledge"
)

// Fixed answer texts.
const (
	NoInformation = "Ich habe dazu keine verlässlichen Informationen gefunden. " +
		"Bitte kontaktieren Sie uns direkt für eine persönliche Beratung: 04431 85-0 (Mo-Fr 8-16 Uhr)."

	ContactFooter = "📞 **Weitere Hilfe:** 04431 85-0 (Mo-Fr 8-16 Uhr)"

	seniorHint = "👴 **Für Senioren:** Spezielle Beratungen und Unterstützungen verfügbar!"
	youthHint  = "👨‍🎓 **Für Jugendliche:** Spezielle Angebote und Förderungen!"
)

// CandidateAnswer renders records as the deterministic template answer.
func CandidateAnswer(records []knowledge.Record, intent, persona string) string {
	if len(records) == 0 {
		return NoInformation
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 **Relevante Informationen für %s:**\n\n", intent)
	for i, rec := range records {
		title := rec.Title
		if title == "" {
			title = "Information"
		}
		fmt.Fprintf(&b, "**%d. %s**\n", i+1, title)
		if rec.Content != "" {
			b.WriteString(rec.Content)
			b.WriteByte('\n')
		}
		if rec.URL != "" {
			fmt.Fprintf(&b, "→ [Mehr erfahren](%s)\n", rec.URL)
		}
		if rec.Contact != "" {
			fmt.Fprintf(&b, "📞 Kontakt: %s\n", rec.Contact)
		}
		b.WriteByte('\n')
	}

	switch persona {
	case "senior":
		b.WriteString(seniorHint + "\n\n")
	case "youth":
		b.WriteString(youthHint + "\n\n")
	}
	b.WriteString(ContactFooter)
	return b.String()
}
