package knowledge

import (
	"slices"
	"time"
)

// DefaultAgent answers everything no other agent claims.
const DefaultAgent = "kaya"

var defaultRecords = map[string]Record{
	"kaya":                     {Title: "KAYA", Content: "Allgemeine Auskünfte des Landkreises Oldenburg", Category: "general"},
	"buergerdienste":           {Title: "Bürgerservice", Content: "Allgemeine Bürgerservices im Landkreis Oldenburg", Category: "general", Priority: "high"},
	"ratsinfo":                 {Title: "Ratsinformationen", Content: "Informationen über Ratssitzungen und Beschlüsse", Category: "politics", Priority: "medium"},
	"stellenportal":            {Title: "Stellenportal", Content: "Aktuelle Stellenausschreibungen", Category: "jobs", Priority: "high"},
	"kontakte":                 {Title: "Kontakte", Content: "Kontaktinformationen der Verwaltung", Category: "contact", Priority: "high"},
	"jugend":                   {Title: "Jugend", Content: "Angebote und Services für Jugendliche", Category: "youth", Priority: "medium"},
	"soziales":                 {Title: "Soziales", Content: "Soziale Dienstleistungen und Hilfen", Category: "social", Priority: "high"},
	"politik_landkreis":        {Title: "Kreispolitik", Content: "Landrat, Kreistag und Kreisorgane", Category: "politics", Priority: "medium"},
	"rechnung_ebilling":        {Title: "E-Rechnung", Content: "Hinweise zur XRechnung an den Landkreis", Category: "billing", Priority: "medium"},
	"aktionen_veranstaltungen": {Title: "Veranstaltungen", Content: "Aktionen und Veranstaltungen im Landkreis", Category: "events", Priority: "low"},
}

// KnownAgents returns the agents that always have a dataset, sorted by name.
func KnownAgents() []string {
	names := make([]string, 0, len(defaultRecords))
	for name := range defaultRecords {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsKnownAgent reports whether name has a built-in default dataset.
func IsKnownAgent(name string) bool {
	_, ok := defaultRecords[name]
	return ok
}

// DefaultDataset returns the built-in dataset for agent. The default record
// has no URL, so it never passes the quality bar.
func DefaultDataset(agent string, now time.Time) *Dataset {
	rec, ok := defaultRecords[agent]
	if !ok {
		rec = Record{Title: agent}
	}
	return &Dataset{
		Agent:    agent,
		Records:  []Record{rec},
		LoadedAt: now,
		Default:  true,
	}
}
