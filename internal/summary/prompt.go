package summary

import (
	"fmt"
	"strings"
)

// Section is one mandated heading of the clinical summary.
type Section struct {
	Heading string
	Guide   string
}

// Sections lists the headings in the order the model must produce them.
var Sections = []Section{
	{Heading: "CHIEF COMPLAINT", Guide: "the primary reason for the visit in the patient's words where possible"},
	{Heading: "HISTORY OF PRESENT ILLNESS", Guide: "onset, duration, severity, and relevant history discussed"},
	{Heading: "EXAMINATION FINDINGS", Guide: `observations made over video; write "Not performed (telemedicine visit)" when no physical examination was possible`},
	{Heading: "ASSESSMENT/DIAGNOSIS", Guide: "the clinician's stated assessment or working diagnosis"},
	{Heading: "TREATMENT PLAN", Guide: "treatments, products, or procedures agreed on"},
	{Heading: "PATIENT INSTRUCTIONS", Guide: "aftercare and instructions given to the patient"},
	{Heading: "FOLLOW-UP", Guide: "next appointment or follow-up timing"},
}

const (
	notAvailable = "Information not available"
	notPerformed = "Not performed"
)

const systemPrompt = `You are a clinical documentation assistant for a medical spa. You write visit summaries from telemedicine session records for the treating clinician.

Rules:
- Use only facts present in the session record. Never infer, guess, or add clinical details.
- When the record contains nothing for a section, write "` + notAvailable + `." for that section.
- Write in concise clinical language. No preamble and no closing remarks.
- Start each section on its own line with the exact heading followed by a colon.`

// Prompt is the provider-ready request for one summary.
type Prompt struct {
	System []string
	User   string
}

// BuildPrompt renders the fixed seven-section template around the corpus.
// instruction is appended after the template and cannot remove sections.
func BuildPrompt(corpus, instruction string) Prompt {
	var b strings.Builder
	b.WriteString("Summarize the telemedicine session below using exactly these sections, in this order:\n\n")
	for i, s := range Sections {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, s.Heading, s.Guide)
	}
	b.WriteString("\nSession record:\n\n")
	b.WriteString(strings.TrimSpace(corpus))
	b.WriteString("\n")

	if instruction = strings.TrimSpace(instruction); instruction != "" {
		b.WriteString("\nAdditional instructions from the clinician (these do not override the rules or the section list):\n")
		b.WriteString(instruction)
		b.WriteString("\n")
	}
	return Prompt{System: []string{systemPrompt}, User: b.String()}
}
