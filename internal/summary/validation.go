package summary

import (
	"strings"
	"unicode"
)

// Flag marks a summary section that could not be traced back to the corpus.
type Flag struct {
	Section string `json:"section"`
	Reason  string `json:"reason"`
}

const (
	FlagMissing     = "missing_section"
	FlagUnsupported = "no_corpus_overlap"
)

var stopwords = map[string]bool{
	"about": true, "after": true, "also": true, "been": true, "before": true, "being": true,
	"does": true, "from": true, "have": true, "into": true, "more": true, "none": true,
	"only": true, "other": true, "over": true, "patient": true, "should": true, "some": true,
	"than": true, "that": true, "their": true, "them": true, "then": true, "there": true,
	"these": true, "they": true, "this": true, "under": true, "very": true, "visit": true,
	"were": true, "what": true, "when": true, "will": true, "with": true, "would": true,
	"your": true, "session": true, "clinician": true, "discussed": true, "reported": true,
}

// Validate checks generated text against the corpus it came from. A section
// is flagged when its heading is absent, or when it asserts content that
// shares no keyword with the corpus. Sections stating the information is not
// available or the exam was not performed are never flagged for overlap.
func Validate(text, corpus string) []Flag {
	bodies := splitSections(text)
	vocab := keywords(corpus)

	var flags []Flag
	for _, s := range Sections {
		body, ok := bodies[s.Heading]
		if !ok {
			flags = append(flags, Flag{Section: s.Heading, Reason: FlagMissing})
			continue
		}
		if declaresAbsence(body) {
			continue
		}
		words := keywords(body)
		if len(words) == 0 {
			continue
		}
		overlap := false
		for w := range words {
			if vocab[w] {
				overlap = true
				break
			}
		}
		if !overlap {
			flags = append(flags, Flag{Section: s.Heading, Reason: FlagUnsupported})
		}
	}
	return flags
}

// splitSections maps each known heading to the text that follows it, up to
// the next known heading. Headings may carry markdown emphasis or numbering.
func splitSections(text string) map[string]string {
	out := make(map[string]string)
	current := ""
	var body strings.Builder
	flush := func() {
		if current != "" {
			out[current] = strings.TrimSpace(body.String())
		}
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		heading, rest, ok := matchHeading(line)
		if ok {
			flush()
			current = heading
			body.WriteString(rest)
			body.WriteString("\n")
			continue
		}
		if current != "" {
			body.WriteString(line)
			body.WriteString("\n")
		}
	}
	flush()
	return out
}

func matchHeading(line string) (string, string, bool) {
	cleaned := strings.TrimLeft(line, " \t#*-0123456789.)")
	cleaned = strings.ReplaceAll(cleaned, "**", "")
	upper := strings.ToUpper(cleaned)
	for _, s := range Sections {
		if strings.HasPrefix(upper, s.Heading) {
			rest := strings.TrimSpace(cleaned[len(s.Heading):])
			if rest != "" && rest[0] != ':' {
				continue
			}
			return s.Heading, strings.TrimSpace(strings.TrimPrefix(rest, ":")), true
		}
	}
	return "", "", false
}

func declaresAbsence(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, strings.ToLower(notAvailable)) || strings.HasPrefix(lower, strings.ToLower(notPerformed))
}

func keywords(text string) map[string]bool {
	out := make(map[string]bool)
	for _, field := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(field) < 4 || stopwords[field] {
			continue
		}
		out[field] = true
	}
	return out
}
