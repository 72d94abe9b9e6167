package advice

import "strings"

// The response parser is a single-pass line state machine. The state is the
// section currently being accumulated; a recognized marker line switches
// state, any other non-empty, non-marker line appends to the active section.

type section int

const (
	sectionNone section = iota
	sectionCauses
	sectionImmediateActions
	sectionPrevention
	sectionTreatment
	sectionMonitoring
	sectionQuestionAnswer
	numSections
)

// Transition table from marker to section state. Markers are matched by
// containment so decorations around them ("1. **CAUSES:**") still count.
var markers = []struct {
	text string
	next section
}{
	{"**CAUSES:**", sectionCauses},
	{"**IMMEDIATE_ACTIONS:**", sectionImmediateActions},
	{"**PREVENTION:**", sectionPrevention},
	{"**TREATMENT:**", sectionTreatment},
	{"**MONITORING:**", sectionMonitoring},
	{"**QUESTION_ANSWER:**", sectionQuestionAnswer},
}

// markerFor reports the section a marker line transitions to, plus any text
// trailing the marker on the same line ("**CAUSES:** too much rain").
func markerFor(line string) (section, string, bool) {
	for _, m := range markers {
		if idx := strings.Index(line, m.text); idx >= 0 {
			return m.next, strings.TrimSpace(line[idx+len(m.text):]), true
		}
	}
	return sectionNone, "", false
}

// parse splits free-form responder text into the named sections. Sections
// the responder did not populate come back empty.
func parse(text string) Advice {
	var acc [numSections]strings.Builder

	current := sectionNone
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)

		if next, rest, ok := markerFor(line); ok {
			current = next
			if rest != "" {
				acc[current].WriteString(rest)
				acc[current].WriteString(" ")
			}
			continue
		}

		// Marker-like lines that aren't one of ours are dropped rather
		// than folded into the active section.
		if current == sectionNone || line == "" || strings.HasPrefix(line, "**") {
			continue
		}

		acc[current].WriteString(line)
		acc[current].WriteString(" ")
	}

	trim := func(s section) string { return strings.TrimSpace(acc[s].String()) }
	return Advice{
		Causes:           trim(sectionCauses),
		ImmediateActions: trim(sectionImmediateActions),
		Prevention:       trim(sectionPrevention),
		Treatment:        trim(sectionTreatment),
		Monitoring:       trim(sectionMonitoring),
		QuestionAnswer:   trim(sectionQuestionAnswer),
	}
}
