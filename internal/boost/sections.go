package boost

import "strings"

// Section names recognised in a boost reply.
const (
	SectionSummary  = "SUMMARY"
	SectionAnalysis = "ANALYSIS"
	SectionGuidance = "GUIDANCE"
)

var sectionNames = [...]string{SectionSummary, SectionAnalysis, SectionGuidance}

// Kind is the classification of a boost reply.
type Kind string

const (
	// KindSummary means no tool use is needed; the payload is the final answer.
	KindSummary Kind = "SUMMARY"
	// KindGuidance means tools are needed; the payload tells the auxiliary model how.
	KindGuidance Kind = "GUIDANCE"
	// KindOther is any malformed reply.
	KindOther Kind = "OTHER"
)

// Sections maps a section name to its body. A header with no body is present
// with an empty value; a missing header has no key.
type Sections map[string]string

// Get returns the body of name and whether its header appeared.
func (s Sections) Get(name string) (string, bool) {
	v, ok := s[name]
	return v, ok
}

// parseSections splits text into SUMMARY, ANALYSIS and GUIDANCE bodies.
//
// A header is a line whose trimmed form starts with "NAME:"; anything after
// the colon is the first body line. Only the first header of each name
// counts, a repeated one drops lines until the next valid header. A line
// starting with "---" ends the current section.
func parseSections(text string) Sections {
	bodies := make(map[string][]string, len(sectionNames))
	current := ""

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		stripped := strings.TrimSpace(line)

		if name, rest, ok := matchHeader(stripped); ok {
			if _, seen := bodies[name]; seen {
				current = ""
				continue
			}
			bodies[name] = []string{}
			current = name
			if rest = strings.TrimSpace(rest); rest != "" {
				bodies[name] = append(bodies[name], rest)
			}
			continue
		}
		if strings.HasPrefix(stripped, "---") {
			current = ""
			continue
		}
		if current != "" {
			bodies[current] = append(bodies[current], strings.TrimRight(line, " \t\r"))
		}
	}

	out := make(Sections, len(bodies))
	for name, lines := range bodies {
		for len(lines) > 0 && lines[0] == "" {
			lines = lines[1:]
		}
		for len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		out[name] = strings.Join(lines, "\n")
	}
	return out
}

func matchHeader(stripped string) (name, rest string, ok bool) {
	for _, n := range sectionNames {
		if strings.HasPrefix(stripped, n+":") {
			return n, stripped[len(n)+1:], true
		}
	}
	return "", "", false
}

// Classify applies SUMMARY > GUIDANCE > OTHER precedence. Empty bodies do not
// count as found.
func Classify(s Sections) (kind Kind, analysis, payload string) {
	analysis = s[SectionAnalysis]
	if summary := s[SectionSummary]; summary != "" {
		return KindSummary, analysis, summary
	}
	if guidance := s[SectionGuidance]; guidance != "" {
		return KindGuidance, analysis, guidance
	}
	return KindOther, analysis, ""
}
