package synthesizer

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Refusal text used when strict mode has no policies to ground an answer
const (
	RefusalSummary = "Unable to analyze - no compliance policies loaded for this domain."
	RefusalAction  = "Manual review required - context insufficient"
)

const (
	unverifiedPrefix = "[UNVERIFIED] "
	inferencePrefix  = "[INFERENCE] "

	minActionOverlap   = 0.3
	minEvidenceOverlap = 0.2
)

var knownFrameworks = []string{
	"SOC2", "SOX", "ISO27001", "NIST", "PCI-DSS", "GDPR",
	"HIPAA", "CIS", "ITIL", "SRE", "FedRAMP",
}

var (
	wordPattern = regexp.MustCompile(`\w+`)
	termPattern = regexp.MustCompile(`\w{4,}`)

	// An uppercase identifier followed by dash separated parts, the last
	// holding a digit: SOC2-CC6.1, PCI-DSS-10.2, ISO27001-A.9.4
	citationPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9]+(?:-[A-Za-z0-9.]+)*-[A-Za-z.]*[0-9][A-Za-z0-9.]*\b`)

	frameworkSet = func() map[string]bool {
		m := make(map[string]bool, len(knownFrameworks))
		for _, f := range knownFrameworks {
			m[strings.ToUpper(f)] = true
		}
		return m
	}()
)

// GuardrailResult is the outcome of validating a model response
type GuardrailResult struct {
	Valid         bool
	Response      Response
	Warnings      []string
	Refused       bool
	RefusalReason string
}

// Validate checks a model response against the context it was given.
// Unsupported actions and root causes are marked, not removed.
func Validate(resp Response, c Context, strict bool) GuardrailResult {
	if strict && len(c.Policies) == 0 {
		return GuardrailResult{
			Response: Response{
				Summary: RefusalSummary,
				Actions: []string{RefusalAction},
			},
			Warnings:      []string{"No policies in context"},
			Refused:       true,
			RefusalReason: "No applicable policies loaded for event domain",
		}
	}

	var warnings []string
	out := Response{Summary: resp.Summary, RootCause: resp.RootCause}

	for _, action := range resp.Actions {
		if approved(action, c.Remediations) {
			out.Actions = append(out.Actions, action)
			continue
		}
		out.Actions = append(out.Actions, unverifiedPrefix+action)
		warnings = append(warnings, fmt.Sprintf("Action not in approved list: %s", truncate(action, 50)))
	}

	if resp.RootCause != "" && c.FindingsText != "" && !supported(resp.RootCause, c.FindingsText) {
		out.RootCause = inferencePrefix + resp.RootCause
		warnings = append(warnings, "Root cause not directly supported by findings")
	}

	for _, citation := range citations(resp.Summary + " " + strings.Join(resp.Actions, " ")) {
		if !knownFramework(citation) {
			warnings = append(warnings, fmt.Sprintf("Unknown framework cited: %s", citation))
		}
	}

	return GuardrailResult{Valid: len(warnings) == 0, Response: out, Warnings: warnings}
}

// approved reports whether an action overlaps some remediation by at least
// 30% of the shorter word set
func approved(action string, remediations []string) bool {
	words := wordSet(wordPattern, action)
	if len(words) == 0 {
		return false
	}
	for _, r := range remediations {
		other := wordSet(wordPattern, r)
		if len(other) == 0 {
			continue
		}
		shorter := len(words)
		if len(other) < shorter {
			shorter = len(other)
		}
		if float64(overlap(words, other))/float64(shorter) >= minActionOverlap {
			return true
		}
	}
	return false
}

// supported reports whether at least 20% of the claim's 4+ letter terms
// appear in the evidence. A claim without such terms passes.
func supported(claim, evidence string) bool {
	terms := wordSet(termPattern, claim)
	if len(terms) == 0 {
		return true
	}
	return float64(overlap(terms, wordSet(termPattern, evidence)))/float64(len(terms)) >= minEvidenceOverlap
}

// citations finds framework-style references such as SOC2-CC6.1
func citations(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range citationPattern.FindAllString(text, -1) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

func knownFramework(citation string) bool {
	upper := strings.ToUpper(citation)
	for f := range frameworkSet {
		if upper == f || strings.HasPrefix(upper, f+"-") {
			return true
		}
	}
	return false
}

func wordSet(pattern *regexp.Regexp, text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range pattern.FindAllString(strings.ToLower(text), -1) {
		set[w] = true
	}
	return set
}

func overlap(a, b map[string]bool) int {
	n := 0
	for w := range a {
		if b[w] {
			n++
		}
	}
	return n
}

// truncate keeps the first n runes of s
func truncate(s string, n int) string {
	i := 0
	for count := 0; i < len(s); count++ {
		if count == n {
			return s[:i] + "..."
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s
}
