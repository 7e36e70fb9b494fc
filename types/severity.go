package types

import (
	"fmt"
	"strings"
)

// Severity is the ordered severity scale: Low < Medium < High < Critical.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// Weights used for risk scoring (risk = weight * confidence)
var severityWeights = map[Severity]float64{
	SeverityCritical: 1.0,
	SeverityHigh:     0.8,
	SeverityMedium:   0.5,
	SeverityLow:      0.2,
}

// String returns the canonical name of the severity
func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// Valid reports whether s is one of the four defined levels
func (s Severity) Valid() bool {
	_, ok := severityNames[s]
	return ok
}

// Weight returns the risk weight for the severity. Invalid values weigh as Low.
func (s Severity) Weight() float64 {
	if w, ok := severityWeights[s]; ok {
		return w
	}
	return severityWeights[SeverityLow]
}

// AtLeast reports whether s ranks at or above other
func (s Severity) AtLeast(other Severity) bool {
	return s >= other
}

// ParseSeverity matches a severity name case-insensitively
func ParseSeverity(raw string) (Severity, bool) {
	needle := strings.TrimSpace(raw)
	for sev, name := range severityNames {
		if strings.EqualFold(name, needle) {
			return sev, true
		}
	}
	return 0, false
}

// NormalizeSeverity maps any string onto the scale. Unknown or empty values
// become Medium.
func NormalizeSeverity(raw string) Severity {
	if sev, ok := ParseSeverity(raw); ok {
		return sev
	}
	return SeverityMedium
}

// MarshalText encodes the severity by name
func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name, normalizing unknown names to Medium
func (s *Severity) UnmarshalText(text []byte) error {
	*s = NormalizeSeverity(string(text))
	return nil
}

// AllSeverities returns the scale from lowest to highest
func AllSeverities() []Severity {
	return []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}
