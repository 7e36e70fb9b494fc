package types

import "strings"

// Domain classifies the business area an event belongs to
type Domain string

const (
	DomainSecurity       Domain = "Security"
	DomainCompliance     Domain = "Compliance"
	DomainFinancial      Domain = "Financial"
	DomainInfrastructure Domain = "Infrastructure"
	DomainUnknown        Domain = "Unknown"
)

var knownDomains = []Domain{
	DomainSecurity,
	DomainCompliance,
	DomainFinancial,
	DomainInfrastructure,
	DomainUnknown,
}

// Keyword sets for domain inference, checked in this order
var domainKeywords = []struct {
	domain   Domain
	keywords []string
}{
	{DomainSecurity, []string{"access", "auth", "login", "ssh"}},
	{DomainFinancial, []string{"financial", "billing", "transaction", "cost"}},
	{DomainInfrastructure, []string{"metric", "cpu", "memory", "disk"}},
	{DomainCompliance, []string{"policy", "compliance", "audit"}},
}

// ParseDomain matches a domain name case-insensitively
func ParseDomain(raw string) (Domain, bool) {
	needle := strings.TrimSpace(raw)
	for _, d := range knownDomains {
		if strings.EqualFold(string(d), needle) {
			return d, true
		}
	}
	return DomainUnknown, false
}

// NormalizeDomain maps any string onto a Domain. Unrecognized values become
// Unknown.
func NormalizeDomain(raw string) Domain {
	d, _ := ParseDomain(raw)
	return d
}

// InferDomain guesses the domain from event type substrings
func InferDomain(eventType string) Domain {
	lowered := strings.ToLower(eventType)
	for _, group := range domainKeywords {
		if ContainsAny(lowered, group.keywords...) {
			return group.domain
		}
	}
	return DomainUnknown
}

// ContainsAny reports whether s contains any of the substrings
func ContainsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
