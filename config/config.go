// Package config loads the knowledge catalog: reference policies and
// approved remediations per domain, plus custom compliance rules.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/vigil/policy"
	"github.com/yairfalse/vigil/types"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// PolicyRef is a reference policy given to the model as context
type PolicyRef struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Frameworks  []string `yaml:"frameworks" json:"frameworks"`
	Remediation string   `yaml:"remediation" json:"remediation"`
}

// Rule is a custom compliance rule compiled into a policy
type Rule struct {
	ID               string          `yaml:"id"`
	Name             string          `yaml:"name"`
	Description      string          `yaml:"description"`
	Severity         string          `yaml:"severity"`
	Confidence       float64         `yaml:"confidence"`
	Frameworks       []string        `yaml:"frameworks"`
	Remediation      string          `yaml:"remediation"`
	Field            string          `yaml:"field"`
	Operator         policy.Operator `yaml:"operator"`
	Value            any             `yaml:"value,omitempty"`
	AppliesToDomains []string        `yaml:"applies_to_domains,omitempty"`
}

// Catalog is the knowledge catalog
type Catalog struct {
	Version  string                 `yaml:"version"`
	Policies map[string][]PolicyRef `yaml:"policies"`
	Rules    []Rule                 `yaml:"rules,omitempty"`
}

// LoadCatalog loads a catalog from file
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses and validates catalog YAML
func ParseCatalog(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return &cat, nil
}

// DefaultCatalog returns the embedded catalog
func DefaultCatalog() *Catalog {
	cat, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return cat
}

// Validate ensures the catalog is usable
func (c *Catalog) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}

	for key, refs := range c.Policies {
		if _, ok := types.ParseDomain(key); !ok {
			return fmt.Errorf("unknown policy domain %q", key)
		}
		for i, ref := range refs {
			if ref.ID == "" || ref.Name == "" {
				return fmt.Errorf("policies.%s[%d]: id and name are required", key, i)
			}
		}
	}

	seen := make(map[string]bool, len(c.Rules))
	for _, r := range c.Rules {
		if r.ID == "" {
			return fmt.Errorf("rule id is required")
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate rule id %s", r.ID)
		}
		seen[r.ID] = true
		if r.Confidence < 0 || r.Confidence > 1 {
			return fmt.Errorf("rule %s: confidence must be within [0,1]", r.ID)
		}
		for _, d := range r.AppliesToDomains {
			if _, ok := types.ParseDomain(d); !ok {
				return fmt.Errorf("rule %s: unknown domain %q", r.ID, d)
			}
		}
		if _, err := r.condition().Compile(); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
	}
	return nil
}

// PoliciesFor returns the reference policies for domain. Compliance policies
// are always included.
func (c *Catalog) PoliciesFor(domain types.Domain) []PolicyRef {
	var out []PolicyRef
	out = append(out, c.lookup(domain)...)
	if domain != types.DomainCompliance {
		out = append(out, c.lookup(types.DomainCompliance)...)
	}
	return out
}

// RemediationsFor returns the approved remediations for domain
func (c *Catalog) RemediationsFor(domain types.Domain) []string {
	var out []string
	for _, p := range c.PoliciesFor(domain) {
		if p.Remediation != "" {
			out = append(out, p.Remediation)
		}
	}
	return out
}

func (c *Catalog) lookup(domain types.Domain) []PolicyRef {
	for key, refs := range c.Policies {
		if types.NormalizeDomain(key) == domain {
			return refs
		}
	}
	return nil
}

// CompiledRules turns the custom rules into policies for the policy engine
func (c *Catalog) CompiledRules() ([]policy.Policy, error) {
	out := make([]policy.Policy, 0, len(c.Rules))
	for _, r := range c.Rules {
		body, err := r.condition().Compile()
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}

		confidence := r.Confidence
		if confidence == 0 {
			confidence = 0.8
		}

		p := policy.Policy{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			Severity:    types.NormalizeSeverity(r.Severity),
			Confidence:  confidence,
			Frameworks:  r.Frameworks,
			Remediation: r.Remediation,
			Rego:        body,
			Custom:      true,
		}
		for _, d := range r.AppliesToDomains {
			p.Domains = append(p.Domains, types.NormalizeDomain(d))
		}
		out = append(out, p)
	}
	return out, nil
}

func (r Rule) condition() policy.Condition {
	return policy.Condition{Field: r.Field, Operator: r.Operator, Value: r.Value}
}
