package inbox

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// RuleSet is the on-disk rule table
type RuleSet struct {
	Provider          string   `yaml:"provider"`
	MaliciousReset    []string `yaml:"malicious_reset"`
	ForcedReset       []string `yaml:"forced_reset"`
	ResetLinkDelivery []string `yaml:"reset_link_delivery"`
	ResetLink         []string `yaml:"reset_link"`
}

// Rules is a compiled RuleSet
type Rules struct {
	Provider          string
	MaliciousReset    []*regexp.Regexp
	ForcedReset       []*regexp.Regexp
	ResetLinkDelivery []*regexp.Regexp
	ResetLink         []*regexp.Regexp
}

// DefaultRules returns the embedded rule table
func DefaultRules() (*Rules, error) {
	return ParseRules(defaultRules)
}

// LoadRules reads a rule table from path, or the embedded one when path is empty
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules compiles a YAML rule table
func ParseRules(data []byte) (*Rules, error) {
	var set RuleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	return set.Compile()
}

// Compile validates and compiles every pattern
func (s RuleSet) Compile() (*Rules, error) {
	r := &Rules{Provider: s.Provider}
	groups := []struct {
		name string
		src  []string
		dst  *[]*regexp.Regexp
	}{
		{"malicious_reset", s.MaliciousReset, &r.MaliciousReset},
		{"forced_reset", s.ForcedReset, &r.ForcedReset},
		{"reset_link_delivery", s.ResetLinkDelivery, &r.ResetLinkDelivery},
		{"reset_link", s.ResetLink, &r.ResetLink},
	}
	for _, g := range groups {
		if len(g.src) == 0 {
			return nil, fmt.Errorf("rules: %s has no patterns", g.name)
		}
		for i, pattern := range g.src {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("rules: %s[%d]: %w", g.name, i, err)
			}
			*g.dst = append(*g.dst, re)
		}
	}
	return r, nil
}

func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
