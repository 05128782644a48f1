// Package refdata holds the static lookup tables the attribution and
// analytics code read: postal codes, neighborhoods, the owned domain
// portfolio and the referrer blocklists.
package refdata

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSearchEngines are host tokens of search engines and AI assistants
// whose referrals count as search intent.
var DefaultSearchEngines = []string{
	"google", "bing", "duckduckgo", "yahoo", "baidu", "yandex", "ecosia",
	"search.brave", "perplexity", "chatgpt", "openai", "you.com",
}

// Funnel is a tracked form page. Steps lists the labels recorded on
// form_step events, in order.
type Funnel struct {
	Page  string   `yaml:"page"`
	Name  string   `yaml:"name"`
	Steps []string `yaml:"steps"`
}

// Reference is read-only once loaded. Replace it wholesale to change it.
type Reference struct {
	Neighborhoods       map[string]string   `yaml:"neighborhoods"`
	NeighborhoodDomains map[string][]string `yaml:"neighborhood_domains"`
	GenericDomains      []string            `yaml:"generic_domains"`
	SpamReferrers       []string            `yaml:"spam_referrers"`
	OwnedDomains        []string            `yaml:"owned_domains"`
	SearchEngines       []string            `yaml:"search_engines"`
	Funnels             []Funnel            `yaml:"funnels"`
}

// Parse decodes YAML reference data and fills defaults.
func Parse(data []byte) (*Reference, error) {
	var ref Reference
	if err := yaml.Unmarshal(data, &ref); err != nil {
		return nil, err
	}
	if err := ref.normalize(); err != nil {
		return nil, err
	}
	return &ref, nil
}

// ReadFile loads reference data from a YAML file.
func ReadFile(path string) (*Reference, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read refdata %s: %w", path, err)
	}
	ref, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse refdata %s: %w", path, err)
	}
	return ref, nil
}

func (r *Reference) normalize() error {
	if r.Neighborhoods == nil {
		r.Neighborhoods = map[string]string{}
	}
	if r.NeighborhoodDomains == nil {
		r.NeighborhoodDomains = map[string][]string{}
	}
	for zip := range r.Neighborhoods {
		if len(zip) != 5 || strings.Trim(zip, "0123456789") != "" {
			return fmt.Errorf("postal code %q must be 5 digits", zip)
		}
	}
	for name, domains := range r.NeighborhoodDomains {
		r.NeighborhoodDomains[name] = lowerAll(domains)
	}
	r.GenericDomains = lowerAll(r.GenericDomains)
	r.OwnedDomains = lowerAll(r.OwnedDomains)
	r.SpamReferrers = lowerAll(r.SpamReferrers)
	if len(r.SearchEngines) == 0 {
		r.SearchEngines = DefaultSearchEngines
	}
	r.SearchEngines = lowerAll(r.SearchEngines)
	return nil
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// AllDomains returns every domain the business owns, neighborhood and
// generic alike, plus the extra owned_domains entries. Order is unspecified.
func (r *Reference) AllDomains() []string {
	seen := map[string]bool{}
	var out []string
	add := func(d string) {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	for _, domains := range r.NeighborhoodDomains {
		for _, d := range domains {
			add(d)
		}
	}
	for _, d := range r.GenericDomains {
		add(d)
	}
	for _, d := range r.OwnedDomains {
		add(d)
	}
	return out
}
