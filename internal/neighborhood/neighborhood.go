// Package neighborhood maps free-text addresses onto the marketing domains
// the business owns for that part of town.
package neighborhood

import (
	"net"
	"regexp"
	"strings"

	"github.com/scmmishra/leadtrace/internal/refdata"
)

var (
	postalCodeRe = regexp.MustCompile(`\b(\d{5})\b`)
	// A postal code closing the address, optionally followed by a ZIP+4
	// suffix, a country and trailing punctuation.
	trailingPostalRe = regexp.MustCompile(`(?i)\b(\d{5})(?:-\d{4})?(?:[\s,]*(?:usa|us|united states))?[\s.,;]*$`)
)

// ExtractPostalCode returns the 5-digit postal code in address, or "".
func ExtractPostalCode(address string) string {
	if m := trailingPostalRe.FindStringSubmatch(address); m != nil {
		return m[1]
	}
	if m := postalCodeRe.FindStringSubmatch(address); m != nil {
		return m[1]
	}
	return ""
}

// NormalizeDomain reduces a hostname to the form used for comparisons:
// lowercase, no port, no trailing dot and no www. prefix.
func NormalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	if h, _, err := net.SplitHostPort(d); err == nil {
		d = h
	}
	d = strings.TrimSuffix(d, ".")
	return strings.TrimPrefix(d, "www.")
}

// DomainSet is the set of domains an address can be attributed to.
// Generic domains are kept apart so callers can limit them to CTA matches.
type DomainSet struct {
	Local   map[string]bool
	Generic map[string]bool
}

func (s DomainSet) Empty() bool {
	return len(s.Local) == 0 && len(s.Generic) == 0
}

// Contains reports whether domain is in the set, www. or not.
func (s DomainSet) Contains(domain string) bool {
	d := NormalizeDomain(domain)
	return s.Local[d] || s.Generic[d]
}

// IsLocal reports whether domain belongs to the neighborhood itself.
func (s DomainSet) IsLocal(domain string) bool {
	return s.Local[NormalizeDomain(domain)]
}

// Hosts lists every domain in the set in both bare and www. form, for
// matching raw rows in the event store.
func (s DomainSet) Hosts() []string {
	out := make([]string, 0, 2*(len(s.Local)+len(s.Generic)))
	for _, m := range []map[string]bool{s.Local, s.Generic} {
		for d := range m {
			out = append(out, d, "www."+d)
		}
	}
	return out
}

type Resolver struct {
	ref *refdata.Reference
}

func NewResolver(ref *refdata.Reference) *Resolver {
	return &Resolver{ref: ref}
}

// Resolve finds the neighborhood for an address. ok is false when the
// address carries no postal code or the code is not mapped.
func (r *Resolver) Resolve(address string) (name string, ok bool) {
	zip := ExtractPostalCode(address)
	if zip == "" {
		return "", false
	}
	name, ok = r.ref.Neighborhoods[zip]
	return name, ok
}

// DomainsFor returns the neighborhood's own domains plus the generic ones
// it does not already own.
func (r *Resolver) DomainsFor(name string) DomainSet {
	set := DomainSet{Local: map[string]bool{}, Generic: map[string]bool{}}
	for _, d := range r.ref.NeighborhoodDomains[name] {
		set.Local[NormalizeDomain(d)] = true
	}
	for _, d := range r.ref.GenericDomains {
		d = NormalizeDomain(d)
		if !set.Local[d] {
			set.Generic[d] = true
		}
	}
	return set
}

// NeighborhoodOf is the reverse lookup: the neighborhood owning domain,
// or "" for generic and unknown domains.
func (r *Resolver) NeighborhoodOf(domain string) string {
	d := NormalizeDomain(domain)
	for name, domains := range r.ref.NeighborhoodDomains {
		for _, nd := range domains {
			if NormalizeDomain(nd) == d {
				return name
			}
		}
	}
	return ""
}
