package registry

import (
	"fmt"
	"regexp"
	"strings"
)

// domainPattern matches a single dweb label (spec.md §3 DomainRecord,
// §6): one or more lowercase alphanumeric/hyphen characters, neither
// leading nor trailing with a hyphen, followed by the ".dweb" suffix.
// A single-character label is accepted too.
var domainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?\.dweb$`)

// ErrInvalidDomain is returned by NormalizeDomain when the input does
// not match the dweb namespace's label grammar.
var ErrInvalidDomain = fmt.Errorf("registry: domain does not match required pattern")

// NormalizeDomain lowercases domain (matching is case-insensitive on
// input, but every stored record uses the lowercase form per §6) and
// validates it against the dweb label grammar.
func NormalizeDomain(domain string) (string, error) {
	lower := strings.ToLower(domain)
	if !domainPattern.MatchString(lower) {
		return "", ErrInvalidDomain
	}
	return lower, nil
}
