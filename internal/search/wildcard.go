// Package search implements C7: the locality/wildcard profile query
// that runs against both hosted and neighbor-hosted identities.
package search

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"
)

// MatchWildcard implements spec.md §4.7's narrow wildcard grammar:
// "*" or "**" match everything (the filter is ignored); "*X" is
// ends-with; "X*" is starts-with; "*X*" is contains; anything else is
// exact equality. Matching is case-insensitive. Only a leading and a
// trailing '*' act as wildcards: X is quoted with glob.QuoteMeta before
// gobwas/glob compiles the pattern, so any other glob metacharacter in
// the filter matches literally. The empty/"*" short-circuit exists
// because "*" alone carries the explicit "ignored" meaning spec.md calls
// out rather than merely "matches everything" as a side effect of the
// glob grammar.
func MatchWildcard(filter, value string) (bool, error) {
	filter = strings.ToLower(filter)
	if filter == "" || filter == "*" || filter == "**" {
		return true, nil
	}
	prefix, core, suffix := "", filter, ""
	if strings.HasPrefix(core, "*") {
		prefix, core = "*", core[1:]
	}
	if strings.HasSuffix(core, "*") {
		suffix, core = "*", core[:len(core)-1]
	}
	g, err := glob.Compile(prefix + glob.QuoteMeta(core) + suffix)
	if err != nil {
		return false, errors.Wrapf(err, "search: invalid wildcard filter %q", filter)
	}
	return g.Match(strings.ToLower(value)), nil
}
