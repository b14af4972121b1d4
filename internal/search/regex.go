package search

import (
	"time"

	"github.com/grafana/regexp"
	"github.com/pkg/errors"
)

// RegexBudget is the fixed CPU budget spec.md §7 gives a user-supplied
// extra-data filter; exceeding it yields ErrorInvalidValue with no
// post-filter applied, not a hang.
const RegexBudget = 200 * time.Millisecond

// ErrRegexTimeout is returned when a match did not complete within
// RegexBudget.
var ErrRegexTimeout = errors.New("search: extra_data_regex exceeded its CPU budget")

// CompileExtraDataRegex compiles a user-supplied pattern. grafana/regexp
// is RE2-based like the stdlib regexp package it mirrors, so catastrophic
// backtracking is already structurally impossible; the goroutine+deadline
// wrapper in MatchExtraData still bounds a single match's wall-clock cost
// against a pathologically large input, per spec.md §7's fatal-timeout
// policy.
func CompileExtraDataRegex(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "search: invalid extra_data_regex %q", pattern)
	}
	return re, nil
}

// MatchExtraData runs re against data, aborting with ErrRegexTimeout if
// the match does not complete within RegexBudget.
func MatchExtraData(re *regexp.Regexp, data string) (bool, error) {
	result := make(chan bool, 1)
	go func() {
		result <- re.MatchString(data)
	}()

	select {
	case matched := <-result:
		return matched, nil
	case <-time.After(RegexBudget):
		return false, ErrRegexTimeout
	}
}
