package search

import (
	"bytes"
	"sort"

	"github.com/grafana/regexp"

	"github.com/Internet-of-People/iop-profile-server/internal/identity"
)

// ProfileRecord is the minimal view of a hosted or neighbor-hosted
// identity the search query needs, decoupling this package from
// internal/store. Searchable must already reflect the
// version/cancelled/expiration exclusions spec.md §4.7 names.
type ProfileRecord struct {
	NetworkID  identity.NetworkID
	Name       string
	Type       string
	Location   Point
	ExtraData  string
	Searchable bool
}

// Query is the set of inputs spec.md §4.7 names for ProfileSearch.
type Query struct {
	Offset         int
	MaxResults     int
	TypeFilter     string
	NameFilter     string
	Center         *Point
	RadiusMeters   float64
	ExtraDataRegex string
}

// Run merges hosted and neighbor-hosted candidates, applies every filter
// in Query, orders deterministically by NetworkId ascending, and pages
// the result via Offset/MaxResults.
func Run(q Query, hosted, neighbor []ProfileRecord) ([]ProfileRecord, error) {
	var regexMatcher *regexp.Regexp
	if q.ExtraDataRegex != "" {
		re, err := CompileExtraDataRegex(q.ExtraDataRegex)
		if err != nil {
			return nil, err
		}
		regexMatcher = re
	}

	var matched []ProfileRecord
	for _, candidates := range [][]ProfileRecord{hosted, neighbor} {
		for _, p := range candidates {
			ok, err := matches(q, p, regexMatcher)
			if err != nil {
				return nil, err
			}
			if ok {
				matched = append(matched, p)
			}
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return bytes.Compare(matched[i].NetworkID[:], matched[j].NetworkID[:]) < 0
	})

	return page(matched, q.Offset, q.MaxResults), nil
}

func matches(q Query, p ProfileRecord, regexMatcher *regexp.Regexp) (bool, error) {
	if !p.Searchable {
		return false, nil
	}

	if ok, err := MatchWildcard(q.TypeFilter, p.Type); err != nil || !ok {
		return false, err
	}
	if ok, err := MatchWildcard(q.NameFilter, p.Name); err != nil || !ok {
		return false, err
	}
	if q.Center != nil && !WithinRadius(*q.Center, q.RadiusMeters, p.Location) {
		return false, nil
	}
	if regexMatcher != nil {
		ok, err := MatchExtraData(regexMatcher, p.ExtraData)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func page(records []ProfileRecord, offset, maxResults int) []ProfileRecord {
	if offset >= len(records) {
		return nil
	}
	end := len(records)
	if maxResults >= 0 && offset+maxResults < end {
		end = offset + maxResults
	}
	return records[offset:end]
}
