package ingest

import (
	"strings"
	"time"
	_ "time/tzdata" // America/New_York must resolve on minimal images

	"github.com/araddon/dateparse"
)

var newYork = mustLoad("America/New_York")

// Abbreviations some US publishers use in RSS dates. Go's parser would give
// them a zero offset, so they are resolved to a real zone instead.
var zoneAbbreviations = map[string]*time.Location{
	"EDT": newYork,
	"EST": newYork,
}

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// ParseDate parses a feed date in any of the formats feeds use and returns it
// in UTC. Dates without a zone are taken as UTC.
func ParseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	loc := time.UTC
	if i := strings.LastIndexByte(s, ' '); i > 0 {
		if zone, ok := zoneAbbreviations[strings.ToUpper(s[i+1:])]; ok {
			s = strings.TrimSpace(s[:i])
			loc = zone
		}
	}

	t, err := dateparse.ParseIn(s, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// FirstDate returns the first candidate that parses, or nil.
func FirstDate(candidates []string) *time.Time {
	for _, raw := range candidates {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if t, err := ParseDate(raw); err == nil {
			return &t
		}
	}
	return nil
}
