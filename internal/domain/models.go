// Package domain provides the domain model of the research feed ingestion service.
package domain

import (
	"sort"
)

// EntityKind is the kind of canonical entity a source produces.
// These values must match the database enum entity_kind.
type EntityKind string

const (
	KindArticle EntityKind = "article"
	KindTrial   EntityKind = "trial"
)

// String returns the string representation of the kind.
func (k EntityKind) String() string {
	return string(k)
}

// IsValid reports whether k is a known kind.
func (k EntityKind) IsValid() bool {
	return k == KindArticle || k == KindTrial
}

// FetchMethod is how a source is retrieved. Only RSS sources are ingested by
// the feed pipeline.
type FetchMethod string

const (
	MethodRSS    FetchMethod = "rss"
	MethodScrape FetchMethod = "scrape"
)

// Access is the open-access status of an article.
// These values must match the database enum access_status.
type Access string

const (
	AccessOpen       Access = "open"
	AccessRestricted Access = "restricted"
	AccessUnknown    Access = "unknown"
)

// AccessFromOA maps an open-access flag to an Access value.
func AccessFromOA(isOA bool) Access {
	if isOA {
		return AccessOpen
	}
	return AccessRestricted
}

// IsKnown reports whether the access status carries information.
func (a Access) IsKnown() bool {
	return a == AccessOpen || a == AccessRestricted
}

// TrialIDKind names a clinical-trial registry identifier scheme.
type TrialIDKind string

const (
	TrialIDNCT     TrialIDKind = "nct"
	TrialIDEudraCT TrialIDKind = "eudract"
	TrialIDEUCT    TrialIDKind = "euct"
)

// TrialIDKinds lists identifier kinds in resolution order.
var TrialIDKinds = []TrialIDKind{TrialIDNCT, TrialIDEudraCT, TrialIDEUCT}

// TrialIdentifiers maps identifier kinds to values. Absent kinds have no
// entry; an empty string is never stored.
type TrialIdentifiers map[TrialIDKind]string

// Get returns the identifier of the given kind, or "".
func (t TrialIdentifiers) Get(kind TrialIDKind) string {
	if t == nil {
		return ""
	}
	return t[kind]
}

// Set stores a non-empty identifier value.
func (t TrialIdentifiers) Set(kind TrialIDKind, value string) {
	if value == "" {
		return
	}
	t[kind] = value
}

// IsEmpty reports whether no identifier is populated.
func (t TrialIdentifiers) IsEmpty() bool {
	for _, v := range t {
		if v != "" {
			return false
		}
	}
	return true
}

// Merge returns a copy of t with every identifier of other whose kind t does
// not already carry, and the kinds that were added. Existing values are
// never overwritten.
func (t TrialIdentifiers) Merge(other TrialIdentifiers) (TrialIdentifiers, []TrialIDKind) {
	merged := make(TrialIdentifiers, len(t)+len(other))
	for k, v := range t {
		merged.Set(k, v)
	}
	var added []TrialIDKind
	for _, k := range TrialIDKinds {
		v := other.Get(k)
		if v == "" || merged.Get(k) != "" {
			continue
		}
		merged[k] = v
		added = append(added, k)
	}
	return merged, added
}

// ConflictsWith reports whether some kind is populated in both t and other
// with different values.
func (t TrialIdentifiers) ConflictsWith(other TrialIdentifiers) bool {
	for _, k := range TrialIDKinds {
		a, b := t.Get(k), other.Get(k)
		if a != "" && b != "" && a != b {
			return true
		}
	}
	return false
}

// Kinds returns the populated kinds in sorted order.
func (t TrialIdentifiers) Kinds() []string {
	kinds := make([]string, 0, len(t))
	for k, v := range t {
		if v != "" {
			kinds = append(kinds, string(k))
		}
	}
	sort.Strings(kinds)
	return kinds
}
