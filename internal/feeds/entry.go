package feeds

import (
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

// Entry is one raw feed item with the fields processors read. Values are
// taken verbatim from the document; nothing is cleaned or normalized here.
type Entry struct {
	Title       string
	Link        string
	GUID        string
	Description string
	Content     string

	// Published and Updated are the raw date strings.
	Published string
	Updated   string

	// DCIdentifiers and DCDate come from the Dublin Core namespace. Items
	// may repeat dc:identifier (PubMed sends pmid: then doi:), so every
	// non-empty value is kept in document order.
	DCIdentifiers []string
	DCDate        string

	// Prism* come from the PRISM namespace publishers use for journal metadata.
	PrismDOI             string
	PrismCoverDate       string
	PrismPublicationDate string
}

// Feed is a parsed feed document.
type Feed struct {
	Title    string
	Link     string
	FeedType string
	Entries  []Entry
}

// Summary returns the description, falling back to the content.
func (e Entry) Summary() string {
	if strings.TrimSpace(e.Description) != "" {
		return e.Description
	}
	return e.Content
}

// DateCandidates returns the raw date fields in preference order:
// published, prism cover date, updated, dc date, prism publication date.
func (e Entry) DateCandidates() []string {
	return []string{e.Published, e.PrismCoverDate, e.Updated, e.DCDate, e.PrismPublicationDate}
}

// EntryFromItem converts a gofeed item.
func EntryFromItem(item *gofeed.Item) Entry {
	entry := Entry{
		Title:       item.Title,
		Link:        item.Link,
		GUID:        item.GUID,
		Description: item.Description,
		Content:     item.Content,
		Published:   item.Published,
		Updated:     item.Updated,
	}
	if entry.Link == "" && len(item.Links) > 0 {
		entry.Link = item.Links[0]
	}

	if dc := item.DublinCoreExt; dc != nil {
		entry.DCIdentifiers = nonEmpty(dc.Identifier)
		entry.DCDate = first(dc.Date)
	}
	if len(entry.DCIdentifiers) == 0 {
		entry.DCIdentifiers = extensionValues(item.Extensions, "dc", "identifier")
	}
	if entry.DCDate == "" {
		entry.DCDate = extensionValue(item.Extensions, "dc", "date")
	}

	entry.PrismDOI = extensionValue(item.Extensions, "prism", "doi")
	entry.PrismCoverDate = extensionValue(item.Extensions, "prism", "coverDate")
	entry.PrismPublicationDate = extensionValue(item.Extensions, "prism", "publicationDate")

	// Fall back to the parsed dates when gofeed kept no raw string.
	if entry.Published == "" && item.PublishedParsed != nil {
		entry.Published = item.PublishedParsed.UTC().Format(time.RFC3339)
	}
	if entry.Updated == "" && item.UpdatedParsed != nil {
		entry.Updated = item.UpdatedParsed.UTC().Format(time.RFC3339)
	}
	return entry
}

// FeedFrom converts a gofeed feed.
func FeedFrom(parsed *gofeed.Feed) *Feed {
	feed := &Feed{
		Title:    parsed.Title,
		Link:     parsed.Link,
		FeedType: parsed.FeedType,
		Entries:  make([]Entry, 0, len(parsed.Items)),
	}
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		feed.Entries = append(feed.Entries, EntryFromItem(item))
	}
	return feed
}

func extensionValue(exts ext.Extensions, prefix, name string) string {
	return first(extensionValues(exts, prefix, name))
}

func extensionValues(exts ext.Extensions, prefix, name string) []string {
	if exts == nil {
		return nil
	}
	byName, ok := exts[prefix]
	if !ok {
		return nil
	}
	var values []string
	for _, e := range byName[name] {
		if v := strings.TrimSpace(e.Value); v != "" {
			values = append(values, v)
		}
	}
	return values
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func first(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
