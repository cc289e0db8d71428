package processors

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"golang.org/x/net/html"

	"github.com/helixir/research-feed-service/internal/domain"
)

var countryDateSplit = regexp.MustCompile(`[;,]`)

// ParseCTISDetails reads the labelled fields of a CTIS summary. It returns
// nil when the summary has no recognised label.
func ParseCTISDetails(summary string) *domain.TrialDetails {
	if !strings.Contains(summary, "<b>") && !strings.Contains(summary, "<B>") {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(summary))
	if err != nil {
		return nil
	}

	fields := make(map[string]string)
	doc.Find("b, strong").Each(func(_ int, s *goquery.Selection) {
		label := strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s.Text()), ":")))
		if label == "" {
			return
		}
		if _, seen := fields[label]; seen {
			return
		}
		fields[label] = cleanValue(followingText(s.Nodes[0]))
	})
	if len(fields) == 0 {
		return nil
	}

	d := &domain.TrialDetails{
		TrialNumber:      fields["trial number"],
		TherapeuticAreas: fields["therapeutic areas"],
		CountryStatus:    fields["status in each country"],
		TrialRegion:      fields["trial region"],
		ResultsPosted:    strings.EqualFold(fields["results posted"], "yes"),
		Condition:        fields["medical conditions"],
		OverallStatus:    fields["overall trial status"],
		PrimaryOutcome:   fields["primary end point"],
		SecondaryOutcome: fields["secondary end point"],
		Sponsor:          fields["sponsor"],
		SponsorType:      fields["sponsor type"],
	}
	if raw := fields["overall decision date"]; raw != "" {
		d.OverallDecisionDate = isoDateOr(raw)
	}
	if raw := fields["countries decision date"]; raw != "" {
		d.CountriesDecisionDate = parseCountryDates(raw)
	}
	return d
}

// followingText concatenates the text siblings after n up to the next
// element that starts a new field.
func followingText(n *html.Node) string {
	var b strings.Builder
	for sib := n.NextSibling; sib != nil; sib = sib.NextSibling {
		if sib.Type == html.ElementNode {
			if sib.Data == "br" || sib.Data == "b" || sib.Data == "strong" {
				break
			}
			b.WriteString(goquery.NewDocumentFromNode(sib).Text())
			continue
		}
		if sib.Type == html.TextNode {
			b.WriteString(sib.Data)
		}
	}
	return b.String()
}

// parseCountryDates reads "FR:2024-01-02; DE:2024-02-03" pairs. Dates that
// do not parse are kept as written.
func parseCountryDates(raw string) map[string]string {
	out := make(map[string]string)
	for _, chunk := range countryDateSplit.Split(raw, -1) {
		country, date, ok := strings.Cut(strings.TrimSpace(chunk), ":")
		if !ok {
			continue
		}
		country = strings.TrimSpace(country)
		date = strings.TrimSpace(date)
		if country == "" || date == "" || strings.Contains(date, ":") {
			continue
		}
		out[country] = isoDateOr(date)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isoDateOr(raw string) string {
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return raw
	}
	return t.Format(time.DateOnly)
}
