package enrichment

import (
	"time"

	"github.com/helixir/research-feed-service/internal/domain"
)

// Work is the bibliographic record Crossref returns for a DOI.
type Work struct {
	DOI       string
	Title     string
	Abstract  string
	Journal   string
	Publisher string
	Issued    *time.Time
	Authors   []domain.Author
}

// OpenAccess is the Unpaywall status of a DOI.
type OpenAccess struct {
	IsOA      bool
	BestOAURL string
}

// Result combines both lookups. Either part may be missing when its lookup
// failed; the caller keeps feed-derived values for those fields.
type Result struct {
	DOI        string      `json:"doi"`
	Work       *Work       `json:"work,omitempty"`
	OpenAccess *OpenAccess `json:"open_access,omitempty"`
	// CheckedAt is when the Crossref lookup succeeded.
	CheckedAt *time.Time `json:"checked_at,omitempty"`
}

// Complete reports whether both lookups succeeded.
func (r *Result) Complete() bool {
	return r != nil && r.Work != nil && r.OpenAccess != nil
}

// Access returns the open-access status, or unknown when Unpaywall failed.
func (r *Result) Access() domain.Access {
	if r == nil || r.OpenAccess == nil {
		return domain.AccessUnknown
	}
	return domain.AccessFromOA(r.OpenAccess.IsOA)
}

// crossrefResponse mirrors the subset of GET /works/{doi} that is read.
type crossrefResponse struct {
	Status  string `json:"status"`
	Message struct {
		DOI            string   `json:"DOI"`
		Title          []string `json:"title"`
		Abstract       string   `json:"abstract"`
		ContainerTitle []string `json:"container-title"`
		Publisher      string   `json:"publisher"`
		Issued         struct {
			DateParts [][]*int `json:"date-parts"`
		} `json:"issued"`
		Author []struct {
			Given  string `json:"given"`
			Family string `json:"family"`
			ORCID  string `json:"ORCID"`
		} `json:"author"`
	} `json:"message"`
}

// unpaywallResponse mirrors the subset of GET /v2/{doi} that is read.
type unpaywallResponse struct {
	DOI            string `json:"doi"`
	IsOA           bool   `json:"is_oa"`
	BestOALocation *struct {
		URL string `json:"url"`
	} `json:"best_oa_location"`
}
