package processors

import (
	"sync"

	"github.com/helixir/research-feed-service/internal/domain"
)

// Registry selects a processor for a feed URL. Processors are tried in
// registration order; the fallback is used when none matches.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	processors []Processor
	fallback   Processor
}

// NewRegistry creates a registry with the given fallback processor.
func NewRegistry(fallback Processor) *Registry {
	return &Registry{fallback: fallback}
}

// Register appends p to the ordered list.
func (r *Registry) Register(p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors = append(r.processors, p)
}

// Select returns the first registered processor whose CanProcess matches
// feedURL, or the fallback.
func (r *Registry) Select(feedURL string) Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.processors {
		if p.CanProcess(feedURL) {
			return p
		}
	}
	return r.fallback
}

// Processors returns a snapshot of the registered processors followed by
// the fallback.
func (r *Registry) Processors() []Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Processor, 0, len(r.processors)+1)
	out = append(out, r.processors...)
	return append(out, r.fallback)
}

// DefaultArticleRegistry returns the article processors in matching order.
func DefaultArticleRegistry() *Registry {
	r := NewRegistry(NewDefaultArticle())
	r.Register(NewPubMed())
	r.Register(NewFASEB())
	r.Register(NewPreprint())
	r.Register(NewPNAS())
	r.Register(NewNature())
	r.Register(NewSAGE())
	r.Register(NewSpringer())
	return r
}

// DefaultTrialRegistry returns the trial processors in matching order.
func DefaultTrialRegistry() *Registry {
	r := NewRegistry(NewDefaultTrial())
	r.Register(NewClinicalTrialsGov())
	r.Register(NewEURegister())
	r.Register(NewCTIS())
	return r
}

// Registries maps each entity kind to its registry.
type Registries map[domain.EntityKind]*Registry

// DefaultRegistries returns the built-in article and trial registries.
func DefaultRegistries() Registries {
	return Registries{
		domain.KindArticle: DefaultArticleRegistry(),
		domain.KindTrial:   DefaultTrialRegistry(),
	}
}

// Select returns the processor for src, or nil when its kind has no registry.
func (rs Registries) Select(src domain.Source) Processor {
	r, ok := rs[src.Kind]
	if !ok {
		return nil
	}
	return r.Select(src.FeedURL)
}
