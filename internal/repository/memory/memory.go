// Package memory is an in-process implementation of the repository
// interfaces. It enforces the same unique keys as the SQL schema (article
// DOI, each trial identifier, author ORCID or name) and gives InTx snapshot
// semantics: a failed transaction leaves no trace.
//
// It backs pipeline and upsert tests and the dry-run mode of the ingest
// command.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/research-feed-service/internal/domain"
	"github.com/helixir/research-feed-service/internal/identifiers"
	"github.com/helixir/research-feed-service/internal/repository"
)

var _ repository.TxRunner = (*Store)(nil)

type linkSet struct {
	sources  map[int64]bool
	teams    map[int64]bool
	subjects map[int64]bool
}

func newLinkSet() *linkSet {
	return &linkSet{sources: map[int64]bool{}, teams: map[int64]bool{}, subjects: map[int64]bool{}}
}

func (l *linkSet) add(links repository.Links) {
	if links.SourceID > 0 {
		l.sources[links.SourceID] = true
	}
	if links.TeamID > 0 {
		l.teams[links.TeamID] = true
	}
	if links.SubjectID > 0 {
		l.subjects[links.SubjectID] = true
	}
}

func (l *linkSet) clone() *linkSet {
	c := newLinkSet()
	for k := range l.sources {
		c.sources[k] = true
	}
	for k := range l.teams {
		c.teams[k] = true
	}
	for k := range l.subjects {
		c.subjects[k] = true
	}
	return c
}

type state struct {
	articles       []*domain.Article
	trials         []*domain.Trial
	authors        []*domain.Author
	articleLinks   map[uuid.UUID]*linkSet
	trialLinks     map[uuid.UUID]*linkSet
	articleAuthors map[uuid.UUID]map[int64]bool
	changes        []domain.ChangeRecord
	nextAuthorID   int64
	nextChangeID   int64
}

func newState() *state {
	return &state{
		articleLinks:   map[uuid.UUID]*linkSet{},
		trialLinks:     map[uuid.UUID]*linkSet{},
		articleAuthors: map[uuid.UUID]map[int64]bool{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for _, a := range s.articles {
		cp := *a
		c.articles = append(c.articles, &cp)
	}
	for _, t := range s.trials {
		c.trials = append(c.trials, cloneTrial(t))
	}
	for _, a := range s.authors {
		cp := *a
		c.authors = append(c.authors, &cp)
	}
	for id, l := range s.articleLinks {
		c.articleLinks[id] = l.clone()
	}
	for id, l := range s.trialLinks {
		c.trialLinks[id] = l.clone()
	}
	for id, set := range s.articleAuthors {
		m := make(map[int64]bool, len(set))
		for k := range set {
			m[k] = true
		}
		c.articleAuthors[id] = m
	}
	c.changes = append(c.changes, s.changes...)
	c.nextAuthorID = s.nextAuthorID
	c.nextChangeID = s.nextChangeID
	return c
}

func cloneTrial(t *domain.Trial) *domain.Trial {
	cp := *t
	cp.Identifiers = make(domain.TrialIdentifiers, len(t.Identifiers))
	for k, v := range t.Identifiers {
		cp.Identifiers[k] = v
	}
	if t.Details != nil {
		d := *t.Details
		cp.Details = &d
	}
	return &cp
}

// Store holds committed state. Transactions are serialized.
type Store struct {
	mu        sync.Mutex
	committed *state
	now       func() time.Time

	// racers are committed just before the next Create of their kind, as if
	// a concurrent run had won the insert.
	racers []racer
}

type racer struct {
	article *domain.Article
	trial   *domain.Trial
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{committed: newState(), now: time.Now}
}

// InTx implements repository.TxRunner.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, st: s.committed.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.committed = tx.st
	return nil
}

// CommitBeforeNextCreate makes the next article Create in any transaction
// first commit a, simulating a concurrent writer that wins the race.
func (s *Store) CommitBeforeNextCreate(a domain.Article) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.racers = append(s.racers, racer{article: &a})
}

// CommitBeforeNextTrialCreate is CommitBeforeNextCreate for trials.
func (s *Store) CommitBeforeNextTrialCreate(t domain.Trial) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.racers = append(s.racers, racer{trial: cloneTrial(&t)})
}

// takeRacer pops the first racer of the requested kind. Callers hold mu.
func (s *Store) takeRacer(kind domain.EntityKind) (racer, bool) {
	for i, r := range s.racers {
		if (kind == domain.KindArticle && r.article != nil) || (kind == domain.KindTrial && r.trial != nil) {
			s.racers = append(s.racers[:i], s.racers[i+1:]...)
			return r, true
		}
	}
	return racer{}, false
}

// Articles returns a copy of every committed article in creation order.
func (s *Store) Articles() []domain.Article {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Article, 0, len(s.committed.articles))
	for _, a := range s.committed.articles {
		out = append(out, *a)
	}
	return out
}

// Trials returns a copy of every committed trial in creation order.
func (s *Store) Trials() []domain.Trial {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Trial, 0, len(s.committed.trials))
	for _, t := range s.committed.trials {
		out = append(out, *cloneTrial(t))
	}
	return out
}

// SourceIDs returns the sorted source IDs linked to an entity.
func (s *Store) SourceIDs(kind domain.EntityKind, id uuid.UUID) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	links := s.committed.articleLinks
	if kind == domain.KindTrial {
		links = s.committed.trialLinks
	}
	l, ok := links[id]
	if !ok {
		return nil
	}
	return sortedKeys(l.sources)
}

// ArticleAuthors returns the authors linked to an article, ordered by ID.
func (s *Store) ArticleAuthors(id uuid.UUID) []domain.Author {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Author
	for _, authorID := range sortedKeys(s.committed.articleAuthors[id]) {
		for _, a := range s.committed.authors {
			if a.ID == authorID {
				out = append(out, *a)
			}
		}
	}
	return out
}

// ChangeRecords returns every committed change record in insertion order.
func (s *Store) ChangeRecords() []domain.ChangeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChangeRecord(nil), s.committed.changes...)
}

func sortedKeys(m map[int64]bool) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// memTx works on a private copy of the committed state.
type memTx struct {
	store *Store
	st    *state
}

func (t *memTx) Articles() repository.ArticleRepository           { return articleRepo{t} }
func (t *memTx) Trials() repository.TrialRepository               { return trialRepo{t} }
func (t *memTx) Authors() repository.AuthorRepository             { return authorRepo{t} }
func (t *memTx) ChangeRecords() repository.ChangeRecordRepository { return changeRepo{t} }

type articleRepo struct{ tx *memTx }

var _ repository.ArticleRepository = articleRepo{}

func (r articleRepo) find(id uuid.UUID) *domain.Article {
	for _, a := range r.tx.st.articles {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (r articleRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Article, error) {
	if a := r.find(id); a != nil {
		cp := *a
		return &cp, nil
	}
	return nil, domain.NewNotFoundError("article", id.String())
}

func (r articleRepo) FindByDOI(_ context.Context, doi string) (*domain.Article, error) {
	if doi == "" {
		return nil, domain.NewValidationError("doi", "DOI is required")
	}
	for _, a := range r.tx.st.articles {
		if strings.EqualFold(a.DOI, doi) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.NewNotFoundError("article", doi)
}

func (r articleRepo) FindByTitle(_ context.Context, title string) ([]*domain.Article, error) {
	if title == "" {
		return nil, nil
	}
	var out []*domain.Article
	for _, a := range r.tx.st.articles {
		if identifiers.TitleKey(a.Title) == identifiers.TitleKey(title) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r articleRepo) doiTaken(doi string, except uuid.UUID) bool {
	if doi == "" {
		return false
	}
	for _, a := range r.tx.st.articles {
		if a.ID != except && strings.EqualFold(a.DOI, doi) {
			return true
		}
	}
	return false
}

func (r articleRepo) insert(a *domain.Article) error {
	if r.doiTaken(a.DOI, a.ID) {
		return &domain.AlreadyExistsError{Entity: "article", ID: a.ID.String(), Constraint: "uq_articles_doi"}
	}
	cp := *a
	r.tx.st.articles = append(r.tx.st.articles, &cp)
	return nil
}

func (r articleRepo) Create(_ context.Context, article *domain.Article) error {
	if article == nil {
		return domain.NewValidationError("article", "article cannot be nil")
	}
	if article.Title == "" {
		return domain.NewValidationError("title", "title is required")
	}
	if rc, ok := r.tx.store.takeRacer(domain.KindArticle); ok {
		winner := *rc.article
		if winner.ID == uuid.Nil {
			winner.ID = uuid.New()
		}
		r.tx.store.committed.articles = append(r.tx.store.committed.articles, &winner)
		cp := winner
		r.tx.st.articles = append(r.tx.st.articles, &cp)
	}

	now := r.tx.store.now().UTC()
	if article.ID == uuid.Nil {
		article.ID = uuid.New()
	}
	if article.DiscoveryDate.IsZero() {
		article.DiscoveryDate = now
	}
	if article.Access == "" {
		article.Access = domain.AccessUnknown
	}
	article.CreatedAt, article.UpdatedAt = now, now
	return r.insert(article)
}

func (r articleRepo) Update(_ context.Context, id uuid.UUID, columns map[string]interface{}) error {
	if len(columns) == 0 {
		return nil
	}
	a := r.find(id)
	if a == nil {
		return domain.NewNotFoundError("article", id.String())
	}
	updated := *a
	for col, v := range columns {
		switch col {
		case repository.ArticleColumnTitle:
			updated.Title = v.(string)
		case repository.ArticleColumnSummary:
			updated.Summary = v.(string)
		case repository.ArticleColumnLink:
			updated.Link = v.(string)
		case repository.ArticleColumnDOI:
			updated.DOI = v.(string)
		case repository.ArticleColumnPublishedDate:
			updated.PublishedDate = v.(*time.Time)
		case repository.ArticleColumnPublisher:
			updated.Publisher = v.(string)
		case repository.ArticleColumnJournal:
			updated.Journal = v.(string)
		case repository.ArticleColumnAccess:
			updated.Access = v.(domain.Access)
		case repository.ArticleColumnCrossrefCheck:
			updated.CrossrefCheck = v.(*time.Time)
		default:
			return domain.NewValidationError(col, "column is not updatable")
		}
	}
	if r.doiTaken(updated.DOI, id) {
		return &domain.AlreadyExistsError{Entity: "article", ID: id.String(), Constraint: "uq_articles_doi"}
	}
	updated.UpdatedAt = r.tx.store.now().UTC()
	*a = updated
	return nil
}

func (r articleRepo) AddLinks(_ context.Context, id uuid.UUID, links repository.Links) error {
	if r.find(id) == nil {
		return domain.NewNotFoundError("article", id.String())
	}
	l, ok := r.tx.st.articleLinks[id]
	if !ok {
		l = newLinkSet()
		r.tx.st.articleLinks[id] = l
	}
	l.add(links)
	return nil
}

func (r articleRepo) AddAuthor(_ context.Context, id uuid.UUID, authorID int64) error {
	if r.find(id) == nil {
		return domain.NewNotFoundError("article", id.String())
	}
	set, ok := r.tx.st.articleAuthors[id]
	if !ok {
		set = map[int64]bool{}
		r.tx.st.articleAuthors[id] = set
	}
	set[authorID] = true
	return nil
}

type trialRepo struct{ tx *memTx }

var _ repository.TrialRepository = trialRepo{}

func (r trialRepo) find(id uuid.UUID) *domain.Trial {
	for _, t := range r.tx.st.trials {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (r trialRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Trial, error) {
	if t := r.find(id); t != nil {
		return cloneTrial(t), nil
	}
	return nil, domain.NewNotFoundError("trial", id.String())
}

func (r trialRepo) FindByIdentifier(_ context.Context, kind domain.TrialIDKind, value string) (*domain.Trial, error) {
	if value == "" {
		return nil, domain.NewValidationError(string(kind), "identifier is required")
	}
	for _, t := range r.tx.st.trials {
		if t.Identifiers.Get(kind) == value {
			return cloneTrial(t), nil
		}
	}
	return nil, domain.NewNotFoundError("trial", value)
}

func (r trialRepo) FindByTitle(_ context.Context, title string) ([]*domain.Trial, error) {
	if title == "" {
		return nil, nil
	}
	var out []*domain.Trial
	for _, t := range r.tx.st.trials {
		if identifiers.TitleKey(t.Title) == identifiers.TitleKey(title) {
			out = append(out, cloneTrial(t))
		}
	}
	return out, nil
}

// identifierTaken returns the index name of the first identifier of ids
// held by a trial other than except.
func (r trialRepo) identifierTaken(ids domain.TrialIdentifiers, except uuid.UUID) string {
	for _, kind := range domain.TrialIDKinds {
		v := ids.Get(kind)
		if v == "" {
			continue
		}
		for _, t := range r.tx.st.trials {
			if t.ID != except && t.Identifiers.Get(kind) == v {
				return "uq_trials_" + string(kind)
			}
		}
	}
	return ""
}

func (r trialRepo) Create(_ context.Context, trial *domain.Trial) error {
	if trial == nil {
		return domain.NewValidationError("trial", "trial cannot be nil")
	}
	if trial.Title == "" {
		return domain.NewValidationError("title", "title is required")
	}
	if rc, ok := r.tx.store.takeRacer(domain.KindTrial); ok {
		winner := rc.trial
		if winner.ID == uuid.Nil {
			winner.ID = uuid.New()
		}
		r.tx.store.committed.trials = append(r.tx.store.committed.trials, winner)
		r.tx.st.trials = append(r.tx.st.trials, cloneTrial(winner))
	}

	now := r.tx.store.now().UTC()
	if trial.ID == uuid.Nil {
		trial.ID = uuid.New()
	}
	if trial.DiscoveryDate.IsZero() {
		trial.DiscoveryDate = now
	}
	trial.CreatedAt, trial.UpdatedAt = now, now
	if c := r.identifierTaken(trial.Identifiers, trial.ID); c != "" {
		return &domain.AlreadyExistsError{Entity: "trial", ID: trial.ID.String(), Constraint: c}
	}
	r.tx.st.trials = append(r.tx.st.trials, cloneTrial(trial))
	return nil
}

func (r trialRepo) Update(_ context.Context, id uuid.UUID, columns map[string]interface{}) error {
	if len(columns) == 0 {
		return nil
	}
	t := r.find(id)
	if t == nil {
		return domain.NewNotFoundError("trial", id.String())
	}
	updated := cloneTrial(t)
	for col, v := range columns {
		switch col {
		case repository.TrialColumnTitle:
			updated.Title = v.(string)
		case repository.TrialColumnSummary:
			updated.Summary = v.(string)
		case repository.TrialColumnLink:
			updated.Link = v.(string)
		case repository.TrialColumnPublishedDate:
			updated.PublishedDate = v.(*time.Time)
		case repository.TrialColumnRecruitmentStatus:
			updated.RecruitmentStatus = v.(string)
		case repository.TrialColumnDetails:
			updated.Details = v.(*domain.TrialDetails)
		case string(domain.TrialIDNCT), string(domain.TrialIDEudraCT), string(domain.TrialIDEUCT):
			kind := domain.TrialIDKind(col)
			delete(updated.Identifiers, kind)
			updated.Identifiers.Set(kind, v.(string))
		default:
			return domain.NewValidationError(col, "column is not updatable")
		}
	}
	if c := r.identifierTaken(updated.Identifiers, id); c != "" {
		return &domain.AlreadyExistsError{Entity: "trial", ID: id.String(), Constraint: c}
	}
	updated.UpdatedAt = r.tx.store.now().UTC()
	*t = *updated
	return nil
}

func (r trialRepo) AddLinks(_ context.Context, id uuid.UUID, links repository.Links) error {
	if r.find(id) == nil {
		return domain.NewNotFoundError("trial", id.String())
	}
	l, ok := r.tx.st.trialLinks[id]
	if !ok {
		l = newLinkSet()
		r.tx.st.trialLinks[id] = l
	}
	l.add(links)
	return nil
}

type authorRepo struct{ tx *memTx }

var _ repository.AuthorRepository = authorRepo{}

func (r authorRepo) GetOrCreate(_ context.Context, a domain.Author) (*domain.Author, error) {
	if !a.IsIdentifiable() {
		return nil, domain.NewValidationError("author", "an ORCID or both given and family name are required")
	}
	for _, stored := range r.tx.st.authors {
		if a.ORCID != "" && stored.ORCID == a.ORCID {
			cp := *stored
			return &cp, nil
		}
		if a.ORCID == "" && stored.ORCID == "" &&
			strings.EqualFold(stored.GivenName, a.GivenName) &&
			strings.EqualFold(stored.FamilyName, a.FamilyName) {
			cp := *stored
			return &cp, nil
		}
	}
	r.tx.st.nextAuthorID++
	a.ID = r.tx.st.nextAuthorID
	cp := a
	r.tx.st.authors = append(r.tx.st.authors, &cp)
	return &a, nil
}

type changeRepo struct{ tx *memTx }

var _ repository.ChangeRecordRepository = changeRepo{}

func (r changeRepo) Create(_ context.Context, rec *domain.ChangeRecord) error {
	if rec == nil {
		return domain.NewValidationError("change_record", "change record cannot be nil")
	}
	if !rec.EntityKind.IsValid() {
		return domain.NewValidationError("entity_kind", fmt.Sprintf("unknown entity kind %q", rec.EntityKind))
	}
	rec.Reason = domain.TruncateReason(rec.Reason)
	r.tx.st.nextChangeID++
	rec.ID = r.tx.st.nextChangeID
	rec.CreatedAt = r.tx.store.now().UTC()
	cp := *rec
	cp.Changes = append([]domain.FieldChange(nil), rec.Changes...)
	r.tx.st.changes = append(r.tx.st.changes, cp)
	return nil
}

func (r changeRepo) ListByEntity(_ context.Context, kind domain.EntityKind, id uuid.UUID) ([]domain.ChangeRecord, error) {
	var out []domain.ChangeRecord
	for i := len(r.tx.st.changes) - 1; i >= 0; i-- {
		rec := r.tx.st.changes[i]
		if rec.EntityKind == kind && rec.EntityID == id {
			out = append(out, rec)
		}
	}
	return out, nil
}
