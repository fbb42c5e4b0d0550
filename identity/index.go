package identity

import (
	"sort"
	"sync"

	"listing_canon/config"
	"listing_canon/models"
)

// Index holds every listing seen so far and the duplicate links between
// them. Links are stored in both directions. All access goes through one
// mutex so a listing is compared against every entry committed before it.
type Index struct {
	mu      sync.Mutex
	cfg     config.DedupConfig
	entries map[string]Entry
	links   map[string]map[string]float64
}

func NewIndex(cfg config.DedupConfig) *Index {
	return &Index{
		cfg:     cfg,
		entries: make(map[string]Entry),
		links:   make(map[string]map[string]float64),
	}
}

// Load seeds the index with entries and links persisted by an earlier run.
func (x *Index) Load(entries []Entry, links []models.DuplicateLink) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, e := range entries {
		x.entries[e.ListingID] = e
	}
	for _, l := range links {
		if l.ListingID == l.CandidateID {
			continue
		}
		x.link(l.ListingID, l.CandidateID, l.Confidence)
	}
}

// Match is the index's answer for one added entry.
type Match struct {
	Verdict models.DuplicateVerdict
	// Links holds one direction of each duplicate pair, from the added entry.
	Links []models.DuplicateLink
	// Counterparts are the refreshed verdicts of every other listing whose
	// links changed.
	Counterparts map[string]models.DuplicateVerdict

	prior prior
}

// prior is what the index held for a listing id before Add replaced it.
type prior struct {
	listingID string
	entry     Entry
	existed   bool
	links     map[string]float64
}

// Add inserts or replaces e and recomputes its links.
func (x *Index) Add(e Entry) Match {
	x.mu.Lock()
	defer x.mu.Unlock()

	before := x.snapshot(e.ListingID)
	affected := map[string]bool{}
	for id := range before.links {
		affected[id] = true
	}
	x.unlink(e.ListingID)

	for id, other := range x.entries {
		if id == e.ListingID {
			continue
		}
		if other.PropertyID != e.PropertyID && AddressSimilarity(e, other) < x.cfg.AddressSimilarity {
			continue
		}
		confidence, compared := Score(e, other, x.cfg)
		if compared == 0 || confidence < x.cfg.MinConfidence {
			continue
		}
		x.link(e.ListingID, id, confidence)
		affected[id] = true
	}
	x.entries[e.ListingID] = e

	m := Match{
		Verdict:      x.verdict(e.ListingID),
		Counterparts: make(map[string]models.DuplicateVerdict, len(affected)),
		prior:        before,
	}
	for _, id := range m.Verdict.CandidateIDs {
		m.Links = append(m.Links, models.DuplicateLink{
			ListingID:   e.ListingID,
			CandidateID: id,
			Confidence:  x.links[e.ListingID][id],
		})
	}
	for id := range affected {
		m.Counterparts[id] = x.verdict(id)
	}
	return m
}

// Undo puts back what the index held for m's listing before the Add that
// returned m. Listings linked to it in between keep their other links.
func (x *Index) Undo(m Match) {
	x.mu.Lock()
	defer x.mu.Unlock()

	p := m.prior
	if p.listingID == "" {
		return
	}
	x.unlink(p.listingID)
	if !p.existed {
		delete(x.entries, p.listingID)
		return
	}
	x.entries[p.listingID] = p.entry
	x.relink(p)
}

// Withdrawal is the index's answer for a page that no longer yields a
// listing.
type Withdrawal struct {
	// ListingIDs are the removed listings, sorted.
	ListingIDs   []string
	// Counterparts are the refreshed verdicts of listings that were linked
	// to a removed one.
	Counterparts map[string]models.DuplicateVerdict

	priors []prior
}

// Withdraw removes every listing crawled from sourceURL together with its
// links.
func (x *Index) Withdraw(sourceURL string) Withdrawal {
	w := Withdrawal{Counterparts: map[string]models.DuplicateVerdict{}}
	key := URLKey(sourceURL)
	if key == "" {
		return w
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	affected := map[string]bool{}
	for id, e := range x.entries {
		if e.URLKey != key {
			continue
		}
		p := x.snapshot(id)
		for other := range p.links {
			affected[other] = true
		}
		w.priors = append(w.priors, p)
		w.ListingIDs = append(w.ListingIDs, id)
		x.unlink(id)
		delete(x.entries, id)
	}
	sort.Strings(w.ListingIDs)
	for id := range affected {
		if _, ok := x.entries[id]; ok {
			w.Counterparts[id] = x.verdict(id)
		}
	}
	return w
}

// Restore puts back the listings removed by w.
func (x *Index) Restore(w Withdrawal) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, p := range w.priors {
		x.entries[p.listingID] = p.entry
	}
	for _, p := range w.priors {
		x.relink(p)
	}
}

func (x *Index) snapshot(id string) prior {
	p := prior{listingID: id, links: make(map[string]float64, len(x.links[id]))}
	p.entry, p.existed = x.entries[id]
	for other, confidence := range x.links[id] {
		p.links[other] = confidence
	}
	return p
}

func (x *Index) relink(p prior) {
	for id, confidence := range p.links {
		if _, ok := x.entries[id]; ok {
			x.link(p.listingID, id, confidence)
		}
	}
}

// Verdict returns the current verdict for a listing id.
func (x *Index) Verdict(listingID string) models.DuplicateVerdict {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.verdict(listingID)
}

func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.entries)
}

func (x *Index) link(a, b string, confidence float64) {
	if x.links[a] == nil {
		x.links[a] = make(map[string]float64)
	}
	if x.links[b] == nil {
		x.links[b] = make(map[string]float64)
	}
	x.links[a][b] = confidence
	x.links[b][a] = confidence
}

func (x *Index) unlink(id string) {
	for other := range x.links[id] {
		delete(x.links[other], id)
		if len(x.links[other]) == 0 {
			delete(x.links, other)
		}
	}
	delete(x.links, id)
}

// verdict orders candidates by confidence, highest first, then by id.
func (x *Index) verdict(id string) models.DuplicateVerdict {
	peers := x.links[id]
	if len(peers) == 0 {
		return models.UniqueVerdict()
	}
	ids := make([]string, 0, len(peers))
	for other := range peers {
		ids = append(ids, other)
	}
	sort.Slice(ids, func(i, j int) bool {
		if peers[ids[i]] != peers[ids[j]] {
			return peers[ids[i]] > peers[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return models.DuplicateVerdict{
		Status:       models.DuplicatePossible,
		CandidateIDs: ids,
		Confidence:   peers[ids[0]],
	}
}
