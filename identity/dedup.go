package identity

import (
	"listing_canon/config"
	"listing_canon/logging"
	"listing_canon/models"
)

// Identification is the outcome of identifying one accepted listing.
type Identification struct {
	ListingID     string
	PropertyID    string
	AddressKey    string
	Verdict       models.DuplicateVerdict
	Links         []models.DuplicateLink
	LowConfidence bool
	// Counterparts are the refreshed verdicts of other listings whose
	// duplicate links changed.
	Counterparts map[string]models.DuplicateVerdict

	match Match
}

// Deduplicator assigns stable ids and flags possible cross-source duplicates.
// It is safe for concurrent use.
type Deduplicator struct {
	index *Index
}

func NewDeduplicator(cfg config.DedupConfig) *Deduplicator {
	return &Deduplicator{index: NewIndex(cfg)}
}

// Index exposes the underlying index, e.g. to preload it from storage.
func (d *Deduplicator) Index() *Index {
	return d.index
}

// Identify hashes l into its listing and property ids and records it in the
// index. l itself is not modified.
func (d *Deduplicator) Identify(l *models.CanonicalListing) Identification {
	keys := ComputeKeys(l)
	if keys.LowConfidence {
		logging.Warnf("%s: %s, no address or coordinates", l.SourceURL, AdvisoryLowConfidence)
	}

	entry := NewEntry(l)
	entry.ListingID = keys.ListingID
	entry.PropertyID = keys.PropertyID

	m := d.index.Add(entry)
	if m.Verdict.IsDuplicate() {
		logging.Infof("%s: possible duplicate of %v (confidence %.2f)", l.SourceURL, m.Verdict.CandidateIDs, m.Verdict.Confidence)
	}

	return Identification{
		ListingID:     keys.ListingID,
		PropertyID:    keys.PropertyID,
		AddressKey:    keys.AddressKey,
		Verdict:       m.Verdict,
		Links:         m.Links,
		LowConfidence: keys.LowConfidence,
		Counterparts:  m.Counterparts,
		match:         m,
	}
}

// Withdraw drops the listings stored for sourceURL from the index, for a
// page that is now rejected.
func (d *Deduplicator) Withdraw(sourceURL string) Withdrawal {
	w := d.index.Withdraw(sourceURL)
	if len(w.ListingIDs) > 0 {
		logging.Infof("%s: withdrew listings %v", sourceURL, w.ListingIDs)
	}
	return w
}

// Restore reverts a Withdraw whose rejection could not be stored.
func (d *Deduplicator) Restore(w Withdrawal) {
	d.index.Restore(w)
}

// Forget reverts the index change made by the Identify call that returned
// id. Callers use it when the listing could not be stored.
func (d *Deduplicator) Forget(id Identification) {
	d.index.Undo(id.match)
	logging.Debugf("dedup index: forgot %s", id.ListingID)
}
