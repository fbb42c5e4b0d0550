package extract

import (
	"listing_canon/config"
	"listing_canon/logging"
	"listing_canon/models"
)

// Result is the merged output of the extractor chain for one page.
type Result struct {
	Bag        *models.RawFieldBag
	Provenance models.Provenance
	Failures   []*ExtractionFailure
	// FieldCounts records how many fields each extractor produced before
	// merging, for stats and debugging.
	FieldCounts map[models.ExtractorID]int
}

// Coordinator runs the extractors in trust order and merges their output.
type Coordinator struct {
	cfg *config.Config
}

func NewCoordinator(cfg *config.Config) *Coordinator {
	return &Coordinator{cfg: cfg}
}

// Extractors returns the chain for sourceID, most trusted first.
func (c *Coordinator) Extractors(sourceID string) []Extractor {
	src := c.cfg.Source(sourceID)
	return []Extractor{
		NewStructuredExtractor(),
		NewStateExtractor(src, c.cfg.Mapper(sourceID)),
		NewPatternExtractor(src),
	}
}

// Extract runs every extractor against page. An extractor failing never
// stops the chain. ErrNoExtractableData is returned, together with the
// result, when nothing beyond page metadata came out.
func (c *Coordinator) Extract(page *models.FetchedPage) (*Result, error) {
	return c.run(page, c.Extractors(page.SourceID))
}

func (c *Coordinator) run(page *models.FetchedPage, chain []Extractor) (*Result, error) {
	mapper := c.cfg.Mapper(page.SourceID)
	bags := make([]*models.RawFieldBag, 0, len(chain))
	res := &Result{FieldCounts: make(map[models.ExtractorID]int, len(chain))}

	for _, e := range chain {
		bag, fail := runSafely(e, page)
		if fail != nil {
			logging.Debugf("%s: %v", page.SourceURL, fail)
			res.Failures = append(res.Failures, fail)
		}
		res.FieldCounts[e.ID()] = bag.Len()
		bags = append(bags, canonicalize(bag, mapper))
	}

	res.Bag, res.Provenance = Merge(bags...)
	if listingFields(res.Bag) == 0 {
		return res, ErrNoExtractableData
	}
	logging.Debugf("%s: provenance %v", page.SourceURL, res.Provenance)
	return res, nil
}

// pageMetadata fields are found on any page, including error and captcha
// pages, and say nothing about a listing.
var pageMetadata = map[string]bool{
	models.FieldTitle:      true,
	models.FieldExternalID: true,
}

func listingFields(bag *models.RawFieldBag) int {
	n := 0
	for _, name := range bag.Names() {
		if !pageMetadata[name] {
			n++
		}
	}
	return n
}

// Merge combines bags left to right: the first bag holding a field wins.
// Each field keeps the extractor id it was produced by.
func Merge(bags ...*models.RawFieldBag) (*models.RawFieldBag, models.Provenance) {
	merged := models.NewRawFieldBag()
	prov := models.Provenance{}
	for _, bag := range bags {
		if bag == nil {
			continue
		}
		for _, name := range bag.Names() {
			f, _ := bag.Get(name)
			if merged.Set(name, f.Value, f.Source) {
				prov[name] = f.Source
			}
		}
	}
	return merged, prov
}

// canonicalize renames any source-specific keys through the mapper. Keys
// the mapper does not know are kept as-is; the normalizer ignores them.
func canonicalize(bag *models.RawFieldBag, mapper *config.Mapper) *models.RawFieldBag {
	out := models.NewRawFieldBag()
	for _, name := range bag.Names() {
		f, _ := bag.Get(name)
		key := name
		if !models.IsCanonicalField(name) {
			if canonical, ok := mapper.Canonical(name); ok {
				key = canonical
			}
		}
		out.Set(key, f.Value, f.Source)
	}
	return out
}
