package normalize

import (
	"fmt"
	"math"

	"listing_canon/config"
	"listing_canon/logging"
	"listing_canon/models"
)

// Normalizer maps a merged RawFieldBag onto the canonical schema for one
// source. It holds no state between calls.
type Normalizer struct {
	pipeline *config.PipelineConfig
	source   *config.SourceConfig
	mapper   *config.Mapper
}

func NewNormalizer(pipeline *config.PipelineConfig, source *config.SourceConfig, mapper *config.Mapper) *Normalizer {
	if pipeline == nil {
		pipeline = config.DefaultPipeline()
	}
	if source == nil {
		source = &config.SourceConfig{}
	}
	return &Normalizer{pipeline: pipeline, source: source, mapper: mapper}
}

// ForSource builds the normalizer for sourceID from cfg.
func ForSource(cfg *config.Config, sourceID string) *Normalizer {
	return NewNormalizer(cfg.Pipeline, cfg.Source(sourceID), cfg.Mapper(sourceID))
}

// Normalize coerces every known field. Values that cannot be coerced are
// left absent and reported as NormalizationErrors; they never stop the
// record.
func (n *Normalizer) Normalize(bag *models.RawFieldBag, page *models.FetchedPage) (*models.CanonicalListing, []models.NormalizationError) {
	var errs []models.NormalizationError
	f := n.canonicalFields(bag)

	l := &models.CanonicalListing{
		SourceID:         page.SourceID,
		SourceURL:        page.SourceURL,
		CrawlMethod:      page.CrawlMethod,
		ScrapedTimestamp: page.FetchedAt.UTC(),
		ExternalID:       text(f[models.FieldExternalID]),
		Title:            text(f[models.FieldTitle]),
		Description:      text(f[models.FieldDescription]),
	}

	l.Address = n.address(f)
	l.Latitude = n.floatField(f, models.FieldLatitude, &errs)
	l.Longitude = n.floatField(f, models.FieldLongitude, &errs)

	l.Beds = n.floatField(f, models.FieldBeds, &errs)
	l.Baths = n.floatField(f, models.FieldBaths, &errs)
	l.InteriorAreaSqFt = n.areaField(f, models.FieldInteriorArea, models.FieldInteriorAreaUnit, &errs)
	l.LotSizeSqFt = n.areaField(f, models.FieldLotSize, models.FieldLotSizeUnit, &errs)
	l.YearBuilt = n.intField(f, models.FieldYearBuilt, &errs)

	if raw := text(f[models.FieldPropertyType]); raw != "" {
		l.PropertyType = PropertyType(raw)
		l.PropertyTypeRaw = raw
	}
	if raw := text(f[models.FieldStatus]); raw != "" {
		l.Status = Status(raw)
		l.StatusRaw = raw
	}

	l.ListPrice = n.floatField(f, models.FieldPrice, &errs)
	if l.ListPrice != nil {
		l.Currency = n.currency(f[models.FieldCurrency], f[models.FieldPrice])
	}
	if l.ListPrice != nil && l.InteriorAreaSqFt != nil && *l.ListPrice > 0 && *l.InteriorAreaSqFt > 0 {
		ppsf := round2(*l.ListPrice / *l.InteriorAreaSqFt)
		l.PricePerSqFt = &ppsf
	}
	l.ListingType = n.listingType(f[models.FieldListingType], l)

	if raw, ok := f[models.FieldListDate]; ok {
		if d, err := date(raw); err != nil {
			n.fail(&errs, models.FieldListDate, raw, err.Error())
		} else {
			l.ListDate = &d
		}
	}
	l.DaysOnMarket = n.intField(f, models.FieldDaysOnMarket, &errs)
	if l.DaysOnMarket == nil && l.ListDate != nil && !l.ScrapedTimestamp.IsZero() {
		if days := int(l.ScrapedTimestamp.Sub(l.ListDate.Time).Hours() / 24); days >= 0 {
			l.DaysOnMarket = &days
		}
	}

	if features, ok := f[models.FieldFeatures].(map[string]any); ok {
		l.Features = features
	}
	l.Media = media(f[models.FieldPhotos], f[models.FieldVideos])
	l.Agents = agents(f[models.FieldAgents])
	l.PriceHistory = n.priceHistory(f[models.FieldPriceHistory], &errs)
	l.Engagement = n.engagement(f, l.DaysOnMarket, &errs)
	l.MonthlyCosts = n.monthlyCosts(f[models.FieldMonthlyCosts])

	return l, errs
}

// canonicalFields flattens the bag into canonical names. Canonical keys win
// over mapped ones; keys nothing recognises are dropped.
func (n *Normalizer) canonicalFields(bag *models.RawFieldBag) map[string]any {
	out := make(map[string]any, bag.Len())
	if bag == nil {
		return out
	}
	var mapped []string
	for _, name := range bag.Names() {
		if models.IsCanonicalField(name) {
			out[name] = bag.Value(name)
		} else {
			mapped = append(mapped, name)
		}
	}
	for _, name := range mapped {
		canonical, ok := n.mapper.Canonical(name)
		if !ok || !models.IsCanonicalField(canonical) {
			logging.Debugf("normalize: dropping unmapped field %s", name)
			continue
		}
		if _, exists := out[canonical]; !exists {
			out[canonical] = bag.Value(name)
		}
	}
	return out
}

func (n *Normalizer) address(f map[string]any) models.Address {
	addr := models.Address{
		Street:     text(f[models.FieldStreet]),
		Unit:       text(f[models.FieldUnit]),
		City:       text(f[models.FieldCity]),
		State:      RegionCode(text(f[models.FieldState])),
		PostalCode: postalCode(f[models.FieldPostalCode]),
	}

	full := text(f[models.FieldAddress])
	if full != "" {
		parsed := ParseAddress(full)
		if addr.Street == "" {
			addr.Street, addr.Unit = parsed.Street, firstNonEmpty(addr.Unit, parsed.Unit)
		}
		addr.City = firstNonEmpty(addr.City, parsed.City)
		addr.State = firstNonEmpty(addr.State, parsed.State)
		addr.PostalCode = firstNonEmpty(addr.PostalCode, parsed.PostalCode)
	}

	if addr.Unit == "" {
		addr.Street, addr.Unit = SplitUnit(addr.Street)
	}
	if addr.State == "" {
		addr.State = provinceFromPostalCode(addr.PostalCode)
	}
	addr.Full = full
	if addr.Full == "" && !addr.IsEmpty() {
		addr.Full = addr.Line()
	}
	return addr
}

func (n *Normalizer) listingType(raw any, l *models.CanonicalListing) models.ListingType {
	if s := text(raw); s != "" {
		return ListingType(s)
	}
	switch {
	case l.Status == models.StatusForRent:
		return models.ListingRent
	case l.ListPrice != nil:
		return models.ListingSell
	}
	return ""
}

func (n *Normalizer) engagement(f map[string]any, daysOnMarket *int, errs *[]models.NormalizationError) *models.EngagementSignals {
	e := &models.EngagementSignals{
		Views:  n.intField(f, models.FieldViews, errs),
		Saves:  n.intField(f, models.FieldSaves, errs),
		Shares: n.intField(f, models.FieldShares, errs),
	}
	if e.IsEmpty() {
		return nil
	}
	if daysOnMarket != nil {
		days := *daysOnMarket
		e.DaysOnSite = &days
	}
	return e
}

func (n *Normalizer) floatField(f map[string]any, field string, errs *[]models.NormalizationError) *float64 {
	raw, ok := f[field]
	if !ok {
		return nil
	}
	v, err := number(raw)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		n.fail(errs, field, raw, "not a number")
		return nil
	}
	return &v
}

func (n *Normalizer) intField(f map[string]any, field string, errs *[]models.NormalizationError) *int {
	raw, ok := f[field]
	if !ok {
		return nil
	}
	v, err := integer(raw)
	if err != nil {
		n.fail(errs, field, raw, "not an integer")
		return nil
	}
	return &v
}

func (n *Normalizer) areaField(f map[string]any, field, unitField string, errs *[]models.NormalizationError) *float64 {
	raw, ok := f[field]
	if !ok {
		return nil
	}
	v, err := n.area(raw, f[unitField])
	if err != nil {
		n.fail(errs, field, raw, err.Error())
		return nil
	}
	return &v
}

func (n *Normalizer) fail(errs *[]models.NormalizationError, field string, raw any, reason string) {
	e := models.NormalizationError{Field: field, Raw: rawString(raw), Reason: reason}
	logging.Debugf("%v", e)
	*errs = append(*errs, e)
}

func postalCode(v any) string {
	if f, ok := v.(float64); ok && f >= 0 && f < 100000 {
		return fmt.Sprintf("%05d", int(f))
	}
	return NormalizePostalCode(text(v))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
