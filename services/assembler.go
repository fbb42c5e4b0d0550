package services

import (
	"encoding/json"
	"sort"

	"listing_canon/identity"
	"listing_canon/logging"
	"listing_canon/models"
)

// TableAssembler partitions an accepted, identified listing into table rows.
// It has no state.
type TableAssembler struct{}

// Assemble expects l to carry its ids already.
func (TableAssembler) Assemble(l *models.CanonicalListing, id identity.Identification) *models.TableGroup {
	g := &models.TableGroup{
		Listings:   []models.ListingRow{listingRow(l)},
		Properties: []models.PropertyRow{propertyRow(l, id.AddressKey)},
	}

	for _, m := range l.Media {
		g.Media = append(g.Media, models.MediaRow{
			ListingID:    l.ListingID,
			URL:          m.URL,
			MediaType:    string(m.Type),
			Caption:      m.Caption,
			DisplayOrder: m.DisplayOrder,
			IsPrimary:    m.IsPrimary,
		})
	}
	for _, a := range l.Agents {
		g.Agents = append(g.Agents, models.AgentRow{
			ListingID: l.ListingID,
			Name:      a.Name,
			Phone:     a.Phone,
			Email:     a.Email,
			Brokerage: a.Brokerage,
			Role:      a.Role,
		})
	}
	for _, ev := range l.PriceHistory {
		g.PriceHistory = append(g.PriceHistory, models.PriceHistoryRow{
			ListingID: l.ListingID,
			EventDate: dateString(ev.Date),
			EventType: ev.EventType,
			Price:     ev.Price,
			Notes:     ev.Notes,
		})
	}
	if !l.Engagement.IsEmpty() {
		g.Engagement = append(g.Engagement, models.EngagementRow{
			ListingID:  l.ListingID,
			Views:      l.Engagement.Views,
			Saves:      l.Engagement.Saves,
			Shares:     l.Engagement.Shares,
			DaysOnSite: l.Engagement.DaysOnSite,
			CapturedAt: l.ScrapedTimestamp,
		})
	}

	for _, link := range id.Links {
		g.DuplicateLinks = append(g.DuplicateLinks, link, models.DuplicateLink{
			ListingID:   link.CandidateID,
			CandidateID: link.ListingID,
			Confidence:  link.Confidence,
		})
	}

	g.VerdictUpdates = verdictUpdates(id.Counterparts)
	return g
}

// verdictUpdates orders counterparts by listing id.
func verdictUpdates(counterparts map[string]models.DuplicateVerdict) []models.VerdictUpdate {
	ids := make([]string, 0, len(counterparts))
	for other := range counterparts {
		ids = append(ids, other)
	}
	sort.Strings(ids)
	var updates []models.VerdictUpdate
	for _, other := range ids {
		updates = append(updates, models.VerdictUpdate{ListingID: other, Verdict: counterparts[other]})
	}
	return updates
}

func listingRow(l *models.CanonicalListing) models.ListingRow {
	return models.ListingRow{
		ListingID:             l.ListingID,
		PropertyID:            l.PropertyID,
		SourceID:              l.SourceID,
		SourceURL:             l.SourceURL,
		ExternalID:            l.ExternalID,
		CrawlMethod:           string(l.CrawlMethod),
		ScrapedAt:             l.ScrapedTimestamp,
		Status:                string(l.Status),
		StatusRaw:             l.StatusRaw,
		ListingType:           string(l.ListingType),
		ListPrice:             l.ListPrice,
		Currency:              l.Currency,
		PricePerSqFt:          l.PricePerSqFt,
		ListDate:              dateString(l.ListDate),
		DaysOnMarket:          l.DaysOnMarket,
		Title:                 l.Title,
		Description:           l.Description,
		Beds:                  l.Beds,
		Baths:                 l.Baths,
		InteriorAreaSqFt:      l.InteriorAreaSqFt,
		Features:              rawJSON(l.Features, len(l.Features) == 0),
		MonthlyCosts:          rawJSON(l.MonthlyCosts, l.MonthlyCosts.IsEmpty()),
		LowConfidenceIdentity: l.LowConfidenceIdentity,
		DuplicateStatus:       string(l.Duplicate.Status),
		DuplicateCandidates:   l.Duplicate.CandidateIDs,
		DuplicateConfidence:   l.Duplicate.Confidence,
		NormalizationErrors:   rawJSON(l.NormalizationErrors, len(l.NormalizationErrors) == 0),
	}
}

func propertyRow(l *models.CanonicalListing, addressKey string) models.PropertyRow {
	return models.PropertyRow{
		PropertyID:       l.PropertyID,
		AddressKey:       addressKey,
		Street:           l.Address.Street,
		Unit:             l.Address.Unit,
		City:             l.Address.City,
		State:            l.Address.State,
		PostalCode:       l.Address.PostalCode,
		AddressFull:      l.Address.Full,
		Latitude:         l.Latitude,
		Longitude:        l.Longitude,
		PropertyType:     string(l.PropertyType),
		PropertyTypeRaw:  l.PropertyTypeRaw,
		YearBuilt:        l.YearBuilt,
		LotSizeSqFt:      l.LotSizeSqFt,
		InteriorAreaSqFt: l.InteriorAreaSqFt,
		Beds:             l.Beds,
		Baths:            l.Baths,
	}
}

func dateString(d *models.Date) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func rawJSON(v any, empty bool) json.RawMessage {
	if empty {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		logging.Warnf("encode %T: %v", v, err)
		return nil
	}
	return data
}
