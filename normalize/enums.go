package normalize

import (
	"strings"

	"listing_canon/models"
)

type keyword[T any] struct {
	needle string
	value  T
}

var statusKeywords = []keyword[models.ListingStatus]{
	{"coming soon", models.StatusComingSoon},
	{"for rent", models.StatusForRent},
	{"for lease", models.StatusForRent},
	{"rented", models.StatusOffMarket},
	{"contingent", models.StatusContingent},
	{"under contract", models.StatusPending},
	{"pending", models.StatusPending},
	{"recently sold", models.StatusSold},
	{"sold", models.StatusSold},
	{"closed", models.StatusSold},
	{"off market", models.StatusOffMarket},
	{"withdrawn", models.StatusOffMarket},
	{"expired", models.StatusOffMarket},
	{"delisted", models.StatusOffMarket},
	{"cancelled", models.StatusOffMarket},
	{"for sale", models.StatusActive},
	{"new construction", models.StatusActive},
	{"active", models.StatusActive},
	{"new", models.StatusActive},
}

// Order matters: "townhouse" and "multi family house" must not fall through
// to "house".
var propertyTypeKeywords = []keyword[models.PropertyType]{
	{"multi family", models.PropertyMultiFamily},
	{"multifamily", models.PropertyMultiFamily},
	{"duplex", models.PropertyMultiFamily},
	{"triplex", models.PropertyMultiFamily},
	{"fourplex", models.PropertyMultiFamily},
	{"townho", models.PropertyTownhouse},
	{"row house", models.PropertyTownhouse},
	{"condo", models.PropertyCondo},
	{"co op", models.PropertyCondo},
	{"coop", models.PropertyCondo},
	{"apartment", models.PropertyApartment},
	{"manufactured", models.PropertyManufactured},
	{"mobile", models.PropertyManufactured},
	{"single family", models.PropertySingleFamily},
	{"residence", models.PropertySingleFamily},
	{"house", models.PropertySingleFamily},
	{"detached", models.PropertySingleFamily},
	{"vacant land", models.PropertyLand},
	{"land", models.PropertyLand},
	{"lots", models.PropertyLand},
	{"lot", models.PropertyLand},
}

var mediaKeywords = []keyword[models.MediaType]{
	{"floor", models.MediaFloorplan},
	{"virtual", models.MediaVirtualTour},
	{"3d", models.MediaVirtualTour},
	{"matterport", models.MediaVirtualTour},
	{"tour", models.MediaVirtualTour},
	{"video", models.MediaVideo},
	{"mp4", models.MediaVideo},
	{"image", models.MediaImage},
	{"photo", models.MediaImage},
	{"jpeg", models.MediaImage},
	{"jpg", models.MediaImage},
	{"png", models.MediaImage},
	{"webp", models.MediaImage},
}

var eventKeywords = []keyword[string]{
	{"price change", models.EventPriceChange},
	{"price reduc", models.EventPriceChange},
	{"price increase", models.EventPriceChange},
	{"price cut", models.EventPriceChange},
	{"relisted", models.EventRelisted},
	{"back on market", models.EventRelisted},
	{"delisted", models.EventDelisted},
	{"removed", models.EventDelisted},
	{"withdrawn", models.EventDelisted},
	{"expired", models.EventDelisted},
	{"off market", models.EventDelisted},
	{"sold", models.EventSold},
	{"pending", models.EventPending},
	{"contingent", models.EventPending},
	{"under contract", models.EventPending},
	{"listed", models.EventListed},
	{"listing", models.EventListed},
	{"new", models.EventListed},
}

// enumKey lower-cases raw and turns "_" and "-" into spaces, so "FOR_SALE"
// and "Single-Family" match the keyword tables.
func enumKey(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("_", " ", "-", " ", "/", " ").Replace(key)
	return " " + strings.Join(strings.Fields(key), " ") + " "
}

// match finds the first keyword present in raw as a whole word or word
// prefix.
func match[T any](table []keyword[T], raw string) (T, bool) {
	key := enumKey(raw)
	for _, k := range table {
		if strings.Contains(key, " "+k.needle) {
			return k.value, true
		}
	}
	var zero T
	return zero, false
}

// Status maps a raw status to the canonical enum. Unknown values become
// StatusOther; the caller keeps the raw text.
func Status(raw string) models.ListingStatus {
	if s, ok := match(statusKeywords, raw); ok {
		return s
	}
	return models.StatusOther
}

func PropertyType(raw string) models.PropertyType {
	if t, ok := match(propertyTypeKeywords, raw); ok {
		return t
	}
	return models.PropertyOther
}

func ListingType(raw string) models.ListingType {
	key := enumKey(raw)
	switch {
	case strings.Contains(key, " rent") || strings.Contains(key, " lease") || strings.Contains(key, " let "):
		return models.ListingRent
	case strings.Contains(key, " sale") || strings.Contains(key, " sell") || strings.Contains(key, " buy"):
		return models.ListingSell
	}
	return models.ListingOther
}

func MediaType(raw string) models.MediaType {
	if t, ok := match(mediaKeywords, raw); ok {
		return t
	}
	return models.MediaOther
}

func EventType(raw string) string {
	if t, ok := match(eventKeywords, raw); ok {
		return t
	}
	return models.EventOther
}
