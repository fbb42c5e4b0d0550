package identity

import (
	"math"
	"strings"

	"listing_canon/config"
	"listing_canon/models"
)

// Entry is what the index remembers about one listing.
type Entry struct {
	ListingID  string
	PropertyID string
	SourceID   string
	URLKey     string
	// Street is the normalized street line without the unit.
	Street     string
	Unit       string
	PostalCode string
	Locality   string
	Price      *float64
	Beds       *float64
	Baths      *float64
	AreaSqFt   *float64
}

// NewEntry builds the index entry of an identified listing.
func NewEntry(l *models.CanonicalListing) Entry {
	return Entry{
		ListingID:  l.ListingID,
		PropertyID: l.PropertyID,
		SourceID:   l.SourceID,
		URLKey:     URLKey(l.SourceURL),
		Street:     NormalizeAddress(l.Address.Street),
		Unit:       normalizeUnit(l.Address.Unit),
		PostalCode: normalizePostal(l.Address.PostalCode),
		Locality:   normalizeLocality(l.Address),
		Price:      l.ListPrice,
		Beds:       l.Beds,
		Baths:      l.Baths,
		AreaSqFt:   l.InteriorAreaSqFt,
	}
}

// AddressSimilarity scores two entries' addresses in [0,1]. Entries in
// different localities or different units never match. A missing unit on
// one side is compared on the base street.
func AddressSimilarity(a, b Entry) float64 {
	if a.Street == "" || b.Street == "" || !sameLocality(a, b) {
		return 0
	}
	if a.Unit != "" && b.Unit != "" && a.Unit != b.Unit {
		return 0
	}
	if na, nb := houseNumber(a.Street), houseNumber(b.Street); na != "" && nb != "" && na != nb {
		return 0
	}
	if a.Street == b.Street || baseAddress(a.Street) == baseAddress(b.Street) {
		return 1
	}
	return dice(a.Street, b.Street)
}

func sameLocality(a, b Entry) bool {
	if a.PostalCode != "" && b.PostalCode != "" {
		return a.PostalCode == b.PostalCode
	}
	if a.Locality != "" && b.Locality != "" {
		return a.Locality == b.Locality
	}
	return true
}

// Score compares price, beds, baths and area of two entries. Only
// attributes known on both sides with a positive weight are compared;
// confidence is the weighted fraction of those within tolerance.
func Score(a, b Entry, cfg config.DedupConfig) (confidence float64, compared int) {
	var total, matched float64
	check := func(attr string, x, y *float64, within func(x, y float64) bool) {
		if x == nil || y == nil {
			return
		}
		w := weight(cfg, attr)
		if w <= 0 {
			return
		}
		compared++
		total += w
		if within(*x, *y) {
			matched += w
		}
	}

	check("price", a.Price, b.Price, func(x, y float64) bool { return relativeWithin(x, y, cfg.PriceTolerance) })
	check("beds", a.Beds, b.Beds, func(x, y float64) bool { return absWithin(x, y, cfg.BedsTolerance) })
	check("baths", a.Baths, b.Baths, func(x, y float64) bool { return absWithin(x, y, cfg.BathsTolerance) })
	check("area", a.AreaSqFt, b.AreaSqFt, func(x, y float64) bool { return relativeWithin(x, y, cfg.AreaTolerance) })

	if compared == 0 {
		return 0, 0
	}
	return math.Round(matched/total*1e4) / 1e4, compared
}

func weight(cfg config.DedupConfig, attr string) float64 {
	w, ok := cfg.Weights[attr]
	if !ok {
		return 1
	}
	return w
}

const epsilon = 1e-9

func relativeWithin(x, y, tol float64) bool {
	if x <= 0 || y <= 0 {
		return x == y
	}
	return math.Abs(x-y) <= tol*math.Max(x, y)+epsilon
}

func absWithin(x, y, tol float64) bool {
	return math.Abs(x-y) <= tol+epsilon
}

// baseAddress strips unit numbers and trailing numbers from an address
func baseAddress(normalized string) string {
	parts := strings.Fields(normalized)
	if len(parts) == 0 {
		return ""
	}

	unitTokens := map[string]bool{
		"apt":  true,
		"unit": true,
		"ste":  true,
		"fl":   true,
		"bldg": true,
	}

	for i, part := range parts {
		if unitTokens[part] {
			parts = parts[:i]
			break
		}
	}

	if len(parts) >= 4 && isNumericToken(parts[len(parts)-1]) {
		parts = parts[:len(parts)-1]
	}

	return strings.Join(parts, " ")
}

// houseNumber is the leading numeric token of a normalized street.
func houseNumber(street string) string {
	if i := strings.IndexByte(street, ' '); i > 0 && isNumericToken(street[:i]) {
		return street[:i]
	}
	return ""
}

func isNumericToken(token string) bool {
	if token == "" {
		return false
	}
	for _, r := range token {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// dice is the Dice coefficient over character bigrams.
func dice(a, b string) float64 {
	ga, gb := bigrams(a), bigrams(b)
	total := 0
	for _, n := range ga {
		total += n
	}
	for _, n := range gb {
		total += n
	}
	if total == 0 {
		return 0
	}
	shared := 0
	for g, n := range ga {
		shared += min(n, gb[g])
	}
	return 2 * float64(shared) / float64(total)
}

func bigrams(s string) map[[2]rune]int {
	out := map[[2]rune]int{}
	runes := []rune(s)
	for i := 0; i+1 < len(runes); i++ {
		out[[2]rune{runes[i], runes[i+1]}]++
	}
	return out
}
