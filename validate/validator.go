package validate

import (
	"fmt"
	"time"

	"listing_canon/config"
	"listing_canon/logging"
	"listing_canon/models"
)

// Validator gates normalized listings. Every rule is evaluated so a
// rejection carries all of its reasons; advisory checks only add warnings.
type Validator struct {
	cfg config.ValidationConfig
	// now is used when a listing has no scrape timestamp (injectable for tests)
	now func() time.Time
}

// NewValidator creates a validator with the given thresholds
func NewValidator(cfg config.ValidationConfig) *Validator {
	return &Validator{cfg: cfg, now: time.Now}
}

// Validate never modifies l.
func (v *Validator) Validate(l *models.CanonicalListing) models.ValidationResult {
	var reasons []models.RejectionReason

	if !l.Address.Usable() && !l.HasCoordinates() {
		reasons = append(reasons, models.ReasonMissingLocation)
	}
	if l.ListPrice == nil || *l.ListPrice <= 0 {
		reasons = append(reasons, models.ReasonMissingPrice)
	}
	if l.Beds == nil && l.Baths == nil && l.InteriorAreaSqFt == nil {
		reasons = append(reasons, models.ReasonMissingSpecs)
	}

	warnings := v.advisories(l)
	for _, w := range warnings {
		logging.Warnf("%s: %s", l.SourceURL, w)
	}

	if len(reasons) > 0 {
		return models.Rejected(reasons, warnings...)
	}
	return models.Accepted(warnings...)
}

func (v *Validator) advisories(l *models.CanonicalListing) []string {
	var out []string
	c := v.cfg

	if l.Beds != nil && (*l.Beds < 0 || (c.MaxBeds > 0 && *l.Beds > c.MaxBeds)) {
		out = append(out, fmt.Sprintf("beds %v outside [0, %v]", *l.Beds, c.MaxBeds))
	}
	if l.Baths != nil && (*l.Baths < 0 || (c.MaxBaths > 0 && *l.Baths > c.MaxBaths)) {
		out = append(out, fmt.Sprintf("baths %v outside [0, %v]", *l.Baths, c.MaxBaths))
	}
	if a := l.InteriorAreaSqFt; a != nil && (*a < c.MinAreaSqFt || (c.MaxAreaSqFt > 0 && *a > c.MaxAreaSqFt)) {
		out = append(out, fmt.Sprintf("interior area %v sqft outside [%v, %v]", *a, c.MinAreaSqFt, c.MaxAreaSqFt))
	}
	if y := l.YearBuilt; y != nil {
		ref := l.ScrapedTimestamp
		if ref.IsZero() {
			ref = v.now()
		}
		maxYear := ref.Year() + c.MaxYearsAhead
		if *y < c.MinYearBuilt || *y > maxYear {
			out = append(out, fmt.Sprintf("year built %d outside [%d, %d]", *y, c.MinYearBuilt, maxYear))
		}
	}
	if p := l.PricePerSqFt; p != nil && (*p < c.MinPricePerSqFt || (c.MaxPricePerSqFt > 0 && *p > c.MaxPricePerSqFt)) {
		out = append(out, fmt.Sprintf("price per sqft %v outside [%v, %v]", *p, c.MinPricePerSqFt, c.MaxPricePerSqFt))
	}
	if lat := l.Latitude; lat != nil && (*lat < -90 || *lat > 90) {
		out = append(out, fmt.Sprintf("latitude %v out of range", *lat))
	}
	if lng := l.Longitude; lng != nil && (*lng < -180 || *lng > 180) {
		out = append(out, fmt.Sprintf("longitude %v out of range", *lng))
	}
	if (l.Latitude == nil) != (l.Longitude == nil) {
		out = append(out, "only one coordinate present")
	}
	return out
}
