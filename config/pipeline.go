package config

import (
	"fmt"
	"strings"
)

// PipelineConfig holds the tunables shared by every source: unit factors,
// validation thresholds and duplicate tolerances.
type PipelineConfig struct {
	// Units maps a unit name to its factor in square feet.
	Units           map[string]float64 `yaml:"units"`
	UnitAliases     map[string]string  `yaml:"unit_aliases"`
	CurrencySymbols map[string]string  `yaml:"currency_symbols"`
	DefaultCurrency string             `yaml:"default_currency"`
	FieldMapping    map[string]string  `yaml:"field_mapping"`
	Validation      ValidationConfig   `yaml:"validation"`
	Dedup           DedupConfig        `yaml:"dedup"`
}

type ValidationConfig struct {
	MaxBeds         float64 `yaml:"max_beds"`
	MaxBaths        float64 `yaml:"max_baths"`
	MinAreaSqFt     float64 `yaml:"min_area_sqft"`
	MaxAreaSqFt     float64 `yaml:"max_area_sqft"`
	MinYearBuilt    int     `yaml:"min_year_built"`
	MaxYearsAhead   int     `yaml:"max_years_ahead"`
	MinPricePerSqFt float64 `yaml:"min_price_per_sqft"`
	MaxPricePerSqFt float64 `yaml:"max_price_per_sqft"`
}

type DedupConfig struct {
	// PriceTolerance and AreaTolerance are relative; beds and baths are
	// absolute differences.
	PriceTolerance    float64            `yaml:"price_tolerance"`
	BedsTolerance     float64            `yaml:"beds_tolerance"`
	BathsTolerance    float64            `yaml:"baths_tolerance"`
	AreaTolerance     float64            `yaml:"area_tolerance"`
	AddressSimilarity float64            `yaml:"address_similarity"`
	MinConfidence     float64            `yaml:"min_confidence"`
	Weights           map[string]float64 `yaml:"weights"`
}

func DefaultPipeline() *PipelineConfig {
	return &PipelineConfig{
		Units: map[string]float64{
			"sqft":    1,
			"sqm":     10.7639,
			"acre":    43560,
			"hectare": 107639.104,
		},
		UnitAliases: map[string]string{
			"sq ft": "sqft", "sq. ft.": "sqft", "sq.ft.": "sqft", "sqft": "sqft",
			"square feet": "sqft", "square foot": "sqft", "ft2": "sqft", "ft²": "sqft",
			"sf": "sqft", "ftk": "sqft", "sqf": "sqft",
			"sqm": "sqm", "sq m": "sqm", "m2": "sqm", "m²": "sqm",
			"square meters": "sqm", "square metres": "sqm", "mtk": "sqm",
			"acre": "acre", "acres": "acre", "ac": "acre", "acr": "acre",
			"hectare": "hectare", "hectares": "hectare", "ha": "hectare", "har": "hectare",
		},
		CurrencySymbols: map[string]string{
			"C$":  "CAD",
			"CA$": "CAD",
			"US$": "USD",
			"$":   "USD",
			"€":   "EUR",
			"£":   "GBP",
		},
		DefaultCurrency: "USD",
		FieldMapping:    defaultFieldMapping(),
		Validation: ValidationConfig{
			MaxBeds:         50,
			MaxBaths:        50,
			MinAreaSqFt:     100,
			MaxAreaSqFt:     100000,
			MinYearBuilt:    1700,
			MaxYearsAhead:   3,
			MinPricePerSqFt: 5,
			MaxPricePerSqFt: 20000,
		},
		Dedup: DedupConfig{
			PriceTolerance:    0.05,
			BedsTolerance:     0,
			BathsTolerance:    0.5,
			AreaTolerance:     0.10,
			AddressSimilarity: 0.85,
			MinConfidence:     0.5,
			Weights: map[string]float64{
				"price": 1,
				"beds":  1,
				"baths": 1,
				"area":  1,
			},
		},
	}
}

func (p *PipelineConfig) Validate() error {
	for unit, factor := range p.Units {
		if factor <= 0 {
			return fmt.Errorf("unit %s: factor must be positive, got %v", unit, factor)
		}
	}
	if p.Dedup.MinConfidence < 0 || p.Dedup.MinConfidence > 1 {
		return fmt.Errorf("dedup.min_confidence must be within [0,1], got %v", p.Dedup.MinConfidence)
	}
	if p.Dedup.AddressSimilarity < 0 || p.Dedup.AddressSimilarity > 1 {
		return fmt.Errorf("dedup.address_similarity must be within [0,1], got %v", p.Dedup.AddressSimilarity)
	}
	for attr, w := range p.Dedup.Weights {
		if w < 0 {
			return fmt.Errorf("dedup weight %s must not be negative", attr)
		}
	}
	return nil
}

// UnitFactor resolves a unit name or alias to its square-foot factor.
func (p *PipelineConfig) UnitFactor(unit string) (float64, bool) {
	key := strings.ToLower(strings.TrimSpace(unit))
	if key == "" {
		return 0, false
	}
	if alias, ok := p.UnitAliases[key]; ok {
		key = alias
	}
	f, ok := p.Units[key]
	return f, ok
}

// Mapper resolves raw field names for one source.
type Mapper struct {
	source   map[string]string
	defaults map[string]string
}

// Mapper builds the field mapper for sourceID. Source entries take
// precedence over the pipeline defaults.
func (c *Config) Mapper(sourceID string) *Mapper {
	var defaults map[string]string
	if c.Pipeline != nil {
		defaults = c.Pipeline.FieldMapping
	}
	return NewMapper(c.Source(sourceID).FieldMapping, defaults)
}

func NewMapper(source, defaults map[string]string) *Mapper {
	return &Mapper{source: source, defaults: defaults}
}

// Canonical returns the canonical name for raw, or false if the key is not
// mapped.
func (m *Mapper) Canonical(raw string) (string, bool) {
	if m == nil {
		return "", false
	}
	if v, ok := m.source[raw]; ok {
		return v, v != ""
	}
	if v, ok := m.defaults[raw]; ok {
		return v, v != ""
	}
	return "", false
}

// Keys returns every raw key the mapper recognises.
func (m *Mapper) Keys() map[string]string {
	out := make(map[string]string, len(m.defaults)+len(m.source))
	for k, v := range m.defaults {
		out[k] = v
	}
	for k, v := range m.source {
		out[k] = v
	}
	return out
}

func defaultFieldMapping() map[string]string {
	return map[string]string{
		"zpid":                  "external_id",
		"propertyId":            "external_id",
		"listingId":             "external_id",
		"mlsId":                 "external_id",
		"MlsNumber":             "external_id",
		"price":                 "price",
		"listPrice":             "price",
		"unformattedPrice":      "price",
		"Price":                 "price",
		"currency":              "currency",
		"bedrooms":              "beds",
		"beds":                  "beds",
		"Bedrooms":              "beds",
		"bathrooms":             "baths",
		"baths":                 "baths",
		"bathsTotal":            "baths",
		"bathroomsTotalInteger": "baths",
		"BathroomTotal":         "baths",
		"livingArea":            "interior_area",
		"livingAreaValue":       "interior_area",
		"livingAreaUnits":       "interior_area_unit",
		"finishedSqFt":          "interior_area",
		"sqFt":                  "interior_area",
		"squareFeet":            "interior_area",
		"SizeInterior":          "interior_area",
		"lotSize":               "lot_size",
		"lotAreaValue":          "lot_size",
		"lotAreaUnits":          "lot_size_unit",
		"yearBuilt":             "year_built",
		"streetAddress":         "street",
		"streetLine":            "street",
		"unitNumber":            "unit",
		"city":                  "city",
		"state":                 "state",
		"stateCode":             "state",
		"zipcode":               "postal_code",
		"zip":                   "postal_code",
		"postalCode":            "postal_code",
		"PostalCode":            "postal_code",
		"latitude":              "latitude",
		"longitude":             "longitude",
		"homeStatus":            "status",
		"listingStatus":         "status",
		"homeType":              "property_type",
		"propertyType":          "property_type",
		"description":           "description",
		"daysOnZillow":          "days_on_market",
		"dom":                   "days_on_market",
		"pageViewCount":         "views",
		"favoriteCount":         "saves",
		"priceHistory":          "price_history",
		"photos":                "photos",
		"responsivePhotos":      "photos",
		"photoGallery":          "photos",
		"datePosted":            "list_date",
		"listingDate":           "list_date",
	}
}
