package models

import (
	"reflect"
	"sort"
	"strings"
)

type ExtractorID string

const (
	ExtractorStructured ExtractorID = "structured"
	ExtractorState      ExtractorID = "state"
	ExtractorPattern    ExtractorID = "pattern"
)

// Canonical raw field names. Extractors emit these keys; anything else is
// renamed through the source field mapping before normalization.
const (
	FieldExternalID       = "external_id"
	FieldTitle            = "title"
	FieldDescription      = "description"
	FieldPrice            = "price"
	FieldCurrency         = "currency"
	FieldBeds             = "beds"
	FieldBaths            = "baths"
	FieldInteriorArea     = "interior_area"
	FieldInteriorAreaUnit = "interior_area_unit"
	FieldLotSize          = "lot_size"
	FieldLotSizeUnit      = "lot_size_unit"
	FieldYearBuilt        = "year_built"
	FieldAddress          = "address"
	FieldStreet           = "street"
	FieldUnit             = "unit"
	FieldCity             = "city"
	FieldState            = "state"
	FieldPostalCode       = "postal_code"
	FieldLatitude         = "latitude"
	FieldLongitude        = "longitude"
	FieldStatus           = "status"
	FieldPropertyType     = "property_type"
	FieldListingType      = "listing_type"
	FieldListDate         = "list_date"
	FieldDaysOnMarket     = "days_on_market"
	FieldPhotos           = "photos"
	FieldVideos           = "videos"
	FieldAgents           = "agents"
	FieldPriceHistory     = "price_history"
	FieldViews            = "views"
	FieldSaves            = "saves"
	FieldShares           = "shares"
	FieldMonthlyCosts     = "monthly_costs"
	FieldFeatures         = "features"
)

// CanonicalFields lists every field name the normalizer understands.
var CanonicalFields = []string{
	FieldExternalID, FieldTitle, FieldDescription, FieldPrice, FieldCurrency,
	FieldBeds, FieldBaths, FieldInteriorArea, FieldInteriorAreaUnit, FieldLotSize,
	FieldLotSizeUnit, FieldYearBuilt, FieldAddress, FieldStreet, FieldUnit,
	FieldCity, FieldState, FieldPostalCode, FieldLatitude, FieldLongitude,
	FieldStatus, FieldPropertyType, FieldListingType, FieldListDate,
	FieldDaysOnMarket, FieldPhotos, FieldVideos, FieldAgents, FieldPriceHistory,
	FieldViews, FieldSaves, FieldShares, FieldMonthlyCosts, FieldFeatures,
}

func IsCanonicalField(name string) bool {
	for _, f := range CanonicalFields {
		if f == name {
			return true
		}
	}
	return false
}

// RawField is one untyped value plus the extractor that produced it.
type RawField struct {
	Value  any         `json:"value"`
	Source ExtractorID `json:"source"`
}

// RawFieldBag holds the untyped fields pulled from a single page. It is
// scoped to one page and never shared between workers.
type RawFieldBag struct {
	fields map[string]RawField
}

func NewRawFieldBag() *RawFieldBag {
	return &RawFieldBag{fields: make(map[string]RawField)}
}

// Set stores value under name unless the field is already present or the
// value is empty. It reports whether the value was stored.
func (b *RawFieldBag) Set(name string, value any, source ExtractorID) bool {
	if name == "" || !IsUsable(value) {
		return false
	}
	if _, exists := b.fields[name]; exists {
		return false
	}
	b.fields[name] = RawField{Value: value, Source: source}
	return true
}

// Put overwrites any existing value for name.
func (b *RawFieldBag) Put(name string, value any, source ExtractorID) {
	if name == "" || !IsUsable(value) {
		return
	}
	b.fields[name] = RawField{Value: value, Source: source}
}

func (b *RawFieldBag) Get(name string) (RawField, bool) {
	f, ok := b.fields[name]
	return f, ok
}

func (b *RawFieldBag) Value(name string) any {
	return b.fields[name].Value
}

func (b *RawFieldBag) Delete(name string) {
	delete(b.fields, name)
}

func (b *RawFieldBag) Len() int {
	if b == nil {
		return 0
	}
	return len(b.fields)
}

// Names returns the field names in sorted order.
func (b *RawFieldBag) Names() []string {
	names := make([]string, 0, len(b.fields))
	for name := range b.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a plain map of field values for the rejection log.
func (b *RawFieldBag) Snapshot() map[string]any {
	out := make(map[string]any, b.Len())
	if b == nil {
		return out
	}
	for name, f := range b.fields {
		out[name] = f.Value
	}
	return out
}

// IsUsable reports whether v carries information: nil, blank strings and
// empty collections do not.
func IsUsable(v any) bool {
	if v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) != ""
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	case reflect.Slice, reflect.Map:
		return rv.Len() > 0
	}
	return true
}

// Provenance maps each merged field to the extractor that supplied it.
type Provenance map[string]ExtractorID
