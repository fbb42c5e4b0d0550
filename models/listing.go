package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type ListingStatus string

const (
	StatusActive     ListingStatus = "active"
	StatusPending    ListingStatus = "pending"
	StatusContingent ListingStatus = "contingent"
	StatusSold       ListingStatus = "sold"
	StatusOffMarket  ListingStatus = "off_market"
	StatusComingSoon ListingStatus = "coming_soon"
	StatusForRent    ListingStatus = "for_rent"
	StatusOther      ListingStatus = "other"
)

type PropertyType string

const (
	PropertySingleFamily PropertyType = "single_family"
	PropertyCondo        PropertyType = "condo"
	PropertyTownhouse    PropertyType = "townhouse"
	PropertyApartment    PropertyType = "apartment"
	PropertyMultiFamily  PropertyType = "multi_family"
	PropertyLand         PropertyType = "land"
	PropertyManufactured PropertyType = "manufactured"
	PropertyOther        PropertyType = "other"
)

type ListingType string

const (
	ListingSell  ListingType = "sell"
	ListingRent  ListingType = "rent"
	ListingOther ListingType = "other"
)

type MediaType string

const (
	MediaImage       MediaType = "image"
	MediaVideo       MediaType = "video"
	MediaFloorplan   MediaType = "floorplan"
	MediaVirtualTour MediaType = "virtual_tour"
	MediaOther       MediaType = "other"
)

// Price history event types
const (
	EventListed      = "listed"
	EventPriceChange = "price_change"
	EventSold        = "sold"
	EventPending     = "pending"
	EventDelisted    = "delisted"
	EventRelisted    = "relisted"
	EventOther       = "other"
)

// MaxMediaItems caps how many media entries a single listing keeps.
const MaxMediaItems = 50

var ErrIdentityAssigned = errors.New("listing identity already assigned")

// Date is a calendar date without time of day.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string {
	return d.Format("2006-01-02")
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return fmt.Errorf("parse date %q: %w", s, err)
	}
	d.Time = t
	return nil
}

type Address struct {
	Street     string `json:"street,omitempty"`
	Unit       string `json:"unit,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Full       string `json:"full,omitempty"`
}

// IsEmpty reports whether no address component is known.
func (a Address) IsEmpty() bool {
	return a.Street == "" && a.City == "" && a.State == "" && a.PostalCode == "" && a.Full == ""
}

// Usable reports whether the address pins a location: a street line, or a
// locality that is either a city plus state or a postal code.
func (a Address) Usable() bool {
	if a.Street != "" {
		return true
	}
	if a.City != "" && (a.State != "" || a.PostalCode != "") {
		return true
	}
	return false
}

// Line renders the address as a single line.
func (a Address) Line() string {
	street := a.Street
	if a.Unit != "" {
		street = strings.TrimSpace(street + " Unit " + a.Unit)
	}
	var parts []string
	if street != "" {
		parts = append(parts, street)
	}
	if a.City != "" {
		parts = append(parts, a.City)
	}
	region := strings.TrimSpace(a.State + " " + a.PostalCode)
	if region != "" {
		parts = append(parts, region)
	}
	if len(parts) == 0 {
		return a.Full
	}
	return strings.Join(parts, ", ")
}

type MediaItem struct {
	URL          string    `json:"url"`
	Type         MediaType `json:"type"`
	TypeRaw      string    `json:"type_raw,omitempty"`
	Caption      string    `json:"caption,omitempty"`
	DisplayOrder int       `json:"display_order"`
	IsPrimary    bool      `json:"is_primary"`
}

type AgentInfo struct {
	Name      string `json:"name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	Brokerage string `json:"brokerage,omitempty"`
	Role      string `json:"role,omitempty"`
}

type PriceHistoryEvent struct {
	Date      *Date    `json:"date,omitempty"`
	EventType string   `json:"event_type"`
	Price     *float64 `json:"price,omitempty"`
	Notes     string   `json:"notes,omitempty"`
}

type EngagementSignals struct {
	Views      *int `json:"views,omitempty"`
	Saves      *int `json:"saves,omitempty"`
	Shares     *int `json:"shares,omitempty"`
	DaysOnSite *int `json:"days_on_site,omitempty"`
}

func (e *EngagementSignals) IsEmpty() bool {
	return e == nil || (e.Views == nil && e.Saves == nil && e.Shares == nil && e.DaysOnSite == nil)
}

// MonthlyCosts is the estimated monthly payment breakdown shown on some
// listing pages.
type MonthlyCosts struct {
	PrincipalInterest *float64 `json:"principal_interest,omitempty"`
	MortgageInsurance *float64 `json:"mortgage_insurance,omitempty"`
	PropertyTaxes     *float64 `json:"property_taxes,omitempty"`
	HomeInsurance     *float64 `json:"home_insurance,omitempty"`
	HOAFees           *float64 `json:"hoa_fees,omitempty"`
	Utilities         *float64 `json:"utilities,omitempty"`
}

func (m *MonthlyCosts) IsEmpty() bool {
	return m == nil || (m.PrincipalInterest == nil && m.MortgageInsurance == nil &&
		m.PropertyTaxes == nil && m.HomeInsurance == nil && m.HOAFees == nil && m.Utilities == nil)
}

// CanonicalListing is the typed, source-independent form of one listing.
// Numeric attributes are pointers so absence stays distinct from zero.
type CanonicalListing struct {
	ListingID        string      `json:"listing_id"`
	PropertyID       string      `json:"property_id"`
	SourceID         string      `json:"source_id"`
	SourceURL        string      `json:"source_url"`
	CrawlMethod      CrawlMethod `json:"crawl_method"`
	ScrapedTimestamp time.Time   `json:"scraped_timestamp"`
	ExternalID       string      `json:"external_id,omitempty"`

	Address   Address  `json:"address"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	Beds             *float64     `json:"beds,omitempty"`
	Baths            *float64     `json:"baths,omitempty"`
	InteriorAreaSqFt *float64     `json:"interior_area_sqft,omitempty"`
	LotSizeSqFt      *float64     `json:"lot_size_sqft,omitempty"`
	YearBuilt        *int         `json:"year_built,omitempty"`
	PropertyType     PropertyType `json:"property_type,omitempty"`
	PropertyTypeRaw  string       `json:"property_type_raw,omitempty"`

	ListingType  ListingType   `json:"listing_type,omitempty"`
	Status       ListingStatus `json:"status,omitempty"`
	StatusRaw    string        `json:"status_raw,omitempty"`
	ListPrice    *float64      `json:"list_price,omitempty"`
	Currency     string        `json:"currency,omitempty"`
	PricePerSqFt *float64      `json:"price_per_sqft,omitempty"`
	ListDate     *Date         `json:"list_date,omitempty"`
	DaysOnMarket *int          `json:"days_on_market,omitempty"`

	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Features    map[string]any `json:"features,omitempty"`

	Media        []MediaItem         `json:"media,omitempty"`
	Agents       []AgentInfo         `json:"agents,omitempty"`
	PriceHistory []PriceHistoryEvent `json:"price_history,omitempty"`
	Engagement   *EngagementSignals  `json:"engagement,omitempty"`
	MonthlyCosts *MonthlyCosts       `json:"monthly_costs,omitempty"`

	LowConfidenceIdentity bool             `json:"low_confidence_identity"`
	Duplicate             DuplicateVerdict `json:"duplicate"`

	// NormalizationErrors are the raw values dropped while normalizing.
	NormalizationErrors []NormalizationError `json:"normalization_errors,omitempty"`

	// Provenance is kept for debugging and never written to tables.
	Provenance Provenance `json:"-"`
}

// SetIdentity assigns the listing and property ids. A listing id cannot be
// replaced once set.
func (l *CanonicalListing) SetIdentity(listingID, propertyID string) error {
	if l.ListingID != "" && l.ListingID != listingID {
		return fmt.Errorf("%w: %s", ErrIdentityAssigned, l.ListingID)
	}
	l.ListingID = listingID
	l.PropertyID = propertyID
	return nil
}

// HasCoordinates reports whether both latitude and longitude are known.
func (l *CanonicalListing) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}
