package models

import (
	"encoding/json"
	"time"
)

// ListingRow is one row of the listings table.
type ListingRow struct {
	ListingID             string          `json:"listing_id" db:"listing_id"`
	PropertyID            string          `json:"property_id" db:"property_id"`
	SourceID              string          `json:"source_id" db:"source_id"`
	SourceURL             string          `json:"source_url" db:"source_url"`
	ExternalID            string          `json:"external_id" db:"external_id"`
	CrawlMethod           string          `json:"crawl_method" db:"crawl_method"`
	ScrapedAt             time.Time       `json:"scraped_timestamp" db:"scraped_at"`
	Status                string          `json:"status" db:"status"`
	StatusRaw             string          `json:"status_raw" db:"status_raw"`
	ListingType           string          `json:"listing_type" db:"listing_type"`
	ListPrice             *float64        `json:"list_price" db:"list_price"`
	Currency              string          `json:"currency" db:"currency"`
	PricePerSqFt          *float64        `json:"price_per_sqft" db:"price_per_sqft"`
	ListDate              *string         `json:"list_date" db:"list_date"`
	DaysOnMarket          *int            `json:"days_on_market" db:"days_on_market"`
	Title                 string          `json:"title" db:"title"`
	Description           string          `json:"description" db:"description"`
	Beds                  *float64        `json:"beds" db:"beds"`
	Baths                 *float64        `json:"baths" db:"baths"`
	InteriorAreaSqFt      *float64        `json:"interior_area_sqft" db:"interior_area_sqft"`
	Features              json.RawMessage `json:"features" db:"features"`
	MonthlyCosts          json.RawMessage `json:"monthly_costs" db:"monthly_costs"`
	LowConfidenceIdentity bool            `json:"low_confidence_identity" db:"low_confidence_identity"`
	DuplicateStatus       string          `json:"duplicate_status" db:"duplicate_status"`
	DuplicateCandidates   []string        `json:"duplicate_candidates" db:"duplicate_candidates"`
	DuplicateConfidence   float64         `json:"duplicate_confidence" db:"duplicate_confidence"`
	NormalizationErrors   json.RawMessage `json:"normalization_errors,omitempty" db:"normalization_errors"`
}

// PropertyRow is one row of the properties table.
type PropertyRow struct {
	PropertyID       string   `json:"property_id" db:"property_id"`
	AddressKey       string   `json:"address_key" db:"address_key"`
	Street           string   `json:"street" db:"street"`
	Unit             string   `json:"unit" db:"unit"`
	City             string   `json:"city" db:"city"`
	State            string   `json:"state" db:"state"`
	PostalCode       string   `json:"postal_code" db:"postal_code"`
	AddressFull      string   `json:"address_full" db:"address_full"`
	Latitude         *float64 `json:"latitude" db:"latitude"`
	Longitude        *float64 `json:"longitude" db:"longitude"`
	PropertyType     string   `json:"property_type" db:"property_type"`
	PropertyTypeRaw  string   `json:"property_type_raw" db:"property_type_raw"`
	YearBuilt        *int     `json:"year_built" db:"year_built"`
	LotSizeSqFt      *float64 `json:"lot_size_sqft" db:"lot_size_sqft"`
	InteriorAreaSqFt *float64 `json:"interior_area_sqft" db:"interior_area_sqft"`
	Beds             *float64 `json:"beds" db:"beds"`
	Baths            *float64 `json:"baths" db:"baths"`
}

type MediaRow struct {
	ListingID    string `json:"listing_id" db:"listing_id"`
	URL          string `json:"url" db:"url"`
	MediaType    string `json:"media_type" db:"media_type"`
	Caption      string `json:"caption" db:"caption"`
	DisplayOrder int    `json:"display_order" db:"display_order"`
	IsPrimary    bool   `json:"is_primary" db:"is_primary"`
}

type AgentRow struct {
	ListingID string `json:"listing_id" db:"listing_id"`
	Name      string `json:"name" db:"name"`
	Phone     string `json:"phone" db:"phone"`
	Email     string `json:"email" db:"email"`
	Brokerage string `json:"brokerage" db:"brokerage"`
	Role      string `json:"role" db:"role"`
}

type PriceHistoryRow struct {
	ListingID string   `json:"listing_id" db:"listing_id"`
	EventDate *string  `json:"event_date" db:"event_date"`
	EventType string   `json:"event_type" db:"event_type"`
	Price     *float64 `json:"price" db:"price"`
	Notes     string   `json:"notes" db:"notes"`
}

type EngagementRow struct {
	ListingID  string    `json:"listing_id" db:"listing_id"`
	Views      *int      `json:"views" db:"views"`
	Saves      *int      `json:"saves" db:"saves"`
	Shares     *int      `json:"shares" db:"shares"`
	DaysOnSite *int      `json:"days_on_site" db:"days_on_site"`
	CapturedAt time.Time `json:"captured_at" db:"captured_at"`
}

// DuplicateLink is one direction of a possible-duplicate pair. Links are
// always emitted in both directions.
type DuplicateLink struct {
	ListingID   string  `json:"listing_id" db:"listing_id"`
	CandidateID string  `json:"candidate_id" db:"candidate_id"`
	Confidence  float64 `json:"confidence" db:"confidence"`
}

// TableGroup is the relational output for one accepted page. Sinks write a
// group as a single unit.
type TableGroup struct {
	Listings       []ListingRow      `json:"listings"`
	Properties     []PropertyRow     `json:"properties"`
	Media          []MediaRow        `json:"media"`
	Agents         []AgentRow        `json:"agents"`
	PriceHistory   []PriceHistoryRow `json:"price_history"`
	Engagement     []EngagementRow   `json:"engagement"`
	DuplicateLinks []DuplicateLink   `json:"duplicate_links"`
	// VerdictUpdates refresh the duplicate columns of listings stored
	// earlier whose links changed because of this one.
	VerdictUpdates []VerdictUpdate   `json:"verdict_updates,omitempty"`
}

type VerdictUpdate struct {
	ListingID string           `json:"listing_id"`
	Verdict   DuplicateVerdict `json:"verdict"`
}

// Counts returns the number of rows per table.
func (g *TableGroup) Counts() map[string]int {
	return map[string]int{
		"listings":        len(g.Listings),
		"properties":      len(g.Properties),
		"media":           len(g.Media),
		"agents":          len(g.Agents),
		"price_history":   len(g.PriceHistory),
		"engagement":      len(g.Engagement),
		"duplicate_links": len(g.DuplicateLinks),
	}
}
