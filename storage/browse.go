package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"listing_canon/models"
)

// SourceStats summarizes what the store holds for one source.
type SourceStats struct {
	SourceID   string
	Listings   int
	Duplicates int
	Rejections int
	LastSeenAt *time.Time
}

// ListingSummary is a listing joined with its property, for browsing.
type ListingSummary struct {
	ListingID           string
	PropertyID          string
	SourceID            string
	SourceURL           string
	Address             string
	City                string
	PropertyType        string
	Status              string
	ListPrice           *float64
	Currency            string
	Beds                *float64
	Baths               *float64
	InteriorAreaSqFt    *float64
	ScrapedAt           time.Time
	LowConfidence       bool
	DuplicateStatus     string
	DuplicateConfidence float64
	Description         string
}

// SourceStats returns per-source totals ordered by source id.
func (s *SQLiteStore) SourceStats(ctx context.Context) ([]SourceStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id,
			SUM(listings), SUM(duplicates), SUM(rejections), MAX(last_seen)
		FROM (
			SELECT COALESCE(source_id, '') AS source_id, 1 AS listings,
				CASE WHEN duplicate_status = ? THEN 1 ELSE 0 END AS duplicates,
				0 AS rejections, scraped_at AS last_seen
			FROM listings
			UNION ALL
			SELECT COALESCE(source_id, ''), 0, 0, 1, NULL FROM rejections
		)
		GROUP BY source_id ORDER BY source_id`, string(models.DuplicatePossible))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SourceStats
	for rows.Next() {
		var st SourceStats
		var last sql.NullString
		if err := rows.Scan(&st.SourceID, &st.Listings, &st.Duplicates, &st.Rejections, &last); err != nil {
			return nil, err
		}
		if t, ok := parseSQLiteTime(last.String); last.Valid && ok {
			st.LastSeenAt = &t
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ListListings returns one page of listings, newest first, and the total
// number of listings matching the filter.
func (s *SQLiteStore) ListListings(ctx context.Context, limit, offset int, duplicatesOnly bool) ([]ListingSummary, int, error) {
	where := ""
	args := []any{}
	if duplicatesOnly {
		where = "WHERE l.duplicate_status = ?"
		args = append(args, string(models.DuplicatePossible))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM listings l "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count listings: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT l.listing_id, l.property_id, COALESCE(l.source_id, ''), COALESCE(l.source_url, ''),
			COALESCE(p.address_full, p.street, ''), COALESCE(p.city, ''), COALESCE(p.property_type, ''),
			COALESCE(l.status, ''), l.list_price, COALESCE(l.currency, ''), l.beds, l.baths, l.interior_area_sqft,
			l.scraped_at, l.low_confidence_identity, COALESCE(l.duplicate_status, ''),
			COALESCE(l.duplicate_confidence, 0), COALESCE(l.description, '')
		FROM listings l LEFT JOIN properties p ON p.property_id = l.property_id
		`+where+`
		ORDER BY l.scraped_at DESC, l.listing_id
		LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []ListingSummary
	for rows.Next() {
		var l ListingSummary
		if err := rows.Scan(&l.ListingID, &l.PropertyID, &l.SourceID, &l.SourceURL,
			&l.Address, &l.City, &l.PropertyType,
			&l.Status, &l.ListPrice, &l.Currency, &l.Beds, &l.Baths, &l.InteriorAreaSqFt,
			&l.ScrapedAt, &l.LowConfidence, &l.DuplicateStatus,
			&l.DuplicateConfidence, &l.Description); err != nil {
			return nil, 0, err
		}
		out = append(out, l)
	}
	return out, total, rows.Err()
}

// DuplicatesOf returns the listings linked to listingID as possible
// duplicates, strongest first.
func (s *SQLiteStore) DuplicatesOf(ctx context.Context, listingID string) ([]models.DuplicateLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT listing_id, candidate_id, confidence FROM duplicate_links
		WHERE listing_id = ? ORDER BY confidence DESC, candidate_id`, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []models.DuplicateLink
	for rows.Next() {
		var d models.DuplicateLink
		if err := rows.Scan(&d.ListingID, &d.CandidateID, &d.Confidence); err != nil {
			return nil, err
		}
		links = append(links, d)
	}
	return links, rows.Err()
}

// RecentLogs returns the newest run log lines. An empty level returns every
// level.
func (s *SQLiteStore) RecentLogs(limit int, level models.LogLevel) ([]models.RunLog, error) {
	query := `SELECT id, run_id, timestamp, level, message, COALESCE(source_id, '') FROM batch_logs`
	args := []any{}
	if level != "" {
		query += " WHERE level = ?"
		args = append(args, string(level))
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.RunLog
	for rows.Next() {
		var l models.RunLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Message, &l.SourceID); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// parseSQLiteTime reads a timestamp the sqlite3 driver wrote. Aggregates
// like MAX() lose the column type, so the driver hands back text.
func parseSQLiteTime(s string) (time.Time, bool) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05Z07:00",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
