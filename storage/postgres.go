package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"listing_canon/models"
)

// PostgresStore mirrors the SQLite tables into Postgres. Every page is
// written in its own transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS properties (
		property_id UUID PRIMARY KEY,
		address_key TEXT,
		street TEXT,
		unit TEXT,
		city TEXT,
		state TEXT,
		postal_code TEXT,
		address_full TEXT,
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		property_type TEXT,
		property_type_raw TEXT,
		year_built INTEGER,
		lot_size_sqft DOUBLE PRECISION,
		interior_area_sqft DOUBLE PRECISION,
		beds DOUBLE PRECISION,
		baths DOUBLE PRECISION,
		first_seen_at TIMESTAMPTZ DEFAULT NOW(),
		last_seen_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS listings (
		listing_id UUID PRIMARY KEY,
		property_id UUID NOT NULL REFERENCES properties(property_id),
		source_id TEXT,
		source_url TEXT,
		external_id TEXT,
		crawl_method TEXT,
		scraped_at TIMESTAMPTZ,
		status TEXT,
		status_raw TEXT,
		listing_type TEXT,
		list_price DOUBLE PRECISION,
		currency TEXT,
		price_per_sqft DOUBLE PRECISION,
		list_date DATE,
		days_on_market INTEGER,
		title TEXT,
		description TEXT,
		beds DOUBLE PRECISION,
		baths DOUBLE PRECISION,
		interior_area_sqft DOUBLE PRECISION,
		features JSONB,
		monthly_costs JSONB,
		low_confidence_identity BOOLEAN DEFAULT FALSE,
		duplicate_status TEXT,
		duplicate_candidates TEXT[],
		duplicate_confidence DOUBLE PRECISION,
		normalization_errors JSONB
	);

	CREATE TABLE IF NOT EXISTS media (
		listing_id UUID NOT NULL,
		url TEXT NOT NULL,
		media_type TEXT,
		caption TEXT,
		display_order INTEGER,
		is_primary BOOLEAN,
		PRIMARY KEY (listing_id, url)
	);

	CREATE TABLE IF NOT EXISTS agents (
		id BIGSERIAL PRIMARY KEY,
		listing_id UUID NOT NULL,
		name TEXT,
		phone TEXT,
		email TEXT,
		brokerage TEXT,
		role TEXT
	);

	CREATE TABLE IF NOT EXISTS price_history (
		id BIGSERIAL PRIMARY KEY,
		listing_id UUID NOT NULL,
		event_date DATE,
		event_type TEXT,
		price DOUBLE PRECISION,
		notes TEXT
	);

	CREATE TABLE IF NOT EXISTS engagement (
		listing_id UUID PRIMARY KEY,
		views INTEGER,
		saves INTEGER,
		shares INTEGER,
		days_on_site INTEGER,
		captured_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS duplicate_links (
		listing_id UUID NOT NULL,
		candidate_id UUID NOT NULL,
		confidence DOUBLE PRECISION,
		PRIMARY KEY (listing_id, candidate_id)
	);

	CREATE TABLE IF NOT EXISTS rejections (
		source_url TEXT PRIMARY KEY,
		source_id TEXT,
		reasons TEXT[],
		warnings TEXT[],
		raw_field_bag JSONB,
		normalization_errors JSONB,
		fetched_at TIMESTAMPTZ,
		rejected_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_listings_property ON listings(property_id);
	CREATE INDEX IF NOT EXISTS idx_links_candidate ON duplicate_links(candidate_id);`)
	return err
}

// WriteGroup writes one page's rows in a single transaction.
func (s *PostgresStore) WriteGroup(ctx context.Context, g *models.TableGroup) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for i := range g.Properties {
			if err := upsertPropertyPG(ctx, tx, &g.Properties[i]); err != nil {
				return fmt.Errorf("upsert property: %w", err)
			}
		}
		for i := range g.Listings {
			if err := upsertListingPG(ctx, tx, &g.Listings[i]); err != nil {
				return fmt.Errorf("upsert listing: %w", err)
			}
		}

		batch := &pgx.Batch{}
		for _, m := range g.Media {
			batch.Queue(`
				INSERT INTO media (listing_id, url, media_type, caption, display_order, is_primary)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (listing_id, url) DO UPDATE SET
					media_type = EXCLUDED.media_type, caption = EXCLUDED.caption,
					display_order = EXCLUDED.display_order, is_primary = EXCLUDED.is_primary`,
				m.ListingID, m.URL, m.MediaType, m.Caption, m.DisplayOrder, m.IsPrimary)
		}
		for _, a := range g.Agents {
			batch.Queue(`
				INSERT INTO agents (listing_id, name, phone, email, brokerage, role)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				a.ListingID, a.Name, a.Phone, a.Email, a.Brokerage, a.Role)
		}
		for _, h := range g.PriceHistory {
			batch.Queue(`
				INSERT INTO price_history (listing_id, event_date, event_type, price, notes)
				VALUES ($1, $2, $3, $4, $5)`,
				h.ListingID, h.EventDate, h.EventType, h.Price, h.Notes)
		}
		for _, e := range g.Engagement {
			batch.Queue(`
				INSERT INTO engagement (listing_id, views, saves, shares, days_on_site, captured_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (listing_id) DO UPDATE SET
					views = EXCLUDED.views, saves = EXCLUDED.saves, shares = EXCLUDED.shares,
					days_on_site = EXCLUDED.days_on_site, captured_at = EXCLUDED.captured_at`,
				e.ListingID, e.Views, e.Saves, e.Shares, e.DaysOnSite, e.CapturedAt)
		}
		for _, d := range g.DuplicateLinks {
			batch.Queue(`
				INSERT INTO duplicate_links (listing_id, candidate_id, confidence)
				VALUES ($1, $2, $3)
				ON CONFLICT (listing_id, candidate_id) DO UPDATE SET confidence = EXCLUDED.confidence`,
				d.ListingID, d.CandidateID, d.Confidence)
		}
		for _, u := range g.VerdictUpdates {
			batch.Queue(`
				UPDATE listings SET duplicate_status = $1, duplicate_candidates = $2, duplicate_confidence = $3
				WHERE listing_id = $4`,
				string(u.Verdict.Status), u.Verdict.CandidateIDs, u.Verdict.Confidence, u.ListingID)
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func upsertPropertyPG(ctx context.Context, tx pgx.Tx, p *models.PropertyRow) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO properties (property_id, address_key, street, unit, city, state, postal_code, address_full,
			latitude, longitude, property_type, property_type_raw, year_built, lot_size_sqft,
			interior_area_sqft, beds, baths)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (property_id) DO UPDATE SET
			street = COALESCE(NULLIF(EXCLUDED.street, ''), properties.street),
			unit = COALESCE(NULLIF(EXCLUDED.unit, ''), properties.unit),
			city = COALESCE(NULLIF(EXCLUDED.city, ''), properties.city),
			state = COALESCE(NULLIF(EXCLUDED.state, ''), properties.state),
			postal_code = COALESCE(NULLIF(EXCLUDED.postal_code, ''), properties.postal_code),
			address_full = COALESCE(NULLIF(EXCLUDED.address_full, ''), properties.address_full),
			latitude = COALESCE(EXCLUDED.latitude, properties.latitude),
			longitude = COALESCE(EXCLUDED.longitude, properties.longitude),
			property_type = COALESCE(NULLIF(EXCLUDED.property_type, ''), properties.property_type),
			property_type_raw = COALESCE(NULLIF(EXCLUDED.property_type_raw, ''), properties.property_type_raw),
			year_built = COALESCE(EXCLUDED.year_built, properties.year_built),
			lot_size_sqft = COALESCE(EXCLUDED.lot_size_sqft, properties.lot_size_sqft),
			interior_area_sqft = COALESCE(EXCLUDED.interior_area_sqft, properties.interior_area_sqft),
			beds = COALESCE(EXCLUDED.beds, properties.beds),
			baths = COALESCE(EXCLUDED.baths, properties.baths),
			last_seen_at = NOW()`,
		p.PropertyID, p.AddressKey, p.Street, p.Unit, p.City, p.State, p.PostalCode, p.AddressFull,
		p.Latitude, p.Longitude, p.PropertyType, p.PropertyTypeRaw, p.YearBuilt, p.LotSizeSqFt,
		p.InteriorAreaSqFt, p.Beds, p.Baths)
	return err
}

func upsertListingPG(ctx context.Context, tx pgx.Tx, l *models.ListingRow) error {
	for _, q := range []string{
		`DELETE FROM agents WHERE listing_id = $1`,
		`DELETE FROM price_history WHERE listing_id = $1`,
		`DELETE FROM media WHERE listing_id = $1`,
		`DELETE FROM engagement WHERE listing_id = $1`,
		`DELETE FROM duplicate_links WHERE listing_id = $1 OR candidate_id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, l.ListingID); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM rejections WHERE source_url = $1`, l.SourceURL); err != nil {
		return err
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO listings (listing_id, property_id, source_id, source_url, external_id, crawl_method,
			scraped_at, status, status_raw, listing_type, list_price, currency, price_per_sqft, list_date,
			days_on_market, title, description, beds, baths, interior_area_sqft, features, monthly_costs,
			low_confidence_identity, duplicate_status, duplicate_candidates, duplicate_confidence, normalization_errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27)
		ON CONFLICT (listing_id) DO UPDATE SET
			property_id = EXCLUDED.property_id,
			source_url = EXCLUDED.source_url,
			external_id = EXCLUDED.external_id,
			crawl_method = EXCLUDED.crawl_method,
			scraped_at = EXCLUDED.scraped_at,
			status = EXCLUDED.status,
			status_raw = EXCLUDED.status_raw,
			listing_type = EXCLUDED.listing_type,
			list_price = EXCLUDED.list_price,
			currency = EXCLUDED.currency,
			price_per_sqft = EXCLUDED.price_per_sqft,
			list_date = EXCLUDED.list_date,
			days_on_market = EXCLUDED.days_on_market,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			beds = EXCLUDED.beds,
			baths = EXCLUDED.baths,
			interior_area_sqft = EXCLUDED.interior_area_sqft,
			features = EXCLUDED.features,
			monthly_costs = EXCLUDED.monthly_costs,
			low_confidence_identity = EXCLUDED.low_confidence_identity,
			duplicate_status = EXCLUDED.duplicate_status,
			duplicate_candidates = EXCLUDED.duplicate_candidates,
			duplicate_confidence = EXCLUDED.duplicate_confidence,
			normalization_errors = EXCLUDED.normalization_errors`,
		l.ListingID, l.PropertyID, l.SourceID, l.SourceURL, l.ExternalID, l.CrawlMethod,
		l.ScrapedAt, l.Status, l.StatusRaw, l.ListingType, l.ListPrice, l.Currency, l.PricePerSqFt, l.ListDate,
		l.DaysOnMarket, l.Title, l.Description, l.Beds, l.Baths, l.InteriorAreaSqFt,
		jsonb(l.Features), jsonb(l.MonthlyCosts),
		l.LowConfidenceIdentity, l.DuplicateStatus, l.DuplicateCandidates, l.DuplicateConfidence,
		jsonb(l.NormalizationErrors))
	return err
}

// WriteRejection also removes listings stored for the same page and those
// named in r.Withdrawn.
func (s *PostgresStore) WriteRejection(ctx context.Context, r *models.RejectionEntry) error {
	bag, err := json.Marshal(r.RawFieldBag)
	if err != nil {
		return fmt.Errorf("marshal raw field bag: %w", err)
	}
	nerrs, err := json.Marshal(r.NormalizationErrors)
	if err != nil {
		return err
	}
	reasons := make([]string, len(r.Reasons))
	for i, reason := range r.Reasons {
		reasons[i] = string(reason)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT listing_id::text FROM listings WHERE source_url = $1`, r.SourceURL)
		if err != nil {
			return fmt.Errorf("find withdrawn listings: %w", err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("find withdrawn listings: %w", err)
		}
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			seen[id] = true
		}
		for _, id := range r.Withdrawn {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		for _, id := range ids {
			if err := deleteListingPG(ctx, tx, id); err != nil {
				return fmt.Errorf("delete listing %s: %w", id, err)
			}
		}
		for _, u := range r.VerdictUpdates {
			if _, err := tx.Exec(ctx, `
				UPDATE listings SET duplicate_status = $1, duplicate_candidates = $2, duplicate_confidence = $3
				WHERE listing_id = $4`,
				string(u.Verdict.Status), u.Verdict.CandidateIDs, u.Verdict.Confidence, u.ListingID); err != nil {
				return fmt.Errorf("update verdict %s: %w", u.ListingID, err)
			}
		}
		return insertRejectionPG(ctx, tx, r, reasons, bag, nerrs)
	})
}

func insertRejectionPG(ctx context.Context, tx pgx.Tx, r *models.RejectionEntry, reasons []string, bag, nerrs []byte) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO rejections (source_url, source_id, reasons, warnings, raw_field_bag, normalization_errors,
			fetched_at, rejected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_url) DO UPDATE SET
			source_id = EXCLUDED.source_id,
			reasons = EXCLUDED.reasons,
			warnings = EXCLUDED.warnings,
			raw_field_bag = EXCLUDED.raw_field_bag,
			normalization_errors = EXCLUDED.normalization_errors,
			fetched_at = EXCLUDED.fetched_at,
			rejected_at = EXCLUDED.rejected_at`,
		r.SourceURL, r.SourceID, reasons, r.Warnings, string(bag), string(nerrs), r.FetchedAt, r.RejectedAt)
	return err
}

func deleteListingPG(ctx context.Context, tx pgx.Tx, listingID string) error {
	for _, q := range []string{
		`DELETE FROM agents WHERE listing_id = $1`,
		`DELETE FROM price_history WHERE listing_id = $1`,
		`DELETE FROM media WHERE listing_id = $1`,
		`DELETE FROM engagement WHERE listing_id = $1`,
		`DELETE FROM duplicate_links WHERE listing_id = $1 OR candidate_id = $1`,
		`DELETE FROM listings WHERE listing_id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, listingID); err != nil {
			return err
		}
	}
	return nil
}

func jsonb(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
