package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"listing_canon/identity"
	"listing_canon/models"
)

// SQLiteStore is the default RecordSink. It also keeps the rejection log,
// batch bookkeeping and the run log.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS properties (
		property_id TEXT PRIMARY KEY,
		address_key TEXT,
		street TEXT,
		unit TEXT,
		city TEXT,
		state TEXT,
		postal_code TEXT,
		address_full TEXT,
		latitude REAL,
		longitude REAL,
		property_type TEXT,
		property_type_raw TEXT,
		year_built INTEGER,
		lot_size_sqft REAL,
		interior_area_sqft REAL,
		beds REAL,
		baths REAL,
		first_seen_at DATETIME,
		last_seen_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS listings (
		listing_id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL,
		source_id TEXT,
		source_url TEXT,
		external_id TEXT,
		crawl_method TEXT,
		scraped_at DATETIME,
		status TEXT,
		status_raw TEXT,
		listing_type TEXT,
		list_price REAL,
		currency TEXT,
		price_per_sqft REAL,
		list_date TEXT,
		days_on_market INTEGER,
		title TEXT,
		description TEXT,
		beds REAL,
		baths REAL,
		interior_area_sqft REAL,
		features JSON,
		monthly_costs JSON,
		low_confidence_identity BOOLEAN DEFAULT FALSE,
		duplicate_status TEXT,
		duplicate_candidates JSON,
		duplicate_confidence REAL,
		normalization_errors JSON,
		FOREIGN KEY (property_id) REFERENCES properties(property_id)
	);

	CREATE TABLE IF NOT EXISTS media (
		listing_id TEXT NOT NULL,
		url TEXT NOT NULL,
		media_type TEXT,
		caption TEXT,
		display_order INTEGER,
		is_primary BOOLEAN,
		PRIMARY KEY (listing_id, url)
	);

	CREATE TABLE IF NOT EXISTS media_archive (
		url TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'pending',
		archive_key TEXT,
		content_hash TEXT,
		size_bytes INTEGER,
		attempts INTEGER DEFAULT 0,
		last_error TEXT,
		updated_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS agents (
		id INTEGER PRIMARY KEY,
		listing_id TEXT NOT NULL,
		name TEXT,
		phone TEXT,
		email TEXT,
		brokerage TEXT,
		role TEXT
	);

	CREATE TABLE IF NOT EXISTS price_history (
		id INTEGER PRIMARY KEY,
		listing_id TEXT NOT NULL,
		event_date TEXT,
		event_type TEXT,
		price REAL,
		notes TEXT
	);

	CREATE TABLE IF NOT EXISTS engagement (
		listing_id TEXT PRIMARY KEY,
		views INTEGER,
		saves INTEGER,
		shares INTEGER,
		days_on_site INTEGER,
		captured_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS duplicate_links (
		listing_id TEXT NOT NULL,
		candidate_id TEXT NOT NULL,
		confidence REAL,
		PRIMARY KEY (listing_id, candidate_id)
	);

	CREATE TABLE IF NOT EXISTS rejections (
		source_url TEXT PRIMARY KEY,
		source_id TEXT,
		reasons JSON,
		warnings JSON,
		raw_field_bag JSON,
		normalization_errors JSON,
		fetched_at DATETIME,
		rejected_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS batch_runs (
		id INTEGER PRIMARY KEY,
		run_uuid TEXT,
		input TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		pages_seen INTEGER DEFAULT 0,
		accepted INTEGER DEFAULT 0,
		rejected INTEGER DEFAULT 0,
		duplicates INTEGER DEFAULT 0,
		fetch_errors INTEGER DEFAULT 0,
		errors_count INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS batch_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		source_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_listings_property ON listings(property_id);
	CREATE INDEX IF NOT EXISTS idx_listings_source_url ON listings(source_url);
	CREATE INDEX IF NOT EXISTS idx_properties_postal ON properties(postal_code);
	CREATE INDEX IF NOT EXISTS idx_agents_listing ON agents(listing_id);
	CREATE INDEX IF NOT EXISTS idx_history_listing ON price_history(listing_id);
	CREATE INDEX IF NOT EXISTS idx_links_candidate ON duplicate_links(candidate_id);
	CREATE INDEX IF NOT EXISTS idx_rejections_time ON rejections(rejected_at);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON batch_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON batch_runs(status, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// WriteGroup replaces everything stored for the group's listing inside one
// transaction.
func (s *SQLiteStore) WriteGroup(ctx context.Context, g *models.TableGroup) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for i := range g.Properties {
		if err := upsertPropertySQLite(ctx, tx, &g.Properties[i]); err != nil {
			return fmt.Errorf("upsert property: %w", err)
		}
	}
	for i := range g.Listings {
		l := &g.Listings[i]
		if err := clearListingSQLite(ctx, tx, l); err != nil {
			return fmt.Errorf("clear listing %s: %w", l.ListingID, err)
		}
		if err := upsertListingSQLite(ctx, tx, l); err != nil {
			return fmt.Errorf("upsert listing: %w", err)
		}
	}

	for _, m := range g.Media {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO media (listing_id, url, media_type, caption, display_order, is_primary)
			VALUES (?, ?, ?, ?, ?, ?)`,
			m.ListingID, m.URL, m.MediaType, m.Caption, m.DisplayOrder, m.IsPrimary); err != nil {
			return fmt.Errorf("insert media: %w", err)
		}
	}
	for _, a := range g.Agents {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO agents (listing_id, name, phone, email, brokerage, role)
			VALUES (?, ?, ?, ?, ?, ?)`,
			a.ListingID, a.Name, a.Phone, a.Email, a.Brokerage, a.Role); err != nil {
			return fmt.Errorf("insert agent: %w", err)
		}
	}
	for _, h := range g.PriceHistory {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO price_history (listing_id, event_date, event_type, price, notes)
			VALUES (?, ?, ?, ?, ?)`,
			h.ListingID, h.EventDate, h.EventType, h.Price, h.Notes); err != nil {
			return fmt.Errorf("insert price history: %w", err)
		}
	}
	for _, e := range g.Engagement {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO engagement (listing_id, views, saves, shares, days_on_site, captured_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			e.ListingID, e.Views, e.Saves, e.Shares, e.DaysOnSite, e.CapturedAt); err != nil {
			return fmt.Errorf("insert engagement: %w", err)
		}
	}
	for _, d := range g.DuplicateLinks {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO duplicate_links (listing_id, candidate_id, confidence)
			VALUES (?, ?, ?)`,
			d.ListingID, d.CandidateID, d.Confidence); err != nil {
			return fmt.Errorf("insert duplicate link: %w", err)
		}
	}
	for _, u := range g.VerdictUpdates {
		candidates, _ := json.Marshal(u.Verdict.CandidateIDs)
		if _, err := tx.ExecContext(ctx, `
			UPDATE listings SET duplicate_status = ?, duplicate_candidates = ?, duplicate_confidence = ?
			WHERE listing_id = ?`,
			u.Verdict.Status, string(candidates), u.Verdict.Confidence, u.ListingID); err != nil {
			return fmt.Errorf("update verdict %s: %w", u.ListingID, err)
		}
	}

	return tx.Commit()
}

func upsertPropertySQLite(ctx context.Context, tx *sql.Tx, p *models.PropertyRow) error {
	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO properties (property_id, address_key, street, unit, city, state, postal_code, address_full,
			latitude, longitude, property_type, property_type_raw, year_built, lot_size_sqft,
			interior_area_sqft, beds, baths, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(property_id) DO UPDATE SET
			street = COALESCE(NULLIF(excluded.street, ''), street),
			unit = COALESCE(NULLIF(excluded.unit, ''), unit),
			city = COALESCE(NULLIF(excluded.city, ''), city),
			state = COALESCE(NULLIF(excluded.state, ''), state),
			postal_code = COALESCE(NULLIF(excluded.postal_code, ''), postal_code),
			address_full = COALESCE(NULLIF(excluded.address_full, ''), address_full),
			latitude = COALESCE(excluded.latitude, latitude),
			longitude = COALESCE(excluded.longitude, longitude),
			property_type = COALESCE(NULLIF(excluded.property_type, ''), property_type),
			property_type_raw = COALESCE(NULLIF(excluded.property_type_raw, ''), property_type_raw),
			year_built = COALESCE(excluded.year_built, year_built),
			lot_size_sqft = COALESCE(excluded.lot_size_sqft, lot_size_sqft),
			interior_area_sqft = COALESCE(excluded.interior_area_sqft, interior_area_sqft),
			beds = COALESCE(excluded.beds, beds),
			baths = COALESCE(excluded.baths, baths),
			last_seen_at = excluded.last_seen_at`,
		p.PropertyID, p.AddressKey, p.Street, p.Unit, p.City, p.State, p.PostalCode, p.AddressFull,
		p.Latitude, p.Longitude, p.PropertyType, p.PropertyTypeRaw, p.YearBuilt, p.LotSizeSqFt,
		p.InteriorAreaSqFt, p.Beds, p.Baths, now, now)
	return err
}

// clearListingSQLite removes the child rows and links of a listing so a
// re-crawl replaces them instead of appending. A page that is now accepted
// also leaves the rejection log.
func clearListingSQLite(ctx context.Context, tx *sql.Tx, l *models.ListingRow) error {
	stmts := []struct {
		query string
		args  []any
	}{
		{`DELETE FROM media WHERE listing_id = ?`, []any{l.ListingID}},
		{`DELETE FROM agents WHERE listing_id = ?`, []any{l.ListingID}},
		{`DELETE FROM price_history WHERE listing_id = ?`, []any{l.ListingID}},
		{`DELETE FROM engagement WHERE listing_id = ?`, []any{l.ListingID}},
		{`DELETE FROM duplicate_links WHERE listing_id = ? OR candidate_id = ?`, []any{l.ListingID, l.ListingID}},
		{`DELETE FROM rejections WHERE source_url = ?`, []any{l.SourceURL}},
	}
	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			return err
		}
	}
	return nil
}

func upsertListingSQLite(ctx context.Context, tx *sql.Tx, l *models.ListingRow) error {
	candidates, err := json.Marshal(l.DuplicateCandidates)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO listings (listing_id, property_id, source_id, source_url, external_id, crawl_method,
			scraped_at, status, status_raw, listing_type, list_price, currency, price_per_sqft, list_date,
			days_on_market, title, description, beds, baths, interior_area_sqft, features, monthly_costs,
			low_confidence_identity, duplicate_status, duplicate_candidates, duplicate_confidence, normalization_errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ListingID, l.PropertyID, l.SourceID, l.SourceURL, l.ExternalID, l.CrawlMethod,
		l.ScrapedAt, l.Status, l.StatusRaw, l.ListingType, l.ListPrice, l.Currency, l.PricePerSqFt, l.ListDate,
		l.DaysOnMarket, l.Title, l.Description, l.Beds, l.Baths, l.InteriorAreaSqFt,
		jsonText(l.Features), jsonText(l.MonthlyCosts),
		l.LowConfidenceIdentity, l.DuplicateStatus, string(candidates), l.DuplicateConfidence,
		jsonText(l.NormalizationErrors))
	return err
}

// WriteRejection records a rejected page. A page rejected again replaces
// its previous entry. Listings stored for the same page, and those named in
// r.Withdrawn, are removed in the same transaction.
func (s *SQLiteStore) WriteRejection(ctx context.Context, r *models.RejectionEntry) error {
	reasons, err := json.Marshal(r.Reasons)
	if err != nil {
		return err
	}
	warnings, err := json.Marshal(r.Warnings)
	if err != nil {
		return err
	}
	bag, err := json.Marshal(r.RawFieldBag)
	if err != nil {
		return fmt.Errorf("marshal raw field bag: %w", err)
	}
	nerrs, err := json.Marshal(r.NormalizationErrors)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	ids, err := withdrawnIDsSQLite(ctx, tx, r)
	if err != nil {
		return fmt.Errorf("find withdrawn listings: %w", err)
	}
	for _, id := range ids {
		if err := deleteListingSQLite(ctx, tx, id); err != nil {
			return fmt.Errorf("delete listing %s: %w", id, err)
		}
	}
	for _, u := range r.VerdictUpdates {
		candidates, _ := json.Marshal(u.Verdict.CandidateIDs)
		if _, err := tx.ExecContext(ctx, `
			UPDATE listings SET duplicate_status = ?, duplicate_candidates = ?, duplicate_confidence = ?
			WHERE listing_id = ?`,
			u.Verdict.Status, string(candidates), u.Verdict.Confidence, u.ListingID); err != nil {
			return fmt.Errorf("update verdict %s: %w", u.ListingID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO rejections (source_url, source_id, reasons, warnings, raw_field_bag,
			normalization_errors, fetched_at, rejected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SourceURL, r.SourceID, string(reasons), string(warnings), string(bag), string(nerrs), r.FetchedAt, r.RejectedAt); err != nil {
		return fmt.Errorf("insert rejection: %w", err)
	}
	return tx.Commit()
}

func withdrawnIDsSQLite(ctx context.Context, tx *sql.Tx, r *models.RejectionEntry) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	rows, err := tx.QueryContext(ctx, `SELECT listing_id FROM listings WHERE source_url = ?`, r.SourceURL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		add(id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range r.Withdrawn {
		add(id)
	}
	return ids, nil
}

func deleteListingSQLite(ctx context.Context, tx *sql.Tx, listingID string) error {
	stmts := []struct {
		query string
		args  []any
	}{
		{`DELETE FROM media WHERE listing_id = ?`, []any{listingID}},
		{`DELETE FROM agents WHERE listing_id = ?`, []any{listingID}},
		{`DELETE FROM price_history WHERE listing_id = ?`, []any{listingID}},
		{`DELETE FROM engagement WHERE listing_id = ?`, []any{listingID}},
		{`DELETE FROM duplicate_links WHERE listing_id = ? OR candidate_id = ?`, []any{listingID, listingID}},
		{`DELETE FROM listings WHERE listing_id = ?`, []any{listingID}},
	}
	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			return err
		}
	}
	return nil
}

// ListRejections returns the most recent rejections first.
func (s *SQLiteStore) ListRejections(ctx context.Context, limit int) ([]models.RejectionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_url, source_id, reasons, warnings, raw_field_bag, normalization_errors, fetched_at, rejected_at
		FROM rejections ORDER BY rejected_at DESC, source_url LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RejectionEntry
	for rows.Next() {
		var r models.RejectionEntry
		var sourceID, reasons, warnings, bag, nerrs sql.NullString
		if err := rows.Scan(&r.SourceURL, &sourceID, &reasons, &warnings, &bag, &nerrs, &r.FetchedAt, &r.RejectedAt); err != nil {
			return nil, err
		}
		r.SourceID = sourceID.String
		if err := unmarshalColumn(reasons, &r.Reasons); err != nil {
			return nil, fmt.Errorf("reasons for %s: %w", r.SourceURL, err)
		}
		if err := unmarshalColumn(warnings, &r.Warnings); err != nil {
			return nil, err
		}
		if err := unmarshalColumn(bag, &r.RawFieldBag); err != nil {
			return nil, err
		}
		if err := unmarshalColumn(nerrs, &r.NormalizationErrors); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetListing returns the stored listing row, or nil if it does not exist.
func (s *SQLiteStore) GetListing(ctx context.Context, listingID string) (*models.ListingRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT listing_id, property_id, source_id, source_url, external_id, crawl_method, scraped_at,
			status, status_raw, listing_type, list_price, currency, price_per_sqft, list_date, days_on_market,
			title, description, beds, baths, interior_area_sqft, features, monthly_costs,
			low_confidence_identity, duplicate_status, duplicate_candidates, duplicate_confidence,
			normalization_errors
		FROM listings WHERE listing_id = ?`, listingID)

	var l models.ListingRow
	var features, costs, candidates, nerrs sql.NullString
	err := row.Scan(&l.ListingID, &l.PropertyID, &l.SourceID, &l.SourceURL, &l.ExternalID, &l.CrawlMethod, &l.ScrapedAt,
		&l.Status, &l.StatusRaw, &l.ListingType, &l.ListPrice, &l.Currency, &l.PricePerSqFt, &l.ListDate, &l.DaysOnMarket,
		&l.Title, &l.Description, &l.Beds, &l.Baths, &l.InteriorAreaSqFt, &features, &costs,
		&l.LowConfidenceIdentity, &l.DuplicateStatus, &candidates, &l.DuplicateConfidence, &nerrs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if features.Valid {
		l.Features = json.RawMessage(features.String)
	}
	if costs.Valid {
		l.MonthlyCosts = json.RawMessage(costs.String)
	}
	if nerrs.Valid {
		l.NormalizationErrors = json.RawMessage(nerrs.String)
	}
	if err := unmarshalColumn(candidates, &l.DuplicateCandidates); err != nil {
		return nil, err
	}
	return &l, nil
}

// LoadIndex reads every stored listing and duplicate link so a new run can
// detect duplicates of listings seen in earlier runs.
func (s *SQLiteStore) LoadIndex(ctx context.Context) ([]identity.Entry, []models.DuplicateLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.listing_id, l.property_id, l.source_id, COALESCE(p.street, ''), COALESCE(p.unit, ''),
			COALESCE(p.city, ''), COALESCE(p.state, ''), COALESCE(p.postal_code, ''),
			l.list_price, l.beds, l.baths, l.interior_area_sqft, l.source_url
		FROM listings l LEFT JOIN properties p ON p.property_id = l.property_id`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var entries []identity.Entry
	for rows.Next() {
		var l models.CanonicalListing
		if err := rows.Scan(&l.ListingID, &l.PropertyID, &l.SourceID, &l.Address.Street, &l.Address.Unit,
			&l.Address.City, &l.Address.State, &l.Address.PostalCode,
			&l.ListPrice, &l.Beds, &l.Baths, &l.InteriorAreaSqFt, &l.SourceURL); err != nil {
			return nil, nil, err
		}
		entries = append(entries, identity.NewEntry(&l))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	links, err := s.duplicateLinks(ctx)
	if err != nil {
		return nil, nil, err
	}
	return entries, links, nil
}

func (s *SQLiteStore) duplicateLinks(ctx context.Context) ([]models.DuplicateLink, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT listing_id, candidate_id, confidence FROM duplicate_links`)
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

// Counts returns the number of rows in each output table.
func (s *SQLiteStore) Counts(ctx context.Context) (map[string]int, error) {
	tables := []string{"listings", "properties", "media", "agents", "price_history", "engagement", "duplicate_links", "rejections"}
	out := make(map[string]int, len(tables))
	for _, table := range tables {
		var n int
		if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}

func (s *SQLiteStore) CreateRun(run *models.BatchRun) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO batch_runs (run_uuid, input, started_at, status)
		VALUES (?, ?, ?, ?)`,
		run.RunUUID, run.Input, run.StartedAt, run.Status)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) UpdateRun(run *models.BatchRun) error {
	_, err := s.db.Exec(`
		UPDATE batch_runs SET finished_at = ?, status = ?, pages_seen = ?, accepted = ?,
			rejected = ?, duplicates = ?, fetch_errors = ?, errors_count = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.PagesSeen, run.Accepted,
		run.Rejected, run.Duplicates, run.FetchErrors, run.ErrorsCount, run.ID)
	return err
}

// RecentRuns returns the latest batch runs, newest first.
func (s *SQLiteStore) RecentRuns(limit int) ([]models.BatchRun, error) {
	rows, err := s.db.Query(`
		SELECT id, run_uuid, input, started_at, finished_at, status, pages_seen, accepted, rejected,
			duplicates, fetch_errors, errors_count
		FROM batch_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.BatchRun
	for rows.Next() {
		var r models.BatchRun
		if err := rows.Scan(&r.ID, &r.RunUUID, &r.Input, &r.StartedAt, &r.FinishedAt, &r.Status, &r.PagesSeen,
			&r.Accepted, &r.Rejected, &r.Duplicates, &r.FetchErrors, &r.ErrorsCount); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) Log(runID *int64, level models.LogLevel, message, sourceID string) error {
	_, err := s.db.Exec(`
		INSERT INTO batch_logs (run_id, timestamp, level, message, source_id)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, sourceID)
	return err
}

// ResetAllData clears every table.
func (s *SQLiteStore) ResetAllData() error {
	tables := []string{
		"batch_logs",
		"batch_runs",
		"duplicate_links",
		"engagement",
		"price_history",
		"agents",
		"media_archive",
		"media",
		"listings",
		"properties",
		"rejections",
	}

	for _, table := range tables {
		_, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s", table))
		if err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	return nil
}

func jsonText(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func unmarshalColumn(col sql.NullString, dst any) error {
	if !col.Valid || col.String == "" || col.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dst)
}
