package extract

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"listing_canon/config"
	"listing_canon/models"
)

func loadFixture(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return string(data)
}

func testConfig() *config.Config {
	return &config.Config{
		Pipeline: config.DefaultPipeline(),
		Sources: map[string]*config.SourceConfig{
			"zillow": {
				ID:         "zillow",
				ExternalID: []string{`/(\d+)_zpid`},
				State: config.StateConfig{
					RootPaths: []string{"props.pageProps.componentProps.gdpClientCache"},
				},
				FieldMapping: map[string]string{"homeStatus": "status"},
			},
		},
	}
}

func htmlPage(t *testing.T, fixture, sourceID, url string) *models.FetchedPage {
	t.Helper()
	return &models.FetchedPage{
		SourceID:    sourceID,
		SourceURL:   url,
		Content:     loadFixture(t, fixture),
		ContentType: models.ContentHTML,
		FetchedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		CrawlMethod: models.CrawlFile,
	}
}

func TestStructuredExtractor_JSONLD(t *testing.T) {
	page := htmlPage(t, "jsonld_listing.html", "example", "https://example.com/homes/123-main")
	bag, err := NewStructuredExtractor().Extract(page)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	expect := map[string]any{
		models.FieldTitle:            "123 Main St",
		models.FieldStreet:           "123 Main Street",
		models.FieldCity:             "Seattle",
		models.FieldState:            "WA",
		models.FieldPostalCode:       "98101",
		models.FieldLatitude:         47.6101,
		models.FieldBeds:             float64(3),
		models.FieldBaths:            2.5,
		models.FieldInteriorArea:     float64(1850),
		models.FieldInteriorAreaUnit: "FTK",
		models.FieldYearBuilt:        float64(1998),
		models.FieldPrice:            "750000",
		models.FieldCurrency:         "USD",
		models.FieldPropertyType:     "Single Family Residence",
		models.FieldListingType:      "sell",
	}
	for field, want := range expect {
		if got := bag.Value(field); got != want {
			t.Errorf("%s: expected %v (%T), got %v (%T)", field, want, want, got, got)
		}
	}

	photos, _ := bag.Value(models.FieldPhotos).([]any)
	if len(photos) != 2 || photos[1] != "https://img.example.com/photos/2.jpg" {
		t.Fatalf("unexpected photos %v", photos)
	}
	agents, _ := bag.Value(models.FieldAgents).([]any)
	if len(agents) != 1 {
		t.Fatalf("expected 1 agent, got %v", agents)
	}
	agent := agents[0].(map[string]any)
	if agent["name"] != "Jane Broker" || agent["phone"] != "206-555-0100" {
		t.Fatalf("unexpected agent %v", agent)
	}
	for _, name := range bag.Names() {
		f, _ := bag.Get(name)
		if f.Source != models.ExtractorStructured {
			t.Fatalf("field %s tagged with %s", name, f.Source)
		}
	}
}

func TestStructuredExtractor_JSONDocument(t *testing.T) {
	page := &models.FetchedPage{
		SourceID:    "example",
		SourceURL:   "https://example.com/rent/5",
		Content:     loadFixture(t, "listing.json"),
		ContentType: models.ContentJSON,
	}
	bag, err := NewStructuredExtractor().Extract(page)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if bag.Value(models.FieldAddress) != "12 Harbour St Unit 5, Toronto, ON M5J 2L1" {
		t.Fatalf("unexpected address %v", bag.Value(models.FieldAddress))
	}
	if bag.Value(models.FieldListingType) != "rent" {
		t.Fatalf("expected lease offer to mark a rental, got %v", bag.Value(models.FieldListingType))
	}
	if bag.Value(models.FieldCurrency) != "CAD" {
		t.Fatalf("expected CAD, got %v", bag.Value(models.FieldCurrency))
	}
	if bag.Value(models.FieldInteriorAreaUnit) != "MTK" {
		t.Fatalf("expected MTK unit code, got %v", bag.Value(models.FieldInteriorAreaUnit))
	}
	if bag.Value(models.FieldPropertyType) != "Apartment" {
		t.Fatalf("expected Apartment, got %v", bag.Value(models.FieldPropertyType))
	}
}

func TestStructuredExtractor_MalformedIsFailure(t *testing.T) {
	page := htmlPage(t, "malformed_jsonld.html", "example", "https://example.com/broken")
	bag, err := NewStructuredExtractor().Extract(page)
	var ef *ExtractionFailure
	if !errors.As(err, &ef) {
		t.Fatalf("expected ExtractionFailure, got %v", err)
	}
	if bag == nil || bag.Len() != 0 {
		t.Fatalf("expected empty bag alongside failure, got %v", bag.Snapshot())
	}
}

func TestStateExtractor_ZillowCache(t *testing.T) {
	cfg := testConfig()
	page := htmlPage(t, "zillow_state.html", "zillow", "https://www.zillow.com/homedetails/456-Oak-Ave/2077_zpid/")
	e := NewStateExtractor(cfg.Source("zillow"), cfg.Mapper("zillow"))
	bag, err := e.Extract(page)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	expect := map[string]any{
		models.FieldExternalID:       float64(2077),
		models.FieldPrice:            float64(525000),
		models.FieldBeds:             float64(2),
		models.FieldInteriorArea:     float64(980),
		models.FieldInteriorAreaUnit: "Square Feet",
		models.FieldStatus:           "FOR_SALE",
		models.FieldPropertyType:     "CONDO",
		models.FieldDaysOnMarket:     float64(12),
		models.FieldViews:            float64(340),
		models.FieldSaves:            float64(18),
		models.FieldStreet:           "456 Oak Ave Apt 3",
		models.FieldPostalCode:       "97201",
		models.FieldState:            "OR",
	}
	for field, want := range expect {
		if got := bag.Value(field); got != want {
			t.Errorf("%s: expected %v, got %v", field, want, got)
		}
	}

	photos, _ := bag.Value(models.FieldPhotos).([]any)
	if len(photos) != 2 {
		t.Fatalf("expected 2 photos, got %v", photos)
	}
	if photos[0] != "https://photos.zillowstatic.com/fp/a-large.jpg" {
		t.Fatalf("expected largest jpeg source, got %v", photos[0])
	}
	history, _ := bag.Value(models.FieldPriceHistory).([]any)
	if len(history) != 2 {
		t.Fatalf("expected 2 price history events, got %v", history)
	}
}

func TestStateExtractor_WalksWholeBlobWithoutRootPaths(t *testing.T) {
	cfg := testConfig()
	page := htmlPage(t, "zillow_state.html", "unknown", "https://example.com/x")
	bag, err := NewStateExtractor(cfg.Source("unknown"), cfg.Mapper("unknown")).Extract(page)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if bag.Value(models.FieldPrice) != float64(525000) {
		t.Fatalf("expected price from nested JSON string, got %v", bag.Value(models.FieldPrice))
	}
}

func TestStateExtractor_JSObjectLiteral(t *testing.T) {
	cfg := testConfig()
	page := htmlPage(t, "redux_state.html", "redfin", "https://www.redfin.com/TX/Austin/9-Elm-Ct/home/555")
	bag, err := NewStateExtractor(cfg.Source("redfin"), cfg.Mapper("redfin")).Extract(page)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	expect := map[string]any{
		models.FieldPrice:        "1,250,000",
		models.FieldBeds:         float64(4),
		models.FieldBaths:        float64(3),
		models.FieldInteriorArea: "2,400",
		models.FieldStreet:       "9 Elm Ct",
		models.FieldCity:         "Austin",
		models.FieldState:        "TX",
		models.FieldPostalCode:   "78701",
	}
	for field, want := range expect {
		if got := bag.Value(field); got != want {
			t.Errorf("%s: expected %v, got %v", field, want, got)
		}
	}
	photos, _ := bag.Value(models.FieldPhotos).([]any)
	if len(photos) != 1 || photos[0] != "https://img.example.com/elm/1.jpg" {
		t.Fatalf("unexpected photos %v", photos)
	}
}

func TestPatternExtractor_VisibleText(t *testing.T) {
	page := htmlPage(t, "pattern_only.html", "example", "https://example.com/homes/77-pine")
	bag, err := NewPatternExtractor(nil).Extract(page)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	expect := map[string]any{
		models.FieldPrice:        float64(615000),
		models.FieldStreet:       "77 Pine Rd",
		models.FieldCity:         "Denver",
		models.FieldState:        "CO",
		models.FieldPostalCode:   "80202",
		models.FieldBeds:         "3",
		models.FieldBaths:        "2",
		models.FieldInteriorArea: "1,640",
		models.FieldYearBuilt:    "2004",
		models.FieldStatus:       "Pending",
		models.FieldDaysOnMarket: float64(21),
		models.FieldViews:        float64(1204),
		models.FieldSaves:        float64(56),
		models.FieldTitle:        "77 Pine Rd, Denver, CO 80202",
	}
	for field, want := range expect {
		if got := bag.Value(field); got != want {
			t.Errorf("%s: expected %v, got %v", field, want, got)
		}
	}

	desc, _ := bag.Value(models.FieldDescription).(string)
	if !strings.HasPrefix(desc, "Quiet street near the park & trails.") {
		t.Fatalf("unexpected description %q", desc)
	}

	agents, _ := bag.Value(models.FieldAgents).([]any)
	if len(agents) != 1 {
		t.Fatalf("expected agent line to be parsed, got %v", agents)
	}
	agent := agents[0].(map[string]any)
	if agent["brokerage"] != "Mile High Realty" || agent["name"] != "Sam Rivera" || agent["phone"] != "303-555-0199" {
		t.Fatalf("unexpected agent %v", agent)
	}

	costs, _ := bag.Value(models.FieldMonthlyCosts).(map[string]any)
	if costs["principal_interest"] != float64(3120) || costs["hoa_fees"] != float64(85) {
		t.Fatalf("unexpected monthly costs %v", costs)
	}
	if costs["utilities"] != "Not included" {
		t.Fatalf("expected utilities note, got %v", costs["utilities"])
	}

	photos, _ := bag.Value(models.FieldPhotos).([]any)
	if len(photos) != 2 || photos[0] != "https://img.example.com/pine/og.jpg" || photos[1] != "https://img.example.com/pine/1.jpg" {
		t.Fatalf("unexpected photos %v", photos)
	}
}

func TestPatternExtractor_ExternalIDFromURL(t *testing.T) {
	cfg := testConfig()
	page := &models.FetchedPage{
		SourceURL:   "https://www.zillow.com/homedetails/1-A-St/98765_zpid/",
		Content:     "<html><body></body></html>",
		ContentType: models.ContentHTML,
	}
	bag, err := NewPatternExtractor(cfg.Source("zillow")).Extract(page)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if bag.Value(models.FieldExternalID) != "98765" {
		t.Fatalf("expected zpid from url, got %v", bag.Value(models.FieldExternalID))
	}
}

func TestCoordinator_MergePrecedence(t *testing.T) {
	c := NewCoordinator(testConfig())
	page := htmlPage(t, "jsonld_listing.html", "example", "https://example.com/homes/123-main")

	res, err := c.Extract(page)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	if res.Bag.Value(models.FieldPrice) != "750000" {
		t.Fatalf("structured price should win, got %v", res.Bag.Value(models.FieldPrice))
	}
	if res.Bag.Value(models.FieldBeds) != float64(3) {
		t.Fatalf("structured beds should win, got %v", res.Bag.Value(models.FieldBeds))
	}
	if res.Provenance[models.FieldPrice] != models.ExtractorStructured {
		t.Fatalf("expected price provenance structured, got %s", res.Provenance[models.FieldPrice])
	}
	if res.Bag.Value(models.FieldStatus) != "Active" {
		t.Fatalf("expected status filled by pattern extractor, got %v", res.Bag.Value(models.FieldStatus))
	}
	if res.Provenance[models.FieldStatus] != models.ExtractorPattern {
		t.Fatalf("expected status provenance pattern, got %s", res.Provenance[models.FieldStatus])
	}
	if len(res.Provenance) != res.Bag.Len() {
		t.Fatalf("every merged field needs provenance: %d fields, %d entries", res.Bag.Len(), len(res.Provenance))
	}
}

func TestMerge_FirstNonNullWins(t *testing.T) {
	high := models.NewRawFieldBag()
	high.Set("price", 100.0, models.ExtractorStructured)
	mid := models.NewRawFieldBag()
	mid.Set("price", 200.0, models.ExtractorState)
	mid.Set("beds", 2.0, models.ExtractorState)
	low := models.NewRawFieldBag()
	low.Set("beds", 5.0, models.ExtractorPattern)
	low.Set("baths", 1.0, models.ExtractorPattern)
	low.Set("city", "   ", models.ExtractorPattern)

	merged, prov := Merge(high, mid, low)
	if merged.Value("price") != 100.0 || prov["price"] != models.ExtractorStructured {
		t.Fatalf("price should come from the first bag")
	}
	if merged.Value("beds") != 2.0 || prov["beds"] != models.ExtractorState {
		t.Fatalf("beds should come from the second bag")
	}
	if merged.Value("baths") != 1.0 || prov["baths"] != models.ExtractorPattern {
		t.Fatalf("baths should come from the third bag")
	}
	if _, ok := merged.Get("city"); ok {
		t.Fatalf("blank values must not be merged")
	}

	// Every field present in any bag is present in the merge.
	for _, bag := range []*models.RawFieldBag{high, mid, low} {
		for _, name := range bag.Names() {
			if _, ok := merged.Get(name); !ok {
				t.Fatalf("field %s lost in merge", name)
			}
		}
	}
}

func TestCoordinator_NoExtractableData(t *testing.T) {
	c := NewCoordinator(testConfig())
	page := htmlPage(t, "empty.html", "example", "https://example.com/nothing")

	res, err := c.Extract(page)
	if !errors.Is(err, ErrNoExtractableData) {
		t.Fatalf("expected ErrNoExtractableData, got %v", err)
	}
	if res == nil || res.Bag.Len() != 0 {
		t.Fatalf("expected empty result alongside error")
	}
}

func TestCoordinator_TitleOnlyPageHasNoData(t *testing.T) {
	c := NewCoordinator(testConfig())
	page := htmlPage(t, "access_denied.html", "zillow", "https://www.zillow.com/homedetails/x/2077_zpid/")

	res, err := c.Extract(page)
	if !errors.Is(err, ErrNoExtractableData) {
		t.Fatalf("expected ErrNoExtractableData, got %v with bag %v", err, res.Bag.Snapshot())
	}
	if res.Bag.Value(models.FieldTitle) != "Access Denied" {
		t.Fatalf("title should be kept for the rejection log, got %v", res.Bag.Snapshot())
	}
}

type panicExtractor struct{}

func (panicExtractor) ID() models.ExtractorID { return "panicky" }

func (panicExtractor) Extract(*models.FetchedPage) (*models.RawFieldBag, error) {
	panic("boom")
}

func TestCoordinator_ExtractorFailureIsolated(t *testing.T) {
	c := NewCoordinator(testConfig())
	page := htmlPage(t, "malformed_jsonld.html", "example", "https://example.com/broken")

	res, err := c.run(page, []Extractor{panicExtractor{}, NewStructuredExtractor(), NewPatternExtractor(nil)})
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if len(res.Failures) != 2 {
		t.Fatalf("expected 2 failures, got %v", res.Failures)
	}
	if res.Bag.Value(models.FieldPrice) != float64(300000) {
		t.Fatalf("expected pattern price to survive, got %v", res.Bag.Value(models.FieldPrice))
	}
}

func TestCoordinator_Deterministic(t *testing.T) {
	c := NewCoordinator(testConfig())
	for _, fixture := range []string{"jsonld_listing.html", "zillow_state.html", "pattern_only.html"} {
		page := htmlPage(t, fixture, "zillow", "https://www.zillow.com/homedetails/x/2077_zpid/")
		first, err := c.Extract(page)
		if err != nil {
			t.Fatalf("%s: extract failed: %v", fixture, err)
		}
		second, _ := c.Extract(page)
		if !reflect.DeepEqual(first.Bag.Snapshot(), second.Bag.Snapshot()) {
			t.Fatalf("%s: extraction is not deterministic", fixture)
		}
	}
}

func TestCleanJS(t *testing.T) {
	cases := map[string]string{
		`{a: 1, 'b': 'x', c: [1, 2,],}`:           `{"a":1,"b":"x","c":[1,2]}`,
		`{url: "http://x.com/y", // note` + "\n}": `{"url":"http://x.com/y"}`,
		`{v: undefined, /* gone */ w: true}`:       `{"v":null,"w":true}`,
		`{q: 'it\'s "fine"'}`:                      `{"q":"it's \"fine\""}`,
	}
	for in, want := range cases {
		got, ok := parseLoose(in)
		if !ok {
			t.Errorf("parseLoose(%q) failed", in)
			continue
		}
		var expected any
		expected, _ = parseLoose(want)
		if !reflect.DeepEqual(got, expected) {
			t.Errorf("parseLoose(%q) = %v, want %v", in, got, expected)
		}
	}
}
