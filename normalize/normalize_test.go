package normalize

import (
	"math"
	"reflect"
	"testing"
	"time"

	"listing_canon/config"
	"listing_canon/models"
)

func testNormalizer(source *config.SourceConfig) *Normalizer {
	p := config.DefaultPipeline()
	return NewNormalizer(p, source, config.NewMapper(nil, p.FieldMapping))
}

func testPage() *models.FetchedPage {
	return &models.FetchedPage{
		SourceID:    "zillow",
		SourceURL:   "https://www.zillow.com/homedetails/456-Oak-Ave/2077_zpid/",
		ContentType: models.ContentHTML,
		FetchedAt:   time.Date(2024, 3, 13, 9, 30, 0, 0, time.UTC),
		CrawlMethod: models.CrawlFile,
	}
}

func bagOf(fields map[string]any) *models.RawFieldBag {
	bag := models.NewRawFieldBag()
	for k, v := range fields {
		bag.Set(k, v, models.ExtractorState)
	}
	return bag
}

func TestNumber(t *testing.T) {
	cases := []struct {
		in   any
		want float64
	}{
		{"$1,250,000", 1250000},
		{"1.2M", 1200000},
		{"$850K", 850000},
		{"3 bd", 3},
		{"2.5", 2.5},
		{"3 + 1", 3},
		{"172 m²", 172},
		{"2 mo", 2},
		{float64(4), 4},
		{map[string]any{"value": float64(1850), "unit": "sqft"}, 1850},
	}
	for _, c := range cases {
		got, err := number(c.in)
		if err != nil {
			t.Errorf("number(%#v) failed: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("number(%#v) = %v, want %v", c.in, got, c.want)
		}
	}

	for _, bad := range []any{"call for price", true, nil, []any{"1"}} {
		if _, err := number(bad); err == nil {
			t.Errorf("number(%#v) should fail", bad)
		}
	}
}

func TestArea_Units(t *testing.T) {
	n := testNormalizer(nil)
	cases := []struct {
		raw, unit any
		want      float64
	}{
		{"1,640 sqft", nil, 1640},
		{float64(980), "Square Feet", 980},
		{float64(1850), "FTK", 1850},
		{"172 m²", nil, 1851.39},
		{float64(55), "MTK", 592.01},
		{"0.25 acres", nil, 10890},
		{map[string]any{"value": float64(2), "unitCode": "HAR"}, nil, 215278.21},
		{"2,400", nil, 2400},
	}
	for _, c := range cases {
		got, err := n.area(c.raw, c.unit)
		if err != nil {
			t.Errorf("area(%#v, %#v) failed: %v", c.raw, c.unit, err)
			continue
		}
		if math.Abs(got-c.want) > 0.01 {
			t.Errorf("area(%#v, %#v) = %v, want %v", c.raw, c.unit, got, c.want)
		}
	}

	if _, err := n.area("12 parsecs", nil); err == nil {
		t.Fatalf("expected unknown unit error")
	}

	metric := testNormalizer(&config.SourceConfig{AreaUnit: "sqm"})
	got, err := metric.area(float64(100), nil)
	if err != nil || math.Abs(got-1076.39) > 0.01 {
		t.Fatalf("expected source default unit to apply, got %v (%v)", got, err)
	}
}

func TestUnitRoundTrip(t *testing.T) {
	p := config.DefaultPipeline()
	for _, unit := range []string{"sqft", "sqm", "acre", "hectare", "m²", "FTK"} {
		for _, v := range []float64{1, 55, 1234.5, 0.25} {
			sqft, err := ToSquareFeet(p, v, unit)
			if err != nil {
				t.Fatalf("%s: %v", unit, err)
			}
			back, err := FromSquareFeet(p, sqft, unit)
			if err != nil {
				t.Fatalf("%s: %v", unit, err)
			}
			if math.Abs(back-v) > 1e-9*math.Max(1, v) {
				t.Errorf("%v %s round trip gave %v", v, unit, back)
			}
		}
	}
}

func TestCurrency(t *testing.T) {
	n := testNormalizer(nil)
	ca := testNormalizer(&config.SourceConfig{Currency: "cad"})

	cases := []struct {
		n           *Normalizer
		code, price any
		want        string
	}{
		{n, "usd", nil, "USD"},
		{n, nil, "C$599,000", "CAD"},
		{n, nil, "CA$599,000", "CAD"},
		{n, nil, "£450,000", "GBP"},
		{n, nil, "€320.000", "EUR"},
		{n, nil, "$1,000", "USD"},
		{ca, nil, "$1,000", "CAD"},
		{ca, nil, float64(1000), "CAD"},
		{n, nil, float64(1000), "USD"},
	}
	for _, c := range cases {
		if got := c.n.currency(c.code, c.price); got != c.want {
			t.Errorf("currency(%v, %v) = %s, want %s", c.code, c.price, got, c.want)
		}
	}
}

func TestDate(t *testing.T) {
	want := models.NewDate(2024, time.March, 1)
	for _, in := range []any{"2024-03-01", "2024-03-01T08:00:00Z", "Mar 1, 2024", "March 1, 2024", "03/01/2024", float64(1709251200000)} {
		got, err := date(in)
		if err != nil {
			t.Errorf("date(%v) failed: %v", in, err)
			continue
		}
		if !got.Equal(want.Time) {
			t.Errorf("date(%v) = %s, want %s", in, got, want)
		}
	}
	if _, err := date("last tuesday"); err == nil {
		t.Fatalf("expected error for free text date")
	}
}

func TestEnums(t *testing.T) {
	statuses := map[string]models.ListingStatus{
		"FOR_SALE":       models.StatusActive,
		"Active":         models.StatusActive,
		"Under Contract": models.StatusPending,
		"Contingent":     models.StatusContingent,
		"RECENTLY_SOLD":  models.StatusSold,
		"Coming Soon":    models.StatusComingSoon,
		"FOR_RENT":       models.StatusForRent,
		"Withdrawn":      models.StatusOffMarket,
		"Auctioned":      models.StatusOther,
	}
	for raw, want := range statuses {
		if got := Status(raw); got != want {
			t.Errorf("Status(%q) = %s, want %s", raw, got, want)
		}
	}

	types := map[string]models.PropertyType{
		"SINGLE_FAMILY":           models.PropertySingleFamily,
		"Single Family Residence": models.PropertySingleFamily,
		"House":                   models.PropertySingleFamily,
		"TOWNHOUSE":               models.PropertyTownhouse,
		"Condominium":             models.PropertyCondo,
		"Multi-Family":            models.PropertyMultiFamily,
		"Apartment":               models.PropertyApartment,
		"Vacant Land":             models.PropertyLand,
		"MANUFACTURED":            models.PropertyManufactured,
		"Castle":                  models.PropertyOther,
	}
	for raw, want := range types {
		if got := PropertyType(raw); got != want {
			t.Errorf("PropertyType(%q) = %s, want %s", raw, got, want)
		}
	}

	if ListingType("For Rent") != models.ListingRent || ListingType("sell") != models.ListingSell {
		t.Fatalf("listing type mapping broken")
	}
	if MediaType("Floor Plan") != models.MediaFloorplan || MediaType("3D tour") != models.MediaVirtualTour {
		t.Fatalf("media type mapping broken")
	}
	if EventType("Listed for sale") != models.EventListed || EventType("Price change") != models.EventPriceChange {
		t.Fatalf("event type mapping broken")
	}
}

func TestParseAddress(t *testing.T) {
	cases := map[string]models.Address{
		"123 Main St Apt 4B, Seattle, WA 98101":     {Street: "123 Main St", Unit: "4B", City: "Seattle", State: "WA", PostalCode: "98101"},
		"939 Chateau|Windsor, Ontario N8P0E6":       {Street: "939 Chateau", City: "Windsor", State: "ON", PostalCode: "N8P 0E6"},
		"12 Harbour St Unit 5, Toronto, ON M5J 2L1": {Street: "12 Harbour St", Unit: "5", City: "Toronto", State: "ON", PostalCode: "M5J 2L1"},
		"123 Main St, Seattle WA 98101":             {Street: "123 Main St", City: "Seattle", State: "WA", PostalCode: "98101"},
		"Austin, TX":                                {City: "Austin", State: "TX"},
		"4-88 Queen St, Ottawa, K1P 5E7":            {Street: "88 Queen St", Unit: "4", City: "Ottawa", State: "ON", PostalCode: "K1P 5E7"},
	}
	for in, want := range cases {
		want.Full = in
		if got := ParseAddress(in); got != want {
			t.Errorf("ParseAddress(%q)\n got  %+v\n want %+v", in, got, want)
		}
	}
}

func TestNormalize_FullRecord(t *testing.T) {
	n := testNormalizer(nil)
	bag := bagOf(map[string]any{
		models.FieldExternalID:       float64(2077),
		models.FieldPrice:            float64(525000),
		models.FieldBeds:             float64(2),
		models.FieldBaths:            float64(1),
		models.FieldInteriorArea:     float64(980),
		models.FieldInteriorAreaUnit: "Square Feet",
		models.FieldYearBuilt:        float64(1925),
		models.FieldStreet:           "456 Oak Ave Apt 3",
		models.FieldCity:             "Portland",
		models.FieldState:            "Oregon",
		models.FieldPostalCode:       float64(97201),
		models.FieldLatitude:         45.5152,
		models.FieldLongitude:        -122.6784,
		models.FieldStatus:           "FOR_SALE",
		models.FieldPropertyType:     "CONDO",
		models.FieldDaysOnMarket:     float64(12),
		models.FieldViews:            float64(340),
		models.FieldSaves:            float64(18),
		models.FieldListDate:         "2024-03-01",
		models.FieldPhotos:           []any{"https://img/a.jpg", "https://img/b.jpg", "https://img/a.jpg"},
		models.FieldVideos:           []any{"https://img/walk.mp4"},
		models.FieldAgents:           []any{map[string]any{"name": "Jane Broker", "phone": "206-555-0100"}},
		models.FieldPriceHistory: []any{
			map[string]any{"date": "2024-03-01", "event": "Listed for sale", "price": float64(525000)},
			map[string]any{"date": "2019-06-15", "event": "Sold", "price": float64(410000)},
			map[string]any{"event": "Photos updated"},
		},
		models.FieldMonthlyCosts: map[string]any{"principal_interest": float64(3120), "utilities": "Not included"},
	})

	l, errs := n.Normalize(bag, testPage())
	if len(errs) != 0 {
		t.Fatalf("unexpected normalization errors: %v", errs)
	}

	if l.ExternalID != "2077" || l.SourceID != "zillow" {
		t.Fatalf("unexpected identity attributes %q %q", l.ExternalID, l.SourceID)
	}
	wantAddr := models.Address{Street: "456 Oak Ave", Unit: "3", City: "Portland", State: "OR", PostalCode: "97201", Full: "456 Oak Ave Unit 3, Portland, OR 97201"}
	if l.Address != wantAddr {
		t.Fatalf("unexpected address %+v", l.Address)
	}
	if *l.ListPrice != 525000 || l.Currency != "USD" {
		t.Fatalf("unexpected price %v %s", *l.ListPrice, l.Currency)
	}
	if *l.InteriorAreaSqFt != 980 || *l.PricePerSqFt != 535.71 {
		t.Fatalf("unexpected area %v / price per sqft %v", *l.InteriorAreaSqFt, *l.PricePerSqFt)
	}
	if *l.YearBuilt != 1925 || *l.Beds != 2 || *l.Baths != 1 {
		t.Fatalf("unexpected specs")
	}
	if l.Status != models.StatusActive || l.StatusRaw != "FOR_SALE" {
		t.Fatalf("unexpected status %s (%s)", l.Status, l.StatusRaw)
	}
	if l.PropertyType != models.PropertyCondo || l.ListingType != models.ListingSell {
		t.Fatalf("unexpected types %s %s", l.PropertyType, l.ListingType)
	}
	if l.ListDate == nil || l.ListDate.String() != "2024-03-01" || *l.DaysOnMarket != 12 {
		t.Fatalf("unexpected dates %v %v", l.ListDate, l.DaysOnMarket)
	}

	if len(l.Media) != 3 {
		t.Fatalf("expected 3 media items after dedupe, got %d", len(l.Media))
	}
	if !l.Media[0].IsPrimary || l.Media[1].IsPrimary || l.Media[2].Type != models.MediaVideo || l.Media[2].DisplayOrder != 2 {
		t.Fatalf("unexpected media %+v", l.Media)
	}
	if len(l.Agents) != 1 || l.Agents[0].Phone != "206-555-0100" {
		t.Fatalf("unexpected agents %+v", l.Agents)
	}
	if len(l.PriceHistory) != 2 || l.PriceHistory[1].EventType != models.EventSold {
		t.Fatalf("unexpected price history %+v", l.PriceHistory)
	}
	if l.Engagement == nil || *l.Engagement.Views != 340 || *l.Engagement.DaysOnSite != 12 {
		t.Fatalf("unexpected engagement %+v", l.Engagement)
	}
	if l.MonthlyCosts == nil || *l.MonthlyCosts.PrincipalInterest != 3120 || l.MonthlyCosts.Utilities != nil {
		t.Fatalf("unexpected monthly costs %+v", l.MonthlyCosts)
	}
}

func TestNormalize_ErrorsAreNonFatal(t *testing.T) {
	n := testNormalizer(nil)
	bag := bagOf(map[string]any{
		models.FieldPrice:        "$410,000",
		models.FieldBeds:         "studio",
		models.FieldYearBuilt:    "unknown",
		models.FieldInteriorArea: "800 cubits",
		models.FieldAddress:      "9 Elm Ct, Austin, TX 78701",
	})

	l, errs := n.Normalize(bag, testPage())
	if len(errs) != 3 {
		t.Fatalf("expected 3 normalization errors, got %v", errs)
	}
	fields := map[string]bool{}
	for _, e := range errs {
		fields[e.Field] = true
	}
	for _, f := range []string{models.FieldBeds, models.FieldYearBuilt, models.FieldInteriorArea} {
		if !fields[f] {
			t.Errorf("missing error for %s", f)
		}
	}
	if l.Beds != nil || l.YearBuilt != nil || l.InteriorAreaSqFt != nil {
		t.Fatalf("uncoercible fields should be absent")
	}
	if l.ListPrice == nil || *l.ListPrice != 410000 {
		t.Fatalf("price should survive other fields failing")
	}
	if l.Address.Street != "9 Elm Ct" || l.Address.PostalCode != "78701" {
		t.Fatalf("unexpected address %+v", l.Address)
	}
}

func TestNormalize_MapsSourceKeys(t *testing.T) {
	p := config.DefaultPipeline()
	n := NewNormalizer(p, &config.SourceConfig{}, config.NewMapper(map[string]string{"surface": "interior_area"}, p.FieldMapping))
	bag := bagOf(map[string]any{
		"surface":       "120 m²",
		"bedrooms":      float64(3),
		"mysteryWidget": "x",
	})

	l, errs := n.Normalize(bag, testPage())
	if len(errs) != 0 {
		t.Fatalf("unexpected errors %v", errs)
	}
	if l.InteriorAreaSqFt == nil || math.Abs(*l.InteriorAreaSqFt-1291.67) > 0.01 {
		t.Fatalf("expected mapped area in sqft, got %v", l.InteriorAreaSqFt)
	}
	if l.Beds == nil || *l.Beds != 3 {
		t.Fatalf("expected default mapping for bedrooms")
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	n := testNormalizer(nil)
	fields := map[string]any{
		models.FieldPrice:   "$615,000",
		models.FieldAddress: "77 Pine Rd, Denver, CO 80202",
		models.FieldPhotos:  []any{"https://img/1.jpg", "https://img/2.jpg"},
		models.FieldStatus:  "Pending",
	}
	a, _ := n.Normalize(bagOf(fields), testPage())
	b, _ := n.Normalize(bagOf(fields), testPage())
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("normalizing the same bag twice gave different listings")
	}
}
