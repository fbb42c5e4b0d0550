package identity

import (
	"math"
	"reflect"
	"sync"
	"testing"

	"listing_canon/config"
	"listing_canon/models"
)

func ptr[T any](v T) *T {
	return &v
}

func testDedup() *Deduplicator {
	return NewDeduplicator(config.DefaultPipeline().Dedup)
}

func listing(source, url, street string) *models.CanonicalListing {
	return &models.CanonicalListing{
		SourceID:         source,
		SourceURL:        url,
		Address:          models.Address{Street: street, City: "Portland", State: "OR", PostalCode: "97201"},
		ListPrice:        ptr(525000.0),
		Beds:             ptr(2.0),
		Baths:            ptr(1.5),
		InteriorAreaSqFt: ptr(980.0),
	}
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"123 North Main Street, Apt. 4": "123 n main st apt 4",
		"  456 Oak   AVENUE ":           "456 oak ave",
		"12 Streetsville Road":          "12 streetsville rd",
		"":                              "",
	}
	for in, want := range cases {
		if got := NormalizeAddress(in); got != want {
			t.Errorf("NormalizeAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAddressKey(t *testing.T) {
	cases := []struct {
		addr models.Address
		want string
	}{
		{models.Address{Street: "456 Oak Avenue", Unit: "Apt 3", City: "Portland", State: "OR", PostalCode: "97201"}, "456 oak ave unit 3|97201"},
		{models.Address{Street: "456 Oak Ave", Unit: "#3", City: "Portland", State: "OR"}, "456 oak ave unit 3|portland or"},
		{models.Address{Street: "88 King St W", PostalCode: "M5V 2T6"}, "88 king st w|m5v2t6"},
		{models.Address{Street: "456 Oak Ave"}, ""},
		{models.Address{City: "Portland", State: "OR", PostalCode: "97201"}, ""},
	}
	for _, c := range cases {
		if got := AddressKey(c.addr); got != c.want {
			t.Errorf("AddressKey(%+v) = %q, want %q", c.addr, got, c.want)
		}
	}
}

func TestURLKey(t *testing.T) {
	cases := map[string]string{
		"https://www.Zillow.com/homedetails/2077_zpid/?utm_source=feed#photos": "zillow.com/homedetails/2077_zpid",
		"http://zillow.com/homedetails/2077_zpid":                             "zillow.com/homedetails/2077_zpid",
		"https://example.com/a?b=2&a=1&fbclid=xyz":                            "example.com/a?a=1&b=2",
		"https://example.com:8443/a":                                          "example.com:8443/a",
	}
	for in, want := range cases {
		if got := URLKey(in); got != want {
			t.Errorf("URLKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestComputeKeys_Stable(t *testing.T) {
	a := ComputeKeys(listing("zillow", "https://www.zillow.com/homedetails/2077_zpid/", "456 Oak Avenue"))
	b := ComputeKeys(listing("zillow", "http://zillow.com/homedetails/2077_zpid", "456 Oak Ave"))
	if a != b {
		t.Fatalf("expected identical keys, got %+v and %+v", a, b)
	}
	if a.LowConfidence {
		t.Fatalf("address-based identity flagged low confidence")
	}

	other := ComputeKeys(listing("redfin", "https://www.redfin.com/OR/Portland/456-Oak-Ave/home/99", "456 Oak Ave"))
	if other.PropertyID != a.PropertyID {
		t.Fatalf("same address should share a property id across sources")
	}
	if other.ListingID == a.ListingID {
		t.Fatalf("different sources must not share a listing id")
	}
}

func TestComputeKeys_CoordinatesIgnoredWithAddress(t *testing.T) {
	a := listing("zillow", "https://zillow.com/a", "456 Oak Ave")
	a.Latitude, a.Longitude = ptr(45.52), ptr(-122.68)
	b := listing("redfin", "https://redfin.com/b", "456 Oak Ave")
	b.Latitude, b.Longitude = ptr(45.5203), ptr(-122.6811)

	if ComputeKeys(a).PropertyID != ComputeKeys(b).PropertyID {
		t.Fatalf("coordinates should not split a known address")
	}
}

func TestComputeKeys_Fallbacks(t *testing.T) {
	geo := &models.CanonicalListing{SourceID: "zillow", SourceURL: "https://zillow.com/x", Latitude: ptr(45.52), Longitude: ptr(-122.68)}
	k := ComputeKeys(geo)
	if k.LowConfidence || k.PropertyID != PropertyID("geo:45.52000,-122.68000") {
		t.Fatalf("unexpected coordinate identity %+v", k)
	}

	bare := &models.CanonicalListing{SourceID: "zillow", SourceURL: "https://zillow.com/x"}
	k = ComputeKeys(bare)
	if !k.LowConfidence {
		t.Fatalf("expected low confidence identity")
	}
	if k.PropertyID != PropertyID("url:zillow.com/x") || k.AddressKey != "" {
		t.Fatalf("unexpected url identity %+v", k)
	}
}

func TestScore_WeightedFraction(t *testing.T) {
	cfg := config.DedupConfig{
		PriceTolerance: 0.05,
		BedsTolerance:  0,
		Weights:        map[string]float64{"price": 2, "beds": 1, "baths": 0},
	}
	a := Entry{Price: ptr(100000.0), Beds: ptr(3.0), Baths: ptr(2.0)}
	b := Entry{Price: ptr(104000.0), Beds: ptr(4.0), Baths: ptr(1.0)}

	confidence, compared := Score(a, b, cfg)
	if compared != 2 {
		t.Fatalf("expected 2 compared attributes (baths weighted out), got %d", compared)
	}
	if math.Abs(confidence-0.6667) > 1e-9 {
		t.Fatalf("expected confidence 0.6667, got %v", confidence)
	}

	if _, compared := Score(Entry{Price: ptr(1.0)}, Entry{Beds: ptr(1.0)}, cfg); compared != 0 {
		t.Fatalf("disjoint attributes should compare nothing, got %d", compared)
	}
}

func TestAddressSimilarity(t *testing.T) {
	base := Entry{Street: "12 maple st", PostalCode: "97201"}

	typo := Entry{Street: "12 mapel st", PostalCode: "97201"}
	if got := AddressSimilarity(base, typo); math.Abs(got-0.7) > 1e-9 {
		t.Errorf("expected 0.7 for a transposition, got %v", got)
	}

	withUnit := Entry{Street: "12 maple st", Unit: "4", PostalCode: "97201"}
	if got := AddressSimilarity(base, withUnit); got != 1 {
		t.Errorf("missing unit on one side should compare the base street, got %v", got)
	}

	otherUnit := Entry{Street: "12 maple st", Unit: "5", PostalCode: "97201"}
	if got := AddressSimilarity(withUnit, otherUnit); got != 0 {
		t.Errorf("different units must not match, got %v", got)
	}

	neighbour := Entry{Street: "14 maple st", PostalCode: "97201"}
	if got := AddressSimilarity(base, neighbour); got != 0 {
		t.Errorf("different house numbers must not match, got %v", got)
	}

	elsewhere := Entry{Street: "12 maple st", PostalCode: "10001"}
	if got := AddressSimilarity(base, elsewhere); got != 0 {
		t.Errorf("different postal codes must not match, got %v", got)
	}
}

func TestDeduplicator_Symmetry(t *testing.T) {
	d := testDedup()
	a := listing("zillow", "https://www.zillow.com/homedetails/2077_zpid/", "456 Oak Avenue")
	b := listing("redfin", "https://www.redfin.com/OR/Portland/456-Oak-Ave/home/99", "456 Oak Ave")
	b.ListPrice = ptr(529000.0)
	b.InteriorAreaSqFt = ptr(1000.0)

	ida := d.Identify(a)
	if ida.Verdict.IsDuplicate() {
		t.Fatalf("first listing cannot be a duplicate")
	}
	idb := d.Identify(b)

	if ida.PropertyID != idb.PropertyID {
		t.Fatalf("expected shared property id")
	}
	if !idb.Verdict.IsDuplicate() || !reflect.DeepEqual(idb.Verdict.CandidateIDs, []string{ida.ListingID}) {
		t.Fatalf("expected b to reference a, got %+v", idb.Verdict)
	}
	if idb.Verdict.Confidence != 1 {
		t.Fatalf("expected full confidence, got %v", idb.Verdict.Confidence)
	}
	wantLinks := []models.DuplicateLink{{ListingID: idb.ListingID, CandidateID: ida.ListingID, Confidence: 1}}
	if !reflect.DeepEqual(idb.Links, wantLinks) {
		t.Fatalf("unexpected links %+v", idb.Links)
	}

	va := d.Index().Verdict(ida.ListingID)
	if !va.IsDuplicate() || !reflect.DeepEqual(va.CandidateIDs, []string{idb.ListingID}) {
		t.Fatalf("expected a to reference b, got %+v", va)
	}
	if cp, ok := idb.Counterparts[ida.ListingID]; !ok || !reflect.DeepEqual(cp, va) {
		t.Fatalf("expected refreshed counterpart verdict for a, got %+v", idb.Counterparts)
	}
}

func TestDeduplicator_OutsideTolerance(t *testing.T) {
	d := testDedup()
	a := listing("zillow", "https://zillow.com/a", "456 Oak Ave")
	b := listing("redfin", "https://redfin.com/b", "456 Oak Ave")
	b.ListPrice = ptr(900000.0)
	b.Beds = ptr(4.0)
	b.Baths = ptr(3.0)
	b.InteriorAreaSqFt = ptr(2400.0)

	d.Identify(a)
	if v := d.Identify(b).Verdict; v.IsDuplicate() {
		t.Fatalf("expected unique, got %+v", v)
	}
}

func TestDeduplicator_NeedsComparedAttribute(t *testing.T) {
	d := testDedup()
	a := &models.CanonicalListing{SourceID: "zillow", SourceURL: "https://zillow.com/a",
		Address: models.Address{Street: "1 A St", PostalCode: "78701"}, ListPrice: ptr(300000.0)}
	b := &models.CanonicalListing{SourceID: "redfin", SourceURL: "https://redfin.com/b",
		Address: models.Address{Street: "1 A Street", PostalCode: "78701"}, InteriorAreaSqFt: ptr(900.0)}

	d.Identify(a)
	if v := d.Identify(b).Verdict; v.IsDuplicate() {
		t.Fatalf("no shared attributes, expected unique, got %+v", v)
	}
}

func TestDeduplicator_RecrawlNeverSelfMatches(t *testing.T) {
	d := testDedup()
	l := listing("zillow", "https://zillow.com/a", "456 Oak Ave")

	first := d.Identify(l)
	second := d.Identify(l)
	if first.ListingID != second.ListingID || first.PropertyID != second.PropertyID {
		t.Fatalf("re-crawl changed identity")
	}
	if second.Verdict.IsDuplicate() {
		t.Fatalf("listing matched itself: %+v", second.Verdict)
	}
	if d.Index().Len() != 1 {
		t.Fatalf("expected 1 index entry, got %d", d.Index().Len())
	}
}

func TestDeduplicator_RecrawlDropsStaleLinks(t *testing.T) {
	d := testDedup()
	a := listing("zillow", "https://zillow.com/a", "456 Oak Ave")
	b := listing("redfin", "https://redfin.com/b", "456 Oak Ave")

	ida := d.Identify(a)
	if !d.Identify(b).Verdict.IsDuplicate() {
		t.Fatalf("expected initial duplicate")
	}

	changed := listing("redfin", "https://redfin.com/b", "456 Oak Ave")
	changed.ListPrice = ptr(900000.0)
	changed.Beds = ptr(5.0)
	changed.Baths = ptr(4.0)
	changed.InteriorAreaSqFt = ptr(3000.0)

	idb := d.Identify(changed)
	if idb.Verdict.IsDuplicate() {
		t.Fatalf("expected link dropped, got %+v", idb.Verdict)
	}
	if v, ok := idb.Counterparts[ida.ListingID]; !ok || v.IsDuplicate() {
		t.Fatalf("expected a to be refreshed to unique, got %+v", idb.Counterparts)
	}
	if d.Index().Verdict(ida.ListingID).IsDuplicate() {
		t.Fatalf("stale reverse link left in index")
	}
}

func TestDeduplicator_ForgetNewListing(t *testing.T) {
	d := testDedup()
	a := listing("zillow", "https://zillow.com/a", "456 Oak Ave")
	b := listing("redfin", "https://redfin.com/b", "456 Oak Ave")
	c := listing("realtor", "https://realtor.com/c", "456 Oak Ave")

	ida := d.Identify(a)
	idb := d.Identify(b)
	d.Forget(idb)

	if d.Index().Len() != 1 {
		t.Fatalf("expected forgotten listing gone, got %d entries", d.Index().Len())
	}
	if d.Index().Verdict(ida.ListingID).IsDuplicate() {
		t.Fatalf("a still links to the forgotten listing")
	}
	idc := d.Identify(c)
	if !reflect.DeepEqual(idc.Verdict.CandidateIDs, []string{ida.ListingID}) {
		t.Fatalf("expected c to reference only a, got %+v", idc.Verdict)
	}
}

func TestDeduplicator_ForgetRestoresRecrawl(t *testing.T) {
	d := testDedup()
	a := listing("zillow", "https://zillow.com/a", "456 Oak Ave")
	b := listing("redfin", "https://redfin.com/b", "456 Oak Ave")

	ida := d.Identify(a)
	idb := d.Identify(b)

	changed := listing("redfin", "https://redfin.com/b", "456 Oak Ave")
	changed.ListPrice = ptr(900000.0)
	changed.Beds = ptr(5.0)
	changed.Baths = ptr(4.0)
	changed.InteriorAreaSqFt = ptr(3000.0)
	d.Forget(d.Identify(changed))

	if d.Index().Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", d.Index().Len())
	}
	if v := d.Index().Verdict(idb.ListingID); !reflect.DeepEqual(v.CandidateIDs, []string{ida.ListingID}) {
		t.Fatalf("expected b's earlier link back, got %+v", v)
	}
	if v := d.Index().Verdict(ida.ListingID); !reflect.DeepEqual(v.CandidateIDs, []string{idb.ListingID}) {
		t.Fatalf("expected a's earlier link back, got %+v", v)
	}
}

func TestDeduplicator_WithdrawAndRestore(t *testing.T) {
	d := testDedup()
	ida := d.Identify(listing("zillow", "https://zillow.com/a", "456 Oak Ave"))
	idb := d.Identify(listing("redfin", "https://redfin.com/b", "456 Oak Ave"))

	if w := d.Withdraw("https://example.com/none"); len(w.ListingIDs) != 0 || len(w.Counterparts) != 0 {
		t.Fatalf("unknown url withdrew %+v", w)
	}

	w := d.Withdraw("https://zillow.com/a")
	if !reflect.DeepEqual(w.ListingIDs, []string{ida.ListingID}) {
		t.Fatalf("withdrawn: got %v, want [%s]", w.ListingIDs, ida.ListingID)
	}
	if v, ok := w.Counterparts[idb.ListingID]; !ok || v.IsDuplicate() {
		t.Fatalf("expected b to become unique, got %+v (present=%v)", v, ok)
	}
	if d.Index().Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", d.Index().Len())
	}

	d.Restore(w)
	if d.Index().Len() != 2 {
		t.Fatalf("expected 2 entries after restore, got %d", d.Index().Len())
	}
	if v := d.Index().Verdict(idb.ListingID); !reflect.DeepEqual(v.CandidateIDs, []string{ida.ListingID}) {
		t.Fatalf("expected b's link back, got %+v", v)
	}
}

func TestDeduplicator_LowConfidence(t *testing.T) {
	d := testDedup()
	id := d.Identify(&models.CanonicalListing{SourceID: "zillow", SourceURL: "https://zillow.com/x", ListPrice: ptr(1.0)})
	if !id.LowConfidence || id.Verdict.IsDuplicate() {
		t.Fatalf("unexpected identification %+v", id)
	}
}

func TestIndex_LoadRestoresLinks(t *testing.T) {
	x := NewIndex(config.DefaultPipeline().Dedup)
	x.Load(
		[]Entry{{ListingID: "a"}, {ListingID: "b"}},
		[]models.DuplicateLink{{ListingID: "a", CandidateID: "b", Confidence: 0.75}},
	)
	if v := x.Verdict("b"); !v.IsDuplicate() || v.CandidateIDs[0] != "a" || v.Confidence != 0.75 {
		t.Fatalf("expected reverse link from load, got %+v", v)
	}
	if x.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", x.Len())
	}
}

func TestDeduplicator_Concurrent(t *testing.T) {
	d := testDedup()
	sources := []string{"zillow", "redfin", "realtor", "homes"}

	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(src string) {
			defer wg.Done()
			d.Identify(listing(src, "https://"+src+".com/listing", "456 Oak Ave"))
		}(src)
	}
	wg.Wait()

	ids := map[string]bool{}
	for _, src := range sources {
		ids[ComputeKeys(listing(src, "https://"+src+".com/listing", "456 Oak Ave")).ListingID] = true
	}
	for id := range ids {
		v := d.Index().Verdict(id)
		if len(v.CandidateIDs) != len(sources)-1 {
			t.Fatalf("listing %s: expected %d candidates, got %+v", id, len(sources)-1, v)
		}
	}
}
