package validate

import (
	"reflect"
	"testing"
	"time"

	"listing_canon/config"
	"listing_canon/models"
)

func ptr[T any](v T) *T {
	return &v
}

func newTestValidator() *Validator {
	v := NewValidator(config.DefaultPipeline().Validation)
	v.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	return v
}

func completeListing() *models.CanonicalListing {
	return &models.CanonicalListing{
		SourceURL:        "https://example.com/homes/1",
		Address:          models.Address{Street: "1 A St", City: "Austin", State: "TX"},
		ListPrice:        ptr(500000.0),
		Beds:             ptr(3.0),
		Baths:            ptr(2.0),
		InteriorAreaSqFt: ptr(1500.0),
		PricePerSqFt:     ptr(333.33),
		YearBuilt:        ptr(1990),
	}
}

func TestValidate_Accepts(t *testing.T) {
	res := newTestValidator().Validate(completeListing())
	if !res.IsAccepted() {
		t.Fatalf("expected accepted, got reasons %v", res.Reasons())
	}
	if len(res.Warnings()) != 0 {
		t.Fatalf("expected no warnings, got %v", res.Warnings())
	}
}

func TestValidate_RecordsEveryReason(t *testing.T) {
	l := &models.CanonicalListing{SourceURL: "https://example.com/empty", ListPrice: ptr(0.0)}
	res := newTestValidator().Validate(l)

	if res.IsAccepted() {
		t.Fatalf("expected rejection")
	}
	for _, reason := range []models.RejectionReason{models.ReasonMissingLocation, models.ReasonMissingPrice, models.ReasonMissingSpecs} {
		if !res.HasReason(reason) {
			t.Errorf("missing reason %s in %v", reason, res.Reasons())
		}
	}
	if len(res.Reasons()) != 3 {
		t.Fatalf("expected exactly 3 reasons, got %v", res.Reasons())
	}
}

func TestValidate_Location(t *testing.T) {
	v := newTestValidator()
	cases := []struct {
		name    string
		mutate  func(l *models.CanonicalListing)
		missing bool
	}{
		{"street only", func(l *models.CanonicalListing) { l.Address = models.Address{Street: "1 A St"} }, false},
		{"city and postal", func(l *models.CanonicalListing) { l.Address = models.Address{City: "Austin", PostalCode: "78701"} }, false},
		{"city alone", func(l *models.CanonicalListing) { l.Address = models.Address{City: "Austin"} }, true},
		{"coordinates only", func(l *models.CanonicalListing) {
			l.Address = models.Address{}
			l.Latitude, l.Longitude = ptr(30.2), ptr(-97.7)
		}, false},
		{"one coordinate", func(l *models.CanonicalListing) {
			l.Address = models.Address{}
			l.Latitude = ptr(30.2)
		}, true},
	}
	for _, c := range cases {
		l := completeListing()
		c.mutate(l)
		res := v.Validate(l)
		if res.HasReason(models.ReasonMissingLocation) != c.missing {
			t.Errorf("%s: expected MissingLocation=%v, got %v", c.name, c.missing, res.Reasons())
		}
	}
}

func TestValidate_SpecsNeedOnlyOne(t *testing.T) {
	l := completeListing()
	l.Beds, l.Baths = nil, nil
	if res := newTestValidator().Validate(l); !res.IsAccepted() {
		t.Fatalf("area alone should satisfy specs, got %v", res.Reasons())
	}
}

func TestValidate_AdvisoriesNeverReject(t *testing.T) {
	l := completeListing()
	l.Beds = ptr(120.0)
	l.YearBuilt = ptr(1500)
	l.PricePerSqFt = ptr(1.0)
	l.Latitude, l.Longitude = ptr(95.0), ptr(10.0)

	res := newTestValidator().Validate(l)
	if !res.IsAccepted() {
		t.Fatalf("advisory checks must not reject, got %v", res.Reasons())
	}
	if len(res.Warnings()) != 4 {
		t.Fatalf("expected 4 warnings, got %v", res.Warnings())
	}
}

func TestValidate_DoesNotMutate(t *testing.T) {
	l := completeListing()
	l.Beds = ptr(99.0)
	before := *l
	beforeBeds := *l.Beds

	newTestValidator().Validate(l)
	if !reflect.DeepEqual(before, *l) || *l.Beds != beforeBeds {
		t.Fatalf("validator modified the listing")
	}
}
