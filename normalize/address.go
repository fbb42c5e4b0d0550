package normalize

import (
	"regexp"
	"strings"

	"listing_canon/models"
)

var (
	zipRe        = regexp.MustCompile(`\b(\d{5})(?:-\d{4})?\s*$`)
	caPostalRe   = regexp.MustCompile(`(?i)\b([A-Z]\d[A-Z])\s?(\d[A-Z]\d)\s*$`)
	unitSuffixRe = regexp.MustCompile(`(?i)^(.*?\S)[\s,]+(?:apt|apartment|unit|suite|ste|#)\.?\s*#?\s*([A-Za-z0-9][A-Za-z0-9\-]*)$`)
	unitPrefixRe = regexp.MustCompile(`^([A-Za-z0-9]+)\s*-\s*(\d+\s+\S.*)$`)
	trailStateRe = regexp.MustCompile(`^(.*\S)\s+([A-Z]{2})$`)
)

var regionCodes = map[string]string{
	// Canadian provinces and territories
	"alberta": "AB", "british columbia": "BC", "manitoba": "MB", "new brunswick": "NB",
	"newfoundland and labrador": "NL", "newfoundland": "NL", "nova scotia": "NS",
	"northwest territories": "NT", "nunavut": "NU", "ontario": "ON",
	"prince edward island": "PE", "quebec": "QC", "québec": "QC",
	"saskatchewan": "SK", "yukon": "YT",
	// US states
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR", "california": "CA",
	"colorado": "CO", "connecticut": "CT", "delaware": "DE", "district of columbia": "DC",
	"florida": "FL", "georgia": "GA", "hawaii": "HI", "idaho": "ID", "illinois": "IL",
	"indiana": "IN", "iowa": "IA", "kansas": "KS", "kentucky": "KY", "louisiana": "LA",
	"maine": "ME", "maryland": "MD", "massachusetts": "MA", "michigan": "MI",
	"minnesota": "MN", "mississippi": "MS", "missouri": "MO", "montana": "MT",
	"nebraska": "NE", "nevada": "NV", "new hampshire": "NH", "new jersey": "NJ",
	"new mexico": "NM", "new york": "NY", "north carolina": "NC", "north dakota": "ND",
	"ohio": "OH", "oklahoma": "OK", "oregon": "OR", "pennsylvania": "PA",
	"rhode island": "RI", "south carolina": "SC", "south dakota": "SD", "tennessee": "TN",
	"texas": "TX", "utah": "UT", "vermont": "VT", "virginia": "VA", "washington": "WA",
	"west virginia": "WV", "wisconsin": "WI", "wyoming": "WY",
}

// ParseAddress splits a one-line address into its components. Both comma
// and pipe separators are accepted ("939 Chateau|Windsor, Ontario N8P0E6").
func ParseAddress(full string) models.Address {
	addr := models.Address{Full: strings.TrimSpace(full)}
	rest := addr.Full

	if m := caPostalRe.FindStringSubmatchIndex(rest); m != nil {
		addr.PostalCode = NormalizePostalCode(rest[m[2]:m[3]] + rest[m[4]:m[5]])
		rest = rest[:m[0]]
	} else if m := zipRe.FindStringSubmatchIndex(rest); m != nil {
		addr.PostalCode = rest[m[2]:m[3]]
		rest = rest[:m[0]]
	}

	parts := splitAddress(rest)
	if len(parts) == 0 {
		return addr
	}

	// "Seattle WA" as the last part carries both city and state.
	last := parts[len(parts)-1]
	if code := RegionCode(last); isRegion(last) {
		addr.State = code
		parts = parts[:len(parts)-1]
	} else if m := trailStateRe.FindStringSubmatch(last); m != nil {
		addr.State = m[2]
		parts[len(parts)-1] = m[1]
	}

	switch {
	case len(parts) >= 2:
		addr.City = parts[len(parts)-1]
		addr.Street = strings.Join(parts[:len(parts)-1], ", ")
	case len(parts) == 1 && startsWithDigit(parts[0]):
		addr.Street = parts[0]
	case len(parts) == 1:
		addr.City = parts[0]
	}

	addr.Street, addr.Unit = SplitUnit(addr.Street)
	if addr.State == "" {
		addr.State = provinceFromPostalCode(addr.PostalCode)
	}
	return addr
}

// SplitUnit separates a trailing "Apt 4B" / "Unit 5" / "#3" or a leading
// "4-" unit from the street line.
func SplitUnit(street string) (string, string) {
	street = strings.TrimSpace(street)
	if m := unitSuffixRe.FindStringSubmatch(street); m != nil && startsWithDigit(m[1]) {
		return strings.TrimRight(m[1], " ,"), m[2]
	}
	if m := unitPrefixRe.FindStringSubmatch(street); m != nil {
		return m[2], m[1]
	}
	return street, ""
}

// RegionCode returns the two-letter code for a state or province name, or
// the input upper-cased when it already is a code.
func RegionCode(s string) string {
	s = strings.TrimSpace(s)
	if code, ok := regionCodes[strings.ToLower(s)]; ok {
		return code
	}
	if len(s) == 2 && isAlpha(strings.ToUpper(s)) {
		return strings.ToUpper(s)
	}
	return s
}

func isRegion(s string) bool {
	s = strings.TrimSpace(s)
	if _, ok := regionCodes[strings.ToLower(s)]; ok {
		return true
	}
	return len(s) == 2 && isAlpha(s)
}

// NormalizePostalCode formats Canadian codes as "A1A 1A1" and keeps the
// five-digit form of US ZIP codes.
func NormalizePostalCode(s string) string {
	s = strings.TrimSpace(s)
	compact := strings.ToUpper(strings.ReplaceAll(s, " ", ""))
	if len(compact) == 6 && caPostalRe.MatchString(compact) {
		return compact[:3] + " " + compact[3:]
	}
	if m := zipRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

func splitAddress(addr string) []string {
	var parts []string
	for _, p := range strings.FieldsFunc(addr, func(r rune) bool { return r == '|' || r == ',' }) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

// provinceFromPostalCode derives the province from the first letter of a
// Canadian postal code.
func provinceFromPostalCode(postalCode string) string {
	if len(postalCode) != 7 || postalCode[3] != ' ' {
		return ""
	}
	switch postalCode[0] {
	case 'A':
		return "NL"
	case 'B':
		return "NS"
	case 'C':
		return "PE"
	case 'E':
		return "NB"
	case 'G', 'H', 'J':
		return "QC"
	case 'K', 'L', 'M', 'N', 'P':
		return "ON"
	case 'R':
		return "MB"
	case 'S':
		return "SK"
	case 'T':
		return "AB"
	case 'V':
		return "BC"
	case 'X':
		return "NT"
	case 'Y':
		return "YT"
	}
	return ""
}
