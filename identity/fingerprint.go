package identity

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"listing_canon/models"
)

// AdvisoryLowConfidence is logged when a listing has neither an address nor
// coordinates and its property id falls back to the page URL.
const AdvisoryLowConfidence = "IdentityCollisionLowConfidence"

var (
	listingNamespace  = uuid.NewSHA1(uuid.NameSpaceURL, []byte("listing_canon/listing"))
	propertyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("listing_canon/property"))
)

var (
	streetReplacements = map[string]string{
		"street":    "st",
		"avenue":    "ave",
		"av":        "ave",
		"drive":     "dr",
		"road":      "rd",
		"boulevard": "blvd",
		"lane":      "ln",
		"court":     "ct",
		"place":     "pl",
		"circle":    "cir",
		"crescent":  "cres",
		"terrace":   "ter",
		"highway":   "hwy",
		"parkway":   "pkwy",
		"square":    "sq",
		"trail":     "trl",
		"north":     "n",
		"south":     "s",
		"east":      "e",
		"west":      "w",
		"northeast": "ne",
		"northwest": "nw",
		"southeast": "se",
		"southwest": "sw",
		"apartment": "apt",
		"suite":     "ste",
		"unit":      "unit",
		"floor":     "fl",
		"building":  "bldg",
	}
	unitDesignators = map[string]bool{"apt": true, "unit": true, "ste": true, "no": true, "number": true}
	trackingParams  = map[string]bool{"fbclid": true, "gclid": true, "ref": true, "src": true}
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonAlnumRegex   = regexp.MustCompile(`[^a-z0-9\s]`)
)

// NormalizeAddress lowercases addr, strips punctuation and abbreviates
// street words token by token.
func NormalizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	addr = nonAlnumRegex.ReplaceAllString(addr, " ")
	addr = multiSpaceRegex.ReplaceAllString(addr, " ")
	tokens := strings.Fields(addr)
	for i, t := range tokens {
		if abbrev, ok := streetReplacements[t]; ok {
			tokens[i] = abbrev
		}
	}
	return strings.Join(tokens, " ")
}

func normalizeUnit(unit string) string {
	tokens := strings.Fields(NormalizeAddress(unit))
	for len(tokens) > 1 && unitDesignators[tokens[0]] {
		tokens = tokens[1:]
	}
	if len(tokens) == 1 && unitDesignators[tokens[0]] {
		return ""
	}
	return strings.Join(tokens, " ")
}

func normalizePostal(postal string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(postal), " ", ""))
}

func normalizeLocality(a models.Address) string {
	city := NormalizeAddress(a.City)
	state := strings.ToLower(strings.TrimSpace(a.State))
	return strings.TrimSpace(city + " " + state)
}

// AddressKey is the canonical "street [unit u]|locality" string for a, where
// locality is the postal code or else city and state. It is empty unless
// both a street and a locality are known.
func AddressKey(a models.Address) string {
	street := NormalizeAddress(a.Street)
	if street == "" {
		return ""
	}
	locality := normalizePostal(a.PostalCode)
	if locality == "" && a.City != "" && a.State != "" {
		locality = normalizeLocality(a)
	}
	if locality == "" {
		return ""
	}
	if unit := normalizeUnit(a.Unit); unit != "" {
		street += " unit " + unit
	}
	return street + "|" + locality
}

// CoordinateKey rounds a position to five decimals (about a metre).
func CoordinateKey(lat, lng float64) string {
	return fmt.Sprintf("%.5f,%.5f", lat, lng)
}

// URLKey reduces a page URL to a scheme-less canonical form: lowercase host
// without "www.", no fragment, no tracking parameters, no trailing slash and
// sorted query parameters.
func URLKey(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		host += ":" + port
	}

	q := u.Query()
	for k := range q {
		if trackingParams[strings.ToLower(k)] || strings.HasPrefix(strings.ToLower(k), "utm_") {
			q.Del(k)
		}
	}

	key := host + strings.TrimSuffix(u.EscapedPath(), "/")
	if enc := q.Encode(); enc != "" {
		key += "?" + enc
	}
	return key
}

// ListingID hashes the source, the page and the address key into a stable
// UUIDv5.
func ListingID(sourceID, urlKey, addressKey string) string {
	name := strings.Join([]string{strings.ToLower(sourceID), urlKey, addressKey}, "|")
	return uuid.NewSHA1(listingNamespace, []byte(name)).String()
}

// PropertyID hashes a location key into a stable, source independent UUIDv5.
func PropertyID(locationKey string) string {
	return uuid.NewSHA1(propertyNamespace, []byte(locationKey)).String()
}

// Keys are the identity hashes derived from one listing.
type Keys struct {
	ListingID     string
	PropertyID    string
	AddressKey    string
	LowConfidence bool
}

// ComputeKeys never fails: every listing has at least a source URL to fall
// back on. Coordinates only identify the property when the address cannot.
func ComputeKeys(l *models.CanonicalListing) Keys {
	urlKey := URLKey(l.SourceURL)
	addrKey := AddressKey(l.Address)

	k := Keys{
		AddressKey: addrKey,
		ListingID:  ListingID(l.SourceID, urlKey, addrKey),
	}
	switch {
	case addrKey != "":
		k.PropertyID = PropertyID("address:" + addrKey)
	case l.HasCoordinates():
		k.PropertyID = PropertyID("geo:" + CoordinateKey(*l.Latitude, *l.Longitude))
	default:
		k.PropertyID = PropertyID("url:" + urlKey)
		k.LowConfidence = true
	}
	return k
}
