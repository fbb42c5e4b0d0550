package extract

import (
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"listing_canon/models"
)

// residenceTypes are schema.org types that describe the home itself.
var residenceTypes = map[string]string{
	"singlefamilyresidence": "Single Family Residence",
	"house":                 "House",
	"apartment":             "Apartment",
	"condominium":           "Condo",
	"townhouse":             "Townhouse",
	"residence":             "Residence",
	"apartmentcomplex":      "Apartment",
	"mobilehome":            "Manufactured",
}

var ignoredTypes = map[string]bool{
	"breadcrumblist":          true,
	"website":                 true,
	"webpage":                 true,
	"searchaction":            true,
	"sitenavigationelement":   true,
	"organization":            true,
	"localbusiness":           true,
	"realestateagent":         true,
	"imageobject":             true,
	"videoobject":             true,
	"faqpage":                 true,
	"aggregaterating":         true,
	"collectionpage":          true,
	"itemlist":                true,
	"searchresultspage":       true,
	"realestatelistingsearch": true,
}

// microdataFields maps itemprop names onto canonical fields.
var microdataFields = map[string]string{
	"price":                  models.FieldPrice,
	"pricecurrency":          models.FieldCurrency,
	"streetaddress":          models.FieldStreet,
	"addresslocality":        models.FieldCity,
	"addressregion":          models.FieldState,
	"postalcode":             models.FieldPostalCode,
	"latitude":               models.FieldLatitude,
	"longitude":              models.FieldLongitude,
	"numberofbedrooms":       models.FieldBeds,
	"numberofrooms":          models.FieldBeds,
	"numberofbathroomstotal": models.FieldBaths,
	"numberofbathrooms":      models.FieldBaths,
	"floorsize":              models.FieldInteriorArea,
	"yearbuilt":              models.FieldYearBuilt,
	"description":            models.FieldDescription,
	"dateposted":             models.FieldListDate,
}

// StructuredExtractor reads schema.org JSON-LD blocks and microdata. It is
// the most trusted extractor.
type StructuredExtractor struct{}

func NewStructuredExtractor() *StructuredExtractor {
	return &StructuredExtractor{}
}

func (e *StructuredExtractor) ID() models.ExtractorID {
	return models.ExtractorStructured
}

func (e *StructuredExtractor) Extract(page *models.FetchedPage) (*models.RawFieldBag, error) {
	bag := models.NewRawFieldBag()

	if page.ContentType == models.ContentJSON {
		v, ok := parseLoose(page.Content)
		if !ok {
			return bag, failure(e.ID(), "malformed json document", nil)
		}
		if !isLinkedData(v) {
			return bag, nil
		}
		for _, node := range flattenLinkedData(v) {
			e.readNode(node, bag)
		}
		return bag, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Content))
	if err != nil {
		return bag, failure(e.ID(), "parse html", err)
	}

	var nodes []map[string]any
	malformed := 0
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		blob := strings.TrimSpace(html.UnescapeString(s.Text()))
		if blob == "" {
			return
		}
		v, ok := parseLoose(blob)
		if !ok {
			malformed++
			return
		}
		nodes = append(nodes, flattenLinkedData(v)...)
	})

	for _, node := range orderNodes(nodes) {
		e.readNode(node, bag)
	}
	e.readMicrodata(doc, bag)

	if bag.Len() == 0 && malformed > 0 {
		return bag, failure(e.ID(), "malformed json-ld", nil)
	}
	return bag, nil
}

func (e *StructuredExtractor) readNode(n map[string]any, bag *models.RawFieldBag) {
	types := typeNames(n["@type"])
	for _, t := range types {
		if ignoredTypes[t] {
			return
		}
	}

	id := e.ID()
	for _, t := range types {
		if label, ok := residenceTypes[t]; ok {
			bag.Set(models.FieldPropertyType, label, id)
		}
		if t == "rentaction" {
			bag.Set(models.FieldListingType, "rent", id)
		}
	}
	bag.Set(models.FieldPropertyType, n["propertyType"], id)
	bag.Set(models.FieldPropertyType, n["accommodationCategory"], id)

	bag.Set(models.FieldTitle, stringValue(n["name"]), id)
	bag.Set(models.FieldDescription, stringValue(n["description"]), id)

	switch addr := n["address"].(type) {
	case string:
		bag.Set(models.FieldAddress, addr, id)
	case map[string]any:
		bag.Set(models.FieldStreet, addr["streetAddress"], id)
		bag.Set(models.FieldCity, addr["addressLocality"], id)
		bag.Set(models.FieldState, addr["addressRegion"], id)
		bag.Set(models.FieldPostalCode, addr["postalCode"], id)
	}

	if geo, ok := n["geo"].(map[string]any); ok {
		bag.Set(models.FieldLatitude, geo["latitude"], id)
		bag.Set(models.FieldLongitude, geo["longitude"], id)
	}

	bag.Set(models.FieldBeds, firstPresent(n, "numberOfBedrooms", "numberOfRooms"), id)
	bag.Set(models.FieldBaths, firstPresent(n, "numberOfBathroomsTotal", "numberOfBathrooms", "numberOfFullBathrooms"), id)
	setQuantity(bag, n["floorSize"], models.FieldInteriorArea, models.FieldInteriorAreaUnit, id)
	setQuantity(bag, n["lotSize"], models.FieldLotSize, models.FieldLotSizeUnit, id)
	bag.Set(models.FieldYearBuilt, n["yearBuilt"], id)
	bag.Set(models.FieldListDate, n["datePosted"], id)

	for _, offer := range asList(n["offers"]) {
		o, ok := offer.(map[string]any)
		if !ok {
			continue
		}
		ps, _ := o["priceSpecification"].(map[string]any)
		price := o["price"]
		if !models.IsUsable(price) && ps != nil {
			price = ps["price"]
		}
		if bag.Set(models.FieldPrice, price, id) {
			currency := o["priceCurrency"]
			if !models.IsUsable(currency) && ps != nil {
				currency = ps["priceCurrency"]
			}
			bag.Set(models.FieldCurrency, currency, id)
		}
		if fn, _ := o["businessFunction"].(string); strings.Contains(strings.ToLower(fn), "leaseout") {
			bag.Set(models.FieldListingType, "rent", id)
		}
		bag.Set(models.FieldListingType, "sell", id)
		if item, ok := o["itemOffered"].(map[string]any); ok {
			e.readNode(item, bag)
		}
	}

	if photos := imageURLs(n["image"]); len(photos) > 0 {
		bag.Set(models.FieldPhotos, photos, id)
	}

	var agents []any
	for _, key := range []string{"seller", "agent", "broker", "realEstateAgent"} {
		for _, a := range asList(n[key]) {
			if agent := agentFromLD(a, key); agent != nil {
				agents = append(agents, agent)
			}
		}
	}
	if len(agents) > 0 {
		bag.Set(models.FieldAgents, agents, id)
	}
}

func (e *StructuredExtractor) readMicrodata(doc *goquery.Document, bag *models.RawFieldBag) {
	var photos []any
	doc.Find("[itemprop]").Each(func(_ int, s *goquery.Selection) {
		prop := strings.ToLower(strings.TrimSpace(s.AttrOr("itemprop", "")))
		if prop == "image" {
			if src := firstAttr(s, "content", "src", "href"); src != "" {
				photos = append(photos, src)
			}
			return
		}
		field, ok := microdataFields[prop]
		if !ok {
			return
		}
		value := firstAttr(s, "content")
		if value == "" {
			value = strings.TrimSpace(s.Text())
		}
		bag.Set(field, value, e.ID())
	})
	if len(photos) > 0 {
		bag.Set(models.FieldPhotos, photos, e.ID())
	}
}

func isLinkedData(v any) bool {
	for _, n := range flattenLinkedData(v) {
		if _, ok := n["@type"]; ok {
			return true
		}
		if _, ok := n["@context"]; ok {
			return true
		}
	}
	return false
}

// flattenLinkedData expands arrays, @graph containers and mainEntity
// wrappers into a flat list of nodes.
func flattenLinkedData(v any) []map[string]any {
	var out []map[string]any
	var visit func(v any, depth int)
	visit = func(v any, depth int) {
		if depth > 6 {
			return
		}
		switch t := v.(type) {
		case []any:
			for _, item := range t {
				visit(item, depth+1)
			}
		case map[string]any:
			if graph, ok := t["@graph"]; ok {
				visit(graph, depth+1)
				return
			}
			out = append(out, t)
			for _, key := range []string{"mainEntity", "about"} {
				if nested, ok := t[key]; ok {
					visit(nested, depth+1)
				}
			}
		}
	}
	visit(v, 0)
	return out
}

// orderNodes moves residence and listing nodes ahead of everything else so
// their values win the first-set race.
func orderNodes(nodes []map[string]any) []map[string]any {
	var primary, rest []map[string]any
	for _, n := range nodes {
		isPrimary := false
		for _, t := range typeNames(n["@type"]) {
			if _, ok := residenceTypes[t]; ok || t == "realestatelisting" || t == "product" {
				isPrimary = true
			}
		}
		if isPrimary {
			primary = append(primary, n)
		} else {
			rest = append(rest, n)
		}
	}
	return append(primary, rest...)
}

func typeNames(v any) []string {
	var out []string
	for _, t := range asList(v) {
		if s, ok := t.(string); ok {
			s = strings.TrimPrefix(strings.TrimPrefix(s, "https://schema.org/"), "http://schema.org/")
			out = append(out, strings.ToLower(s))
		}
	}
	return out
}

func setQuantity(bag *models.RawFieldBag, v any, valueField, unitField string, id models.ExtractorID) {
	switch q := v.(type) {
	case map[string]any:
		if bag.Set(valueField, q["value"], id) {
			unit := q["unitCode"]
			if !models.IsUsable(unit) {
				unit = q["unitText"]
			}
			bag.Set(unitField, unit, id)
		}
	default:
		bag.Set(valueField, v, id)
	}
}

func agentFromLD(v any, role string) map[string]any {
	switch a := v.(type) {
	case string:
		if strings.TrimSpace(a) == "" {
			return nil
		}
		return map[string]any{"name": a, "role": role}
	case map[string]any:
		agent := map[string]any{"role": role}
		if name := stringValue(a["name"]); name != "" {
			agent["name"] = name
		}
		if phone := stringValue(a["telephone"]); phone != "" {
			agent["phone"] = phone
		}
		if email := stringValue(a["email"]); email != "" {
			agent["email"] = email
		}
		if org, ok := a["worksFor"].(map[string]any); ok {
			if name := stringValue(org["name"]); name != "" {
				agent["brokerage"] = name
			}
		}
		if len(agent) == 1 {
			return nil
		}
		return agent
	}
	return nil
}

// imageURLs accepts a string, an ImageObject or a list of either.
func imageURLs(v any) []any {
	var out []any
	for _, item := range asList(v) {
		if u := photoURL(item); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func firstAttr(s *goquery.Selection, names ...string) string {
	for _, name := range names {
		if v, ok := s.Attr(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && models.IsUsable(v) {
			return v
		}
	}
	return nil
}

func asList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{t}
	}
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
