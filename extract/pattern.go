package extract

import (
	"regexp"
	"strconv"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"listing_canon/config"
	"listing_canon/models"
)

var (
	dollarRe       = regexp.MustCompile(`\$\s?([\d,]+(?:\.\d{1,2})?)`)
	bedsRe         = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:bd|beds?|bedrooms?)\b`)
	bathsRe        = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:ba|baths?|bathrooms?)\b`)
	areaRe         = regexp.MustCompile(`(?i)([\d,]+(?:\.\d+)?)\s*(sq\.?\s?ft\.?|sqft|ft²|square\s?feet|m²|sq\.?\s?m\b|sqm)`)
	builtRe        = regexp.MustCompile(`(?i)Built in (\d{4})`)
	propertyTypeRe = regexp.MustCompile(`(?i)Single Family Residence|Condo(?:minium)?|Apartment|Townhouse|Townhome|Multi[- ]?Family|Manufactured|\bHouse\b|\bLand\b`)
	statusRe       = regexp.MustCompile(`(?i)\b(Active|Pending|Contingent|Sold|Withdrawn|Coming Soon|Off Market|For Rent)\b`)
	descriptionRe  = regexp.MustCompile(`(?i)##\s*(?:What's special|Description|About this home)\s*\n+([\s\S]+?)(?:\n##|\z)`)
	engagementRe   = regexp.MustCompile(`(?i)\*\*([\d,]+)\*\*\s*(days|views|saves|shares)`)
	listedByRe     = regexp.MustCompile(`(?im)^\s*(?:Listing by|Listed by)\s*:?\s*(.+)$`)
	agentSectionRe = regexp.MustCompile(`(?i)##\s*Agent information([\s\S]+?)(?:\n##|\z)`)
	phoneRe        = regexp.MustCompile(`(?:\+?1[\s\-.]?)?\(?\d{3}\)?[\s\-.]?\d{3}[\s\-.]?\d{4}`)
	monthlyCostRe  = regexp.MustCompile(`(?i)##\s*Monthly cost([\s\S]+?)(?:\n##|\z)`)
	utilitiesRe    = regexp.MustCompile(`(?i)Utilities\s*([^\n]+)`)
	mdImageRe      = regexp.MustCompile(`!\[[^\]]*\]\((https?://[^\s)]+)\)`)
	usAddressRe    = regexp.MustCompile(`(\d+\s+[A-Za-z0-9\s.#\-]+),\s*([A-Za-z\s.'\-]+),\s*([A-Z]{2})\s*(\d{5})(?:-\d{4})?`)
	brokerPrefixRe = regexp.MustCompile(`(?i)^(at|with|from)\s+`)
	agentSplitRe   = regexp.MustCompile(`\s[-–|]\s`)

	defaultExternalIDRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)/(\d+)_zpid`),
		regexp.MustCompile(`(?i)/home/(\d+)`),
	}

	// hint patterns for raw JSON documents
	priceHintRe   = regexp.MustCompile(`(?i)["']price["']\s*:\s*["']?([\d,.]+)`)
	bedsHintRe    = regexp.MustCompile(`(?i)["'](?:beds|bedrooms)["']\s*:\s*["']?(\d+)`)
	bathsHintRe   = regexp.MustCompile(`(?i)["'](?:baths|bathrooms)["']\s*:\s*["']?([\d.]+)`)
	areaHintRe    = regexp.MustCompile(`(?i)["'](?:area|floorSize|livingArea|sqft)["']\s*:\s*["']?([\d,.]+)`)
	addressHintRe = regexp.MustCompile(`(?i)["'](?:streetAddress|fullAddress)["']\s*:\s*["']([^"']+)`)
	latHintRe     = regexp.MustCompile(`"latitude"\s*:\s*([\-0-9.]+)`)
	lonHintRe     = regexp.MustCompile(`"longitude"\s*:\s*([\-0-9.]+)`)
)

var monthlyCostLines = []struct {
	re  *regexp.Regexp
	key string
}{
	{costLineRe("Principal & interest"), "principal_interest"},
	{costLineRe("Mortgage insurance"), "mortgage_insurance"},
	{costLineRe("Property taxes"), "property_taxes"},
	{costLineRe("Home insurance"), "home_insurance"},
	{costLineRe("HOA fees"), "hoa_fees"},
}

func costLineRe(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(label) + `\s*\$([\d,]+)`)
}

var skippedImageHints = []string{"logo", "avatar", "icon", "sprite", ".svg", "headshot", "badge"}

// PatternExtractor scrapes visible text with regular expressions and a few
// DOM heuristics. It is the least trusted extractor and only fills gaps.
type PatternExtractor struct {
	idPatterns []*regexp.Regexp
}

func NewPatternExtractor(source *config.SourceConfig) *PatternExtractor {
	e := &PatternExtractor{}
	if source != nil {
		for _, p := range source.ExternalID {
			if re, err := regexp.Compile(p); err == nil {
				e.idPatterns = append(e.idPatterns, re)
			}
		}
	}
	e.idPatterns = append(e.idPatterns, defaultExternalIDRes...)
	return e
}

func (e *PatternExtractor) ID() models.ExtractorID {
	return models.ExtractorPattern
}

func (e *PatternExtractor) Extract(page *models.FetchedPage) (*models.RawFieldBag, error) {
	bag := models.NewRawFieldBag()
	id := e.ID()

	for _, re := range e.idPatterns {
		if m := re.FindStringSubmatch(page.SourceURL); len(m) > 1 {
			bag.Set(models.FieldExternalID, m[1], id)
			break
		}
	}

	if page.ContentType == models.ContentJSON {
		e.extractHints(page.Content, bag)
		return bag, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Content))
	if err != nil {
		return bag, failure(id, "parse html", err)
	}
	e.extractMeta(doc, bag)

	text, err := htmltomarkdown.ConvertString(page.Content)
	if err != nil {
		text, err = visibleText(page.Content)
		if err != nil {
			return bag, failure(id, "read visible text", err)
		}
	}
	// The converter keeps entities such as &amp; escaped.
	e.extractText(html.UnescapeString(text), bag)
	return bag, nil
}

func (e *PatternExtractor) extractMeta(doc *goquery.Document, bag *models.RawFieldBag) {
	id := e.ID()
	meta := func(prop string) string {
		sel := doc.Find(`meta[property="` + prop + `"], meta[name="` + prop + `"]`).First()
		return strings.TrimSpace(sel.AttrOr("content", ""))
	}

	title := meta("og:title")
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	bag.Set(models.FieldTitle, title, id)

	if img := meta("og:image"); img != "" {
		bag.Set(models.FieldPhotos, []any{img}, id)
	}
	if desc := meta("og:description"); desc != "" {
		bag.Set(models.FieldDescription, desc, id)
	}
}

func (e *PatternExtractor) extractText(text string, bag *models.RawFieldBag) {
	id := e.ID()

	if price := maxDollarAmount(text); price > 0 {
		bag.Set(models.FieldPrice, price, id)
	}

	if m := usAddressRe.FindStringSubmatch(text); m != nil {
		street := strings.Join(strings.Fields(strings.TrimLeft(m[1], "# ")), " ")
		city := strings.TrimSpace(m[2])
		bag.Set(models.FieldAddress, street+", "+city+", "+m[3]+" "+m[4], id)
		bag.Set(models.FieldStreet, street, id)
		bag.Set(models.FieldCity, city, id)
		bag.Set(models.FieldState, m[3], id)
		bag.Set(models.FieldPostalCode, m[4], id)
	}

	if m := bedsRe.FindStringSubmatch(text); m != nil {
		bag.Set(models.FieldBeds, m[1], id)
	}
	if m := bathsRe.FindStringSubmatch(text); m != nil {
		bag.Set(models.FieldBaths, m[1], id)
	}
	if m := areaRe.FindStringSubmatch(text); m != nil {
		if bag.Set(models.FieldInteriorArea, m[1], id) {
			bag.Set(models.FieldInteriorAreaUnit, m[2], id)
		}
	}
	if m := builtRe.FindStringSubmatch(text); m != nil {
		bag.Set(models.FieldYearBuilt, m[1], id)
	}
	if m := propertyTypeRe.FindString(text); m != "" {
		bag.Set(models.FieldPropertyType, m, id)
	}
	if m := statusRe.FindStringSubmatch(text); m != nil {
		bag.Set(models.FieldStatus, m[1], id)
	}
	if m := descriptionRe.FindStringSubmatch(text); m != nil {
		bag.Set(models.FieldDescription, strings.TrimSpace(m[1]), id)
	}

	for _, m := range engagementRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
		if err != nil {
			continue
		}
		switch strings.ToLower(m[2]) {
		case "days":
			bag.Set(models.FieldDaysOnMarket, float64(n), id)
		case "views":
			bag.Set(models.FieldViews, float64(n), id)
		case "saves":
			bag.Set(models.FieldSaves, float64(n), id)
		case "shares":
			bag.Set(models.FieldShares, float64(n), id)
		}
	}

	if agent := parseAgentLine(text); agent != nil {
		bag.Set(models.FieldAgents, []any{agent}, id)
	}
	if costs := parseMonthlyCosts(text); len(costs) > 0 {
		bag.Set(models.FieldMonthlyCosts, costs, id)
	}

	var photos []any
	for _, m := range mdImageRe.FindAllStringSubmatch(text, -1) {
		if keepImage(m[1]) {
			photos = append(photos, m[1])
		}
		if len(photos) >= models.MaxMediaItems {
			break
		}
	}
	if len(photos) > 0 {
		// og:image may already have claimed the field; fold it in front.
		if existing, ok := bag.Get(models.FieldPhotos); ok {
			if list, ok := existing.Value.([]any); ok {
				photos = append(list, photos...)
			}
		}
		bag.Put(models.FieldPhotos, dedupeStrings(photos), id)
	}
}

func (e *PatternExtractor) extractHints(raw string, bag *models.RawFieldBag) {
	id := e.ID()
	hint := func(re *regexp.Regexp, field string) {
		if m := re.FindStringSubmatch(raw); len(m) > 1 {
			bag.Set(field, m[1], id)
		}
	}
	hint(priceHintRe, models.FieldPrice)
	hint(bedsHintRe, models.FieldBeds)
	hint(bathsHintRe, models.FieldBaths)
	hint(areaHintRe, models.FieldInteriorArea)
	hint(addressHintRe, models.FieldAddress)
	hint(latHintRe, models.FieldLatitude)
	hint(lonHintRe, models.FieldLongitude)
}

func maxDollarAmount(text string) float64 {
	var best float64
	for _, m := range dollarRe.FindAllStringSubmatch(text, -1) {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err == nil && v > best {
			best = v
		}
	}
	return best
}

// parseAgentLine reads lines such as
// "Listed by Douglas Elliman 212-641-0096 - Eleonora Srugo": the brokerage
// sits left of the phone number and the agent right of it.
func parseAgentLine(text string) map[string]any {
	line := ""
	if m := listedByRe.FindStringSubmatch(text); m != nil {
		line = strings.TrimSpace(m[1])
	} else if m := agentSectionRe.FindStringSubmatch(text); m != nil {
		for _, ln := range strings.Split(m[1], "\n") {
			ln = strings.TrimSpace(ln)
			if ln != "" && !strings.HasPrefix(ln, "##") {
				line = ln
				break
			}
		}
	}
	if line == "" {
		return nil
	}

	agent := map[string]any{}
	const trim = " -–|•"
	if phone := phoneRe.FindString(line); phone != "" {
		agent["phone"] = phone
		parts := strings.SplitN(line, phone, 2)
		brokerage := brokerPrefixRe.ReplaceAllString(strings.Trim(parts[0], trim), "")
		if brokerage = strings.TrimSpace(brokerage); brokerage != "" {
			agent["brokerage"] = brokerage
		}
		if len(parts) > 1 {
			if name := strings.Trim(parts[1], trim); name != "" {
				agent["name"] = name
			}
		}
	} else {
		chunks := agentSplitRe.Split(line, -1)
		if b := strings.TrimSpace(chunks[0]); b != "" {
			agent["brokerage"] = b
		}
		if len(chunks) > 1 {
			if name := strings.TrimSpace(chunks[1]); name != "" {
				agent["name"] = name
			}
		}
	}
	if len(agent) == 0 {
		return nil
	}
	agent["role"] = "listing_agent"
	return agent
}

func parseMonthlyCosts(text string) map[string]any {
	m := monthlyCostRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	section := m[1]

	costs := map[string]any{}
	for _, l := range monthlyCostLines {
		if mm := l.re.FindStringSubmatch(section); mm != nil {
			if v, err := strconv.ParseFloat(strings.ReplaceAll(mm[1], ",", ""), 64); err == nil {
				costs[l.key] = v
			}
		}
	}
	if mu := utilitiesRe.FindStringSubmatch(section); mu != nil {
		costs["utilities"] = strings.TrimSpace(mu[1])
	}
	return costs
}

func keepImage(u string) bool {
	lower := strings.ToLower(u)
	for _, hint := range skippedImageHints {
		if strings.Contains(lower, hint) {
			return false
		}
	}
	return true
}

func dedupeStrings(items []any) []any {
	seen := make(map[string]bool, len(items))
	out := make([]any, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// visibleText walks the parsed document and returns its text nodes one per
// line, skipping scripts and styles.
func visibleText(content string) (string, error) {
	root, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return b.String(), nil
}
