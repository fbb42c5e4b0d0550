package normalize

import (
	"path"
	"strings"

	"listing_canon/models"
)

var videoExtensions = map[string]bool{".mp4": true, ".mov": true, ".webm": true, ".m3u8": true}

// media turns photo and video lists into ordered media items. Duplicate
// URLs are dropped, the first image is primary and at most MaxMediaItems
// are kept.
func media(photos, videos any) []models.MediaItem {
	var items []models.MediaItem
	seen := map[string]bool{}

	add := func(v any, fallback models.MediaType) {
		item, ok := mediaItem(v, fallback)
		if !ok || seen[item.URL] || len(items) >= models.MaxMediaItems {
			return
		}
		seen[item.URL] = true
		item.DisplayOrder = len(items)
		items = append(items, item)
	}
	for _, p := range asList(photos) {
		add(p, models.MediaImage)
	}
	for _, v := range asList(videos) {
		add(v, models.MediaVideo)
	}

	for i := range items {
		if items[i].Type == models.MediaImage {
			items[i].IsPrimary = true
			break
		}
	}
	return items
}

func mediaItem(v any, fallback models.MediaType) (models.MediaItem, bool) {
	item := models.MediaItem{Type: fallback}
	switch t := v.(type) {
	case string:
		item.URL = strings.TrimSpace(t)
	case map[string]any:
		for _, key := range []string{"url", "href", "src", "contentUrl"} {
			if u := text(t[key]); u != "" {
				item.URL = u
				break
			}
		}
		for _, key := range []string{"type", "mediaType", "@type", "kind"} {
			if raw := text(t[key]); raw != "" {
				item.Type = MediaType(raw)
				if item.Type == models.MediaOther {
					item.TypeRaw = raw
				}
				break
			}
		}
		for _, key := range []string{"caption", "description", "alt", "name"} {
			if c := text(t[key]); c != "" {
				item.Caption = c
				break
			}
		}
	}
	if item.URL == "" {
		return item, false
	}
	if videoExtensions[strings.ToLower(path.Ext(strings.SplitN(item.URL, "?", 2)[0]))] {
		item.Type = models.MediaVideo
	}
	return item, true
}

func agents(v any) []models.AgentInfo {
	var out []models.AgentInfo
	seen := map[models.AgentInfo]bool{}
	for _, raw := range asList(v) {
		var a models.AgentInfo
		switch t := raw.(type) {
		case string:
			a.Name = text(t)
		case map[string]any:
			a.Name = first(t, "name", "fullName", "displayName", "agentName")
			a.Phone = first(t, "phone", "phoneNumber", "telephone")
			a.Email = first(t, "email")
			a.Brokerage = first(t, "brokerage", "brokerName", "organization", "office")
			a.Role = first(t, "role", "type")
		}
		if a.Name == "" && a.Phone == "" && a.Email == "" && a.Brokerage == "" {
			continue
		}
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

// priceHistory reads event lists such as zillow's priceHistory. Events with
// neither date nor price are dropped.
func (n *Normalizer) priceHistory(v any, errs *[]models.NormalizationError) []models.PriceHistoryEvent {
	var out []models.PriceHistoryEvent
	for _, raw := range asList(v) {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		var ev models.PriceHistoryEvent

		if d := firstValue(m, "date", "eventDate", "time"); d != nil {
			parsed, err := date(d)
			if err != nil {
				n.fail(errs, models.FieldPriceHistory, d, "unrecognised event date")
			} else {
				ev.Date = &parsed
			}
		}
		if p := firstValue(m, "price", "amount"); p != nil {
			if f, err := number(p); err == nil {
				ev.Price = &f
			}
		}
		rawEvent := first(m, "event", "eventType", "eventName", "description")
		ev.EventType = EventType(rawEvent)
		ev.Notes = rawEvent

		if ev.Date == nil && ev.Price == nil {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (n *Normalizer) monthlyCosts(v any) *models.MonthlyCosts {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	costs := &models.MonthlyCosts{}
	for key, dst := range map[string]**float64{
		"principal_interest": &costs.PrincipalInterest,
		"mortgage_insurance": &costs.MortgageInsurance,
		"property_taxes":     &costs.PropertyTaxes,
		"home_insurance":     &costs.HomeInsurance,
		"hoa_fees":           &costs.HOAFees,
		"utilities":          &costs.Utilities,
	} {
		// Text notes such as "Not included" carry no amount.
		if f, err := number(m[key]); err == nil {
			*dst = &f
		}
	}
	if costs.IsEmpty() {
		return nil
	}
	return costs
}

func asList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	}
	return []any{v}
}

func first(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := text(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func firstValue(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && models.IsUsable(v) {
			return v
		}
	}
	return nil
}
