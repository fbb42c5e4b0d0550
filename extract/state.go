package extract

import (
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"listing_canon/config"
	"listing_canon/models"
)

var (
	defaultStateSelectors = []string{
		"script#__NEXT_DATA__",
		"script[data-zrr-shared-data-key]",
	}
	defaultStateVariables = []string{
		"__INITIAL_STATE__",
		"__REDUX_STATE__",
	}
)

const (
	maxStateDepth = 16
	maxStateNodes = 200000
)

// listFields hold arrays; every other canonical field takes a scalar.
var listFields = map[string]bool{
	models.FieldPhotos:       true,
	models.FieldVideos:       true,
	models.FieldAgents:       true,
	models.FieldPriceHistory: true,
}

var objectFields = map[string]bool{
	models.FieldMonthlyCosts: true,
	models.FieldFeatures:     true,
}

// StateExtractor reads the JSON application state that single-page sites
// embed in their HTML. Which keys count is decided by the source's field
// mapping.
type StateExtractor struct {
	source *config.SourceConfig
	mapper *config.Mapper
}

func NewStateExtractor(source *config.SourceConfig, mapper *config.Mapper) *StateExtractor {
	if source == nil {
		source = &config.SourceConfig{}
	}
	return &StateExtractor{source: source, mapper: mapper}
}

func (e *StateExtractor) ID() models.ExtractorID {
	return models.ExtractorState
}

func (e *StateExtractor) Extract(page *models.FetchedPage) (*models.RawFieldBag, error) {
	bag := models.NewRawFieldBag()

	blobs, err := e.blobs(page)
	if err != nil {
		return bag, err
	}

	for _, blob := range blobs {
		for _, root := range e.roots(blob) {
			e.walk(root, bag)
		}
	}
	return bag, nil
}

func (e *StateExtractor) blobs(page *models.FetchedPage) ([]any, error) {
	if page.ContentType == models.ContentJSON {
		v, ok := parseLoose(page.Content)
		if !ok {
			return nil, failure(e.ID(), "malformed json document", nil)
		}
		return []any{v}, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Content))
	if err != nil {
		return nil, failure(e.ID(), "parse html", err)
	}

	var blobs []any
	malformed := 0
	for _, sel := range mergeUnique(defaultStateSelectors, e.source.State.Selectors) {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			text = strings.TrimPrefix(text, "<!--")
			text = strings.TrimSuffix(text, "-->")
			if strings.TrimSpace(text) == "" {
				return
			}
			if v, ok := parseLoose(text); ok {
				blobs = append(blobs, v)
			} else {
				malformed++
			}
		})
	}

	var scripts strings.Builder
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scripts.WriteString(s.Text())
		scripts.WriteByte('\n')
	})
	for _, name := range mergeUnique(defaultStateVariables, e.source.State.Variables) {
		blobs = append(blobs, findAssignments(scripts.String(), name)...)
	}

	if len(blobs) == 0 && malformed > 0 {
		return nil, failure(e.ID(), "malformed state blob", nil)
	}
	return blobs, nil
}

// roots returns the subtrees named by the configured root paths, or the
// blob itself when none resolve.
func (e *StateExtractor) roots(blob any) []any {
	var out []any
	for _, path := range e.source.State.RootPaths {
		node, ok := lookupPath(blob, path)
		if !ok {
			continue
		}
		if s, isString := node.(string); isString {
			if node, ok = parseLoose(s); !ok {
				continue
			}
		}
		out = append(out, node)
	}
	if len(out) == 0 {
		out = append(out, blob)
	}
	return out
}

// walk visits the tree breadth first with sorted keys, so shallower keys
// win and the result does not depend on map iteration order.
func (e *StateExtractor) walk(root any, bag *models.RawFieldBag) {
	type item struct {
		node  any
		depth int
	}
	queue := []item{{root, 0}}
	visited := 0

	for len(queue) > 0 && visited < maxStateNodes {
		cur := queue[0]
		queue = queue[1:]
		visited++
		if cur.depth > maxStateDepth {
			continue
		}

		switch n := cur.node.(type) {
		case []any:
			for _, child := range n {
				queue = append(queue, item{child, cur.depth + 1})
			}
		case map[string]any:
			keys := make([]string, 0, len(n))
			for k := range n {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			for _, k := range keys {
				v := n[k]
				if field, ok := e.canonical(k); ok {
					if value, accept := acceptValue(field, v); accept {
						bag.Set(field, value, e.ID())
						continue
					}
				}
				switch t := v.(type) {
				case map[string]any, []any:
					queue = append(queue, item{v, cur.depth + 1})
				case string:
					// Some sites cache whole API responses as JSON strings.
					if nested := strings.TrimSpace(t); strings.HasPrefix(nested, "{") {
						if parsed, ok := parseLoose(nested); ok {
							queue = append(queue, item{parsed, cur.depth + 1})
						}
					}
				}
			}
		}
	}
}

func (e *StateExtractor) canonical(key string) (string, bool) {
	if field, ok := e.mapper.Canonical(key); ok {
		return field, true
	}
	if models.IsCanonicalField(key) {
		return key, true
	}
	return "", false
}

// acceptValue checks that v has the right shape for field and converts
// photo arrays into plain URL lists.
func acceptValue(field string, v any) (any, bool) {
	switch {
	case field == models.FieldPhotos || field == models.FieldVideos:
		urls := imageURLs(v)
		return urls, len(urls) > 0
	case listFields[field]:
		list, ok := v.([]any)
		if !ok {
			return nil, false
		}
		var maps []any
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				maps = append(maps, m)
			}
		}
		return maps, len(maps) > 0
	case objectFields[field]:
		m, ok := v.(map[string]any)
		return m, ok && len(m) > 0
	}

	switch t := v.(type) {
	case string, float64, bool:
		return v, models.IsUsable(v)
	case map[string]any:
		// {"value": 1850, "unit": "sqft"} style quantities
		if _, ok := t["value"]; ok {
			return t, true
		}
	}
	return nil, false
}

// photoURL pulls a URL out of the many photo shapes sites use.
func photoURL(v any) string {
	switch p := v.(type) {
	case string:
		return strings.TrimSpace(p)
	case map[string]any:
		for _, key := range []string{"url", "rawUrl", "contentUrl", "href", "src", "fullUrl", "photoUrl"} {
			if s := stringValue(p[key]); s != "" {
				return s
			}
		}
		if mixed, ok := p["mixedSources"].(map[string]any); ok {
			for _, format := range []string{"jpeg", "webp"} {
				if list, ok := mixed[format].([]any); ok && len(list) > 0 {
					if u := photoURL(list[len(list)-1]); u != "" {
						return u
					}
				}
			}
		}
	}
	return ""
}

// lookupPath follows a dot-separated key path through nested maps.
func lookupPath(v any, path string) (any, bool) {
	cur := v
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

func mergeUnique(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
