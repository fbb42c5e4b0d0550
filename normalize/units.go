package normalize

import (
	"fmt"
	"sort"
	"strings"

	"listing_canon/config"
)

var areaUnitKeys = []string{"unit", "unitCode", "unitText", "units"}

// ToSquareFeet converts value in unit to square feet using the pipeline's
// unit table.
func ToSquareFeet(p *config.PipelineConfig, value float64, unit string) (float64, error) {
	factor, ok := resolveUnit(p, unit)
	if !ok {
		return 0, fmt.Errorf("unknown area unit %q", unit)
	}
	return value * factor, nil
}

// FromSquareFeet converts square feet back into unit.
func FromSquareFeet(p *config.PipelineConfig, sqft float64, unit string) (float64, error) {
	factor, ok := resolveUnit(p, unit)
	if !ok {
		return 0, fmt.Errorf("unknown area unit %q", unit)
	}
	return sqft / factor, nil
}

// resolveUnit looks the unit text up as written, then by its leading words,
// so "sq ft living" still resolves.
func resolveUnit(p *config.PipelineConfig, unit string) (float64, bool) {
	unit = strings.ToLower(strings.TrimSpace(unit))
	if unit == "" {
		return 0, false
	}
	candidates := []string{unit, strings.TrimRight(unit, ".,;:)")}
	words := strings.Fields(unit)
	if len(words) >= 2 {
		candidates = append(candidates, words[0]+" "+words[1])
	}
	if len(words) >= 1 {
		candidates = append(candidates, words[0], strings.TrimRight(words[0], ".,;:)"))
	}
	for _, c := range candidates {
		if f, ok := p.UnitFactor(c); ok {
			return f, true
		}
	}
	return 0, false
}

// area converts a raw area field into square feet. The unit is taken from
// the value itself, then the separate unit field, then the source default.
func (n *Normalizer) area(raw, unitField any) (float64, error) {
	var value float64
	unit := ""

	switch t := raw.(type) {
	case map[string]any:
		v, err := number(t["value"])
		if err != nil {
			return 0, err
		}
		value = v
		for _, key := range areaUnitKeys {
			if u := text(t[key]); u != "" {
				unit = u
				break
			}
		}
	case string:
		v, rest, ok := splitNumber(t)
		if !ok {
			return 0, errNotNumeric
		}
		value = v
		unit = strings.TrimSpace(rest)
	default:
		v, err := number(raw)
		if err != nil {
			return 0, err
		}
		value = v
	}

	if unit == "" {
		unit = text(unitField)
	}
	if unit == "" {
		unit = n.source.AreaUnit
	}
	if unit == "" {
		unit = "sqft"
	}
	sqft, err := ToSquareFeet(n.pipeline, value, unit)
	if err != nil {
		return 0, err
	}
	return round2(sqft), nil
}

// currency resolves the listing currency from an explicit code, a symbol in
// the raw price, or the source and pipeline defaults.
func (n *Normalizer) currency(raw, price any) string {
	if code := strings.ToUpper(text(raw)); len(code) == 3 && isAlpha(code) {
		return code
	}
	if sym := text(raw); sym != "" {
		if code, ok := n.currencyFromSymbol(sym); ok {
			return code
		}
	}
	if s, ok := price.(string); ok {
		if code, ok := n.currencyFromSymbol(s); ok {
			return code
		}
	}
	if n.source.Currency != "" {
		return strings.ToUpper(n.source.Currency)
	}
	return n.pipeline.DefaultCurrency
}

// currencyFromSymbol matches the longest configured symbol found in s. A
// bare "$" defers to the source's own currency.
func (n *Normalizer) currencyFromSymbol(s string) (string, bool) {
	symbols := make([]string, 0, len(n.pipeline.CurrencySymbols))
	for sym := range n.pipeline.CurrencySymbols {
		symbols = append(symbols, sym)
	}
	sort.Slice(symbols, func(i, j int) bool {
		if len(symbols[i]) != len(symbols[j]) {
			return len(symbols[i]) > len(symbols[j])
		}
		return symbols[i] < symbols[j]
	})
	for _, sym := range symbols {
		if !strings.Contains(s, sym) {
			continue
		}
		if sym == "$" && n.source.Currency != "" {
			return strings.ToUpper(n.source.Currency), true
		}
		return n.pipeline.CurrencySymbols[sym], true
	}
	return "", false
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
