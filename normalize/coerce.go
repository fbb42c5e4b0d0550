package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"listing_canon/models"
)

var (
	errNotNumeric = errors.New("not a number")
	errNotDate    = errors.New("unrecognised date")

	numberRe = regexp.MustCompile(`[-+]?\d[\d,]*(?:\.\d+)?|[-+]?\.\d+`)
)

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"01/02/2006",
	"1/2/2006",
}

// number coerces a raw value into a float64. Strings may carry currency
// symbols, thousands separators, K/M suffixes or trailing words ("3 bd").
func number(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		return parseNumber(t)
	case map[string]any:
		if inner, ok := t["value"]; ok {
			return number(inner)
		}
	}
	return 0, errNotNumeric
}

func parseNumber(s string) (float64, error) {
	n, rest, ok := splitNumber(s)
	if !ok {
		return 0, errNotNumeric
	}
	return n * multiplier(rest), nil
}

// splitNumber returns the first number in s and the text following it.
func splitNumber(s string) (float64, string, bool) {
	s = strings.TrimSpace(s)
	loc := numberRe.FindStringIndex(s)
	if loc == nil {
		return 0, "", false
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(s[loc[0]:loc[1]], ",", ""), 64)
	if err != nil {
		return 0, "", false
	}
	return n, s[loc[1]:], true
}

// multiplier reads a K or M suffix written directly after the number. "1.2M"
// counts, "172 m²" and "2 mo" do not.
func multiplier(rest string) float64 {
	r, size := utf8.DecodeRuneInString(rest)
	if size == 0 {
		return 1
	}
	next, _ := utf8.DecodeRuneInString(rest[size:])
	if unicode.IsLetter(next) || unicode.IsDigit(next) || next == '²' {
		return 1
	}
	switch r {
	case 'k', 'K':
		return 1e3
	case 'm', 'M':
		return 1e6
	}
	return 1
}

// integer is number rounded to the nearest whole value.
func integer(v any) (int, error) {
	f, err := number(v)
	if err != nil {
		return 0, err
	}
	return int(math.Round(f)), nil
}

// text returns a trimmed string for scalar values.
func text(v any) string {
	switch t := v.(type) {
	case string:
		return strings.Join(strings.Fields(t), " ")
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		for _, key := range []string{"value", "text", "name"} {
			if s := text(t[key]); s != "" {
				return s
			}
		}
	}
	return ""
}

// date parses the calendar date formats listing sites use. Numbers are
// taken as unix epochs in milliseconds (or seconds when small).
func date(v any) (models.Date, error) {
	switch t := v.(type) {
	case float64:
		if t <= 0 {
			return models.Date{}, errNotDate
		}
		var ts time.Time
		if t > 1e11 {
			ts = time.UnixMilli(int64(t)).UTC()
		} else {
			ts = time.Unix(int64(t), 0).UTC()
		}
		return models.NewDate(ts.Year(), ts.Month(), ts.Day()), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return models.NewDate(ts.Year(), ts.Month(), ts.Day()), nil
			}
		}
	}
	return models.Date{}, errNotDate
}

// rawString renders a raw value for a NormalizationError.
func rawString(v any) string {
	if s := text(v); s != "" {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
