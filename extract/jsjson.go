package extract

import (
	"encoding/json"
	"strings"
)

// parseLoose decodes JSON that may actually be a JavaScript object literal:
// comments, trailing commas, single-quoted strings and undefined are
// tolerated. As a last resort the first balanced {...} slice is tried.
func parseLoose(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}

	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v, true
	}
	if err := json.Unmarshal([]byte(cleanJS(s)), &v); err == nil {
		return v, true
	}
	if slice := balancedBraces(s, 0); slice != "" {
		if err := json.Unmarshal([]byte(cleanJS(slice)), &v); err == nil {
			return v, true
		}
	}
	return nil, false
}

// balancedBraces returns the first balanced {...} substring at or after
// start, skipping braces inside string literals.
func balancedBraces(s string, start int) string {
	if start < 0 || start >= len(s) {
		return ""
	}
	i := strings.IndexByte(s[start:], '{')
	if i < 0 {
		return ""
	}
	i += start

	depth := 0
	var quote byte
	escaped := false
	for j := i; j < len(s); j++ {
		ch := s[j]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '"', '\'':
			quote = ch
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[i : j+1]
			}
		}
	}
	return ""
}

// cleanJS rewrites a JavaScript object literal into JSON: comments and
// trailing commas are dropped, bare and single-quoted keys are quoted, and
// undefined becomes null. String contents are left untouched, so URLs
// containing // survive.
func cleanJS(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	n := len(s)
	var last byte

	write := func(str string) {
		b.WriteString(str)
		for k := len(str) - 1; k >= 0; k-- {
			if !isSpace(str[k]) {
				last = str[k]
				break
			}
		}
	}

	for i := 0; i < n; i++ {
		c := s[i]
		switch {
		case c == '"':
			j := stringEnd(s, i)
			write(s[i:j])
			i = j - 1
		case c == '\'':
			j := stringEnd(s, i)
			inner := s[i+1 : j]
			if j > i+1 && s[j-1] == '\'' {
				inner = s[i+1 : j-1]
			}
			write(requote(inner))
			i = j - 1
		case c == '/' && i+1 < n && s[i+1] == '/':
			for i+1 < n && s[i+1] != '\n' {
				i++
			}
		case c == '/' && i+1 < n && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				i = n
			} else {
				i += 2 + end + 1
			}
		case c == ',':
			k := skipNoise(s, i+1)
			if k < n && (s[k] == '}' || s[k] == ']') {
				continue
			}
			write(",")
		case identStart(c) && !identByte(prev(s, i)):
			j := i
			for j < n && identByte(s[j]) {
				j++
			}
			word := s[i:j]
			k := j
			for k < n && isSpace(s[k]) {
				k++
			}
			switch {
			case k < n && s[k] == ':' && (last == '{' || last == ','):
				write(`"` + word + `"`)
			case word == "undefined":
				write("null")
			default:
				write(word)
			}
			i = j - 1
		default:
			b.WriteByte(c)
			if !isSpace(c) {
				last = c
			}
		}
	}
	return b.String()
}

// skipNoise returns the index of the next byte after i that is neither
// whitespace nor part of a comment.
func skipNoise(s string, i int) int {
	for i < len(s) {
		switch {
		case isSpace(s[i]):
			i++
		case strings.HasPrefix(s[i:], "//"):
			nl := strings.IndexByte(s[i:], '\n')
			if nl < 0 {
				return len(s)
			}
			i += nl + 1
		case strings.HasPrefix(s[i:], "/*"):
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return len(s)
			}
			i += 2 + end + 2
		default:
			return i
		}
	}
	return i
}

// stringEnd returns the index just past the closing quote of the string
// literal starting at i, or len(s) if it is unterminated.
func stringEnd(s string, i int) int {
	q := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case q:
			return j + 1
		}
	}
	return len(s)
}

func requote(inner string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		switch {
		case c == '\\' && i+1 < len(inner) && inner[i+1] == '\'':
			b.WriteByte('\'')
			i++
		case c == '\\' && i+1 < len(inner):
			b.WriteByte(c)
			b.WriteByte(inner[i+1])
			i++
		case c == '"':
			b.WriteString(`\"`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func identStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func identByte(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func prev(s string, i int) byte {
	if i == 0 {
		return 0
	}
	return s[i-1]
}

// findAssignments locates `name = {...}` assignments in script text and
// returns every object literal that decodes.
func findAssignments(text, name string) []any {
	var out []any
	lower := strings.ToLower(text)
	needle := strings.ToLower(name)

	for pos := 0; pos < len(lower); {
		idx := strings.Index(lower[pos:], needle)
		if idx < 0 {
			break
		}
		idx += pos
		end := idx + len(needle)
		pos = end

		limit := end + 200
		if limit > len(text) {
			limit = len(text)
		}
		eq := strings.IndexByte(text[end:limit], '=')
		if eq < 0 {
			continue
		}
		obj := balancedBraces(text, end+eq)
		if obj == "" {
			continue
		}
		if v, ok := parseLoose(obj); ok {
			if _, isMap := v.(map[string]any); isMap {
				out = append(out, v)
				pos = end + eq + len(obj)
			}
		}
	}
	return out
}
