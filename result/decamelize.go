package result

import (
	"strings"
	"unicode"
)

// decamelizeMap returns a copy of m with every key, at every depth, converted
// to snake_case. Lists are walked so maps nested inside them are converted too.
func decamelizeMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[Decamelize(k)] = decamelizeValue(v)
	}
	return out
}

func decamelizeValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return decamelizeMap(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = decamelizeValue(item)
		}
		return out
	default:
		return v
	}
}

// Decamelize converts a camelCase or PascalCase key to snake_case. Acronyms stay
// one word (userID → user_id, HTTPStatus → http_status) and digits stick to the
// word before them. Keys already in snake_case are returned unchanged.
func Decamelize(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && wordBreak(runes, i) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func wordBreak(runes []rune, i int) bool {
	prev := runes[i-1]
	if prev == '_' || prev == '-' || prev == ' ' {
		return false
	}
	if unicode.IsLower(prev) || unicode.IsDigit(prev) {
		return true
	}
	// end of an acronym: "HTTPStatus" breaks before the S
	return unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1])
}
