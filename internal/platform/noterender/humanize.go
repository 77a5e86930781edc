package noterender

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Humanize turns a field key into a display label: camelCase boundaries and
// underscores become spaces and every word is capitalized. Each capital
// letter starts a new word, so "decreasedROM" is "Decreased R O M".
func Humanize(key string) string {
	var b strings.Builder
	b.Grow(len(key) + 8)
	prev := ' '
	for _, r := range key {
		switch {
		case r == '_' || r == '-':
			r = ' '
		case unicode.IsUpper(r) && prev != ' ':
			b.WriteRune(' ')
		}
		b.WriteRune(r)
		prev = r
	}

	words := strings.Fields(b.String())
	for i, w := range words {
		first, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(first)) + w[size:]
	}
	return strings.Join(words, " ")
}

// normalizeName reduces a section name or key to lowercase letters and digits
// so "Cognitive Status", "cognitive_status" and "CognitiveStatus" match.
func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
