package utils

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// territoryAliases maps known misspellings and abbreviations of territory
// names to their canonical key. Values must never appear as keys, otherwise
// NormalizeTerritory stops being idempotent.
var territoryAliases = map[string]string{
	"algeroest":         "algerouest",
	"algerwest":         "algerouest",
	"algercentr":        "algercentre",
	"algercenter":       "algercentre",
	"sidbel":            "sidibelabbes",
	"sba":               "sidibelabbes",
	"sidibelabes":       "sidibelabbes",
	"bba":               "bordjbouarreridj",
	"bordjbouareridj":   "bordjbouarreridj",
	"tizi":              "tiziouzou",
	"tiziouzo":          "tiziouzou",
	"oumelbouagui":      "oumelbouaghi",
	"oeb":               "oumelbouaghi",
	"constantinne":      "constantine",
	"temouchent":        "aintemouchent",
	"aintemouchen":      "aintemouchent",
	"siegedg":           "siege",
	"dg":                "siege",
	"directiongenerale": "siege",
}

// NormalizeTerritory canonicalizes a free-text territory name into a
// comparable key. It lower-cases, trims, strips diacritics (NFKD, combining
// marks dropped), keeps only ASCII letters and digits and finally resolves
// known aliases. Empty input is returned unchanged.
func NormalizeTerritory(raw string) string {
	if raw == "" {
		return raw
	}

	s := strings.TrimSpace(strings.ToLower(raw))

	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	folded, _, err := transform.String(t, s)
	if err == nil {
		s = folded
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	key := b.String()

	if canonical, ok := territoryAliases[key]; ok {
		return canonical
	}
	return key
}
