// Package query provides normalization, expansion, and classification of
// incoming user queries before tiered resolution.
package query

import (
	"strings"
	"unicode"
)

// Normalizer produces the canonical lookup form of a query: lowercase,
// accent-free, punctuation stripped, whitespace collapsed, and common
// misspellings corrected. Normalize is idempotent.
type Normalizer struct {
	corrections map[string]string
}

// NewNormalizer creates a normalizer with the built-in correction table.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		corrections: buildCorrections(),
	}
}

// Normalize returns the canonical form of q.
func (n *Normalizer) Normalize(q string) string {
	q = strings.ToLower(q)
	q = stripAccents(q)

	var b strings.Builder
	b.Grow(len(q))
	for _, r := range q {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	words := strings.Fields(b.String())
	for i, word := range words {
		if corrected, ok := n.corrections[word]; ok {
			words[i] = corrected
		}
	}

	return strings.Join(words, " ")
}

// stripAccents maps accented Spanish vowels and enye to their base forms.
func stripAccents(s string) string {
	replacer := strings.NewReplacer(
		"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u",
		"ü", "u", "ñ", "n",
	)
	return replacer.Replace(s)
}

// buildCorrections returns the misspelling table. Corrected forms must
// never themselves appear as keys so that Normalize stays idempotent.
func buildCorrections() map[string]string {
	return map[string]string{
		// Spanish
		"presio":         "precio",
		"prescio":        "precio",
		"qunto":          "cuanto",
		"quanto":         "cuanto",
		"cuannto":        "cuanto",
		"disponivilidad": "disponibilidad",
		"disponibilida":  "disponibilidad",
		"desarollo":      "desarrollo",
		"departamente":   "departamento",
		"depto":          "departamento",
		"depa":           "departamento",
		"amenidad":       "amenidades",
		"estacionamento": "estacionamiento",
		"recamara":       "recamaras",
		// English
		"aparment":   "apartment",
		"apartament": "apartment",
		"availible":  "available",
		"avaliable":  "available",
		"priec":      "price",
		"prise":      "price",
	}
}
