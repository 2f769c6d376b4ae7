package query

import (
	"strings"
)

// maxAugmentTerms caps how many expansion terms Augment may append.
const maxAugmentTerms = 5

// minTermLength is the shortest expansion term worth adding.
const minTermLength = 4

// rule expands queries mentioning its trigger. Triggers match as
// substrings of the normalized text so inflected forms ("lotes",
// "cuestan") fire too.
type rule struct {
	trigger string
	terms   []string
}

// Expander derives query variants from a normalized query using domain
// synonym rules, so that lookups match cached answers phrased
// differently. The original query text is never altered; callers keep
// it separately for logging and generation.
type Expander struct {
	rules     []rule
	stopWords map[string]struct{}
}

// NewExpander creates an expander with the built-in rule table.
func NewExpander() *Expander {
	return &Expander{
		rules:     buildRules(),
		stopWords: buildStopWords(),
	}
}

// Expand returns an ordered list of query variants: the input first,
// then one variant per matching rule, each appending that rule's terms.
func (e *Expander) Expand(normalized string) []string {
	variants := []string{normalized}
	for _, r := range e.rules {
		if strings.Contains(normalized, r.trigger) {
			variants = append(variants, normalized+" "+strings.Join(r.terms, " "))
		}
	}
	return variants
}

// Augment flattens Expand's variants into a single lookup string: the
// normalized query with up to maxAugmentTerms harvested terms appended.
// Terms already present, stop words, and words shorter than
// minTermLength are never added.
func (e *Expander) Augment(normalized string) string {
	seen := make(map[string]struct{})
	for _, w := range strings.Fields(normalized) {
		seen[w] = struct{}{}
	}

	var added []string
	for _, variant := range e.Expand(normalized)[1:] {
		if len(added) >= maxAugmentTerms {
			break
		}
		for _, term := range strings.Fields(strings.TrimPrefix(variant, normalized)) {
			if len(added) >= maxAugmentTerms {
				break
			}
			if len(term) < minTermLength {
				continue
			}
			if _, stop := e.stopWords[term]; stop {
				continue
			}
			if _, dup := seen[term]; dup {
				continue
			}
			seen[term] = struct{}{}
			added = append(added, term)
		}
	}

	if len(added) == 0 {
		return normalized
	}
	return normalized + " " + strings.Join(added, " ")
}

// buildRules returns the domain rule table. Triggers and terms are
// normalized forms (lowercase, accent-free); order fixes the variant
// order Expand produces.
func buildRules() []rule {
	return []rule{
		// pricing
		{"precio", []string{"costo", "valor", "cuanto"}},
		{"costo", []string{"precio", "valor"}},
		{"cuesta", []string{"precio", "costo"}},
		{"price", []string{"cost", "pricing"}},
		{"cost", []string{"price", "pricing"}},
		// inventory
		{"lote", []string{"terreno", "predio"}},
		{"terreno", []string{"lote", "predio"}},
		{"departamento", []string{"unidad", "condominio"}},
		{"casa", []string{"vivienda", "residencia"}},
		{"apartment", []string{"unit", "condo"}},
		// availability
		{"disponib", []string{"disponibilidad", "venta", "inventario"}},
		{"available", []string{"availability", "inventory"}},
		// amenities
		{"amenidades", []string{"alberca", "gimnasio", "areas comunes"}},
		{"alberca", []string{"amenidades", "piscina"}},
		{"amenities", []string{"pool", "facilities"}},
		// financing
		{"financiamiento", []string{"credito", "mensualidades", "enganche"}},
		{"credito", []string{"financiamiento", "hipoteca"}},
		{"financing", []string{"mortgage", "credit"}},
		// delivery
		{"entrega", []string{"fecha", "construccion"}},
		{"preventa", []string{"entrega", "descuento"}},
		{"escritura", []string{"escrituras", "notario"}},
	}
}

// buildStopWords returns words excluded from expansion output.
func buildStopWords() map[string]struct{} {
	words := []string{
		"el", "la", "los", "las", "un", "una", "unos", "unas",
		"de", "del", "en", "con", "por", "para", "que", "cual",
		"cuales", "como", "donde", "cuando", "hay", "es", "son",
		"esta", "estan", "tiene", "tienen", "me", "mi", "su", "sus",
		"the", "a", "an", "of", "in", "on", "for", "to", "is",
		"are", "what", "which", "how", "where", "when", "do", "does",
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
