package query

import (
	"regexp"
	"strings"
)

// simpleLengthCutoff is the length below which a query with no domain
// keyword is answered without retrieval.
const simpleLengthCutoff = 10

// Classifier detects trivial queries that deserve a canned reply
// instead of a retrieval round trip. Classification always runs on the
// ORIGINAL user text, never the normalized or augmented form.
type Classifier struct {
	greetings      []*regexp.Regexp
	thanks         *regexp.Regexp
	farewells      *regexp.Regexp
	domainKeywords map[string]struct{}
}

// NewClassifier creates a classifier with the built-in patterns.
func NewClassifier() *Classifier {
	return &Classifier{
		greetings: []*regexp.Regexp{
			regexp.MustCompile(`(?i)^\s*(hola|buen[ao]s?\s+(d[ií]as?|tardes?|noches?)|hey|hi|hello|qu[eé] tal|buenas)\s*[!.¡¿?]*\s*$`),
		},
		thanks:         regexp.MustCompile(`(?i)^\s*(gracias|muchas gracias|mil gracias|thanks|thank you)\s*[!.]*\s*$`),
		farewells:      regexp.MustCompile(`(?i)^\s*(adi[oó]s|hasta luego|nos vemos|bye|goodbye|chao)\s*[!.]*\s*$`),
		domainKeywords: buildDomainKeywords(),
	}
}

// IsSimple reports whether the original query should short-circuit.
func (c *Classifier) IsSimple(original string) bool {
	if c.matchesGreeting(original) || c.thanks.MatchString(original) || c.farewells.MatchString(original) {
		return true
	}

	trimmed := strings.TrimSpace(original)
	if len([]rune(trimmed)) >= simpleLengthCutoff {
		return false
	}
	return !c.containsDomainKeyword(trimmed)
}

// Reply returns the canned answer for a simple query.
func (c *Classifier) Reply(original string) string {
	switch {
	case c.thanks.MatchString(original):
		return "¡Con gusto! Si tienes otra pregunta sobre nuestros desarrollos, aquí estoy."
	case c.farewells.MatchString(original):
		return "¡Hasta pronto! Cuando quieras saber más sobre nuestras propiedades, escríbeme."
	case c.matchesGreeting(original):
		return "¡Hola! Soy tu asistente inmobiliario. Pregúntame sobre precios, disponibilidad o amenidades de nuestros desarrollos."
	default:
		return "¿En qué puedo ayudarte? Pregúntame sobre precios, disponibilidad o amenidades de nuestros desarrollos."
	}
}

func (c *Classifier) matchesGreeting(original string) bool {
	for _, re := range c.greetings {
		if re.MatchString(original) {
			return true
		}
	}
	return false
}

func (c *Classifier) containsDomainKeyword(original string) bool {
	lower := stripAccents(strings.ToLower(original))
	for _, word := range strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if _, ok := c.domainKeywords[word]; ok {
			return true
		}
	}
	return false
}

// buildDomainKeywords returns words that mark a short query as a real
// question worth resolving.
func buildDomainKeywords() map[string]struct{} {
	words := []string{
		"precio", "costo", "precios", "lote", "lotes", "casa", "casas",
		"departamento", "depa", "terreno", "amenidades", "alberca",
		"disponible", "disponibilidad", "venta", "preventa", "entrega",
		"financiamiento", "credito", "enganche", "mensualidades",
		"recamaras", "metros", "m2", "escrituras", "renta",
		"price", "cost", "lot", "house", "apartment", "condo",
		"available", "availability", "financing", "delivery", "amenities",
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
