package resolve

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/altaterra-ai/answer-engine/internal/embedding"
	"github.com/altaterra-ai/answer-engine/internal/llm"
	"github.com/altaterra-ai/answer-engine/internal/memory"
	"github.com/altaterra-ai/answer-engine/internal/observability"
	"github.com/altaterra-ai/answer-engine/internal/storage"
	"github.com/altaterra-ai/answer-engine/internal/vector"
)

const systemPrompt = `Eres un asesor inmobiliario experto en desarrollos de la Riviera Maya. ` +
	`Responde en el idioma de la pregunta, usando unicamente el contexto proporcionado. ` +
	`Si el contexto no contiene la respuesta, dilo con claridad y ofrece poner al cliente ` +
	`en contacto con un asesor humano. Nunca inventes precios ni disponibilidad.`

const previewRunes = 120

// SourceRef identifies one knowledge chunk an answer was built from.
// Relevance is the cosine similarity of the chunk, rounded to two
// decimals for display. ID is the chunk's index identifier; it stays
// out of API responses.
type SourceRef struct {
	ID        uuid.UUID `json:"-"`
	Filename  string    `json:"filename"`
	Page      int       `json:"page,omitempty"`
	Chunk     int       `json:"chunk,omitempty"`
	Relevance float64   `json:"relevance"`
	Preview   string    `json:"preview,omitempty"`
}

// Generator produces fresh answers: retrieves scoped knowledge, folds
// in operational notes, and calls the model. The provider health check
// runs before any retrieval so outages fail fast.
type Generator struct {
	model               llm.Generator
	index               vector.Index
	embedder            embedding.Embedder
	notes               *memory.Store
	logger              *observability.Logger
	topK                int
	maxTokens           int
	temperature         float64
	importanceThreshold float64
}

// GeneratorConfig holds generation tuning knobs.
type GeneratorConfig struct {
	TopK                int
	Temperature         float64
	MaxTokens           int
	ImportanceThreshold float64
}

// NewGenerator creates a generator.
func NewGenerator(
	model llm.Generator,
	index vector.Index,
	embedder embedding.Embedder,
	notes *memory.Store,
	logger *observability.Logger,
	cfg GeneratorConfig,
) *Generator {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.ImportanceThreshold <= 0 {
		cfg.ImportanceThreshold = 0.7
	}
	return &Generator{
		model:               model,
		index:               index,
		embedder:            embedder,
		notes:               notes,
		logger:              logger,
		topK:                cfg.TopK,
		maxTokens:           cfg.MaxTokens,
		temperature:         cfg.Temperature,
		importanceThreshold: cfg.ImportanceThreshold,
	}
}

// Generate answers the original query using knowledge retrieved with
// the augmented form. The returned refs identify the chunks used.
func (g *Generator) Generate(ctx context.Context, scope storage.Scope, original, augmented string) (string, []SourceRef, error) {
	if err := g.model.Healthy(ctx); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	queryVec, err := g.embedder.EmbedSingle(ctx, augmented)
	if err != nil {
		return "", nil, fmt.Errorf("%w: embed query: %v", ErrUpstreamUnavailable, err)
	}

	results, err := g.index.Search(ctx, queryVec, g.topK, vector.Filter{
		Namespace:   vector.NamespaceKnowledge,
		Zone:        scope.Zone,
		Development: scope.Development,
		ContentType: string(scope.ContentType),
	})
	if err != nil {
		return "", nil, fmt.Errorf("%w: search knowledge: %v", ErrUpstreamUnavailable, err)
	}

	chunks, refs := extractChunks(results)

	notes, err := g.notes.Relevant(ctx, scope, g.importanceThreshold)
	if err != nil {
		// Notes enrich answers but never block them.
		g.logger.Warn().Err(err).Str("scope", scope.Key()).Msg("operational notes unavailable")
	}

	resp, err := g.model.Generate(ctx, llm.GenerateRequest{
		Messages: []llm.ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(original, chunks, notes)},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return "", nil, ErrEmptyAnswer
	}

	return answer, refs, nil
}

// Quick answers the original query directly, with no retrieval and no
// operational notes. Used for greetings and other queries that need no
// knowledge lookup.
func (g *Generator) Quick(ctx context.Context, original string) (string, error) {
	resp, err := g.model.Generate(ctx, llm.GenerateRequest{
		Messages: []llm.ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: original},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return "", ErrEmptyAnswer
	}
	return answer, nil
}

// extractChunks pulls text and per-chunk source references out of
// search hits, one ref per retrieved chunk.
func extractChunks(results []vector.Result) (chunks []string, refs []SourceRef) {
	for _, r := range results {
		text, _ := r.Metadata["text"].(string)
		if text != "" {
			chunks = append(chunks, text)
		}
		filename, ok := r.Metadata["source"].(string)
		if !ok || filename == "" {
			filename = r.ID.String()
		}
		refs = append(refs, SourceRef{
			ID:        r.ID,
			Filename:  filename,
			Page:      metadataInt(r.Metadata, "page"),
			Chunk:     metadataInt(r.Metadata, "chunk"),
			Relevance: math.Round(float64(r.Score)*100) / 100,
			Preview:   previewOf(text),
		})
	}
	return chunks, refs
}

// metadataInt reads a numeric metadata value, tolerating the float64
// that JSON decoding produces.
func metadataInt(meta map[string]interface{}, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// previewOf truncates chunk text to a short display excerpt.
func previewOf(text string) string {
	runes := []rune(text)
	if len(runes) <= previewRunes {
		return text
	}
	return string(runes[:previewRunes]) + "…"
}

// buildUserPrompt assembles the retrieval context, operational notes,
// and the user's ORIGINAL question into one message.
func buildUserPrompt(original string, chunks []string, notes []memory.Note) string {
	var b strings.Builder

	if len(chunks) > 0 {
		b.WriteString("Contexto:\n")
		for _, chunk := range chunks {
			b.WriteString("- ")
			b.WriteString(chunk)
			b.WriteString("\n")
		}
	} else {
		b.WriteString("Contexto: (sin resultados para esta consulta)\n")
	}

	if len(notes) > 0 {
		b.WriteString("\nNotas operativas vigentes:\n")
		for _, n := range notes {
			b.WriteString("- ")
			b.WriteString(n.Text)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nPregunta: ")
	b.WriteString(original)
	return b.String()
}
