package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/altaterra-ai/answer-engine/cmd/answer-engine-api/middleware"
	"github.com/altaterra-ai/answer-engine/internal/observability"
	"github.com/altaterra-ai/answer-engine/internal/resolve"
	"github.com/altaterra-ai/answer-engine/internal/storage"
)

// ResolveHandler handles query resolution requests.
type ResolveHandler struct {
	logger     *observability.Logger
	dispatcher *resolve.Dispatcher
}

// NewResolveHandler creates a new resolve handler.
func NewResolveHandler(logger *observability.Logger, dispatcher *resolve.Dispatcher) *ResolveHandler {
	return &ResolveHandler{logger: logger, dispatcher: dispatcher}
}

// ResolveRequestDTO represents the API request for query resolution.
type ResolveRequestDTO struct {
	Query           string `json:"query"`
	Zone            string `json:"zone"`
	Development     string `json:"development"`
	ContentType     string `json:"contentType,omitempty"`
	ForceRegenerate bool   `json:"forceRegenerate,omitempty"`
}

// SourceRefDTO describes one knowledge chunk a generated answer used.
type SourceRefDTO struct {
	Filename  string  `json:"filename"`
	Page      int     `json:"page,omitempty"`
	Chunk     int     `json:"chunk,omitempty"`
	Relevance float64 `json:"relevance"`
	Preview   string  `json:"preview,omitempty"`
}

// ResolveResponseDTO represents the API response.
type ResolveResponseDTO struct {
	Success    bool           `json:"success"`
	QueryLogID string         `json:"queryLogId,omitempty"`
	Answer     string         `json:"answer"`
	Outcome    string         `json:"outcome"`
	Similarity float64        `json:"similarity,omitempty"`
	Sources    []string       `json:"sources,omitempty"`
	References []SourceRefDTO `json:"references,omitempty"`
	LatencyMs  int64          `json:"latencyMs"`
}

// Resolve handles POST /queries/resolve.
func (h *ResolveHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var reqDTO ResolveRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if reqDTO.Zone == "" || reqDTO.Development == "" {
		writeError(w, http.StatusBadRequest, "zone and development are required", "")
		return
	}

	if !middleware.ZoneAllowed(ctx, reqDTO.Zone) {
		writeError(w, http.StatusForbidden, "zone not permitted for this user", "")
		return
	}

	res, err := h.dispatcher.Resolve(ctx, resolve.Request{
		Query: reqDTO.Query,
		Scope: storage.Scope{
			Zone:        reqDTO.Zone,
			Development: reqDTO.Development,
			ContentType: storage.ContentType(reqDTO.ContentType),
		},
		UserID:          middleware.UserFromContext(ctx),
		ForceRegenerate: reqDTO.ForceRegenerate,
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("zone", reqDTO.Zone).Msg("Query resolution failed")
		writeResolveError(w, err)
		return
	}

	respDTO := ResolveResponseDTO{
		Success:    true,
		Answer:     res.Answer,
		Outcome:    string(res.Outcome),
		Similarity: res.Similarity,
		Sources:    res.Sources,
		LatencyMs:  res.LatencyMs,
	}
	for _, ref := range res.References {
		respDTO.References = append(respDTO.References, SourceRefDTO{
			Filename:  ref.Filename,
			Page:      ref.Page,
			Chunk:     ref.Chunk,
			Relevance: ref.Relevance,
			Preview:   ref.Preview,
		})
	}
	if res.QueryLogID != uuid.Nil {
		respDTO.QueryLogID = res.QueryLogID.String()
	}

	writeJSON(w, http.StatusOK, respDTO)
}
