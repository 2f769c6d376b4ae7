package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/altaterra-ai/answer-engine/cmd/answer-engine-api/middleware"
	"github.com/altaterra-ai/answer-engine/internal/observability"
	"github.com/altaterra-ai/answer-engine/internal/resolve"
	"github.com/altaterra-ai/answer-engine/internal/storage"
)

// FeedbackHandler handles answer rating submissions.
type FeedbackHandler struct {
	logger     *observability.Logger
	logs       *storage.QueryLogRepository
	feedback   *storage.FeedbackRepository
	dispatcher *resolve.Dispatcher
}

// NewFeedbackHandler creates a new feedback handler.
func NewFeedbackHandler(
	logger *observability.Logger,
	logs *storage.QueryLogRepository,
	feedback *storage.FeedbackRepository,
	dispatcher *resolve.Dispatcher,
) *FeedbackHandler {
	return &FeedbackHandler{
		logger:     logger,
		logs:       logs,
		feedback:   feedback,
		dispatcher: dispatcher,
	}
}

// FeedbackRequestDTO represents the API request for feedback submission.
type FeedbackRequestDTO struct {
	QueryLogID string `json:"queryLogId"`
	Rating     int    `json:"rating"`
	Comment    string `json:"comment,omitempty"`
}

// FeedbackResponseDTO represents the API response.
type FeedbackResponseDTO struct {
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt"`
}

// Submit handles POST /feedback. The query log row supplies the scope and
// the original query text so the stored feedback keys match what the
// reinforcement job and the poisoned-answer guard look up.
func (h *FeedbackHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var reqDTO FeedbackRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if reqDTO.Rating < 1 || reqDTO.Rating > 5 {
		writeError(w, http.StatusBadRequest, "rating must be between 1 and 5", "")
		return
	}

	logID, err := uuid.Parse(reqDTO.QueryLogID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid queryLogId", err.Error())
		return
	}

	logRow, err := h.logs.GetByID(ctx, logID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "query log not found", "")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to load query log")
		writeError(w, http.StatusInternalServerError, "failed to load query log", "")
		return
	}

	if !middleware.ZoneAllowed(ctx, logRow.Zone) {
		writeError(w, http.StatusForbidden, "zone not permitted for this user", "")
		return
	}

	fb := &storage.Feedback{
		ID:              uuid.New(),
		QueryLogID:      logRow.ID,
		Zone:            logRow.Zone,
		Development:     logRow.Development,
		ContentType:     logRow.ContentType,
		NormalizedQuery: h.dispatcher.Normalize(logRow.OriginalQuery),
		Answer:          logRow.Answer,
		Rating:          reqDTO.Rating,
		Comment:         reqDTO.Comment,
		UserID:          middleware.UserFromContext(ctx),
		CreatedAt:       time.Now().UTC(),
	}

	if err := h.feedback.Create(ctx, fb); err != nil {
		h.logger.Error().Err(err).Msg("Failed to store feedback")
		writeError(w, http.StatusInternalServerError, "failed to store feedback", "")
		return
	}

	writeJSON(w, http.StatusCreated, FeedbackResponseDTO{
		ID:        fb.ID.String(),
		CreatedAt: fb.CreatedAt.Format(time.RFC3339),
	})
}
