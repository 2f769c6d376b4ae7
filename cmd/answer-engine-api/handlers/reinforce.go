package handlers

import (
	"net/http"
	"time"

	"github.com/altaterra-ai/answer-engine/cmd/answer-engine-api/middleware"
	"github.com/altaterra-ai/answer-engine/internal/observability"
	"github.com/altaterra-ai/answer-engine/internal/reinforce"
)

// ReinforceHandler triggers reinforcement runs over recent feedback.
type ReinforceHandler struct {
	logger *observability.Logger
	job    *reinforce.Job
}

// NewReinforceHandler creates a new reinforce handler.
func NewReinforceHandler(logger *observability.Logger, job *reinforce.Job) *ReinforceHandler {
	return &ReinforceHandler{logger: logger, job: job}
}

// ReinforceReportDTO represents the result of a reinforcement run.
type ReinforceReportDTO struct {
	StartedAt  string   `json:"startedAt"`
	FinishedAt string   `json:"finishedAt"`
	Processed  int      `json:"processed"`
	Created    int      `json:"created"`
	Updated    int      `json:"updated"`
	Errors     []string `json:"errors,omitempty"`
}

// Run handles POST /reinforce/run.
func (h *ReinforceHandler) Run(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !middleware.HasRole(ctx, "admin") {
		writeError(w, http.StatusForbidden, "admin role required", "")
		return
	}

	report, err := h.job.Run(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Reinforcement run failed")
		writeError(w, http.StatusInternalServerError, "reinforcement run failed", "")
		return
	}

	dto := ReinforceReportDTO{
		StartedAt:  report.StartedAt.Format(time.RFC3339),
		FinishedAt: report.FinishedAt.Format(time.RFC3339),
		Processed:  report.Processed,
		Created:    report.Created,
		Updated:    report.Updated,
	}
	for _, itemErr := range report.Errors {
		dto.Errors = append(dto.Errors, itemErr.FeedbackID.String()+": "+itemErr.Err)
	}

	writeJSON(w, http.StatusOK, dto)
}
