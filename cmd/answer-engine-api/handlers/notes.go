package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/altaterra-ai/answer-engine/cmd/answer-engine-api/middleware"
	"github.com/altaterra-ai/answer-engine/internal/memory"
	"github.com/altaterra-ai/answer-engine/internal/observability"
	"github.com/altaterra-ai/answer-engine/internal/storage"
)

// NotesHandler manages operational notes. Writes are admin-only; the
// notes themselves color generated answers through the memory store.
type NotesHandler struct {
	logger *observability.Logger
	notes  *memory.Store
}

// NewNotesHandler creates a new notes handler.
func NewNotesHandler(logger *observability.Logger, notes *memory.Store) *NotesHandler {
	return &NotesHandler{logger: logger, notes: notes}
}

// NoteRequestDTO represents a note creation request.
type NoteRequestDTO struct {
	Zone        string  `json:"zone"`
	Development string  `json:"development"`
	Text        string  `json:"text"`
	Importance  float64 `json:"importance"`
}

// NoteDTO represents a stored note.
type NoteDTO struct {
	ID          string  `json:"id"`
	Zone        string  `json:"zone"`
	Development string  `json:"development"`
	Text        string  `json:"text"`
	Importance  float64 `json:"importance"`
	CreatedAt   string  `json:"createdAt"`
}

// Add handles POST /notes.
func (h *NotesHandler) Add(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !middleware.HasRole(ctx, "admin") {
		writeError(w, http.StatusForbidden, "admin role required", "")
		return
	}

	var dto NoteRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if dto.Zone == "" || dto.Development == "" {
		writeError(w, http.StatusBadRequest, "zone and development are required", "")
		return
	}
	if dto.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required", "")
		return
	}
	if dto.Importance < 0 || dto.Importance > 1 {
		writeError(w, http.StatusBadRequest, "importance must be in [0, 1]", "")
		return
	}

	note := memory.Note{
		ID:          uuid.New(),
		Zone:        dto.Zone,
		Development: dto.Development,
		Text:        dto.Text,
		Importance:  dto.Importance,
	}
	if err := h.notes.Add(ctx, note); err != nil {
		h.logger.Error().Err(err).Str("zone", dto.Zone).Msg("Note creation failed")
		writeError(w, http.StatusInternalServerError, "note creation failed", "")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": note.ID.String()})
}

// List handles GET /notes?zone=&development=.
func (h *NotesHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	zone := r.URL.Query().Get("zone")
	development := r.URL.Query().Get("development")
	if zone == "" || development == "" {
		writeError(w, http.StatusBadRequest, "zone and development are required", "")
		return
	}
	if !middleware.ZoneAllowed(ctx, zone) {
		writeError(w, http.StatusForbidden, "zone not permitted for this user", "")
		return
	}

	notes, err := h.notes.Relevant(ctx, storage.Scope{Zone: zone, Development: development}, 0)
	if err != nil {
		h.logger.Error().Err(err).Str("zone", zone).Msg("Note listing failed")
		writeError(w, http.StatusInternalServerError, "note listing failed", "")
		return
	}

	out := make([]NoteDTO, 0, len(notes))
	for _, n := range notes {
		out = append(out, NoteDTO{
			ID:          n.ID.String(),
			Zone:        n.Zone,
			Development: n.Development,
			Text:        n.Text,
			Importance:  n.Importance,
			CreatedAt:   n.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notes": out})
}

// Delete handles DELETE /notes/{noteID}?zone=&development=.
func (h *NotesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !middleware.HasRole(ctx, "admin") {
		writeError(w, http.StatusForbidden, "admin role required", "")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "noteID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid note id", "")
		return
	}
	zone := r.URL.Query().Get("zone")
	development := r.URL.Query().Get("development")
	if zone == "" || development == "" {
		writeError(w, http.StatusBadRequest, "zone and development are required", "")
		return
	}

	err = h.notes.Forget(ctx, storage.Scope{Zone: zone, Development: development}, id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "note not found", "")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("zone", zone).Msg("Note deletion failed")
		writeError(w, http.StatusInternalServerError, "note deletion failed", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
