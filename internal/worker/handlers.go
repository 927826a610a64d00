package worker

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	gormdb "github.com/fathomdesk/fathom/internal/db/gorm"
	"github.com/fathomdesk/fathom/internal/grouping"
)

// writeJSON writes a JSON response with proper error handling.
func (s *Service) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Service) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// handleHealth reports liveness plus uptime.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.startTime).String(),
	})
}

// handleListGroups returns all issue groups with member counts, largest
// first.
func (s *Service) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.deps.Groups.ListWithCounts(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list issue groups")
		s.writeError(w, http.StatusInternalServerError, "failed to list issue groups")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"groups": groups,
		"count":  len(groups),
	})
}

// handleGetGroup returns one issue group with its member conversations.
func (s *Service) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}

	group, err := s.deps.Groups.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, gormdb.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "issue group not found")
			return
		}
		s.logger.Error().Err(err).Int64("groupId", id).Msg("Failed to load issue group")
		s.writeError(w, http.StatusInternalServerError, "failed to load issue group")
		return
	}

	members, err := s.deps.Groups.Members(r.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Int64("groupId", id).Msg("Failed to load group members")
		s.writeError(w, http.StatusInternalServerError, "failed to load group members")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"group":   group,
		"members": members,
	})
}

// handleRunBatch triggers a batch clustering run synchronously and returns
// its result. A run already in progress elsewhere maps to 409.
func (s *Service) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Runner.RunBatch(r.Context())
	if err != nil {
		if errors.Is(err, grouping.ErrBatchInProgress) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("Batch run failed")
		// Partial progress is still reported alongside the failure.
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":  "batch run failed",
			"result": result,
		})
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleBackfill fingerprints conversations missing one.
func (s *Service) handleBackfill(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	result, err := s.deps.Backfiller.Run(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Backfill failed")
		s.writeError(w, http.StatusInternalServerError, "backfill failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleCategorize runs generative point assignment for one conversation.
func (s *Service) handleCategorize(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	result, err := s.deps.Categorizer.Categorize(r.Context(), id)
	if err != nil {
		if errors.Is(err, gormdb.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.logger.Error().Err(err).Int64("conversationId", id).Msg("Categorization failed")
		s.writeError(w, http.StatusInternalServerError, "categorization failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

type assignRequest struct {
	GroupID int64 `json:"group_id"`
}

// handleAssignGroup manually assigns a conversation to an issue group.
func (s *Service) handleAssignGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GroupID < 1 {
		s.writeError(w, http.StatusBadRequest, "group_id is required")
		return
	}

	if err := s.deps.Memberships.AssignGroup(r.Context(), id, req.GroupID); err != nil {
		switch {
		case errors.Is(err, gormdb.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "conversation not found")
		case errors.Is(err, gormdb.ErrAlreadyGrouped):
			s.writeError(w, http.StatusConflict, "conversation is already assigned to an issue group")
		default:
			s.logger.Error().Err(err).Int64("conversationId", id).Msg("Assignment failed")
			s.writeError(w, http.StatusInternalServerError, "assignment failed")
		}
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"group_id":        req.GroupID,
	})
}

// handleUnassignGroup removes a conversation's issue group membership.
func (s *Service) handleUnassignGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	if err := s.deps.Memberships.UnassignGroup(r.Context(), id); err != nil {
		if errors.Is(err, gormdb.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.logger.Error().Err(err).Int64("conversationId", id).Msg("Unassignment failed")
		s.writeError(w, http.StatusInternalServerError, "unassignment failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
