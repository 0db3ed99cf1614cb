package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/mattjoyce/conduit/internal/events"
	"github.com/mattjoyce/conduit/internal/trigger"
)

// handleListTriggers handles GET /triggers?container=&type=.
func (s *Server) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	if s.triggers == nil {
		s.writeError(w, http.StatusServiceUnavailable, "triggers are not enabled")
		return
	}
	q := r.URL.Query()
	configs, err := s.triggers.GetConfigs(r.Context(), trigger.ConfigFilter{
		Container: q.Get("container"),
		Type:      q.Get("type"),
	})
	if err != nil {
		s.logger.Error("failed to list triggers", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list triggers")
		return
	}
	resp := TriggerListResponse{Triggers: make([]TriggerResponse, 0, len(configs))}
	for _, c := range configs {
		resp.Triggers = append(resp.Triggers, triggerResponse(c))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleSaveTrigger handles POST /triggers.
func (s *Server) handleSaveTrigger(w http.ResponseWriter, r *http.Request) {
	if s.triggers == nil {
		s.writeError(w, http.StatusServiceUnavailable, "triggers are not enabled")
		return
	}
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cfg := &trigger.Config{
		Container:   req.Container,
		Name:        req.Name,
		Type:        req.Type,
		Description: req.Description,
		Enabled:     req.Enabled == nil || *req.Enabled,
		PipelineID:  req.Pipeline,
		Path:        req.Path,
		Pattern:     req.Pattern,
		Recursive:   req.Recursive,
		Params:      req.Params,
	}
	if _, err := s.pipelines.PipelineByName(req.Pipeline); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Quiet != "" {
		d, err := time.ParseDuration(req.Quiet)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "quiet must be a duration such as 30s")
			return
		}
		cfg.Quiet = d
	}

	if err := s.triggers.SaveConfig(r.Context(), cfg); err != nil {
		if errors.Is(err, trigger.ErrInvalidConfig) || errors.Is(err, trigger.ErrUnknownTriggerType) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("failed to save trigger", "name", req.Name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to save trigger")
		return
	}
	s.events.Publish(events.TypeTriggerSaved, events.TriggerChange{ID: cfg.RowID, Container: cfg.Container, Name: cfg.Name})
	respondJSON(w, http.StatusOK, triggerResponse(cfg))
}

// handleDeleteTrigger handles DELETE /triggers/{triggerID}.
func (s *Server) handleDeleteTrigger(w http.ResponseWriter, r *http.Request) {
	if s.triggers == nil {
		s.writeError(w, http.StatusServiceUnavailable, "triggers are not enabled")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "triggerID"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "trigger id must be an integer")
		return
	}
	if err := s.triggers.DeleteConfig(r.Context(), id); err != nil {
		if errors.Is(err, trigger.ErrConfigNotFound) {
			s.writeError(w, http.StatusNotFound, "trigger not found")
			return
		}
		s.logger.Error("failed to delete trigger", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete trigger")
		return
	}
	s.events.Publish(events.TypeTriggerDeleted, events.TriggerChange{ID: id})
	w.WriteHeader(http.StatusNoContent)
}
