// Package api provides HTTP handlers for SurveyPipe template endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/BTreeMap/SurveyPipe/internal/models"
)

func (s *Server) templatesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.templatesHandler: processing request", "method", r.Method)

	switch r.Method {
	case http.MethodGet:
		templates, err := s.st.ListSurveyTemplates()
		if err != nil {
			slog.Error("Server.templatesHandler: failed to list templates", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list templates"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(templates))

	case http.MethodPost:
		var tmpl models.SurveyTemplate
		if err := json.NewDecoder(r.Body).Decode(&tmpl); err != nil {
			slog.Warn("Server.templatesHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		if err := tmpl.Validate(); err != nil {
			slog.Warn("Server.templatesHandler: validation failed", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		if tmpl.ID == "" {
			tmpl.ID = uuid.NewString()
		}
		if err := s.st.SaveSurveyTemplate(tmpl); err != nil {
			slog.Error("Server.templatesHandler: failed to save template", "error", err, "templateID", tmpl.ID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save template"))
			return
		}
		slog.Info("Server.templatesHandler: template created", "templateID", tmpl.ID)
		writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Template created", tmpl))

	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) templateByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	id := strings.TrimPrefix(r.URL.Path, "/templates/")
	if id == "" || strings.Contains(id, "/") {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid template id"))
		return
	}
	slog.Debug("Server.templateByIDHandler: processing request", "method", r.Method, "templateID", id)

	switch r.Method {
	case http.MethodGet:
		tmpl, err := s.st.GetSurveyTemplate(id)
		if err != nil {
			slog.Error("Server.templateByIDHandler: failed to load template", "error", err, "templateID", id)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load template"))
			return
		}
		if tmpl == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Template not found"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(tmpl))

	case http.MethodPut:
		existing, err := s.st.GetSurveyTemplate(id)
		if err != nil {
			slog.Error("Server.templateByIDHandler: failed to load template", "error", err, "templateID", id)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load template"))
			return
		}
		if existing == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Template not found"))
			return
		}
		var tmpl models.SurveyTemplate
		if err := json.NewDecoder(r.Body).Decode(&tmpl); err != nil {
			slog.Warn("Server.templateByIDHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		tmpl.ID = id
		if err := tmpl.Validate(); err != nil {
			slog.Warn("Server.templateByIDHandler: validation failed", "error", err, "templateID", id)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		if err := s.st.SaveSurveyTemplate(tmpl); err != nil {
			slog.Error("Server.templateByIDHandler: failed to save template", "error", err, "templateID", id)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save template"))
			return
		}
		slog.Info("Server.templateByIDHandler: template updated", "templateID", id)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Template updated", tmpl))

	case http.MethodDelete:
		if err := s.st.DeleteSurveyTemplate(id); err != nil {
			slog.Error("Server.templateByIDHandler: failed to delete template", "error", err, "templateID", id)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete template"))
			return
		}
		slog.Info("Server.templateByIDHandler: template deleted", "templateID", id)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Template deleted", nil))

	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
