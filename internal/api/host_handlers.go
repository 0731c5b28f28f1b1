// Package api provides HTTP handlers for SurveyPipe host endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/BTreeMap/SurveyPipe/internal/models"
)

// hostNameTaken reports whether another host already uses the given name.
func (s *Server) hostNameTaken(name, excludeID string) (bool, error) {
	hosts, err := s.st.ListHosts()
	if err != nil {
		return false, err
	}
	for _, h := range hosts {
		if h.Name == name && h.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Server) hostsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.hostsHandler: processing request", "method", r.Method)

	switch r.Method {
	case http.MethodGet:
		hosts, err := s.st.ListHosts()
		if err != nil {
			slog.Error("Server.hostsHandler: failed to list hosts", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list hosts"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(hosts))

	case http.MethodPost:
		var host models.Host
		if err := json.NewDecoder(r.Body).Decode(&host); err != nil {
			slog.Warn("Server.hostsHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		if err := host.Validate(); err != nil {
			slog.Warn("Server.hostsHandler: validation failed", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		taken, err := s.hostNameTaken(host.Name, "")
		if err != nil {
			slog.Error("Server.hostsHandler: failed to check host name", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save host"))
			return
		}
		if taken {
			writeJSONResponse(w, http.StatusConflict, models.Error("A host with this name already exists"))
			return
		}
		if host.ID == "" {
			host.ID = uuid.NewString()
		}
		if err := s.st.SaveHost(host); err != nil {
			slog.Error("Server.hostsHandler: failed to save host", "error", err, "hostID", host.ID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save host"))
			return
		}
		slog.Info("Server.hostsHandler: host created", "hostID", host.ID, "name", host.Name)
		writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Host created", host))

	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) hostByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	id := strings.TrimPrefix(r.URL.Path, "/hosts/")
	if id == "" || strings.Contains(id, "/") {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid host id"))
		return
	}
	slog.Debug("Server.hostByIDHandler: processing request", "method", r.Method, "hostID", id)

	switch r.Method {
	case http.MethodGet:
		host, err := s.st.GetHost(id)
		if err != nil {
			slog.Error("Server.hostByIDHandler: failed to load host", "error", err, "hostID", id)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load host"))
			return
		}
		if host == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Host not found"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(host))

	case http.MethodPut:
		existing, err := s.st.GetHost(id)
		if err != nil {
			slog.Error("Server.hostByIDHandler: failed to load host", "error", err, "hostID", id)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load host"))
			return
		}
		if existing == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Host not found"))
			return
		}
		var host models.Host
		if err := json.NewDecoder(r.Body).Decode(&host); err != nil {
			slog.Warn("Server.hostByIDHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		host.ID = id
		if err := host.Validate(); err != nil {
			slog.Warn("Server.hostByIDHandler: validation failed", "error", err, "hostID", id)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		taken, err := s.hostNameTaken(host.Name, id)
		if err != nil {
			slog.Error("Server.hostByIDHandler: failed to check host name", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save host"))
			return
		}
		if taken {
			writeJSONResponse(w, http.StatusConflict, models.Error("A host with this name already exists"))
			return
		}
		if err := s.st.SaveHost(host); err != nil {
			slog.Error("Server.hostByIDHandler: failed to save host", "error", err, "hostID", id)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save host"))
			return
		}
		slog.Info("Server.hostByIDHandler: host updated", "hostID", id)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Host updated", host))

	case http.MethodDelete:
		if err := s.st.DeleteHost(id); err != nil {
			slog.Error("Server.hostByIDHandler: failed to delete host", "error", err, "hostID", id)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete host"))
			return
		}
		slog.Info("Server.hostByIDHandler: host deleted", "hostID", id)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Host deleted", nil))

	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
