package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/upmon/upmon/internal/domain/check"
	"github.com/upmon/upmon/internal/domain/notification"
	"github.com/upmon/upmon/internal/repository/postgres"
	"github.com/upmon/upmon/internal/schedule"
	"github.com/upmon/upmon/internal/services/checks"
)

var mPings = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pingd_pings_total", Help: "Heartbeat pings by outcome",
}, []string{"outcome"})

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	recovered, err := s.pings.RecordPing(r.Context(), key, s.pings.Clock.Now())
	switch {
	case err == nil:
		if recovered {
			mPings.WithLabelValues("recovered").Inc()
		} else {
			mPings.WithLabelValues("ok").Inc()
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	case errors.Is(err, postgres.ErrNotFound):
		mPings.WithLabelValues("unknown_key").Inc()
		http.Error(w, "unknown ping key", http.StatusNotFound)
	default:
		mPings.WithLabelValues("error").Inc()
		s.log.Error("ping failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

type createCheckRequest struct {
	ProjectID       int64            `json:"project_id"`
	Name            string           `json:"name"`
	Description     string           `json:"description"`
	Schedule        check.Schedule   `json:"schedule"`
	GracePeriod     int32            `json:"grace_period"`
	GracePeriodUnit check.PeriodUnit `json:"grace_period_unit"`
}

func (s *Server) handleCreateCheck(w http.ResponseWriter, r *http.Request) {
	var req createCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	c := &check.Check{
		ProjectID:       req.ProjectID,
		Name:            req.Name,
		Description:     req.Description,
		Schedule:        req.Schedule,
		GracePeriod:     req.GracePeriod,
		GracePeriodUnit: req.GracePeriodUnit,
	}
	if err := s.admin.Create(r.Context(), c); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	c, err := s.admin.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.admin.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePauseCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.admin.Pause(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResumeCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	c, err := s.admin.Resume(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	key, err := s.admin.RotateKey(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"ping_key": key})
}

type addNotificationRequest struct {
	Name       string            `json:"name"`
	Type       notification.Type `json:"type"`
	Email      string            `json:"email"`
	URL        string            `json:"url"`
	MaxRetries int32             `json:"max_retries"`
}

func (s *Server) handleAddNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req addNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	n := &notification.Notification{
		CheckID:    id,
		Name:       req.Name,
		Type:       req.Type,
		Email:      req.Email,
		URL:        req.URL,
		MaxRetries: req.MaxRetries,
	}
	if err := s.admin.AddNotification(r.Context(), n); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, n)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	ns, err := s.admin.ListNotifications(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ns)
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, postgres.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, checks.ErrNotPaused), errors.Is(err, postgres.ErrConstraint):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, checks.ErrInvalidNotification),
		errors.Is(err, schedule.ErrMissingPeriod),
		errors.Is(err, schedule.ErrMissingCron),
		errors.Is(err, schedule.ErrUnknownType),
		errors.Is(err, schedule.ErrInvalidSchedule):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.log.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
