package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/ledgersync/internal/domain"
	"github.com/aristath/ledgersync/internal/events"
	"github.com/aristath/ledgersync/internal/queue"
)

// handleLiveness reports that the process is serving.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "ledgersync",
	})
}

// handleEnqueue handles POST /api/transactions
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var rec domain.TransactionRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id, err := s.queue.Enqueue(r.Context(), rec)
	if err != nil {
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			s.writeError(w, http.StatusBadRequest, vErr.Error())
			return
		}
		s.log.Error().Err(err).Msg("Failed to enqueue transaction")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":    id,
		"queue": s.queue.Stats(),
	})
}

// handleQueue handles GET /api/queue
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":   s.queue.Stats(),
		"pending": s.queue.Pending(),
	})
}

// handleDrain handles POST /api/queue/drain
func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	result, err := s.queue.Drain(r.Context())
	switch {
	case errors.Is(err, queue.ErrDrainInProgress):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		// Deliveries were applied in memory; only persistence failed.
		s.log.Error().Err(err).Msg("Drain completed with error")
		s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"result": result,
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleAudit handles GET /api/audit?period=&format=markdown
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	period := strings.TrimSpace(r.URL.Query().Get("period"))

	report, err := s.auditor.Audit(r.Context(), period)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.bus.Emit("reconciliation", &events.AuditCompletedData{
		Period:               report.Period,
		Accounts:             report.Summary.Accounts,
		PerfectMatches:       report.Summary.PerfectMatches,
		BalanceDiscrepancies: report.Summary.BalanceDiscrepancies,
		SyncStatus:           string(report.Health.SyncStatus),
		LocalOnly:            report.LocalOnly,
	})

	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(s.auditor.Markdown(report)))
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// handleHealth handles GET /api/health. The last known status is returned
// unless refresh=true or nothing has been polled yet.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") != "true" {
		if status, ok := s.health.Last(); ok {
			s.writeJSON(w, http.StatusOK, status)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, s.health.Poll(r.Context()))
}

type loginRequest struct {
	Token string `json:"token"`
}

// handleSession handles GET /api/session
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":   s.session.Active(),
		"deviceId": s.session.DeviceID(),
	})
}

// handleLogin handles POST /api/session
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.session.SetToken(req.Token); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.handleSession(w, r)
}

// handleLogout handles DELETE /api/session
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Logout(); err != nil {
		s.log.Error().Err(err).Msg("Logout incomplete")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleOptions handles GET /api/options
func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := s.options.Options(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, opts)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, data, s.log)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}, log zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
