package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/danprat/qris-d1-watcher/internal/monitor"
	"github.com/danprat/qris-d1-watcher/internal/qris"
	"github.com/danprat/qris-d1-watcher/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{Status: "success", Message: "ok"})
}

// handleFetch triggers a poll outside the schedule. The trigger skips the
// debounce but a cycle already in flight wins.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	result, err := s.poller.Poll(r.Context(), true)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, APIResponse{
			Status:  "success",
			Message: "poll completed",
			Data:    result,
		})
	case errors.Is(err, monitor.ErrPollInFlight):
		writeJSON(w, http.StatusConflict, APIResponse{
			Status:  "error",
			Message: "a poll is already running",
		})
	default:
		writeJSON(w, http.StatusBadGateway, APIResponse{
			Status:  "error",
			Message: err.Error(),
		})
	}
}

type statsPayload struct {
	Monitor      monitor.Stats `json:"monitor"`
	Transactions int64         `json:"transactions"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	count, err := s.reader.Count(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, APIResponse{Status: "error", Message: "failed to count transactions"})
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Status: "success",
		Data:   statsPayload{Monitor: s.poller.Stats(), Transactions: count},
	})
}

type sessionPayload struct {
	HasValidHeaders bool              `json:"hasValidHeaders"`
	Headers         map[string]string `json:"headers"`
}

// handleSession reports credential state with secret values masked. Raw
// header values never leave the process.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Status: "success",
		Data: sessionPayload{
			HasValidHeaders: s.poller.HasValidHeaders(),
			Headers:         s.poller.SessionHeaders(),
		},
	})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, APIResponse{Status: "error", Message: err.Error()})
		return
	}

	rows, err := s.reader.Query(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, APIResponse{Status: "error", Message: "query failed"})
		return
	}
	if rows == nil {
		rows = []store.StoredTransaction{}
	}
	writeJSON(w, http.StatusOK, APIResponse{Status: "success", Data: rows})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	reff := mux.Vars(r)["reffNumber"]

	row, err := s.reader.GetByReff(r.Context(), reff)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, APIResponse{Status: "error", Message: "lookup failed"})
		return
	}
	if row == nil {
		writeJSON(w, http.StatusNotFound, APIResponse{Status: "error", Message: "transaction not found"})
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Status: "success", Data: row})
}

// filterFromQuery validates list parameters: date must normalize to the
// portal's compact form, amount must parse as a number.
func filterFromQuery(r *http.Request) (store.Filter, error) {
	var filter store.Filter
	q := r.URL.Query()

	if raw := q.Get("date"); raw != "" {
		normalized, err := qris.NormalizeDate(raw)
		if err != nil {
			return filter, errors.New("date must be YYYYMMDD or YYYY-MM-DD")
		}
		filter.Date = normalized
	}
	filter.Customer = q.Get("customer")
	if raw := q.Get("amount"); raw != "" {
		amount, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return filter, errors.New("amount must be a number")
		}
		filter.Amount = &amount
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return filter, errors.New("limit must be a positive integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}

func writeJSON(w http.ResponseWriter, status int, payload APIResponse) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode response failed", "err", err)
	}
}
