package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/forcelab/eoltester/pkg/stats"
	"github.com/forcelab/eoltester/pkg/store"
	"github.com/go-chi/chi/v5"
)

const defaultListLimit = 50

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Results int64  `json:"results"`
}

type listResponse struct {
	Results []store.ResultRecord `json:"results"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(body)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.CountResults(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{"store unavailable"})

		return
	}

	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Results: count})
}

func (s *server) handleListResults(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{
		DUTSerial: r.URL.Query().Get("dut"),
		Verdict:   r.URL.Query().Get("verdict"),
		Limit:     defaultListLimit,
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{"invalid limit"})

			return
		}

		filter.Limit = limit
	}

	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{"invalid offset"})

			return
		}

		filter.Offset = offset
	}

	records, err := s.store.ListResults(r.Context(), filter)
	if err != nil {
		s.log.WithError(err).Error("Failed to list results")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"listing results failed"})

		return
	}

	if records == nil {
		records = []store.ResultRecord{}
	}

	writeJSON(w, http.StatusOK, listResponse{Results: records})
}

func (s *server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := s.store.GetResult(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{"result not found"})

			return
		}

		s.log.WithError(err).Error("Failed to load result")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"loading result failed"})

		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleGetResultStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := s.store.GetResult(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{"result not found"})

			return
		}

		s.log.WithError(err).Error("Failed to load result")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"loading result failed"})

		return
	}

	writeJSON(w, http.StatusOK, stats.Summarize(result))
}
