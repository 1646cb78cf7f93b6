package api

import (
	"net/http"
	"time"

	"github.com/krinkuto11/ace-orchestrator/internal/store"
)

func (s *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := store.StreamStatus(q.Get("status"))
	containerID := q.Get("container_id")

	var engineKey string
	if containerID != "" {
		e := s.reg.GetEngineByContainer(containerID)
		if e == nil {
			writeJSON(w, http.StatusOK, []*store.Stream{})
			return
		}
		engineKey = e.EngineKey
	}

	writeJSON(w, http.StatusOK, s.reg.ListStreams(status, engineKey))
}

func (s *Server) handleStreamStats(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if s.reg.GetStream(id) == nil {
		writeError(w, http.StatusNotFound, "stream not found")
		return
	}

	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = t
	}

	samples, err := s.reg.StatsSince(id, since)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, samples)
}
