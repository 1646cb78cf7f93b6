package api

import (
	"net/http"
	"strconv"

	"github.com/krinkuto11/ace-orchestrator/internal/orcherr"
)

func (s *Server) handleInspectContainer(w http.ResponseWriter, r *http.Request) {
	containerID := pathParam(r, "container_id")
	st, err := s.rt.Inspect(r.Context(), containerID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleByLabel(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	value := r.URL.Query().Get("value")
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	containers, err := s.rt.ListByLabel(r.Context(), key, value)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, containers)
}

func (s *Server) handleDeleteContainer(w http.ResponseWriter, r *http.Request) {
	containerID := pathParam(r, "container_id")
	if err := s.rt.Remove(r.Context(), containerID, true); err != nil {
		writeErr(w, err)
		return
	}
	if e := s.reg.GetEngineByContainer(containerID); e != nil {
		if err := s.reg.RemoveEngine(e.EngineKey); err != nil {
			writeErr(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleGC is a placeholder for inactivity-based reclamation driven by
// IDLE_TTL_S; the policy is not yet decided, so it reports nothing
// reclaimed rather than guessing at one.
func (s *Server) handleGC(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"reclaimed": 0})
}

func (s *Server) handleScale(w http.ResponseWriter, r *http.Request) {
	demandStr := pathParam(r, "demand")
	demand, err := strconv.Atoi(demandStr)
	if err != nil {
		writeErr(w, &orcherr.ValidationError{Field: "demand", Reason: "must be an integer"})
		return
	}

	target, current, err := s.as.ScaleTo(r.Context(), demand)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"target": target, "current": current})
}
