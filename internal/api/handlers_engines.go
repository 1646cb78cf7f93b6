package api

import (
	"net/http"

	"github.com/krinkuto11/ace-orchestrator/internal/store"
)

func (s *Server) handleListEngines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.ListEngines())
}

type engineWithStreams struct {
	Engine  *store.Engine   `json:"engine"`
	Streams []*store.Stream `json:"streams"`
}

func (s *Server) handleGetEngine(w http.ResponseWriter, r *http.Request) {
	containerID := pathParam(r, "container_id")
	e := s.reg.GetEngineByContainer(containerID)
	if e == nil {
		writeError(w, http.StatusNotFound, "engine not found")
		return
	}
	writeJSON(w, http.StatusOK, engineWithStreams{
		Engine:  e,
		Streams: s.reg.ListStreams("", e.EngineKey),
	})
}

func (s *Server) handleGetEngineStreams(w http.ResponseWriter, r *http.Request) {
	containerID := pathParam(r, "container_id")
	e := s.reg.GetEngineByContainer(containerID)
	if e == nil {
		writeError(w, http.StatusNotFound, "engine not found")
		return
	}
	writeJSON(w, http.StatusOK, s.reg.ListStreams("", e.EngineKey))
}
