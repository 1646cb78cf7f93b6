package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/krinkuto11/ace-orchestrator/internal/events"
	"github.com/krinkuto11/ace-orchestrator/internal/store"
)

func keyTypeOf(s string) store.KeyType {
	return store.KeyType(s)
}

type streamStartedRequest struct {
	Engine struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	} `json:"engine"`
	Stream struct {
		KeyType string `json:"key_type"`
		Key     string `json:"key"`
	} `json:"stream"`
	Session struct {
		PlaybackSessionID string `json:"playback_session_id"`
		StatURL           string `json:"stat_url"`
		CommandURL        string `json:"command_url"`
		IsLive            bool   `json:"is_live"`
	} `json:"session"`
	Labels map[string]string `json:"labels,omitempty"`
}

func (s *Server) handleStreamStarted(w http.ResponseWriter, r *http.Request) {
	var req streamStartedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	evt := events.StartedEvent{
		Engine: events.EngineRef{Host: req.Engine.Host, Port: req.Engine.Port},
		Stream: events.StreamRef{KeyType: keyTypeOf(req.Stream.KeyType), Key: req.Stream.Key},
		Session: events.SessionRef{
			PlaybackSessionID: req.Session.PlaybackSessionID,
			StatURL:           req.Session.StatURL,
			CommandURL:        req.Session.CommandURL,
			IsLive:            req.Session.IsLive,
		},
		Labels: req.Labels,
	}

	stream, err := s.ing.OnStreamStarted(evt)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stream)
}

type streamEndedRequest struct {
	ContainerID string `json:"container_id,omitempty"`
	StreamID    string `json:"stream_id,omitempty"`
	Host        string `json:"host,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func (s *Server) handleStreamEnded(w http.ResponseWriter, r *http.Request) {
	var req streamEndedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	res, err := s.ing.OnStreamEnded(r.Context(), events.EndedEvent{
		ContainerID: req.ContainerID,
		StreamID:    req.StreamID,
		Host:        req.Host,
		Reason:      req.Reason,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
