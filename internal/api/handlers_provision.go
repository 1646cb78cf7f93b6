package api

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
)

type provisionRequest struct {
	Image  string            `json:"image"`
	Env    map[string]string `json:"env,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
	Ports  map[string]int    `json:"ports,omitempty"`
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.Image == "" {
		writeError(w, http.StatusBadRequest, "image is required")
		return
	}

	containerID, err := s.pr.ProvisionGeneric(r.Context(), req.Image, req.Env, req.Labels, req.Ports)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"container_id": containerID})
}

type provisionAcestreamRequest struct {
	Image    string            `json:"image,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	HostPort *int              `json:"host_port,omitempty"`
}

func (s *Server) handleProvisionAcestream(w http.ResponseWriter, r *http.Request) {
	var req provisionAcestreamRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
			return
		}
	}

	res, err := s.pr.ProvisionAcestream(r.Context(), req.Image, req.Labels, req.Env, req.HostPort)
	if err != nil {
		writeErr(w, err)
		return
	}

	host := requestHost(r)
	if err := s.pr.RegisterEngine(host, res.HostHTTPPort, res.ContainerID, req.Labels); err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// requestHost derives the host under which this orchestrator publishes
// container ports, stripping any port suffix from the request's Host
// header and falling back to the loopback address.
func requestHost(r *http.Request) string {
	if r.Host == "" {
		return "127.0.0.1"
	}
	if host, _, err := net.SplitHostPort(r.Host); err == nil {
		return host
	}
	return r.Host
}
