package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cuemby/mayastor-control-plane/pkg/log"
	"github.com/cuemby/mayastor-control-plane/pkg/registry"
	"github.com/rs/zerolog"
)

// adminServer exposes the registry's node-fleet management surface as plain
// JSON over HTTP, so `csi-controller node add/remove/list` has something to
// dial without hand-rolling a second protobuf service alongside CSI and the
// south-bound Mayastor one.
type adminServer struct {
	reg *registry.Registry
	log zerolog.Logger
}

func newAdminServer(reg *registry.Registry) *adminServer {
	return &adminServer{reg: reg, log: log.WithComponent("admin")}
}

func (a *adminServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/nodes", a.handleNodes)
	mux.HandleFunc("/nodes/remove", a.handleRemove)
	return mux
}

type nodeInfo struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

func (a *adminServer) handleNodes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		names := a.reg.NodeNames()
		out := make([]nodeInfo, 0, len(names))
		for _, name := range names {
			n, ok := a.reg.GetNode(name)
			if !ok {
				continue
			}
			out = append(out, nodeInfo{Name: name, Status: string(n.Status())})
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var req struct {
			Name     string `json:"name"`
			Endpoint string `json:"endpoint"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Name == "" || req.Endpoint == "" {
			http.Error(w, "name and endpoint are required", http.StatusBadRequest)
			return
		}
		if err := a.reg.AddNode(context.Background(), req.Name, req.Endpoint); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, nodeInfo{Name: req.Name})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *adminServer) handleRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.reg.RemoveNode(req.Name); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, nodeInfo{Name: req.Name})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
