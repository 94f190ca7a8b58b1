package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/avaropoint/viewport/internal/security"
	"github.com/avaropoint/viewport/internal/store"
)

// handleHealth reports process liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok\n")) //nolint:errcheck
}

// handleListProfiles returns all stored connection profiles. Sealed
// passwords never serialize.
func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	profiles, err := s.store.Profiles(r.Context())
	if err != nil {
		http.Error(w, `{"error":"failed to list profiles"}`, http.StatusInternalServerError)
		return
	}
	if profiles == nil {
		profiles = []*store.Profile{}
	}
	json.NewEncoder(w).Encode(profiles) //nolint:errcheck
}

// handleSaveProfile creates or updates a profile. The password arrives
// in plaintext and is sealed before it reaches the store.
func (s *Server) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req struct {
		Name        string `json:"name"`
		Protocol    string `json:"protocol"`
		Host        string `json:"host"`
		Port        int    `json:"port"`
		Password    string `json:"password"`
		ColorDepth  int    `json:"color_depth"`
		ReadOnly    bool   `json:"read_only"`
		SwapRedBlue bool   `json:"swap_red_blue"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Host == "" {
		http.Error(w, `{"error":"name and host required"}`, http.StatusBadRequest)
		return
	}
	if req.Port <= 0 || req.Port > 65535 {
		http.Error(w, `{"error":"port out of range"}`, http.StatusBadRequest)
		return
	}
	if req.Protocol == "" {
		req.Protocol = "vnc"
	}
	if req.Protocol != "vnc" {
		http.Error(w, `{"error":"unsupported protocol"}`, http.StatusBadRequest)
		return
	}
	switch req.ColorDepth {
	case 0, 8, 16, 24:
	default:
		http.Error(w, `{"error":"color_depth must be 8, 16 or 24"}`, http.StatusBadRequest)
		return
	}

	p := &store.Profile{
		Name:        req.Name,
		Protocol:    req.Protocol,
		Host:        req.Host,
		Port:        req.Port,
		ColorDepth:  req.ColorDepth,
		ReadOnly:    req.ReadOnly,
		SwapRedBlue: req.SwapRedBlue,
	}
	if req.Password != "" {
		sealed, err := s.box.Seal(req.Password)
		if err != nil {
			http.Error(w, `{"error":"failed to seal password"}`, http.StatusInternalServerError)
			return
		}
		p.Password = sealed
	}

	if err := s.store.SaveProfile(r.Context(), p); err != nil {
		log.Printf("Saving profile %q: %v", p.Name, err)
		http.Error(w, `{"error":"failed to save profile"}`, http.StatusInternalServerError)
		return
	}

	log.Printf("Profile saved: %q -> %s:%d", p.Name, p.Host, p.Port)
	json.NewEncoder(w).Encode(p) //nolint:errcheck
}

// handleGetProfile returns one profile by name or ID.
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	name := chi.URLParam(r, "name")
	p, err := s.store.Profile(r.Context(), name)
	if err != nil {
		http.Error(w, `{"error":"failed to load profile"}`, http.StatusInternalServerError)
		return
	}
	if p == nil {
		http.Error(w, `{"error":"profile not found"}`, http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(p) //nolint:errcheck
}

// handleDeleteProfile removes a profile by name.
func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	name := chi.URLParam(r, "name")
	if err := s.store.DeleteProfile(r.Context(), name); err != nil {
		http.Error(w, `{"error":"failed to delete"}`, http.StatusInternalServerError)
		return
	}
	log.Printf("Profile deleted: %q", name)
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted"}) //nolint:errcheck
}

// handleListSessions returns recent session history, newest first.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}

	sessions, err := s.store.RecentSessions(r.Context(), limit)
	if err != nil {
		http.Error(w, `{"error":"failed to list sessions"}`, http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []*store.SessionRecord{}
	}
	json.NewEncoder(w).Encode(sessions) //nolint:errcheck
}

// handleListKeys returns the stored API keys. Only prefixes are
// exposed; hashes and full keys never leave the store.
func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	keys, err := s.store.ListAPIKeys(r.Context())
	if err != nil {
		http.Error(w, `{"error":"failed to list keys"}`, http.StatusInternalServerError)
		return
	}
	if keys == nil {
		keys = []*store.APIKey{}
	}
	json.NewEncoder(w).Encode(keys) //nolint:errcheck
}

// handleCreateKey mints a new API key. The full key appears in this
// response only.
func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, `{"error":"name required"}`, http.StatusBadRequest)
		return
	}

	rec, raw, err := security.GenerateAPIKey(req.Name)
	if err != nil {
		http.Error(w, `{"error":"failed to generate key"}`, http.StatusInternalServerError)
		return
	}
	if err := s.store.CreateAPIKey(r.Context(), rec); err != nil {
		http.Error(w, `{"error":"failed to store key"}`, http.StatusInternalServerError)
		return
	}

	log.Printf("API key %q created by %q", rec.Name, security.AuthKeyName(r.Context()))
	json.NewEncoder(w).Encode(map[string]string{ //nolint:errcheck
		"id":     rec.ID,
		"name":   rec.Name,
		"key":    raw,
		"prefix": rec.Prefix,
	})
}

// handleDeleteKey revokes an API key by ID.
func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id := chi.URLParam(r, "id")
	if err := s.store.DeleteAPIKey(r.Context(), id); err != nil {
		http.Error(w, `{"error":"failed to delete"}`, http.StatusInternalServerError)
		return
	}
	log.Printf("API key deleted: %s", id)
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted"}) //nolint:errcheck
}

// handleCACert serves the gateway CA certificate so clients can trust
// the self-signed listener. Other TLS modes have no gateway CA.
func (s *Server) handleCACert(w http.ResponseWriter, _ *http.Request) {
	if s.tlsPaths == nil {
		w.Header().Set("Content-Type", "application/json")
		http.Error(w, `{"error":"no gateway CA in this TLS mode"}`, http.StatusNotFound)
		return
	}
	pem, err := security.ReadCACert(s.tlsPaths)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		http.Error(w, `{"error":"failed to read CA certificate"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Write(pem) //nolint:errcheck
}
