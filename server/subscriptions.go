package server

import (
	"comicwatch/subs"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type addRequest struct {
	ChannelID string `json:"channel_id"`
	SourceID  string `json:"source_id"`
	RoleID    string `json:"role_id,omitempty"`
}

// writeManageError renders validation failures as 400 and everything else as 500.
func (s *Server) writeManageError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *subs.ValidationError
	if errors.As(err, &verr) {
		s.writeError(w, http.StatusBadRequest, verr.Msg)
		return
	}
	s.logger.Error("Subscription request failed", "path", r.URL.Path, "guild", chi.URLParam(r, "guild"), "error", err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.subs.List(r.Context(), chi.URLParam(r, "guild"), r.URL.Query().Get("channel"))
	if err != nil {
		s.writeManageError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAddSubscription(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sub, err := s.subs.Add(r.Context(), chi.URLParam(r, "guild"), req.ChannelID, req.SourceID, req.RoleID)
	if err != nil {
		s.writeManageError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleRemoveSubscription(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n, err := s.subs.Remove(r.Context(), chi.URLParam(r, "guild"), q.Get("channel"), q.Get("source"))
	if err != nil {
		s.writeManageError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.subs.Roles(r.Context(), chi.URLParam(r, "guild"))
	if err != nil {
		s.writeManageError(w, r, err)
		return
	}
	type roleView struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Mentionable bool   `json:"mentionable"`
	}
	out := make([]roleView, 0, len(roles))
	for _, role := range roles {
		out = append(out, roleView{ID: role.ID, Name: role.Name, Mentionable: role.Mentionable})
	}
	s.writeJSON(w, http.StatusOK, out)
}
