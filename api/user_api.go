package api

import (
	"net/http"

	"github.com/mededge/pulse/auth"
)

func (s *Server) serveLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var resp, err = s.loginSvc.Login(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, resp)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (s *Server) serveRefreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var token, err = s.loginSvc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, token)
}
