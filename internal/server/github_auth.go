package server

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"dailybugs-backend/internal/github"
	"dailybugs-backend/internal/store"
	"dailybugs-backend/internal/types"
)

// GET /api/github/auth
// Starts the OAuth flow and returns { url } to redirect the browser to
func (s *Server) handleGitHubAuth(w http.ResponseWriter, r *http.Request) {
	if s.oauthCfg.ClientID == "" || s.oauthCfg.ClientSecret == "" {
		s.writeError(w, http.StatusBadRequest, "github oauth not configured")
		return
	}
	state := randomState()
	s.sessions.AddOAuthState(state)
	s.writeJSON(w, http.StatusOK, types.AuthURLResponse{URL: s.oauthCfg.AuthCodeURL(state)})
}

// GET /api/github/callback?code=...&state=...
// Exchanges the code for a token, stores it under the GitHub user id and
// signs the browser in
func (s *Server) handleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		s.writeError(w, http.StatusBadRequest, "missing state or code")
		return
	}
	if !s.sessions.ConsumeOAuthState(state) {
		s.writeError(w, http.StatusBadRequest, "invalid oauth state")
		return
	}

	ctx := r.Context()
	tok, err := s.oauthCfg.Exchange(ctx, code)
	if err != nil {
		s.log.Error("oauth token exchange failed", err)
		s.writeError(w, http.StatusBadGateway, "token exchange failed")
		return
	}
	user, err := s.github.GetUser(ctx, tok.AccessToken)
	if err != nil {
		s.log.Error("failed to fetch github user", err)
		s.writeError(w, http.StatusBadGateway, "failed to fetch GitHub user")
		return
	}

	uid := strconv.FormatInt(user.ID, 10)
	if err := s.store.SetToken(ctx, uid, tok.AccessToken); err != nil {
		s.log.Error("failed to save access token", err)
		s.writeError(w, http.StatusInternalServerError, "failed to save GitHub token")
		return
	}

	sid := uuid.NewString()
	s.sessions.SetSessionUser(sid, uid)
	SetSessionCookie(w, r, sid)
	s.log.With("user_id", uid).Infof("github account %s connected", user.Login)

	http.Redirect(w, r, fmt.Sprintf("%s?githubAuth=success", s.cfg.FrontendURL), http.StatusFound)
}

// GET /api/github/status
// Returns { authenticated, userId?, username? }
func (s *Server) handleGitHubStatus(w http.ResponseWriter, r *http.Request) {
	uid := s.sessionUser(r)
	if uid == "" {
		s.writeJSON(w, http.StatusOK, types.StatusResponse{})
		return
	}
	token, err := s.store.GetToken(r.Context(), uid)
	if errors.Is(err, store.ErrNotFound) {
		s.writeJSON(w, http.StatusOK, types.StatusResponse{})
		return
	}
	if err != nil {
		s.log.Error("failed to load access token", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load GitHub token")
		return
	}

	resp := types.StatusResponse{Authenticated: true, UserID: uid}
	user, err := s.github.GetUser(r.Context(), token)
	switch {
	case github.IsUnauthorized(err):
		// The user revoked the grant on GitHub.
		if err := s.store.DeleteToken(r.Context(), uid); err != nil {
			s.log.Error("failed to delete revoked access token", err)
		}
		s.writeJSON(w, http.StatusOK, types.StatusResponse{})
		return
	case err == nil:
		resp.Username = user.Login
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// POST /api/github/logout
// Forgets the token, which also stops the daily runs
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteToken(r.Context(), userID(r)); err != nil {
		s.log.Error("failed to delete access token", err)
		s.writeError(w, http.StatusInternalServerError, "failed to disconnect GitHub")
		return
	}
	if sid, err := GetSessionCookie(r); err == nil {
		s.sessions.ClearSession(sid)
	}
	ClearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func randomState() string {
	var b [24]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}
