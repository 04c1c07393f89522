package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/labcore/authcore"
	"github.com/labcore/authcore/middleware"
)

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	Everywhere bool `json:"everywhere"`
}

type tokenResponse struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	TokenType        string `json:"tokenType"`
	AccessExpiresIn  int64  `json:"accessExpiresIn"`
	RefreshExpiresIn int64  `json:"refreshExpiresIn"`
	SessionID        string `json:"sessionId"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.CodeBadRequest, "invalid JSON body")
		return
	}

	pair, err := s.engine.Login(r.Context(), authcore.LoginRequest{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, s.tokenResponse(pair))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.CodeBadRequest, "invalid JSON body")
		return
	}
	if req.RefreshToken == "" {
		middleware.WriteError(w, http.StatusUnauthorized, middleware.CodeInvalidToken, "invalid token")
		return
	}

	pair, err := s.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, s.tokenResponse(pair))
}

// handleLogout accepts an empty body as a single-session logout.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, http.StatusBadRequest, middleware.CodeBadRequest, "invalid JSON body")
		return
	}

	p, ok := authcore.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, middleware.CodeInvalidToken, "invalid token")
		return
	}
	if err := s.engine.Logout(r.Context(), p, req.Everywhere); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) tokenResponse(p *authcore.TokenPair) tokenResponse {
	now := s.now()
	return tokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        p.TokenType,
		AccessExpiresIn:  secondsUntil(p.AccessExpiresAt, now),
		RefreshExpiresIn: secondsUntil(p.RefreshExpiresAt, now),
		SessionID:        p.SessionID,
	}
}

func secondsUntil(t, now time.Time) int64 {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(d.Round(time.Second) / time.Second)
}

// writeEngineError logs infrastructure failures; security outcomes are
// already audited by the engine.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	if !authcore.IsSecurityOutcome(err) {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	middleware.WriteEngineError(w, err)
}
