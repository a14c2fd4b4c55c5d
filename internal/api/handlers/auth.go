package handlers

import (
	"context"
	"net"
	"net/http"

	"github.com/nikhilbhutani/agroplatform/internal/auth"
)

type AuthService interface {
	Login(ctx context.Context, email, password, addr string) (*auth.TokenPair, error)
	Refresh(ctx context.Context, token string) (*auth.TokenPair, error)
	Logout(ctx context.Context, token string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	AcceptInvite(ctx context.Context, token, password string) (*auth.TokenPair, error)
	GenerateAuthURL(ctx context.Context, redirect string) (string, error)
	HandleCallback(ctx context.Context, state, code string) (*auth.CallbackResult, error)
	ExchangeCode(ctx context.Context, code string) (*auth.TokenPair, error)
}

type AuthHandler struct {
	svc AuthService
}

func NewAuthHandler(svc AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type tokenPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type exchangeRequest struct {
	Code string `json:"code"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	pair, err := h.svc.Login(r.Context(), req.Email, req.Password, clientAddr(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.Logout(r.Context(), req.RefreshToken); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ForgotPassword always answers 202 for a well-formed request.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "if the account exists, a reset link was sent"})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req tokenPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	var req tokenPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	pair, err := h.svc.AcceptInvite(r.Context(), req.Token, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// GoogleStart redirects the browser to the provider consent screen.
func (h *AuthHandler) GoogleStart(w http.ResponseWriter, r *http.Request) {
	target, err := h.svc.GenerateAuthURL(r.Context(), r.URL.Query().Get("redirect"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("error") != "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "sign-in was cancelled at the provider"})
		return
	}
	res, err := h.svc.HandleCallback(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, res.RedirectURL(), http.StatusFound)
}

func (h *AuthHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	pair, err := h.svc.ExchangeCode(r.Context(), req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// clientAddr strips the port from RemoteAddr, which RealIP has already
// rewritten from forwarding headers.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
