package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/kelmah-platform/auth-token-service/internal/http/middleware"
	"github.com/kelmah-platform/auth-token-service/internal/http/response"
	"github.com/kelmah-platform/auth-token-service/internal/service"
)

// CookieSettings controls how the refresh token cookie is written.
type CookieSettings struct {
	Secure bool
	Domain string
}

type AuthHandler struct {
	auth    *service.AuthService
	tokens  *service.TokenService
	cookies CookieSettings
}

func NewAuthHandler(auth *service.AuthService, tokens *service.TokenService, cookies CookieSettings) *AuthHandler {
	return &AuthHandler{auth: auth, tokens: tokens, cookies: cookies}
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body", nil)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", "email and password are required", nil)
		return
	}

	result, err := h.auth.Login(r.Context(), req.Email, req.Password, req.RememberMe, middleware.RequestContextFrom(r))
	if err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}

	h.setRefreshCookie(w, result.Tokens)
	response.JSON(w, r, http.StatusOK, result)
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body", nil)
		return
	}
	if strings.TrimSpace(req.Email) == "" || len(req.Password) < 8 {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", "email and a password of at least 8 characters are required", nil)
		return
	}

	user, err := h.auth.Register(r.Context(), req.Email, req.Password, req.FirstName, req.LastName, req.Role, middleware.RequestContextFrom(r))
	if err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, map[string]any{
		"id":    user.ID,
		"email": user.Email,
		"role":  user.Role,
	})
}

// Refresh runs behind Gate.AuthenticateRefresh, which has already rotated
// the token. The handler only emits the result.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	pair, ok := middleware.TokenPairFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
		return
	}
	principal, _ := middleware.PrincipalFromContext(r.Context())

	h.setRefreshCookie(w, pair)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"tokens": pair,
		"user":   principal,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "NO_TOKEN", "authentication required", nil)
		return
	}

	composite := ""
	if c, err := r.Cookie("refresh_token"); err == nil {
		composite = c.Value
	}
	if composite == "" {
		var req logoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			composite = req.RefreshToken
		}
	}

	if err := h.auth.Logout(r.Context(), principal.ID, composite, middleware.RequestContextFrom(r)); err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	h.clearRefreshCookie(w)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged out"})
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "NO_TOKEN", "authentication required", nil)
		return
	}

	count, err := h.auth.LogoutAll(r.Context(), principal.ID, middleware.RequestContextFrom(r))
	if err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	h.clearRefreshCookie(w)
	response.JSON(w, r, http.StatusOK, map[string]any{"revoked_sessions": count})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "NO_TOKEN", "authentication required", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, principal)
}

func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "NO_TOKEN", "authentication required", nil)
		return
	}

	sessions, err := h.tokens.ListSessions(r.Context(), principal.ID)
	if err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}

	type sessionView struct {
		TokenID    string     `json:"token_id"`
		DeviceInfo string     `json:"device_info"`
		IP         string     `json:"ip"`
		CreatedAt  time.Time  `json:"created_at"`
		LastUsedAt *time.Time `json:"last_used_at,omitempty"`
		ExpiresAt  time.Time  `json:"expires_at"`
	}
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{
			TokenID:    s.TokenID,
			DeviceInfo: s.DeviceInfo,
			IP:         s.IP,
			CreatedAt:  s.CreatedAt,
			LastUsedAt: s.LastUsedAt,
			ExpiresAt:  s.ExpiresAt,
		})
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": views})
}

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, pair *service.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     "refresh_token",
		Value:    pair.RefreshToken,
		Path:     "/api/v1/auth",
		Domain:   h.cookies.Domain,
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     "refresh_token",
		Value:    "",
		Path:     "/api/v1/auth",
		Domain:   h.cookies.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}
