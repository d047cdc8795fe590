package http

import (
	"net/http"
	"time"

	"equiprent-backend/internal/service"
)

type AuthHandler struct {
	auth service.AuthService
}

func NewAuthHandler(auth service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type tokenRequest struct {
	APIKey string `json:"api_key" validate:"required"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IssueToken exchanges an API key for a short lived bearer token.
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	token, expires, err := h.auth.ExchangeToken(r.Context(), req.APIKey)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Token issued", tokenResponse{AccessToken: token, TokenType: "Bearer", ExpiresAt: expires})
}
