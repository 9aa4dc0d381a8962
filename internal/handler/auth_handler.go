package handler

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/paygate/internal/middleware"
	"github.com/hitoshi/paygate/internal/model"
	"github.com/hitoshi/paygate/internal/token"
)

// TokenIssuer はアクセストークンの発行に必要なインターフェース。
// token.Codecが実装する。
type TokenIssuer interface {
	IssueWithClaims(subject string, claims map[string]any) (string, *model.Credential, error)
}

// AuthHandler はトークン発行のHTTPハンドラー。
type AuthHandler struct {
	issuer       TokenIssuer
	clientSecret []byte
	recorder     middleware.AuthFailureRecorder
}

// NewAuthHandler はAuthHandlerを生成する。
// recorderがnilの場合は認証失敗を記録しない。
func NewAuthHandler(issuer TokenIssuer, clientSecret string, recorder middleware.AuthFailureRecorder) *AuthHandler {
	return &AuthHandler{
		issuer:       issuer,
		clientSecret: []byte(clientSecret),
		recorder:     recorder,
	}
}

// tokenRequest はトークン発行リクエストのボディ。
type tokenRequest struct {
	Subject      string         `json:"subject"`
	ClientSecret string         `json:"client_secret"`
	Claims       map[string]any `json:"claims,omitempty"`
}

// tokenResponse はトークン発行レスポンス。
type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	ExpiresIn   int64     `json:"expires_in"`
}

// IssueToken はクライアントシークレットを検証してアクセストークンを発行する。
// POST /api/auth/token
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	if req.Subject == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidArgumentError("subjectが空です"))
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.ClientSecret), h.clientSecret) != 1 {
		if h.recorder != nil {
			h.recorder.RecordAuthFailure("invalid_client")
		}
		slog.Warn("client credential rejected",
			slog.String("subject", req.Subject),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewInvalidClientCredentialError())
		return
	}

	signed, cred, err := h.issuer.IssueWithClaims(req.Subject, req.Claims)
	if err != nil {
		if errors.Is(err, token.ErrEmptySubject) {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidArgumentError("subjectが空です"))
			return
		}
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresAt:   cred.ExpiresAt.UTC(),
		ExpiresIn:   int64(cred.ExpiresAt.Sub(cred.IssuedAt) / time.Second),
	})
}
