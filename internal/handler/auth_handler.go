// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/calbridge/internal/auth"
	"github.com/hitoshi/calbridge/internal/middleware"
	"github.com/hitoshi/calbridge/internal/model"
)

const (
	accessTokenCookieName  = "access_token"
	refreshTokenCookieName = "refresh_token"
	sessionCookieName      = "session_id"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, code string) (*auth.LoginResult, error)
	Logout(ctx context.Context, sessionID string) error
	CurrentUser(ctx context.Context, sessionID string) (*model.User, *model.Identity, error)
	ValidAccessTokenForUser(ctx context.Context, userID string) (string, int, error)
	IntrospectAccessToken(ctx context.Context, accessToken string) bool
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// Login は認可コードを受け取ってログインを完了する。
// SPAがGoogleの同意画面で取得したコードをJSONボディで送ってくる。
// POST /auth/google/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingAuthCodeError())
		return
	}

	result, err := h.service.Login(r.Context(), req.Code)
	if err != nil {
		var exchangeErr *auth.TokenExchangeError
		switch {
		case errors.As(err, &exchangeErr):
			slog.Warn("token exchange rejected",
				slog.Int("provider_status", exchangeErr.StatusCode),
			)
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewTokenExchangeError(exchangeErr.Body))
		case errors.Is(err, auth.ErrInvalidIdentity):
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidIdentityError())
		default:
			slog.Error("login failed", slog.String("error", err.Error()))
			middleware.WriteInternalServerError(w)
		}
		return
	}

	// トークンとセッションをHTTP Only Cookieで保持する。
	// SPAは別オリジンで動くためSameSite=Noneにする。
	h.setCookie(w, accessTokenCookieName, result.AccessToken, result.AccessTokenMaxAge)
	if result.RefreshToken != "" {
		h.setCookie(w, refreshTokenCookieName, result.RefreshToken, result.RefreshTokenMaxAge)
	}
	h.setCookie(w, sessionCookieName, result.Session.ID, h.config.SessionMaxAge)

	writeJSON(w, http.StatusOK, userPayload(result.User, result.Identity, result.IsNewUser))
}

// Me は現在のセッション状態とログインユーザー情報を返す。
// 保存済みアクセストークンが失効していれば透過的にリフレッシュし、
// リフレッシュ不能な場合は200で未認証を返して資格情報Cookieを全消去する。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sessionCookie, err := r.Cookie(sessionCookieName)
	if err != nil || sessionCookie.Value == "" {
		h.writeUnauthenticated(w)
		return
	}

	user, identity, err := h.service.CurrentUser(r.Context(), sessionCookie.Value)
	if err != nil {
		if errors.Is(err, auth.ErrSessionExpired) {
			h.writeUnauthenticated(w)
			return
		}
		slog.Error("failed to get current user", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// Cookieのアクセストークンがまだ有効ならそのまま返す
	if accessCookie, err := r.Cookie(accessTokenCookieName); err == nil && accessCookie.Value != "" {
		if h.service.IntrospectAccessToken(r.Context(), accessCookie.Value) {
			writeJSON(w, http.StatusOK, userPayload(user, identity, false))
			return
		}
	}

	// 失効していればストア経由でリフレッシュしてCookieを差し替える
	token, maxAge, err := h.service.ValidAccessTokenForUser(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, auth.ErrSessionExpired) {
			h.writeUnauthenticated(w)
			return
		}
		slog.Error("failed to refresh access token", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	h.setCookie(w, accessTokenCookieName, token, maxAge)

	writeJSON(w, http.StatusOK, userPayload(user, identity, false))
}

// Logout はセッションを破棄し、資格情報Cookieをすべて消去する。
// プロバイダー側のトークンは失効させない。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	clearAuthCookies(w, h.config)
	writeJSON(w, http.StatusOK, map[string]string{"message": "ログアウトしました。"})
}

// writeUnauthenticated は未認証状態を200で返し、資格情報Cookieを全消去する。
func (h *AuthHandler) writeUnauthenticated(w http.ResponseWriter) {
	clearAuthCookies(w, h.config)
	writeJSON(w, http.StatusOK, map[string]any{"is_authenticated": false})
}

func (h *AuthHandler) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteNoneMode,
	})
}

// clearAuthCookies はアクセストークン・リフレッシュトークン・セッションの
// 3つの資格情報Cookieを消去する。
func clearAuthCookies(w http.ResponseWriter, config AuthHandlerConfig) {
	for _, name := range []string{accessTokenCookieName, refreshTokenCookieName, sessionCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   config.CookieDomain,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   config.CookieSecure,
			SameSite: http.SameSiteNoneMode,
		})
	}
}

// userPayload はログイン・セッション確認共通のユーザー情報レスポンスを組み立てる。
func userPayload(user *model.User, identity *model.Identity, isNewUser bool) map[string]any {
	return map[string]any{
		"id":               user.ID,
		"is_authenticated": true,
		"first_name":       user.FirstName,
		"last_name":        user.LastName,
		"email":            user.Email,
		"google_id":        identity.ProviderUserID,
		"profile_picture":  identity.Profile.Picture,
		"is_new_user":      isNewUser,
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
