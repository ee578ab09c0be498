package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/calbridge/internal/auth"
	"github.com/hitoshi/calbridge/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	loginFn                   func(ctx context.Context, code string) (*auth.LoginResult, error)
	logoutFn                  func(ctx context.Context, sessionID string) error
	currentUserFn             func(ctx context.Context, sessionID string) (*model.User, *model.Identity, error)
	validAccessTokenForUserFn func(ctx context.Context, userID string) (string, int, error)
	introspectAccessTokenFn   func(ctx context.Context, accessToken string) bool

	logoutCalls int
}

func (m *mockAuthService) Login(ctx context.Context, code string) (*auth.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, code)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	m.logoutCalls++
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) CurrentUser(ctx context.Context, sessionID string) (*model.User, *model.Identity, error) {
	if m.currentUserFn != nil {
		return m.currentUserFn(ctx, sessionID)
	}
	return nil, nil, auth.ErrSessionExpired
}

func (m *mockAuthService) ValidAccessTokenForUser(ctx context.Context, userID string) (string, int, error) {
	if m.validAccessTokenForUserFn != nil {
		return m.validAccessTokenForUserFn(ctx, userID)
	}
	return "", 0, auth.ErrSessionExpired
}

func (m *mockAuthService) IntrospectAccessToken(ctx context.Context, accessToken string) bool {
	if m.introspectAccessTokenFn != nil {
		return m.introspectAccessTokenFn(ctx, accessToken)
	}
	return false
}

// --- ヘルパー ---

func testAuthConfig() AuthHandlerConfig {
	return AuthHandlerConfig{
		CookieDomain:  "",
		CookieSecure:  true,
		SessionMaxAge: 86400,
	}
}

func testLoginResult() *auth.LoginResult {
	return &auth.LoginResult{
		User: &model.User{
			ID:        "user-123",
			Email:     "taro@example.com",
			FirstName: "Taro",
			LastName:  "Yamada",
		},
		Identity: &model.Identity{
			ID:             "identity-123",
			UserID:         "user-123",
			Provider:       model.ProviderGoogle,
			ProviderUserID: "google-sub-123",
			Profile: model.Profile{
				Sub:     "google-sub-123",
				Email:   "taro@example.com",
				Picture: "https://example.com/photo.jpg",
			},
		},
		IsNewUser: false,
		Session: &model.Session{
			ID:        "session-abc",
			UserID:    "user-123",
			ExpiresAt: time.Now().Add(24 * time.Hour),
		},
		AccessToken:        "access-token-value",
		AccessTokenMaxAge:  3600,
		RefreshToken:       "refresh-token-value",
		RefreshTokenMaxAge: 604800,
	}
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// --- ログインのテスト ---

func TestAuthHandler_Login_Success_SetsCookiesAndReturnsUser(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, code string) (*auth.LoginResult, error) {
			if code != "auth-code-xyz" {
				t.Errorf("code = %q, want %q", code, "auth-code-xyz")
			}
			return testLoginResult(), nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	body := strings.NewReader(`{"code": "auth-code-xyz"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/google/login", body)
	w := httptest.NewRecorder()

	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	cookies := resp.Cookies()

	accessCookie := findCookie(cookies, "access_token")
	if accessCookie == nil {
		t.Fatal("expected access_token cookie to be set")
	}
	if accessCookie.Value != "access-token-value" {
		t.Errorf("access cookie value = %q, want %q", accessCookie.Value, "access-token-value")
	}
	if accessCookie.MaxAge != 3600 {
		t.Errorf("access cookie MaxAge = %d, want 3600", accessCookie.MaxAge)
	}
	if !accessCookie.HttpOnly {
		t.Error("access cookie should be HttpOnly")
	}
	if !accessCookie.Secure {
		t.Error("access cookie should be Secure")
	}
	if accessCookie.SameSite != http.SameSiteNoneMode {
		t.Errorf("access cookie SameSite = %v, want %v", accessCookie.SameSite, http.SameSiteNoneMode)
	}

	refreshCookie := findCookie(cookies, "refresh_token")
	if refreshCookie == nil {
		t.Fatal("expected refresh_token cookie to be set")
	}
	if refreshCookie.MaxAge != 604800 {
		t.Errorf("refresh cookie MaxAge = %d, want 604800", refreshCookie.MaxAge)
	}

	sessionCookie := findCookie(cookies, "session_id")
	if sessionCookie == nil {
		t.Fatal("expected session_id cookie to be set")
	}
	if sessionCookie.Value != "session-abc" {
		t.Errorf("session cookie value = %q, want %q", sessionCookie.Value, "session-abc")
	}
	if sessionCookie.MaxAge != 86400 {
		t.Errorf("session cookie MaxAge = %d, want 86400", sessionCookie.MaxAge)
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload["id"] != "user-123" {
		t.Errorf("id = %v, want %q", payload["id"], "user-123")
	}
	if payload["is_authenticated"] != true {
		t.Error("is_authenticated should be true")
	}
	if payload["google_id"] != "google-sub-123" {
		t.Errorf("google_id = %v, want %q", payload["google_id"], "google-sub-123")
	}
	if payload["profile_picture"] != "https://example.com/photo.jpg" {
		t.Errorf("profile_picture = %v", payload["profile_picture"])
	}
	if payload["is_new_user"] != false {
		t.Error("is_new_user should be false")
	}
}

func TestAuthHandler_Login_NoRefreshToken_SkipsRefreshCookie(t *testing.T) {
	// 再ログイン時はGoogleがリフレッシュトークンを返さないことがある
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, code string) (*auth.LoginResult, error) {
			result := testLoginResult()
			result.RefreshToken = ""
			result.RefreshTokenMaxAge = 0
			return result, nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/google/login", strings.NewReader(`{"code": "c"}`))
	w := httptest.NewRecorder()

	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	if c := findCookie(resp.Cookies(), "refresh_token"); c != nil {
		t.Errorf("refresh_token cookie should not be set, got value %q", c.Value)
	}
}

func TestAuthHandler_Login_NewUser_ReturnsIsNewUser(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, code string) (*auth.LoginResult, error) {
			result := testLoginResult()
			result.IsNewUser = true
			return result, nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/google/login", strings.NewReader(`{"code": "c"}`))
	w := httptest.NewRecorder()

	h.Login(w, req)

	var payload map[string]any
	if err := json.NewDecoder(w.Result().Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload["is_new_user"] != true {
		t.Error("is_new_user should be true")
	}
}

func TestAuthHandler_Login_MissingCode_ReturnsBadRequest(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig())

	tests := []struct {
		name string
		body string
	}{
		{"EmptyBody", ""},
		{"EmptyCode", `{"code": ""}`},
		{"InvalidJSON", `{invalid`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/google/login", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			h.Login(w, req)

			resp := w.Result()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
			}

			var body struct {
				Code string `json:"code"`
			}
			json.NewDecoder(resp.Body).Decode(&body)
			if body.Code != model.ErrCodeMissingAuthCode {
				t.Errorf("error code = %q, want %q", body.Code, model.ErrCodeMissingAuthCode)
			}
		})
	}
}

func TestAuthHandler_Login_TokenExchangeFailed_Returns401WithProviderBody(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, code string) (*auth.LoginResult, error) {
			return nil, &auth.TokenExchangeError{
				StatusCode: http.StatusBadRequest,
				Body:       `{"error": "invalid_grant"}`,
			}
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/google/login", strings.NewReader(`{"code": "expired"}`))
	w := httptest.NewRecorder()

	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != model.ErrCodeTokenExchange {
		t.Errorf("error code = %q, want %q", body.Code, model.ErrCodeTokenExchange)
	}
	// プロバイダーの応答本文が診断用に含まれること
	if !strings.Contains(body.Message, "invalid_grant") {
		t.Errorf("message should contain provider body, got %q", body.Message)
	}
}

func TestAuthHandler_Login_InvalidIDToken_Returns401(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, code string) (*auth.LoginResult, error) {
			return nil, auth.ErrInvalidIdentity
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/google/login", strings.NewReader(`{"code": "c"}`))
	w := httptest.NewRecorder()

	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	var body struct {
		Code string `json:"code"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Code != model.ErrCodeInvalidIdentity {
		t.Errorf("error code = %q, want %q", body.Code, model.ErrCodeInvalidIdentity)
	}
}

func TestAuthHandler_Login_ServiceError_ReturnsInternalError(t *testing.T) {
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, code string) (*auth.LoginResult, error) {
			return nil, errors.New("db down")
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/google/login", strings.NewReader(`{"code": "c"}`))
	w := httptest.NewRecorder()

	h.Login(w, req)

	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusInternalServerError)
	}
}

// --- セッション確認のテスト ---

func TestAuthHandler_Me_ValidAccessToken_ReturnsUser(t *testing.T) {
	result := testLoginResult()
	introspectCalls := 0
	refreshCalls := 0

	svc := &mockAuthService{
		currentUserFn: func(ctx context.Context, sessionID string) (*model.User, *model.Identity, error) {
			if sessionID != "session-abc" {
				t.Errorf("sessionID = %q, want %q", sessionID, "session-abc")
			}
			return result.User, result.Identity, nil
		},
		introspectAccessTokenFn: func(ctx context.Context, accessToken string) bool {
			introspectCalls++
			return true
		},
		validAccessTokenForUserFn: func(ctx context.Context, userID string) (string, int, error) {
			refreshCalls++
			return "", 0, nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "session-abc"})
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "still-valid"})
	w := httptest.NewRecorder()

	h.Me(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload["is_authenticated"] != true {
		t.Error("is_authenticated should be true")
	}
	if payload["email"] != "taro@example.com" {
		t.Errorf("email = %v, want %q", payload["email"], "taro@example.com")
	}

	if introspectCalls != 1 {
		t.Errorf("introspect calls = %d, want 1", introspectCalls)
	}
	// トークンが有効ならストア経由のリフレッシュは走らない
	if refreshCalls != 0 {
		t.Errorf("refresh calls = %d, want 0", refreshCalls)
	}
}

func TestAuthHandler_Me_ExpiredAccessToken_RefreshesAndSetsCookie(t *testing.T) {
	result := testLoginResult()

	svc := &mockAuthService{
		currentUserFn: func(ctx context.Context, sessionID string) (*model.User, *model.Identity, error) {
			return result.User, result.Identity, nil
		},
		introspectAccessTokenFn: func(ctx context.Context, accessToken string) bool {
			return false
		},
		validAccessTokenForUserFn: func(ctx context.Context, userID string) (string, int, error) {
			if userID != "user-123" {
				t.Errorf("userID = %q, want %q", userID, "user-123")
			}
			return "refreshed-token", 3600, nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "session-abc"})
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "expired-token"})
	w := httptest.NewRecorder()

	h.Me(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	accessCookie := findCookie(resp.Cookies(), "access_token")
	if accessCookie == nil {
		t.Fatal("expected refreshed access_token cookie")
	}
	if accessCookie.Value != "refreshed-token" {
		t.Errorf("access cookie value = %q, want %q", accessCookie.Value, "refreshed-token")
	}
	if accessCookie.MaxAge != 3600 {
		t.Errorf("access cookie MaxAge = %d, want 3600", accessCookie.MaxAge)
	}
}

func TestAuthHandler_Me_NoSessionCookie_ReturnsUnauthenticated(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	w := httptest.NewRecorder()

	h.Me(w, req)

	resp := w.Result()
	// 未認証でも200で返す（SPAがエラー表示しないため）
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload["is_authenticated"] != false {
		t.Error("is_authenticated should be false")
	}
}

func TestAuthHandler_Me_SessionExpired_ClearsAllCredentialCookies(t *testing.T) {
	svc := &mockAuthService{
		currentUserFn: func(ctx context.Context, sessionID string) (*model.User, *model.Identity, error) {
			return nil, nil, auth.ErrSessionExpired
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "stale-session"})
	w := httptest.NewRecorder()

	h.Me(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var payload map[string]any
	json.NewDecoder(resp.Body).Decode(&payload)
	if payload["is_authenticated"] != false {
		t.Error("is_authenticated should be false")
	}

	// 3つの資格情報Cookieがすべて消去されること
	cookies := resp.Cookies()
	for _, name := range []string{"access_token", "refresh_token", "session_id"} {
		c := findCookie(cookies, name)
		if c == nil {
			t.Errorf("expected %s cookie to be cleared", name)
			continue
		}
		if c.MaxAge != -1 {
			t.Errorf("%s cookie MaxAge = %d, want -1 (delete)", name, c.MaxAge)
		}
	}
}

func TestAuthHandler_Me_RefreshImpossible_ReturnsUnauthenticated(t *testing.T) {
	// リフレッシュトークンが無い等でトークンが再取得できない場合
	result := testLoginResult()
	svc := &mockAuthService{
		currentUserFn: func(ctx context.Context, sessionID string) (*model.User, *model.Identity, error) {
			return result.User, result.Identity, nil
		},
		introspectAccessTokenFn: func(ctx context.Context, accessToken string) bool {
			return false
		},
		validAccessTokenForUserFn: func(ctx context.Context, userID string) (string, int, error) {
			return "", 0, auth.ErrSessionExpired
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "session-abc"})
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "expired"})
	w := httptest.NewRecorder()

	h.Me(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var payload map[string]any
	json.NewDecoder(resp.Body).Decode(&payload)
	if payload["is_authenticated"] != false {
		t.Error("is_authenticated should be false")
	}
}

// --- ログアウトのテスト ---

func TestAuthHandler_Logout_Success_ClearsCookies(t *testing.T) {
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			if sessionID != "session-to-logout" {
				t.Errorf("sessionID = %q, want %q", sessionID, "session-to-logout")
			}
			return nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "session-to-logout"})
	w := httptest.NewRecorder()

	h.Logout(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	cookies := resp.Cookies()
	for _, name := range []string{"access_token", "refresh_token", "session_id"} {
		c := findCookie(cookies, name)
		if c == nil {
			t.Errorf("expected %s cookie to be cleared", name)
			continue
		}
		if c.MaxAge != -1 {
			t.Errorf("%s cookie MaxAge = %d, want -1 (delete)", name, c.MaxAge)
		}
	}

	if svc.logoutCalls != 1 {
		t.Errorf("logout calls = %d, want 1", svc.logoutCalls)
	}
}

func TestAuthHandler_Logout_NoSession_StillClearsCookies(t *testing.T) {
	svc := &mockAuthService{}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	w := httptest.NewRecorder()

	h.Logout(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if svc.logoutCalls != 0 {
		t.Errorf("logout calls = %d, want 0", svc.logoutCalls)
	}
	if c := findCookie(resp.Cookies(), "session_id"); c == nil || c.MaxAge != -1 {
		t.Error("session_id cookie should be cleared")
	}
}

func TestAuthHandler_Logout_ServiceError_StillClearsCookies(t *testing.T) {
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			return errors.New("db down")
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "s"})
	w := httptest.NewRecorder()

	h.Logout(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if c := findCookie(resp.Cookies(), "session_id"); c == nil || c.MaxAge != -1 {
		t.Error("session_id cookie should be cleared even when logout fails")
	}
}
