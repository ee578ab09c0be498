package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultGoogleAuthURL      = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultGoogleTokenURL     = "https://oauth2.googleapis.com/token"
	defaultGoogleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

	defaultProviderTimeout = 5 * time.Second
)

// TokenGrant はGoogleトークンエンドポイントからの応答を正規化したもの。
// RefreshTokenは初回同意時のみ返されるため空になり得る。
type TokenGrant struct {
	IDToken               string
	AccessToken           string
	RefreshToken          string
	ExpiresIn             int
	RefreshTokenExpiresIn int
}

// IdentityClaims は検証済みIDトークンから得られるユーザー属性。
type IdentityClaims struct {
	Sub        string
	Email      string
	Name       string
	GivenName  string
	FamilyName string
	Picture    string
}

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
// TokenURL/TokenInfoURLはテストでhttptestサーバーに差し替えるために
// 上書き可能にしてある。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	AuthURL      string
	TokenURL     string
	TokenInfoURL string
	Timeout      time.Duration
}

// GoogleOAuthProvider はGoogle OAuth 2.0の認可コードフローと
// トークンライフサイクル操作を担うHTTPクライアント。
type GoogleOAuthProvider struct {
	config GoogleOAuthConfig
	client *http.Client
	logger *slog.Logger
}

var _ OAuthProvider = (*GoogleOAuthProvider)(nil)

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig, logger *slog.Logger) *GoogleOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.TokenInfoURL == "" {
		config.TokenInfoURL = defaultGoogleTokenInfoURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultProviderTimeout
	}
	return &GoogleOAuthProvider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}
}

// LoginURL はGoogleの同意画面へのリダイレクトURLを組み立てる。
func (p *GoogleOAuthProvider) LoginURL(state string) string {
	params := url.Values{}
	params.Set("client_id", p.config.ClientID)
	params.Set("redirect_uri", p.config.RedirectURI)
	params.Set("response_type", "code")
	params.Set("scope", "openid email profile https://www.googleapis.com/auth/calendar")
	params.Set("access_type", "offline")
	params.Set("prompt", "consent")
	params.Set("state", state)
	return p.config.AuthURL + "?" + params.Encode()
}

// ExchangeCode は認可コードをトークン一式と交換する。
// 非200応答は*TokenExchangeErrorとして返す。
func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code string) (*TokenGrant, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", p.config.ClientID)
	form.Set("client_secret", p.config.ClientSecret)
	form.Set("redirect_uri", p.config.RedirectURI)
	form.Set("grant_type", "authorization_code")

	body, status, err := p.postForm(ctx, p.config.TokenURL, form)
	if err != nil {
		return nil, fmt.Errorf("failed to request token endpoint: %w", err)
	}
	if status != http.StatusOK {
		return nil, &TokenExchangeError{StatusCode: status, Body: string(body)}
	}
	return parseTokenGrant(body)
}

// Refresh はリフレッシュトークンで新しいアクセストークンを取得する。
// 非200応答は*RefreshErrorとして返す。
func (p *GoogleOAuthProvider) Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	form := url.Values{}
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", p.config.ClientID)
	form.Set("client_secret", p.config.ClientSecret)
	form.Set("grant_type", "refresh_token")

	body, status, err := p.postForm(ctx, p.config.TokenURL, form)
	if err != nil {
		return nil, fmt.Errorf("failed to request token endpoint: %w", err)
	}
	if status != http.StatusOK {
		return nil, &RefreshError{StatusCode: status, Body: string(body)}
	}
	return parseTokenGrant(body)
}

// VerifyIDToken はtokeninfoエンドポイントでIDトークンを検証し、
// 成功時はクレームを返す。検証失敗・通信失敗ともに想定内の結果として
// nilを返す（ログインを中断させるのは呼び出し元の責務）。
func (p *GoogleOAuthProvider) VerifyIDToken(ctx context.Context, idToken string) *IdentityClaims {
	body, status, err := p.getTokenInfo(ctx, url.Values{"id_token": {idToken}})
	if err != nil {
		p.logger.Warn("id token verification request failed", slog.String("error", err.Error()))
		return nil
	}
	if status != http.StatusOK {
		p.logger.Warn("id token rejected by tokeninfo", slog.Int("status", status))
		return nil
	}

	var info struct {
		Aud        string `json:"aud"`
		Sub        string `json:"sub"`
		Email      string `json:"email"`
		Name       string `json:"name"`
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
		Picture    string `json:"picture"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		p.logger.Warn("failed to parse tokeninfo response", slog.String("error", err.Error()))
		return nil
	}
	// audが自クライアント以外のトークンは他アプリ向けに発行されたもの。
	if info.Aud != p.config.ClientID {
		p.logger.Warn("id token audience mismatch", slog.String("aud", info.Aud))
		return nil
	}
	if info.Sub == "" || info.Email == "" {
		p.logger.Warn("tokeninfo response missing required claims")
		return nil
	}
	return &IdentityClaims{
		Sub:        info.Sub,
		Email:      info.Email,
		Name:       info.Name,
		GivenName:  info.GivenName,
		FamilyName: info.FamilyName,
		Picture:    info.Picture,
	}
}

// IntrospectAccessToken はアクセストークンがまだ有効かをtokeninfoで確認する。
func (p *GoogleOAuthProvider) IntrospectAccessToken(ctx context.Context, accessToken string) bool {
	body, status, err := p.getTokenInfo(ctx, url.Values{"access_token": {accessToken}})
	if err != nil {
		p.logger.Warn("access token introspection request failed", slog.String("error", err.Error()))
		return false
	}
	if status != http.StatusOK {
		return false
	}

	var info struct {
		ExpiresIn string `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return false
	}
	if info.ExpiresIn != "" {
		if remaining, err := strconv.Atoi(info.ExpiresIn); err == nil && remaining <= 0 {
			return false
		}
	}
	return true
}

func (p *GoogleOAuthProvider) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func (p *GoogleOAuthProvider) getTokenInfo(ctx context.Context, params url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.TokenInfoURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func parseTokenGrant(body []byte) (*TokenGrant, error) {
	var payload struct {
		IDToken               string `json:"id_token"`
		AccessToken           string `json:"access_token"`
		RefreshToken          string `json:"refresh_token"`
		ExpiresIn             int    `json:"expires_in"`
		RefreshTokenExpiresIn int    `json:"refresh_token_expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	return &TokenGrant{
		IDToken:               payload.IDToken,
		AccessToken:           payload.AccessToken,
		RefreshToken:          payload.RefreshToken,
		ExpiresIn:             payload.ExpiresIn,
		RefreshTokenExpiresIn: payload.RefreshTokenExpiresIn,
	}, nil
}
