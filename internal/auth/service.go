package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/calbridge/internal/metrics"
	"github.com/hitoshi/calbridge/internal/model"
	"github.com/hitoshi/calbridge/internal/repository"
)

// OAuthProvider は外部IdPとのトークンライフサイクル操作を抽象化する。
type OAuthProvider interface {
	// ExchangeCode は認可コードをトークン一式と交換する。
	ExchangeCode(ctx context.Context, code string) (*TokenGrant, error)
	// Refresh はリフレッシュトークンで新しいアクセストークンを取得する。
	Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error)
	// VerifyIDToken はIDトークンを検証する。失敗時はnilを返す。
	VerifyIDToken(ctx context.Context, idToken string) *IdentityClaims
	// IntrospectAccessToken はアクセストークンがまだ有効かを確認する。
	IntrospectAccessToken(ctx context.Context, accessToken string) bool
}

// IdentityResolver はクレームからユーザー・連携アカウントを解決する。
type IdentityResolver interface {
	Resolve(ctx context.Context, claims *IdentityClaims) (*model.User, *model.Identity, bool, error)
}

var _ IdentityResolver = (*Resolver)(nil)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// SessionMaxAge はセッションの有効期間（秒）。
	SessionMaxAge int
	// RefreshTokenTTL はプロバイダーがリフレッシュトークンの期限を
	// 返さない場合に使うローカルの既定期限。
	RefreshTokenTTL time.Duration
}

// LoginResult はログイン完了時にハンドラーへ返す結果。
type LoginResult struct {
	User        *model.User
	Identity    *model.Identity
	IsNewUser   bool
	Session     *model.Session
	AccessToken string
	// AccessTokenMaxAge はアクセストークンの残り有効秒数。Cookie期限に使う。
	AccessTokenMaxAge int
	// RefreshToken は今回の交換で発行された場合のみ非空。
	RefreshToken       string
	RefreshTokenMaxAge int
}

// Service は認証・セッション管理のユースケースを提供する。
type Service struct {
	oauth        OAuthProvider
	resolver     IdentityResolver
	userRepo     repository.UserRepository
	identityRepo repository.IdentityRepository
	tokenRepo    repository.TokenRepository
	sessionRepo  repository.SessionRepository
	config       ServiceConfig
	metrics      metrics.MetricsCollector
	logger       *slog.Logger
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	resolver IdentityResolver,
	userRepo repository.UserRepository,
	identityRepo repository.IdentityRepository,
	tokenRepo repository.TokenRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	return &Service{
		oauth:        oauth,
		resolver:     resolver,
		userRepo:     userRepo,
		identityRepo: identityRepo,
		tokenRepo:    tokenRepo,
		sessionRepo:  sessionRepo,
		config:       config,
		metrics:      collector,
		logger:       logger,
	}
}

// Login は認可コードからログインを完了させる。
// コード交換、IDトークン検証、ユーザー解決、トークン保存、
// セッション作成を順に行う。検証失敗時はErrInvalidIdentityを返し、
// ストアへの書き込みは一切行われない。
func (s *Service) Login(ctx context.Context, code string) (*LoginResult, error) {
	start := time.Now()
	grant, err := s.oauth.ExchangeCode(ctx, code)
	s.metrics.RecordProviderLatency("token", time.Since(start))
	if err != nil {
		s.metrics.RecordProviderHTTPStatus("token", exchangeStatusCode(err))
		s.metrics.RecordLoginFailure("exchange_failed")
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	s.metrics.RecordProviderHTTPStatus("token", 200)
	if grant.IDToken == "" {
		s.metrics.RecordLoginFailure("missing_id_token")
		return nil, fmt.Errorf("token response missing id_token: %w", ErrInvalidIdentity)
	}

	claims := s.oauth.VerifyIDToken(ctx, grant.IDToken)
	if claims == nil {
		s.metrics.RecordLoginFailure("invalid_id_token")
		return nil, ErrInvalidIdentity
	}

	user, identity, created, err := s.resolver.Resolve(ctx, claims)
	if err != nil {
		s.metrics.RecordLoginFailure("resolve_failed")
		return nil, fmt.Errorf("failed to resolve identity: %w", err)
	}

	now := time.Now()
	refreshTTL := s.config.RefreshTokenTTL
	if grant.RefreshTokenExpiresIn > 0 {
		refreshTTL = time.Duration(grant.RefreshTokenExpiresIn) * time.Second
	}
	rec := &model.TokenRecord{
		IdentityID:       identity.ID,
		AccessToken:      grant.AccessToken,
		RefreshToken:     grant.RefreshToken,
		AccessExpiresAt:  now.Add(time.Duration(grant.ExpiresIn) * time.Second),
		RefreshExpiresAt: now.Add(refreshTTL),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.tokenRepo.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store tokens: %w", err)
	}

	session, err := s.createSession(ctx, user.ID, now)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordLoginSuccess(created)
	s.logger.Info("login completed",
		slog.String("user_id", user.ID),
		slog.Bool("is_new_user", created),
	)

	return &LoginResult{
		User:               user,
		Identity:           identity,
		IsNewUser:          created,
		Session:            session,
		AccessToken:        grant.AccessToken,
		AccessTokenMaxAge:  grant.ExpiresIn,
		RefreshToken:       grant.RefreshToken,
		RefreshTokenMaxAge: int(refreshTTL / time.Second),
	}, nil
}

// ValidAccessToken は指定連携アカウントの有効なアクセストークンを返す。
// 保存済みトークンが有効期限内ならプロバイダーを呼ばずにそれを返し、
// 期限切れならリフレッシュを一度だけ試みて保存してから返す。
// リフレッシュ不能な場合はErrSessionExpiredを返す。
func (s *Service) ValidAccessToken(ctx context.Context, identityID string) (string, error) {
	token, _, err := s.validAccessToken(ctx, identityID)
	return token, err
}

// ValidAccessTokenForUser はユーザーのGoogle連携アカウントを特定した上で
// 有効なアクセストークンと残り有効秒数を返す。Cookie期限の設定に使う。
func (s *Service) ValidAccessTokenForUser(ctx context.Context, userID string) (string, int, error) {
	identity, err := s.identityRepo.FindByUserIDAndProvider(ctx, userID, model.ProviderGoogle)
	if err != nil {
		return "", 0, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity == nil {
		return "", 0, fmt.Errorf("user %s has no google identity: %w", userID, ErrSessionExpired)
	}

	token, expiresAt, err := s.validAccessToken(ctx, identity.ID)
	if err != nil {
		return "", 0, err
	}
	maxAge := int(time.Until(expiresAt) / time.Second)
	if maxAge < 0 {
		maxAge = 0
	}
	return token, maxAge, nil
}

func (s *Service) validAccessToken(ctx context.Context, identityID string) (string, time.Time, error) {
	rec, err := s.tokenRepo.FindByIdentityID(ctx, identityID)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to find token record: %w", err)
	}
	if rec == nil {
		return "", time.Time{}, fmt.Errorf("no stored tokens for identity %s: %w", identityID, ErrSessionExpired)
	}

	now := time.Now()
	if rec.AccessTokenValid(now) {
		return rec.AccessToken, rec.AccessExpiresAt, nil
	}
	if rec.RefreshToken == "" {
		return "", time.Time{}, fmt.Errorf("no refresh token for identity %s: %w", identityID, ErrSessionExpired)
	}

	start := time.Now()
	grant, err := s.oauth.Refresh(ctx, rec.RefreshToken)
	s.metrics.RecordProviderLatency("token", time.Since(start))
	if err != nil {
		s.metrics.RecordTokenRefresh(metrics.RefreshResultFailure)
		s.logger.Warn("token refresh failed",
			slog.String("identity_id", identityID),
			slog.String("error", err.Error()),
		)
		return "", time.Time{}, fmt.Errorf("token refresh rejected: %w", ErrSessionExpired)
	}
	s.metrics.RecordTokenRefresh(metrics.RefreshResultSuccess)

	// リフレッシュ応答はリフレッシュトークンを含まないのが通例。
	// 空のままUPSERTすれば保存済みのリフレッシュトークンが維持される。
	expiresAt := now.Add(time.Duration(grant.ExpiresIn) * time.Second)
	updated := &model.TokenRecord{
		IdentityID:       identityID,
		AccessToken:      grant.AccessToken,
		RefreshToken:     grant.RefreshToken,
		AccessExpiresAt:  expiresAt,
		RefreshExpiresAt: rec.RefreshExpiresAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.tokenRepo.Upsert(ctx, updated); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to store refreshed tokens: %w", err)
	}

	return grant.AccessToken, expiresAt, nil
}

// IntrospectAccessToken はアクセストークンの現在の有効性を確認する。
func (s *Service) IntrospectAccessToken(ctx context.Context, accessToken string) bool {
	return s.oauth.IntrospectAccessToken(ctx, accessToken)
}

// CurrentUser はセッションIDから現在のユーザーとGoogle連携アカウントを返す。
// セッションが無効・期限切れの場合はErrSessionExpiredを返す。
func (s *Service) CurrentUser(ctx context.Context, sessionID string) (*model.User, *model.Identity, error) {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil, ErrSessionExpired
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, nil, ErrSessionExpired
	}

	identity, err := s.identityRepo.FindByUserIDAndProvider(ctx, user.ID, model.ProviderGoogle)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity == nil {
		return nil, nil, fmt.Errorf("user %s has no google identity: %w", user.ID, ErrSessionExpired)
	}

	return user, identity, nil
}

// Logout はローカルセッションを破棄する。プロバイダー側のトークンは
// 失効させない（他アプリのセッションに影響しうるため）。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *Service) createSession(ctx context.Context, userID string, now time.Time) (*model.Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}
	session := &model.Session{
		ID:        id,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// exchangeStatusCode はトークン交換エラーからHTTPステータスを取り出す。
// ネットワーク起因などステータスを持たないエラーは0を返す。
func exchangeStatusCode(err error) int {
	var exchangeErr *TokenExchangeError
	if errors.As(err, &exchangeErr) {
		return exchangeErr.StatusCode
	}
	return 0
}

func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
