package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/calbridge/internal/model"
	"github.com/hitoshi/calbridge/internal/repository"
)

// Resolver は検証済みクレームをローカルのユーザー・連携アカウントに
// 解決する。解決順序は (1) (provider, sub) での連携アカウント検索、
// (2) メールアドレス一致による既存ユーザーへの連携追加、
// (3) ユーザー＋連携アカウントの新規作成。
type Resolver struct {
	userRepo     repository.UserRepository
	identityRepo repository.IdentityRepository
	logger       *slog.Logger
}

// NewResolver はResolverを生成する。
func NewResolver(userRepo repository.UserRepository, identityRepo repository.IdentityRepository, logger *slog.Logger) *Resolver {
	return &Resolver{
		userRepo:     userRepo,
		identityRepo: identityRepo,
		logger:       logger,
	}
}

// Resolve はクレームに対応するユーザーと連携アカウントを返す。
// 戻り値のcreatedはユーザーを新規作成した場合のみtrue（既存ユーザーへの
// 連携追加はfalse）。同一ユーザーの同時初回ログインは一意制約違反として
// 表面化するため、その場合は作成を勝者のレコードの再検索に切り替える。
func (r *Resolver) Resolve(ctx context.Context, claims *IdentityClaims) (*model.User, *model.Identity, bool, error) {
	profile := model.Profile{
		Sub:        claims.Sub,
		Email:      claims.Email,
		Name:       claims.Name,
		GivenName:  claims.GivenName,
		FamilyName: claims.FamilyName,
		Picture:    claims.Picture,
	}

	const maxAttempts = 2
	for attempt := 0; attempt < maxAttempts; attempt++ {
		identity, err := r.identityRepo.FindByProviderAndProviderUserID(ctx, model.ProviderGoogle, claims.Sub)
		if err != nil {
			return nil, nil, false, fmt.Errorf("failed to find identity: %w", err)
		}
		if identity != nil {
			user, err := r.userRepo.FindByID(ctx, identity.UserID)
			if err != nil {
				return nil, nil, false, fmt.Errorf("failed to find user: %w", err)
			}
			if user == nil {
				return nil, nil, false, fmt.Errorf("identity %s references missing user %s", identity.ID, identity.UserID)
			}
			// プロフィールはログインごとに最新のクレームで上書きする。
			if err := r.identityRepo.UpdateProfile(ctx, identity.ID, profile); err != nil {
				return nil, nil, false, fmt.Errorf("failed to update profile: %w", err)
			}
			identity.Profile = profile
			return user, identity, false, nil
		}

		now := time.Now()
		user, err := r.userRepo.FindByEmail(ctx, claims.Email)
		if err != nil {
			return nil, nil, false, fmt.Errorf("failed to find user by email: %w", err)
		}
		if user != nil {
			identity := &model.Identity{
				ID:             uuid.New().String(),
				UserID:         user.ID,
				Provider:       model.ProviderGoogle,
				ProviderUserID: claims.Sub,
				Profile:        profile,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			err := r.identityRepo.Create(ctx, identity)
			if errors.Is(err, repository.ErrDuplicate) {
				r.logger.Info("identity creation lost race, retrying lookup", slog.String("sub", claims.Sub))
				continue
			}
			if err != nil {
				return nil, nil, false, fmt.Errorf("failed to create identity: %w", err)
			}
			return user, identity, false, nil
		}

		user = &model.User{
			ID:        uuid.New().String(),
			Email:     claims.Email,
			FirstName: claims.GivenName,
			LastName:  claims.FamilyName,
			CreatedAt: now,
			UpdatedAt: now,
		}
		identity = &model.Identity{
			ID:             uuid.New().String(),
			UserID:         user.ID,
			Provider:       model.ProviderGoogle,
			ProviderUserID: claims.Sub,
			Profile:        profile,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		err = r.userRepo.CreateWithIdentity(ctx, user, identity)
		if errors.Is(err, repository.ErrDuplicate) {
			r.logger.Info("user creation lost race, retrying lookup", slog.String("email", claims.Email))
			continue
		}
		if err != nil {
			return nil, nil, false, fmt.Errorf("failed to create user: %w", err)
		}
		return user, identity, true, nil
	}

	return nil, nil, false, fmt.Errorf("failed to resolve identity for sub %s after retry", claims.Sub)
}
