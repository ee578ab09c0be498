package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/calbridge/internal/model"
)

// PostgresIdentityRepo はPostgreSQLを使用したidentityリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	return r.findOne(ctx,
		`SELECT id, user_id, provider, provider_user_id, profile, created_at, updated_at
		 FROM identities
		 WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	)
}

// FindByUserIDAndProvider はユーザーIDとproviderでidentityを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByUserIDAndProvider(ctx context.Context, userID, provider string) (*model.Identity, error) {
	return r.findOne(ctx,
		`SELECT id, user_id, provider, provider_user_id, profile, created_at, updated_at
		 FROM identities
		 WHERE user_id = $1 AND provider = $2`,
		userID, provider,
	)
}

func (r *PostgresIdentityRepo) findOne(ctx context.Context, query string, args ...any) (*model.Identity, error) {
	identity := &model.Identity{}
	var profile []byte
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&identity.ID, &identity.UserID, &identity.Provider, &identity.ProviderUserID,
		&profile, &identity.CreatedAt, &identity.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	if len(profile) > 0 {
		if err := json.Unmarshal(profile, &identity.Profile); err != nil {
			return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
		}
	}

	return identity, nil
}

// Create はidentityを作成する。既存ユーザーへの紐付け追加で使用する。
// (provider, provider_user_id)の一意制約違反の場合はErrDuplicateを返す。
func (r *PostgresIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	profile, err := json.Marshal(identity.Profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO identities (id, user_id, provider, provider_user_id, profile, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, profile,
		identity.CreatedAt, identity.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert identity: %w", err)
	}

	return nil
}

// UpdateProfile はidentityのプロフィールblobを上書きする。
func (r *PostgresIdentityRepo) UpdateProfile(ctx context.Context, identityID string, profile model.Profile) error {
	blob, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE identities SET profile = $1, updated_at = now() WHERE id = $2`,
		blob, identityID,
	)
	if err != nil {
		return fmt.Errorf("failed to update identity profile: %w", err)
	}

	return nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
