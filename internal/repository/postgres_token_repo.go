package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/calbridge/internal/model"
)

// PostgresTokenRepo はPostgreSQLを使用したトークンリポジトリ。
type PostgresTokenRepo struct {
	db *sql.DB
}

// NewPostgresTokenRepo はPostgresTokenRepoを生成する。
func NewPostgresTokenRepo(db *sql.DB) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db}
}

// Upsert はトークンレコードをidentity単位でUPSERTする。
// リフレッシュトークンは初回同意時のみ発行されるため、recのRefreshTokenが
// 空の場合は保存済みの値とその有効期限を維持する。
func (r *PostgresTokenRepo) Upsert(ctx context.Context, rec *model.TokenRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO oauth_tokens
		   (identity_id, access_token, refresh_token, access_expires_at, refresh_expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now(), now())
		 ON CONFLICT (identity_id) DO UPDATE SET
		   access_token      = EXCLUDED.access_token,
		   access_expires_at = EXCLUDED.access_expires_at,
		   refresh_token     = CASE WHEN EXCLUDED.refresh_token = ''
		                            THEN oauth_tokens.refresh_token
		                            ELSE EXCLUDED.refresh_token END,
		   refresh_expires_at = CASE WHEN EXCLUDED.refresh_token = ''
		                             THEN oauth_tokens.refresh_expires_at
		                             ELSE EXCLUDED.refresh_expires_at END,
		   updated_at = now()`,
		rec.IdentityID, rec.AccessToken, rec.RefreshToken, rec.AccessExpiresAt, rec.RefreshExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert token record: %w", err)
	}

	return nil
}

// FindByIdentityID は指定identityのトークンレコードを取得する。
// 見つからない場合はnilを返す。
func (r *PostgresTokenRepo) FindByIdentityID(ctx context.Context, identityID string) (*model.TokenRecord, error) {
	rec := &model.TokenRecord{}
	err := r.db.QueryRowContext(ctx,
		`SELECT identity_id, access_token, refresh_token, access_expires_at, refresh_expires_at, created_at, updated_at
		 FROM oauth_tokens
		 WHERE identity_id = $1`,
		identityID,
	).Scan(&rec.IdentityID, &rec.AccessToken, &rec.RefreshToken,
		&rec.AccessExpiresAt, &rec.RefreshExpiresAt, &rec.CreatedAt, &rec.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find token record: %w", err)
	}

	return rec, nil
}

// compile-time interface check
var _ TokenRepository = (*PostgresTokenRepo)(nil)
