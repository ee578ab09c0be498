// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/calbridge/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はemailでユーザーを検索する。見つからない場合はnilを返す。
	// emailはプロバイダー横断の自然キー。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	// 一意制約違反の場合はErrDuplicateを返す（呼び出し元が再検索する）。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、oauth_tokensはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// ログイン時の最初の検索経路。見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// FindByUserIDAndProvider はユーザーIDとproviderでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByUserIDAndProvider(ctx context.Context, userID, provider string) (*model.Identity, error)

	// Create はidentityを作成する。既存ユーザーへの紐付け追加で使用する。
	// (provider, provider_user_id)の一意制約違反の場合はErrDuplicateを返す。
	Create(ctx context.Context, identity *model.Identity) error

	// UpdateProfile はidentityのプロフィールblobを上書きする。
	UpdateProfile(ctx context.Context, identityID string, profile model.Profile) error
}

// TokenRepository はidentityごとのトークンリースの永続化インターフェース。
type TokenRepository interface {
	// Upsert はトークンレコードをidentity単位でUPSERTする。
	// rec.RefreshTokenが空の場合、保存済みのリフレッシュトークンと
	// その有効期限は維持される（リフレッシュトークンは初回同意時のみ発行されるため）。
	Upsert(ctx context.Context, rec *model.TokenRecord) error

	// FindByIdentityID は指定identityのトークンレコードを取得する。
	// 見つからない場合はnilを返す。
	FindByIdentityID(ctx context.Context, identityID string) (*model.TokenRecord, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
