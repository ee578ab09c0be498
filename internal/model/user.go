// Package model はドメインモデルを定義する。
package model

import "time"

// ProviderGoogle は本システムが対応する唯一のIdP名。
const ProviderGoogle = "google"

// User はサービス利用ユーザーを表す。
// emailは全プロバイダー横断の自然キーとして一意。
type User struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Profile はIdPから取得したプロフィール情報を表す。
// identitiesテーブルのJSONBカラムにそのまま保存する。
type Profile struct {
	Sub        string `json:"sub"`
	Email      string `json:"email"`
	Name       string `json:"name,omitempty"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	Picture    string `json:"picture,omitempty"`
}

// Identity は外部IdPとの紐付け情報を表す。
// (provider, provider_user_id) はグローバルに一意。
// 1ユーザーにつき1プロバイダーあたり1レコードまで。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	Profile        Profile
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TokenRecord はidentityごとのトークンリースを表す。
// 1 identityにつき最大1レコード（UPSERTセマンティクス）。
// RefreshTokenは初回同意時のみ発行されるため空の場合がある。
type TokenRecord struct {
	IdentityID       string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AccessTokenValid は記録済みの有効期限に基づきアクセストークンが
// まだ有効かを返す。期限はプロバイダー報告のlifetimeから算出した値であり、
// 消費時には再検証またはリフレッシュが必要。
func (t *TokenRecord) AccessTokenValid(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.AccessExpiresAt)
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
