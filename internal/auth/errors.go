package auth

import (
	"errors"
	"fmt"
)

// ErrInvalidIdentity はIDトークンの検証が失敗したことを表す。
// 改ざん・期限切れトークンで頻繁に発生する想定内の結果であり、
// ストア書き込み前にログインを中断させる。
var ErrInvalidIdentity = errors.New("google id token verification failed")

// ErrSessionExpired はリフレッシュ後も使用可能なアクセストークンが
// 得られないことを表す。呼び出し元はセッションを未認証に降格し、
// トランスポート層の資格情報を無効化する必要がある。
var ErrSessionExpired = errors.New("session expired")

// TokenExchangeError は認可コードのトークン交換失敗を表す。
// Bodyはプロバイダーのレスポンス本文をそのまま保持する（診断用。
// 構造化されたエラー詳細としてはパースしない）。
type TokenExchangeError struct {
	StatusCode int
	Body       string
}

// Error はerrorインターフェースを実装する。
func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed with status %d: %s", e.StatusCode, e.Body)
}

// RefreshError はリフレッシュトークンによる再取得失敗を表す。
// リフレッシュトークンは自己回復しないため、呼び出し元はセッションを
// 未認証として扱う必要がある。
type RefreshError struct {
	StatusCode int
	Body       string
}

// Error はerrorインターフェースを実装する。
func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed with status %d: %s", e.StatusCode, e.Body)
}
