// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, calendar, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeMissingAuthCode = "MISSING_AUTH_CODE"
	ErrCodeTokenExchange   = "TOKEN_EXCHANGE_FAILED"
	ErrCodeInvalidIdentity = "INVALID_GOOGLE_TOKEN"
	ErrCodeSessionExpired  = "SESSION_EXPIRED"
	ErrCodeInvalidPeriod   = "INVALID_PERIOD"
	ErrCodeEmptyPayload    = "EMPTY_EVENT_PAYLOAD"
	ErrCodeUserNotFound    = "USER_NOT_FOUND"
)

// NewMissingAuthCodeError は認可コード未指定エラーを生成する。
func NewMissingAuthCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingAuthCode,
		Message:  "認可コードが指定されていません。",
		Category: "validation",
		Action:   "Googleログインをやり直してください。",
	}
}

// NewTokenExchangeError はトークン交換失敗エラーを生成する。
// detailにはプロバイダーのレスポンス本文をそのまま含める（診断用）。
func NewTokenExchangeError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeTokenExchange,
		Message:  fmt.Sprintf("トークンの交換に失敗しました: %s", detail),
		Category: "auth",
		Action:   "Googleログインをやり直してください。",
	}
}

// NewInvalidIdentityError はIDトークン検証失敗エラーを生成する。
func NewInvalidIdentityError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidIdentity,
		Message:  "Googleトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "Googleログインをやり直してください。",
	}
}

// NewSessionExpiredError はセッション期限切れエラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "セッションの有効期限が切れています。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewInvalidPeriodError は無効な年月パラメータのエラーを生成する。
func NewInvalidPeriodError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPeriod,
		Message:  fmt.Sprintf("無効な期間指定です: %s", detail),
		Category: "validation",
		Action:   "yearとmonthには整数を指定してください。",
	}
}

// NewEmptyPayloadError はイベント作成ボディが空の場合のエラーを生成する。
func NewEmptyPayloadError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyPayload,
		Message:  "イベントのペイロードが空です。",
		Category: "validation",
		Action:   "イベント内容をJSONで指定してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
