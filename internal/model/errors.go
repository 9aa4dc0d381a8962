package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, payment, gateway, system
	Action   string // 利用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// サービス層が返す番兵エラー。呼び出し元はerrors.Isで判定する。
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayTimeout     = errors.New("payment gateway timeout")

	ErrTokenMalformed        = errors.New("token is malformed")
	ErrTokenInvalidSignature = errors.New("token signature is invalid")
	ErrTokenExpired          = errors.New("token is expired")
)

// ArgumentError は入力値エラーの理由を保持する。
// errors.Is(err, ErrInvalidArgument)で判定できる。
type ArgumentError struct {
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *ArgumentError) Error() string {
	return "invalid argument: " + e.Reason
}

// Unwrap はErrInvalidArgumentを返す。
func (e *ArgumentError) Unwrap() error {
	return ErrInvalidArgument
}

// InvalidArgument は理由付きの入力値エラーを生成する。
func InvalidArgument(format string, args ...any) error {
	return &ArgumentError{Reason: fmt.Sprintf(format, args...)}
}

// 定義済みエラーコード
const (
	ErrCodeTokenMissing            = "TOKEN_MISSING"
	ErrCodeTokenMalformed          = "TOKEN_MALFORMED"
	ErrCodeTokenInvalidSignature   = "TOKEN_INVALID_SIGNATURE"
	ErrCodeTokenExpired            = "TOKEN_EXPIRED"
	ErrCodeInvalidClientCredential = "INVALID_CLIENT_CREDENTIAL"
	ErrCodeInvalidRequest          = "INVALID_REQUEST"
	ErrCodeInvalidArgument         = "INVALID_ARGUMENT"
	ErrCodePaymentNotFound         = "PAYMENT_NOT_FOUND"
	ErrCodeInvalidTransition       = "INVALID_STATUS_TRANSITION"
	ErrCodeGatewayUnavailable      = "GATEWAY_UNAVAILABLE"
	ErrCodeGatewayTimeout          = "GATEWAY_TIMEOUT"
	ErrCodeRateLimitExceeded       = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal                = "INTERNAL_ERROR"
)

// NewTokenError はトークン検証エラーをAPIErrorに変換する。
// 未知のエラーは不正形式として扱う。
func NewTokenError(err error) *APIError {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return &APIError{
			Code:     ErrCodeTokenExpired,
			Message:  "アクセストークンの有効期限が切れています。",
			Category: "auth",
			Action:   "トークンを再発行してください。",
		}
	case errors.Is(err, ErrTokenInvalidSignature):
		return &APIError{
			Code:     ErrCodeTokenInvalidSignature,
			Message:  "アクセストークンの署名が不正です。",
			Category: "auth",
			Action:   "トークンを再発行してください。",
		}
	default:
		return &APIError{
			Code:     ErrCodeTokenMalformed,
			Message:  "アクセストークンの形式が不正です。",
			Category: "auth",
			Action:   "Authorizationヘッダーに Bearer トークンを指定してください。",
		}
	}
}

// NewTokenMissingError はAuthorizationヘッダー欠落エラーを生成する。
func NewTokenMissingError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenMissing,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "Authorizationヘッダーに Bearer トークンを指定してください。",
	}
}

// NewInvalidClientCredentialError はトークン発行時のクライアント認証失敗エラーを生成する。
func NewInvalidClientCredentialError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidClientCredential,
		Message:  "クライアント認証に失敗しました。",
		Category: "auth",
		Action:   "subjectとclient_secretを確認してください。",
	}
}

// NewInvalidRequestError はリクエストボディ解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewInvalidArgumentError は入力値不足・不正エラーを生成する。
func NewInvalidArgumentError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidArgument,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "リクエストの内容を確認してください。",
	}
}

// NewPaymentNotFoundError は決済未検出エラーを生成する。
func NewPaymentNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodePaymentNotFound,
		Message:  "指定された決済が見つかりません。",
		Category: "payment",
		Action:   "決済IDを確認してください。",
	}
}

// NewInvalidTransitionError は許可されていないステータス遷移エラーを生成する。
func NewInvalidTransitionError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTransition,
		Message:  "決済ステータスを指定された状態に変更できません。",
		Category: "payment",
		Action:   "決済済みの決済は未決済に戻せません。",
	}
}

// NewGatewayUnavailableError は決済ゲートウェイ接続失敗エラーを生成する。
func NewGatewayUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeGatewayUnavailable,
		Message:  "決済ゲートウェイに接続できませんでした。",
		Category: "gateway",
		Action:   "決済は未決済のままです。しばらく待ってから決済処理を再実行してください。",
	}
}

// NewGatewayTimeoutError は決済ゲートウェイ応答タイムアウトエラーを生成する。
func NewGatewayTimeoutError() *APIError {
	return &APIError{
		Code:     ErrCodeGatewayTimeout,
		Message:  "決済ゲートウェイの応答がタイムアウトしました。",
		Category: "gateway",
		Action:   "決済は未決済のままです。しばらく待ってから決済処理を再実行してください。",
	}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエスト数が上限を超えました。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、利用者には一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
