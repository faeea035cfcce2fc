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
	Category string // カテゴリ: auth, validation, appuser, note, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeUsernameConflict = "USERNAME_CONFLICT"
	ErrCodeAppuserNotFound  = "APPUSER_NOT_FOUND"
	ErrCodeNoteNotFound     = "NOTE_NOT_FOUND"
	ErrCodeValidation       = "VALIDATION_FAILED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// NewUnauthorizedError は認証失敗エラーを生成する。
// 失敗の原因（パスワード不一致、期限切れ等）は区別しない。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証に失敗しました。",
		Category: "auth",
		Action:   "ユーザー名とパスワード、またはトークンを確認してください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "必要なスコープを持つアカウントで操作してください。",
	}
}

// NewUsernameConflictError はユーザー名重複エラーを生成する。
func NewUsernameConflictError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeUsernameConflict,
		Message:  fmt.Sprintf("ユーザー名は既に使用されています: %s", username),
		Category: "appuser",
		Action:   "別のユーザー名を指定してください。",
	}
}

// NewAppuserNotFoundError は利用者が見つからない場合のエラーを生成する。
func NewAppuserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeAppuserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "appuser",
		Action:   "ログインし直してください。",
	}
}

// NewNoteNotFoundError はメモが見つからない場合のエラーを生成する。
// 他者所有のメモも同じエラーとし、存在を漏らさない。
func NewNoteNotFoundError(noteID string) *APIError {
	return &APIError{
		Code:     ErrCodeNoteNotFound,
		Message:  fmt.Sprintf("指定されたメモが見つかりません: %s", noteID),
		Category: "note",
		Action:   "メモIDを確認してください。",
	}
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、呼び出し元には一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// HasCode はerrがAPIErrorであり、指定コードを持つかどうかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}
