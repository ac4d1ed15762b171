// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"sort"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string            // エラーコード
	Message  string            // エラーメッセージ
	Category string            // カテゴリ: auth, validation, resource, system
	Action   string            // ユーザー向け対処方法
	Fields   map[string]string // バリデーションエラー時のフィールド別詳細
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("[%s] %s (%s)", e.Code, e.Message, strings.Join(keys, ", "))
}

// 定義済みエラーコード
const (
	ErrCodeValidationFailed       = "VALIDATION_FAILED"
	ErrCodeInvalidRequest         = "INVALID_REQUEST"
	ErrCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeInvalidResetToken      = "INVALID_RESET_TOKEN"
	ErrCodeEmailAlreadyRegistered = "EMAIL_ALREADY_REGISTERED"
	ErrCodeOAuthFailed            = "OAUTH_FAILED"
	ErrCodeOAuthEmailMissing      = "OAUTH_EMAIL_MISSING"
	ErrCodeOAuthDisabled          = "OAUTH_DISABLED"
	ErrCodeTaskNotFound           = "TASK_NOT_FOUND"
	ErrCodeTodoNotFound           = "TODO_NOT_FOUND"
	ErrCodeUserNotFound           = "USER_NOT_FOUND"
	ErrCodeRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

// ValidationErrors はフィールド単位のバリデーション結果を蓄積する。
type ValidationErrors map[string]string

// Add はフィールドのエラーを追加する。既に登録済みのフィールドは上書きしない。
func (v ValidationErrors) Add(field, message string) {
	if _, ok := v[field]; !ok {
		v[field] = message
	}
}

// Err はエラーが1件以上あればAPIErrorを、なければnilを返す。
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return NewValidationError(v)
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(fields map[string]string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  "入力内容に誤りがあります。",
		Category: "validation",
		Action:   "各項目の内容を確認してください。",
		Fields:   fields,
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// ユーザーの存在有無を区別しないため、原因によらず同一の内容を返す。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidResetTokenError はリセットトークンの不一致・期限切れエラーを生成する。
// 不一致と期限切れは同一の内容で返す。
func NewInvalidResetTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidResetToken,
		Message:  "リセットトークンが無効か、有効期限が切れています。",
		Category: "auth",
		Action:   "パスワードリセットを再度申請してください。",
	}
}

// NewEmailAlreadyRegisteredError はメールアドレス重複エラーを生成する。
func NewEmailAlreadyRegisteredError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailAlreadyRegistered,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、パスワードリセットを利用してください。",
	}
}

// NewOAuthFailedError は外部プロバイダーとの通信失敗エラーを生成する。
func NewOAuthFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeOAuthFailed,
		Message:  "外部サービスでの認証に失敗しました。",
		Category: "auth",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewOAuthEmailMissingError はプロバイダーがメールアドレスを返さなかった場合のエラーを生成する。
func NewOAuthEmailMissingError() *APIError {
	return &APIError{
		Code:     ErrCodeOAuthEmailMissing,
		Message:  "外部サービスからメールアドレスを取得できませんでした。",
		Category: "auth",
		Action:   "メールアドレスの提供を許可して再度ログインしてください。",
	}
}

// NewOAuthDisabledError はOAuthログインが設定されていない場合のエラーを生成する。
func NewOAuthDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodeOAuthDisabled,
		Message:  "Googleログインは現在利用できません。",
		Category: "auth",
		Action:   "メールアドレスとパスワードでログインしてください。",
	}
}

// NewTaskNotFoundError はタスク未検出エラーを生成する。
// 他ユーザー所有のタスクも存在を明かさないため同じエラーとする。
func NewTaskNotFoundError(taskID string) *APIError {
	return &APIError{
		Code:     ErrCodeTaskNotFound,
		Message:  fmt.Sprintf("指定されたタスクが見つかりません: %s", taskID),
		Category: "resource",
		Action:   "タスクIDを確認してください。",
	}
}

// NewTodoNotFoundError はTodo未検出エラーを生成する。
func NewTodoNotFoundError(todoID string) *APIError {
	return &APIError{
		Code:     ErrCodeTodoNotFound,
		Message:  fmt.Sprintf("指定されたTodoが見つかりません: %s", todoID),
		Category: "resource",
		Action:   "TodoのIDを確認してください。",
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

// NewRateLimitExceededError はレート制限超過エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
