package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string            // エラーコード
	Message  string            // エラーメッセージ
	Category string            // カテゴリ: auth, validation, project, system
	Action   string            // ユーザー向け対処方法
	Fields   map[string]string // フィールド単位の検証エラー（フォーム表示用）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeProjectNotFound    = "PROJECT_NOT_FOUND"
	ErrCodeImageNotFound      = "IMAGE_NOT_FOUND"
	ErrCodeActionNotFound     = "ACTION_NOT_FOUND"
	ErrCodePasswordAlreadySet = "PASSWORD_ALREADY_SET"
	ErrCodePasswordNotSet     = "PASSWORD_NOT_SET"
	ErrCodeCSRFFailed         = "CSRF_VALIDATION_FAILED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewValidationError はフィールド単位の検証エラーを生成する。
// fieldsが1件のみの場合はそのメッセージをMessageにも使う。
func NewValidationError(fields map[string]string) *APIError {
	msg := "入力内容に誤りがあります。"
	if len(fields) == 1 {
		for _, m := range fields {
			msg = m
		}
	}
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  msg,
		Category: "validation",
		Action:   "入力内容を確認してから再度送信してください。",
		Fields:   fields,
	}
}

// NewImageRequiredError は画像が1枚もない場合の検証エラーを生成する。
func NewImageRequiredError() *APIError {
	return NewValidationError(map[string]string{
		"images": "画像を少なくとも1枚追加してください。",
	})
}

// NewInvalidRequestError はリクエスト形式が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストの形式が正しくありません: %s", reason),
		Category: "validation",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewInvalidCredentialsError はパスワード不一致のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "パスワードが正しくありません。",
		Category: "auth",
		Action:   "パスワードを確認して再度入力してください。",
	}
}

// NewUnauthorizedError は有効なセッションがない場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewProjectNotFoundError はプロジェクト未検出エラーを生成する。
func NewProjectNotFoundError(projectID string) *APIError {
	return &APIError{
		Code:     ErrCodeProjectNotFound,
		Message:  fmt.Sprintf("指定されたプロジェクトが見つかりません: %s", projectID),
		Category: "project",
		Action:   "プロジェクト一覧から対象を選び直してください。",
	}
}

// NewImageNotFoundError は画像未検出エラーを生成する。
func NewImageNotFoundError(projectID string, index int) *APIError {
	return &APIError{
		Code:     ErrCodeImageNotFound,
		Message:  fmt.Sprintf("指定された画像が見つかりません: %s[%d]", projectID, index),
		Category: "project",
		Action:   "画像の番号を確認してください。",
	}
}

// NewActionNotFoundError は未定義の認証アクションが指定された場合のエラーを生成する。
func NewActionNotFoundError(action string) *APIError {
	return &APIError{
		Code:     ErrCodeActionNotFound,
		Message:  fmt.Sprintf("未定義の操作です: %s", action),
		Category: "auth",
		Action:   "set、change、login のいずれかを指定してください。",
	}
}

// NewPasswordAlreadySetError は初期パスワードが設定済みの場合のエラーを生成する。
func NewPasswordAlreadySetError() *APIError {
	return &APIError{
		Code:     ErrCodePasswordAlreadySet,
		Message:  "パスワードは既に設定されています。",
		Category: "auth",
		Action:   "ログイン画面からログインしてください。",
	}
}

// NewPasswordNotSetError はパスワード未設定の状態でログインや変更を試みた場合のエラーを生成する。
func NewPasswordNotSetError() *APIError {
	return &APIError{
		Code:     ErrCodePasswordNotSet,
		Message:  "パスワードがまだ設定されていません。",
		Category: "auth",
		Action:   "初期パスワードを設定してください。",
	}
}

// NewCSRFFailedError はCSRF検証失敗のエラーを生成する。
// reasonは機械可読な失敗理由（MissingToken, TokenMismatch, RateLimited）。
func NewCSRFFailedError(reason string) *APIError {
	action := "ページを再読み込みしてから再度お試しください。"
	if reason == "RateLimited" {
		action = "しばらく待ってから再度お試しください。"
	}
	return &APIError{
		Code:     ErrCodeCSRFFailed,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   action,
		Fields:   map[string]string{"reason": reason},
	}
}

// NewInternalError は内部エラーの汎用レスポンス用エラーを生成する。
// 詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
