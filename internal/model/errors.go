package model

import "fmt"

// AuthError は認証サブシステムの統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type AuthError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, provider, storage
	Action   string // ユーザー向け対処方法
	Err      error  // 元のエラー
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は元のエラーを返す。
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is はエラーコードが一致する場合にtrueを返す。
// errors.Is(err, model.ErrNetwork) のように種別判定に使う。
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// 定義済みエラーコード
const (
	ErrCodeNetwork            = "NETWORK_ERROR"
	ErrCodeProvider           = "PROVIDER_ERROR"
	ErrCodeIdentityResolution = "IDENTITY_RESOLUTION_FAILED"
	ErrCodeStorage            = "STORAGE_ERROR"
	ErrCodeBusy               = "AUTH_BUSY"
)

// errors.Is で種別を判定するための番兵値。
var (
	ErrNetwork            = &AuthError{Code: ErrCodeNetwork}
	ErrProvider           = &AuthError{Code: ErrCodeProvider}
	ErrIdentityResolution = &AuthError{Code: ErrCodeIdentityResolution}
	ErrStorage            = &AuthError{Code: ErrCodeStorage}
	ErrBusy               = &AuthError{Code: ErrCodeBusy}
)

// NewNetworkError はGoogleフローの通信・パース失敗エラーを生成する。
func NewNetworkError(err error) *AuthError {
	return &AuthError{
		Code:     ErrCodeNetwork,
		Message:  "Googleアカウントとの通信に失敗しました。",
		Category: "provider",
		Action:   "ネットワーク接続を確認し、しばらく待ってから再度お試しください。",
		Err:      err,
	}
}

// NewProviderError はAppleサインインの拒否・失敗エラーを生成する。
func NewProviderError(err error) *AuthError {
	return &AuthError{
		Code:     ErrCodeProvider,
		Message:  "Appleアカウントでのサインインに失敗しました。",
		Category: "provider",
		Action:   "Appleアカウントの設定を確認し、再度お試しください。",
		Err:      err,
	}
}

// NewIdentityResolutionError は氏名とメールアドレスを解決できない場合のエラーを生成する。
func NewIdentityResolutionError(subject string) *AuthError {
	return &AuthError{
		Code:     ErrCodeIdentityResolution,
		Message:  fmt.Sprintf("ユーザー情報を特定できません: %s", subject),
		Category: "auth",
		Action:   "Apple IDの設定からこのアプリの連携を解除し、再度サインインしてください。",
	}
}

// NewStorageError はセッションまたはキャッシュの読み書き失敗エラーを生成する。
func NewStorageError(err error) *AuthError {
	return &AuthError{
		Code:     ErrCodeStorage,
		Message:  "ログイン情報の保存領域にアクセスできません。",
		Category: "storage",
		Action:   "ストレージの設定を確認してください。",
		Err:      err,
	}
}

// NewBusyError は別のサインイン・サインアウト処理が実行中の場合のエラーを生成する。
func NewBusyError() *AuthError {
	return &AuthError{
		Code:     ErrCodeBusy,
		Message:  "別の認証処理が実行中です。",
		Category: "auth",
		Action:   "処理が完了してから再度お試しください。",
	}
}
