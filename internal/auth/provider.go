// Package auth は外部IdPによるサインインフロー、identity解決、
// 端末上の単一セッション管理を行う認証コーディネータを提供する。
package auth

import (
	"context"

	"github.com/hitoshi/gofinances/internal/model"
)

// プロバイダー名
const (
	ProviderGoogle = "google"
	ProviderApple  = "apple"
)

// Provider は外部IdPの認証フローのインターフェース。
// ブラウザリダイレクト型とネイティブダイアログ型の違いをこの抽象の裏に隠す。
// 実装はセッションやキャッシュを直接変更せず、正規化前のCredentialを返すだけとする。
type Provider interface {
	// Name はプロバイダー名を返す。
	Name() string
	// Authorize は認証フローを実行する。
	// ユーザーがフローを閉じた場合はエラーではなく Outcome.Cancelled=true を返す。
	Authorize(ctx context.Context) (*model.Outcome, error)
}

// ResultType は認可セッションの終了種別を表す。
type ResultType string

const (
	// ResultSuccess はリダイレクトでパラメータを受け取ったことを示す。
	ResultSuccess ResultType = "success"
	// ResultCancel はユーザーが認可を拒否、またはフローを閉じたことを示す。
	ResultCancel ResultType = "cancel"
	// ResultDismiss はリダイレクトを受け取らないまま待機を終えたことを示す。
	ResultDismiss ResultType = "dismiss"
	// ResultError はIdPがエラーを返したことを示す。
	ResultError ResultType = "error"
)

// AuthSessionResult はホスト型認可フローの結果。
type AuthSessionResult struct {
	Type   ResultType
	Params map[string]string
}

// AuthSession はブラウザでホストされる認可フローのインターフェース。
// authURLを開き、redirectURLに戻ってくるまで待機する。
type AuthSession interface {
	Start(ctx context.Context, authURL, redirectURL string) (*AuthSessionResult, error)
}

// resultFromParams はリダイレクトで受け取ったパラメータから結果を組み立てる。
// errorパラメータがあればユーザー拒否かIdPエラーかを判定する。
func resultFromParams(params map[string]string) *AuthSessionResult {
	switch params["error"] {
	case "":
		return &AuthSessionResult{Type: ResultSuccess, Params: params}
	case "access_denied", "user_cancelled_authorize":
		return &AuthSessionResult{Type: ResultCancel, Params: params}
	default:
		return &AuthSessionResult{Type: ResultError, Params: params}
	}
}
