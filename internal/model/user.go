// Package model はドメインモデルを定義する。
package model

// User は現在ログインしているユーザーを表す。
// イミュータブルな値として扱い、変更は常に全体の置き換えで行う。
// JSON表現がそのままセッションレコードとして永続化される。
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Photo string `json:"photo,omitempty"`
}

// IsZero は未ログイン状態（空のユーザー）かどうかを返す。
func (u User) IsZero() bool {
	return u == User{}
}

// Profile はIdPが初回認可時にのみ開示する氏名とメールアドレスの組。
// identityキャッシュの値として保存される。
type Profile struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// IsEmpty は氏名もメールアドレスも開示されていないかを返す。
func (p Profile) IsEmpty() bool {
	return p.Name == "" && p.Email == ""
}

// AuthState は認証コーディネータの状態を表す。
type AuthState string

const (
	// StateUninitialized は起動直後、復元前の状態。
	StateUninitialized AuthState = "uninitialized"
	// StateRestoring は保存済みセッションを読み込み中の一時的な状態。
	StateRestoring AuthState = "restoring"
	// StateAnonymous は未ログイン状態。
	StateAnonymous AuthState = "anonymous"
	// StateAuthenticated はログイン済み状態。
	StateAuthenticated AuthState = "authenticated"
)
