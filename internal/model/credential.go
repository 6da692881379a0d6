package model

// Credential はIdPから取得した正規化前のユーザー情報を表す。
type Credential struct {
	Provider string // "google", "apple"
	Subject  string // IdP上の不変な識別子
	Name     string
	Email    string
	Photo    string

	// ResolveIdentity はName/Emailが初回認可時にしか開示されないことを示す。
	// trueの場合、コーディネータはidentityキャッシュで氏名とメールアドレスを解決する。
	ResolveIdentity bool
}

// Profile はCredentialが今回開示した氏名とメールアドレスを返す。
func (c *Credential) Profile() Profile {
	return Profile{Name: c.Name, Email: c.Email}
}

// Outcome は外部認証フローの結果を表す。
// ユーザーによるキャンセルはエラーではなく、Cancelled=trueとして返す。
type Outcome struct {
	Cancelled  bool
	Credential *Credential
}

// Cancelled はキャンセル結果を生成する。
func Cancelled() *Outcome {
	return &Outcome{Cancelled: true}
}

// Succeeded は認証成功結果を生成する。
func Succeeded(c *Credential) *Outcome {
	return &Outcome{Credential: c}
}
