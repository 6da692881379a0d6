package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultAppleAuthURL = "https://appleid.apple.com/auth/authorize"

// AppleWebConfig はSign in with Apple（Web）の設定。
type AppleWebConfig struct {
	ClientID    string // Services ID
	RedirectURL string

	// テスト用にオーバーライド可能なURL
	AuthURL string
}

// AppleWebRequester はSign in with AppleのWebフローでクレデンシャルを取得する。
// Appleはresponse_mode=form_postでリダイレクトURIにid_tokenとstateをPOSTする。
// userパラメータ（氏名とメールアドレスのJSON）は初回認可時にしか含まれない。
type AppleWebRequester struct {
	config   AppleWebConfig
	session  AuthSession
	newState func() string
}

// NewAppleWebRequester はAppleWebRequesterを生成する。
func NewAppleWebRequester(config AppleWebConfig, session AuthSession) *AppleWebRequester {
	if config.AuthURL == "" {
		config.AuthURL = defaultAppleAuthURL
	}
	return &AppleWebRequester{
		config:   config,
		session:  session,
		newState: func() string { return uuid.New().String() },
	}
}

// appleUser は初回認可時にPOSTされるuserパラメータ。
type appleUser struct {
	Name struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	} `json:"name"`
	Email string `json:"email"`
}

// GetLoginURL はAppleの認可URLを生成する。
func (r *AppleWebRequester) GetLoginURL(state string, scopes []AppleScope) string {
	params := url.Values{
		"client_id":     {r.config.ClientID},
		"redirect_uri":  {r.config.RedirectURL},
		"response_type": {"code id_token"},
		"response_mode": {"form_post"},
		"state":         {state},
	}
	if scope := webScope(scopes); scope != "" {
		params.Set("scope", scope)
	}
	return r.config.AuthURL + "?" + params.Encode()
}

func webScope(scopes []AppleScope) string {
	var parts []string
	for _, s := range scopes {
		switch s {
		case AppleScopeFullName:
			parts = append(parts, "name")
		case AppleScopeEmail:
			parts = append(parts, "email")
		}
	}
	return strings.Join(parts, " ")
}

// RequestCredential はブラウザでAppleの認可フローを実行する。
// ユーザーによる拒否・タイムアウトもエラーとして返す。
// identity tokenの署名検証はAppleProviderが行うため、ここではsubの取り出しのみを行う。
func (r *AppleWebRequester) RequestCredential(ctx context.Context, scopes []AppleScope) (*AppleCredential, error) {
	state := r.newState()

	result, err := r.session.Start(ctx, r.GetLoginURL(state, scopes), r.config.RedirectURL)
	if err != nil {
		return nil, fmt.Errorf("authorization session failed: %w", err)
	}

	switch result.Type {
	case ResultSuccess:
	case ResultCancel, ResultDismiss:
		return nil, errors.New("authorization was cancelled by user")
	default:
		return nil, fmt.Errorf("authorization failed: %s", result.Params["error"])
	}

	if result.Params["state"] != state {
		return nil, errors.New("state mismatch in authorization response")
	}

	idToken := result.Params["id_token"]
	if idToken == "" {
		return nil, errors.New("empty id_token in authorization response")
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse id_token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("empty subject in id_token")
	}

	cred := &AppleCredential{
		User:          claims.Subject,
		IdentityToken: idToken,
	}

	if raw := result.Params["user"]; raw != "" {
		var u appleUser
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			return nil, fmt.Errorf("failed to parse user parameter: %w", err)
		}
		cred.FullName = &AppleFullName{
			GivenName:  u.Name.FirstName,
			FamilyName: u.Name.LastName,
		}
		cred.Email = u.Email
	}

	return cred, nil
}

// compile-time interface check
var _ AppleCredentialRequester = (*AppleWebRequester)(nil)
