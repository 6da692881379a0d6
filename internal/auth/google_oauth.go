package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/hitoshi/gofinances/internal/model"
	"github.com/hitoshi/gofinances/internal/security"
)

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v1/userinfo"

	// ユーザー情報レスポンスの上限サイズ
	maxUserInfoSize = 1 << 20
)

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID    string
	RedirectURL string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	UserInfoURL string
}

// GoogleOAuthProvider はGoogleのインプリシットグラントによるサインインを提供する。
// ブラウザで認可画面を開き、リダイレクトで受け取ったアクセストークンでユーザー情報を取得する。
type GoogleOAuthProvider struct {
	config    GoogleOAuthConfig
	session   AuthSession
	client    *http.Client
	guard     security.SSRFGuardService
	sanitizer security.NameSanitizerService
	newState  func() string
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(
	config GoogleOAuthConfig,
	session AuthSession,
	client *http.Client,
	guard security.SSRFGuardService,
	sanitizer security.NameSanitizerService,
) *GoogleOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &GoogleOAuthProvider{
		config:    config,
		session:   session,
		client:    client,
		guard:     guard,
		sanitizer: sanitizer,
		newState:  func() string { return uuid.New().String() },
	}
}

// Name はプロバイダー名を返す。
func (p *GoogleOAuthProvider) Name() string {
	return ProviderGoogle
}

// GetLoginURL はGoogleの認可URLを生成する。
// response_typeはtoken（インプリシットグラント）、スコープはprofileとemail。
func (p *GoogleOAuthProvider) GetLoginURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"token"},
		"scope":         {"profile email"},
		"state":         {state},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// googleUserInfo はGoogleのユーザー情報エンドポイントのレスポンス。
type googleUserInfo struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	GivenName string `json:"given_name"`
	Picture   string `json:"picture"`
}

// Authorize はブラウザでGoogleの認可フローを実行し、ユーザー情報を取得する。
// キャンセル時はネットワーク通信を行わずにキャンセル結果を返す。
// 通信・パースの失敗は全てNetworkErrorとして返す。
func (p *GoogleOAuthProvider) Authorize(ctx context.Context) (*model.Outcome, error) {
	state := p.newState()

	result, err := p.session.Start(ctx, p.GetLoginURL(state), p.config.RedirectURL)
	if err != nil {
		return nil, model.NewNetworkError(fmt.Errorf("authorization session failed: %w", err))
	}

	switch result.Type {
	case ResultCancel, ResultDismiss:
		return model.Cancelled(), nil
	case ResultSuccess:
	default:
		return nil, model.NewNetworkError(fmt.Errorf("authorization failed: %s", result.Params["error"]))
	}

	if result.Params["state"] != state {
		return nil, model.NewNetworkError(fmt.Errorf("state mismatch in authorization response"))
	}

	accessToken := result.Params["access_token"]
	if accessToken == "" {
		return nil, model.NewNetworkError(fmt.Errorf("empty access token in authorization response"))
	}

	userInfo, err := p.fetchUserInfo(ctx, accessToken)
	if err != nil {
		return nil, model.NewNetworkError(fmt.Errorf("failed to fetch user info: %w", err))
	}

	return model.Succeeded(&model.Credential{
		Provider: ProviderGoogle,
		Subject:  userInfo.ID,
		Name:     p.sanitizer.Sanitize(userInfo.GivenName),
		Email:    userInfo.Email,
		Photo:    userInfo.Picture,
	}), nil
}

// fetchUserInfo はアクセストークンでGoogleのユーザー情報を取得し、形式を検証する。
func (p *GoogleOAuthProvider) fetchUserInfo(ctx context.Context, accessToken string) (*googleUserInfo, error) {
	endpoint, err := url.Parse(p.config.UserInfoURL)
	if err != nil {
		return nil, fmt.Errorf("invalid user info url: %w", err)
	}
	query := endpoint.Query()
	query.Set("alt", "json")
	query.Set("access_token", accessToken)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info fetch failed with status %d", resp.StatusCode)
	}

	var userInfo googleUserInfo
	if err := json.Unmarshal(body, &userInfo); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}

	if userInfo.ID == "" {
		return nil, fmt.Errorf("empty id in user info response")
	}
	if userInfo.Email == "" {
		return nil, fmt.Errorf("empty email in user info response")
	}
	if userInfo.Picture != "" {
		if err := p.guard.ValidateURL(userInfo.Picture); err != nil {
			return nil, fmt.Errorf("invalid picture in user info response: %w", err)
		}
	}

	return &userInfo, nil
}

// compile-time interface check
var _ Provider = (*GoogleOAuthProvider)(nil)
