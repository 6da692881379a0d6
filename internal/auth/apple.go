package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitoshi/gofinances/internal/model"
	"github.com/hitoshi/gofinances/internal/security"
)

// AppleScope はSign in with Appleで要求するスコープ。
type AppleScope string

const (
	AppleScopeFullName AppleScope = "full_name"
	AppleScopeEmail    AppleScope = "email"
)

// AppleFullName はAppleが開示する氏名。
type AppleFullName struct {
	GivenName  string
	FamilyName string
}

// AppleCredential はAppleの認可ダイアログが返すクレデンシャル。
// Userは常に返るが、FullNameとEmailは初回認可時にしか返らない。
type AppleCredential struct {
	User          string
	IdentityToken string
	FullName      *AppleFullName
	Email         string
}

// AppleCredentialRequester はAppleの認可ダイアログを表示してクレデンシャルを取得する。
// ユーザーによる拒否もエラーとして返す。
type AppleCredentialRequester interface {
	RequestCredential(ctx context.Context, scopes []AppleScope) (*AppleCredential, error)
}

// TokenVerifier はAppleのidentity tokenを検証する。
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*AppleIdentityClaims, error)
}

// AppleProvider はSign in with Appleによるサインインを提供する。
// 氏名とメールアドレスの解決はコーディネータ側のidentityキャッシュに委ねる。
type AppleProvider struct {
	requester AppleCredentialRequester
	verifier  TokenVerifier
	sanitizer security.NameSanitizerService
}

// NewAppleProvider はAppleProviderを生成する。
// verifierがnilの場合、identity tokenの検証を行わない。
func NewAppleProvider(
	requester AppleCredentialRequester,
	verifier TokenVerifier,
	sanitizer security.NameSanitizerService,
) *AppleProvider {
	return &AppleProvider{
		requester: requester,
		verifier:  verifier,
		sanitizer: sanitizer,
	}
}

// Name はプロバイダー名を返す。
func (p *AppleProvider) Name() string {
	return ProviderApple
}

// Authorize はAppleの認可ダイアログを表示し、クレデンシャルを検証して返す。
// 拒否・失敗・検証エラーは全てProviderErrorとして返す。
func (p *AppleProvider) Authorize(ctx context.Context) (*model.Outcome, error) {
	cred, err := p.requester.RequestCredential(ctx, []AppleScope{AppleScopeFullName, AppleScopeEmail})
	if err != nil {
		return nil, model.NewProviderError(fmt.Errorf("apple authorization failed: %w", err))
	}
	if cred == nil || strings.TrimSpace(cred.User) == "" {
		return nil, model.NewProviderError(fmt.Errorf("empty user in apple credential"))
	}

	if p.verifier != nil {
		if cred.IdentityToken == "" {
			return nil, model.NewProviderError(fmt.Errorf("missing identity token in apple credential"))
		}
		claims, err := p.verifier.Verify(ctx, cred.IdentityToken)
		if err != nil {
			return nil, model.NewProviderError(err)
		}
		if claims.Subject != cred.User {
			return nil, model.NewProviderError(fmt.Errorf("identity token subject does not match user"))
		}
	}

	var name string
	if cred.FullName != nil {
		name = p.sanitizer.Sanitize(cred.FullName.GivenName)
	}

	return model.Succeeded(&model.Credential{
		Provider:        ProviderApple,
		Subject:         cred.User,
		Name:            name,
		Email:           strings.TrimSpace(cred.Email),
		ResolveIdentity: true,
	}), nil
}

// compile-time interface check
var _ Provider = (*AppleProvider)(nil)
