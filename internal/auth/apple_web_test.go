package auth

import (
	"context"
	"net/url"
	"strings"
	"testing"
)

func newTestAppleRequester(t *testing.T, session AuthSession) *AppleWebRequester {
	t.Helper()
	return NewAppleWebRequester(AppleWebConfig{
		ClientID:    testClientID,
		RedirectURL: "https://auth.example.com/apple/callback",
	}, session)
}

func TestAppleWebRequester_GetLoginURL_ContainsRequiredParams(t *testing.T) {
	requester := newTestAppleRequester(t, &mockAuthSession{})

	loginURL := requester.GetLoginURL("st", []AppleScope{AppleScopeFullName, AppleScopeEmail})
	u, err := url.Parse(loginURL)
	if err != nil {
		t.Fatalf("failed to parse url: %v", err)
	}

	if !strings.HasPrefix(loginURL, "https://appleid.apple.com/auth/authorize?") {
		t.Errorf("unexpected endpoint: %q", loginURL)
	}
	want := map[string]string{
		"client_id":     testClientID,
		"redirect_uri":  "https://auth.example.com/apple/callback",
		"response_type": "code id_token",
		"response_mode": "form_post",
		"scope":         "name email",
		"state":         "st",
	}
	for k, v := range want {
		if got := u.Query().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestAppleWebRequester_RequestCredential_FirstGrant(t *testing.T) {
	key := generateTestKey(t)
	idToken := signTestToken(t, key, "k1", validClaims("U1"))

	session := &mockAuthSession{
		startFn: func(_ context.Context, authURL, redirectURL string) (*AuthSessionResult, error) {
			if redirectURL != "https://auth.example.com/apple/callback" {
				t.Errorf("redirectURL = %q", redirectURL)
			}
			return &AuthSessionResult{Type: ResultSuccess, Params: map[string]string{
				"state":    stateOf(t, authURL),
				"code":     "c",
				"id_token": idToken,
				"user":     `{"name":{"firstName":"Ana","lastName":"Souza"},"email":"ana@x.com"}`,
			}}, nil
		},
	}

	cred, err := newTestAppleRequester(t, session).RequestCredential(context.Background(), []AppleScope{AppleScopeFullName, AppleScopeEmail})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.User != "U1" {
		t.Errorf("User = %q, want %q", cred.User, "U1")
	}
	if cred.IdentityToken != idToken {
		t.Error("IdentityToken not propagated")
	}
	if cred.FullName == nil || cred.FullName.GivenName != "Ana" || cred.FullName.FamilyName != "Souza" {
		t.Errorf("FullName = %+v", cred.FullName)
	}
	if cred.Email != "ana@x.com" {
		t.Errorf("Email = %q, want %q", cred.Email, "ana@x.com")
	}
}

func TestAppleWebRequester_RequestCredential_SubsequentGrant(t *testing.T) {
	key := generateTestKey(t)
	idToken := signTestToken(t, key, "k1", validClaims("U1"))

	session := &mockAuthSession{
		startFn: func(_ context.Context, authURL, _ string) (*AuthSessionResult, error) {
			return &AuthSessionResult{Type: ResultSuccess, Params: map[string]string{
				"state":    stateOf(t, authURL),
				"id_token": idToken,
			}}, nil
		},
	}

	cred, err := newTestAppleRequester(t, session).RequestCredential(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.User != "U1" || cred.FullName != nil || cred.Email != "" {
		t.Errorf("unexpected credential: %+v", cred)
	}
}

func TestAppleWebRequester_RequestCredential_Errors(t *testing.T) {
	key := generateTestKey(t)
	idToken := signTestToken(t, key, "k1", validClaims("U1"))

	tests := []struct {
		name   string
		result func(state string) *AuthSessionResult
	}{
		{"ユーザーによる拒否", func(string) *AuthSessionResult {
			return &AuthSessionResult{Type: ResultCancel, Params: map[string]string{"error": "user_cancelled_authorize"}}
		}},
		{"タイムアウト", func(string) *AuthSessionResult {
			return &AuthSessionResult{Type: ResultDismiss}
		}},
		{"IdPエラー", func(string) *AuthSessionResult {
			return &AuthSessionResult{Type: ResultError, Params: map[string]string{"error": "invalid_request"}}
		}},
		{"state不一致", func(string) *AuthSessionResult {
			return &AuthSessionResult{Type: ResultSuccess, Params: map[string]string{"state": "x", "id_token": idToken}}
		}},
		{"id_tokenなし", func(state string) *AuthSessionResult {
			return &AuthSessionResult{Type: ResultSuccess, Params: map[string]string{"state": state}}
		}},
		{"不正なid_token", func(state string) *AuthSessionResult {
			return &AuthSessionResult{Type: ResultSuccess, Params: map[string]string{"state": state, "id_token": "not-a-jwt"}}
		}},
		{"不正なuser", func(state string) *AuthSessionResult {
			return &AuthSessionResult{Type: ResultSuccess, Params: map[string]string{"state": state, "id_token": idToken, "user": "{"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &mockAuthSession{
				startFn: func(_ context.Context, authURL, _ string) (*AuthSessionResult, error) {
					return tt.result(stateOf(t, authURL)), nil
				},
			}
			cred, err := newTestAppleRequester(t, session).RequestCredential(context.Background(), nil)
			if err == nil {
				t.Fatalf("expected error, got credential %+v", cred)
			}
		})
	}
}

func TestAppleWebRequester_WithProvider_VerifiesToken(t *testing.T) {
	key := generateTestKey(t)
	idToken := signTestToken(t, key, "k1", validClaims("U1"))

	session := &mockAuthSession{
		startFn: func(_ context.Context, authURL, _ string) (*AuthSessionResult, error) {
			return &AuthSessionResult{Type: ResultSuccess, Params: map[string]string{
				"state":    stateOf(t, authURL),
				"id_token": idToken,
				"user":     `{"name":{"firstName":"Ana"},"email":"ana@x.com"}`,
			}}, nil
		},
	}

	provider := NewAppleProvider(
		newTestAppleRequester(t, session),
		NewAppleTokenVerifier(testClientID, staticKeys{"k1": &key.PublicKey}),
		fakeSanitizer{},
	)

	outcome, err := provider.Authorize(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Credential.Subject != "U1" || outcome.Credential.Name != "Ana" {
		t.Errorf("unexpected credential: %+v", outcome.Credential)
	}
}

type fakeSanitizer struct{}

func (fakeSanitizer) Sanitize(name string) string { return strings.TrimSpace(name) }
