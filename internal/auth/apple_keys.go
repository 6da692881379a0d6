package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// AppleIssuer はAppleが発行するidentity tokenのiss。
	AppleIssuer = "https://appleid.apple.com"

	defaultAppleKeysURL = "https://appleid.apple.com/auth/keys"

	// 未知のkidによる再取得の最小間隔
	minKeyRefreshInterval = time.Minute
	maxKeySetSize         = 1 << 20
)

// AppleIdentityClaims はAppleのidentity tokenのクレーム。
type AppleIdentityClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// KeyLookup はkidに対応する検証用公開鍵を返す。
type KeyLookup interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

type appleJWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// AppleKeySet はAppleの公開鍵セット（JWKS）を取得し、kidごとにキャッシュする。
type AppleKeySet struct {
	keysURL string
	client  *http.Client

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	lastFetched time.Time
}

// NewAppleKeySet はAppleKeySetを生成する。keysURLが空の場合はAppleの公開エンドポイントを使う。
func NewAppleKeySet(keysURL string, client *http.Client) *AppleKeySet {
	if keysURL == "" {
		keysURL = defaultAppleKeysURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &AppleKeySet{
		keysURL: keysURL,
		client:  client,
		keys:    make(map[string]*rsa.PublicKey),
	}
}

// Key はkidに対応する公開鍵を返す。
// キャッシュにない場合は鍵セットを再取得する（鍵のローテーション対応）。
func (k *AppleKeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	k.mu.RLock()
	key, ok := k.keys[kid]
	k.mu.RUnlock()
	if ok {
		return key, nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if key, ok := k.keys[kid]; ok {
		return key, nil
	}
	if !k.lastFetched.IsZero() && time.Since(k.lastFetched) < minKeyRefreshInterval {
		return nil, fmt.Errorf("unknown key id: %s", kid)
	}
	if err := k.refreshLocked(ctx); err != nil {
		return nil, err
	}
	if key, ok := k.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("unknown key id: %s", kid)
}

func (k *AppleKeySet) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.keysURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create key set request: %w", err)
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("key set request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetSize))
	if err != nil {
		return fmt.Errorf("failed to read key set response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("key set fetch failed with status %d", resp.StatusCode)
	}

	var set struct {
		Keys []appleJWK `json:"keys"`
	}
	if err := json.Unmarshal(body, &set); err != nil {
		return fmt.Errorf("failed to parse key set: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.Kty != "RSA" || jwk.Kid == "" {
			continue
		}
		pub, err := jwk.publicKey()
		if err != nil {
			return fmt.Errorf("invalid key %s: %w", jwk.Kid, err)
		}
		keys[jwk.Kid] = pub
	}

	k.keys = keys
	k.lastFetched = time.Now()
	return nil
}

func (j appleJWK) publicKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	if len(n) == 0 || len(e) == 0 {
		return nil, errors.New("empty modulus or exponent")
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() > 1<<31-1 {
		return nil, errors.New("exponent too large")
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(exp.Int64()),
	}, nil
}

// AppleTokenVerifier はAppleのidentity tokenの署名とクレームを検証する。
type AppleTokenVerifier struct {
	clientID string
	keys     KeyLookup
}

// NewAppleTokenVerifier はAppleTokenVerifierを生成する。clientIDはaudとして検証される。
func NewAppleTokenVerifier(clientID string, keys KeyLookup) *AppleTokenVerifier {
	return &AppleTokenVerifier{clientID: clientID, keys: keys}
}

// Verify はRS256署名、iss、aud、expを検証してクレームを返す。
func (v *AppleTokenVerifier) Verify(ctx context.Context, token string) (*AppleIdentityClaims, error) {
	claims := &AppleIdentityClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("missing kid in token header")
			}
			return v.keys.Key(ctx, kid)
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(AppleIssuer),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to verify identity token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("empty subject in identity token")
	}
	return claims, nil
}

// compile-time interface checks
var (
	_ KeyLookup     = (*AppleKeySet)(nil)
	_ TokenVerifier = (*AppleTokenVerifier)(nil)
)
