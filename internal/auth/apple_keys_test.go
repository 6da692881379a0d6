package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testClientID = "com.hitoshi.gofinances"

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

func signTestToken(t *testing.T, key *rsa.PrivateKey, kid string, claims AppleIdentityClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims(sub string) AppleIdentityClaims {
	return AppleIdentityClaims{
		Email: "ana@x.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    AppleIssuer,
			Subject:   sub,
			Audience:  jwt.ClaimStrings{testClientID},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(10 * time.Minute)),
		},
	}
}

func jwksServer(t *testing.T, hits *atomic.Int32, keys map[string]*rsa.PublicKey) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		var set struct {
			Keys []appleJWK `json:"keys"`
		}
		for kid, pub := range keys {
			set.Keys = append(set.Keys, appleJWK{
				Kty: "RSA",
				Kid: kid,
				Use: "sig",
				Alg: "RS256",
				N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(set)
	}))
}

func TestAppleKeySet_Key_FetchesAndCaches(t *testing.T) {
	key := generateTestKey(t)
	var hits atomic.Int32
	ts := jwksServer(t, &hits, map[string]*rsa.PublicKey{"k1": &key.PublicKey})
	defer ts.Close()

	keySet := NewAppleKeySet(ts.URL, ts.Client())

	for i := 0; i < 3; i++ {
		pub, err := keySet.Key(context.Background(), "k1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if pub.N.Cmp(key.PublicKey.N) != 0 || pub.E != key.PublicKey.E {
			t.Fatal("returned key does not match")
		}
	}
	if hits.Load() != 1 {
		t.Errorf("key set fetched %d times, want 1", hits.Load())
	}
}

func TestAppleKeySet_Key_UnknownKidIsThrottled(t *testing.T) {
	key := generateTestKey(t)
	var hits atomic.Int32
	ts := jwksServer(t, &hits, map[string]*rsa.PublicKey{"k1": &key.PublicKey})
	defer ts.Close()

	keySet := NewAppleKeySet(ts.URL, ts.Client())

	if _, err := keySet.Key(context.Background(), "unknown"); err == nil {
		t.Fatal("expected error for unknown kid")
	}
	if _, err := keySet.Key(context.Background(), "unknown"); err == nil {
		t.Fatal("expected error for unknown kid")
	}
	if hits.Load() != 1 {
		t.Errorf("key set fetched %d times, want 1", hits.Load())
	}
}

func TestAppleKeySet_Key_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	keySet := NewAppleKeySet(ts.URL, ts.Client())
	if _, err := keySet.Key(context.Background(), "k1"); err == nil {
		t.Fatal("expected error")
	}
}

type staticKeys map[string]*rsa.PublicKey

func (s staticKeys) Key(_ context.Context, kid string) (*rsa.PublicKey, error) {
	key, ok := s[kid]
	if !ok {
		return nil, jwt.ErrTokenUnverifiable
	}
	return key, nil
}

func TestAppleTokenVerifier_Verify(t *testing.T) {
	key := generateTestKey(t)
	otherKey := generateTestKey(t)
	verifier := NewAppleTokenVerifier(testClientID, staticKeys{"k1": &key.PublicKey})

	t.Run("有効なトークン", func(t *testing.T) {
		token := signTestToken(t, key, "k1", validClaims("U1"))

		claims, err := verifier.Verify(context.Background(), token)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if claims.Subject != "U1" {
			t.Errorf("Subject = %q, want %q", claims.Subject, "U1")
		}
		if claims.Email != "ana@x.com" {
			t.Errorf("Email = %q, want %q", claims.Email, "ana@x.com")
		}
	})

	invalid := []struct {
		name  string
		token func() string
	}{
		{"別の鍵で署名", func() string { return signTestToken(t, otherKey, "k1", validClaims("U1")) }},
		{"未知のkid", func() string { return signTestToken(t, key, "k2", validClaims("U1")) }},
		{"issuer不一致", func() string {
			c := validClaims("U1")
			c.Issuer = "https://evil.example.com"
			return signTestToken(t, key, "k1", c)
		}},
		{"audience不一致", func() string {
			c := validClaims("U1")
			c.Audience = jwt.ClaimStrings{"other.client"}
			return signTestToken(t, key, "k1", c)
		}},
		{"期限切れ", func() string {
			c := validClaims("U1")
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
			return signTestToken(t, key, "k1", c)
		}},
		{"expなし", func() string {
			c := validClaims("U1")
			c.ExpiresAt = nil
			return signTestToken(t, key, "k1", c)
		}},
		{"subjectなし", func() string { return signTestToken(t, key, "k1", validClaims("")) }},
		{"HS256", func() string {
			token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("U1"))
			token.Header["kid"] = "k1"
			s, _ := token.SignedString([]byte("secret"))
			return s
		}},
	}

	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := verifier.Verify(context.Background(), tt.token()); err == nil {
				t.Error("expected verification error")
			}
		})
	}
}
