package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Sealer は値の暗号化・復号を行うインターフェース。
// identityキャッシュをストレージに暗号化して保存するために使用する。
type Sealer interface {
	Seal(plaintext []byte) (string, error)
	Open(sealed string) ([]byte, error)
}

// AESGCMSealer はAES-GCMで値を暗号化・復号する。
type AESGCMSealer struct {
	aead cipher.AEAD
}

// NewAESGCMSealer は生のAES鍵からAESGCMSealerを生成する。
// 鍵長は16/24/32バイトのいずれかである必要がある。
func NewAESGCMSealer(key []byte) (*AESGCMSealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return &AESGCMSealer{aead: aead}, nil
}

// NewAESGCMSealerFromHex は16進文字列の鍵からAESGCMSealerを生成する。
// 設定値（IDENTITY_CACHE_KEY）から鍵を読み込む際に使用する。
func NewAESGCMSealerFromHex(hexKey string) (*AESGCMSealer, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	return NewAESGCMSealer(key)
}

// Seal は平文を暗号化し、base64エンコードしたペイロードを返す。
// ペイロードの形式は nonce || ciphertext。
func (s *AESGCMSealer) Seal(plaintext []byte) (string, error) {
	if s == nil || s.aead == nil {
		return "", fmt.Errorf("sealer is not configured")
	}

	// 同一鍵での暗号化ごとにnonceは一意である必要がある
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to read nonce: %w", err)
	}

	ciphertext := s.aead.Seal(nil, nonce, plaintext, nil)
	payload := append(nonce, ciphertext...)
	return base64.RawStdEncoding.EncodeToString(payload), nil
}

// Open はSealで暗号化された値を復号する。
func (s *AESGCMSealer) Open(sealed string) ([]byte, error) {
	if s == nil || s.aead == nil {
		return nil, fmt.Errorf("sealer is not configured")
	}

	payload, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode sealed value: %w", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(payload) < nonceSize {
		return nil, fmt.Errorf("sealed value is too short")
	}
	nonce := payload[:nonceSize]
	ciphertext := payload[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt sealed value: %w", err)
	}
	return plaintext, nil
}

// compile-time interface check
var _ Sealer = (*AESGCMSealer)(nil)
