// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NameSanitizer はIdPから受け取った表示名からマークアップを除去し、
// セッションや画面表示に不正なHTMLが混入することを防ぐ。
// bluemondayのStrictPolicyで全タグを除去し、エスケープされた文字は元に戻す。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NameSanitizerService は表示名のサニタイズ機能のインターフェースを定義する。
type NameSanitizerService interface {
	// Sanitize は表示名から全てのHTMLタグを除去し、前後の空白を取り除いた文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(name string) string
}

// nameSanitizer はNameSanitizerServiceの実装。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerServiceの新しいインスタンスを生成する。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// maxSanitizePasses は多重エンティティエンコードされた入力に対する展開回数の上限。
const maxSanitizePasses = 8

// Sanitize は表示名をサニタイズする。
// StrictPolicyは "&" や "'" をエスケープするため、プレーンテキストに戻してから返す。
// エンティティエンコードされたタグ ("&lt;img&gt;" など) も展開してから除去し、
// 出力が変化しなくなるまで繰り返す。
func (s *nameSanitizer) Sanitize(name string) string {
	if name == "" {
		return ""
	}
	cleaned := name
	for i := 0; i < maxSanitizePasses; i++ {
		next := s.sanitizeOnce(cleaned)
		if next == cleaned {
			return strings.TrimSpace(cleaned)
		}
		cleaned = next
	}
	// 上限に達した場合はタグとして解釈され得る文字を落とす
	cleaned = strings.NewReplacer("<", "", ">", "").Replace(s.sanitizeOnce(cleaned))
	return strings.TrimSpace(cleaned)
}

func (s *nameSanitizer) sanitizeOnce(name string) string {
	return html.UnescapeString(s.policy.Sanitize(html.UnescapeString(name)))
}
