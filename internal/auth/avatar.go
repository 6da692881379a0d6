package auth

import (
	"net/url"
	"strings"
)

// DefaultAvatarBaseURL はアバター画像生成サービスのデフォルトURL。
const DefaultAvatarBaseURL = "https://ui-avatars.com"

// AvatarURL は名前から決定的に生成されるアバター画像のURLを返す。
// 写真を提供しないIdP（Apple）のユーザーに使用する。
func AvatarURL(baseURL, name string) string {
	if baseURL == "" {
		baseURL = DefaultAvatarBaseURL
	}
	return strings.TrimRight(baseURL, "/") + "/api/?name=" + url.QueryEscape(name) + "&length=1"
}
