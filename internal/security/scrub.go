package security

import (
	"regexp"
	"unicode/utf8"
)

// DefaultMaxDetailLength はエラーレスポンスのdetailの最大バイト数。
const DefaultMaxDetailLength = 200

const redacted = "[REDACTED]"

// secretPatterns は秘密情報と思われる部分文字列のパターン。
var secretPatterns = []*regexp.Regexp{
	// JWT（ヘッダーは常に "eyJ" で始まる）
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*\.?[A-Za-z0-9_-]*`),
	// Authorization ヘッダー値
	regexp.MustCompile(`(?i)\b(bearer|basic)\s+[A-Za-z0-9._~+/=-]+`),
	// key=value 形式の資格情報
	regexp.MustCompile(`(?i)\b(client_secret|secret|password|passwd|token|access_token|refresh_token|api_key|apikey)\s*[=:]\s*[^\s&,;]+`),
	// 長いhex/base64の連続（APIキーやハッシュ）
	regexp.MustCompile(`[A-Za-z0-9+/_-]{32,}={0,2}`),
}

// ScrubSecrets はトークンや資格情報に見える部分を伏せ字にし、maxBytes以内に切り詰める。
// maxBytesが0以下の場合はDefaultMaxDetailLengthを使う。
func ScrubSecrets(s string, maxBytes int) string {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDetailLength
	}
	for _, p := range secretPatterns {
		s = p.ReplaceAllString(s, redacted)
	}
	return truncate(s, maxBytes)
}

// truncate はUTF-8の文字境界を保ったままmaxBytes以内に切り詰める。
func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
