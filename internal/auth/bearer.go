package auth

import (
	"errors"
	"strings"
)

const bearerPrefix = "Bearer "

// ExtractBearerToken は Authorization ヘッダーの値からトークン文字列を取り出す。
// ヘッダーが空なら missing_header、"Bearer " で始まらない、またはトークンが空なら
// malformed_header を返す。
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", newVerificationError(ReasonMissingHeader, nil)
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", newVerificationError(ReasonMalformedHeader, errors.New("authorization header is not a bearer credential"))
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", newVerificationError(ReasonMalformedHeader, errors.New("empty or invalid bearer token"))
	}
	return token, nil
}
