// Package auth はBearerトークン（JWT）の検証を提供する。
//
// Verifier は Authorization ヘッダーを受け取り、署名・issuer・audience・有効期限を
// すべて検証したうえで ClaimSet を返す。検証に失敗した場合は VerificationError を返し、
// 失敗理由（Reason）は診断用にのみ保持する。
package auth

import (
	"errors"
	"fmt"
)

// Reason はトークン検証失敗の具体的な理由。
// クライアントには返さず、ログとメトリクスのラベルにのみ使う。
type Reason string

const (
	ReasonMissingHeader    Reason = "missing_header"
	ReasonMalformedHeader  Reason = "malformed_header"
	ReasonMalformedToken   Reason = "malformed_token"
	ReasonExpired          Reason = "expired"
	ReasonNotYetValid      Reason = "not_yet_valid"
	ReasonSignatureInvalid Reason = "signature_invalid"
	ReasonIssuerMismatch   Reason = "issuer_mismatch"
	ReasonAudienceMismatch Reason = "audience_mismatch"
	ReasonMissingSubject   Reason = "missing_subject"
)

// VerificationError はトークン検証の失敗を表す。
// 呼び出し側ではすべて invalid_token（401）として扱う。
type VerificationError struct {
	Reason Reason
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid token (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid token (%s)", e.Reason)
}

// Unwrap は元エラーを返す。
func (e *VerificationError) Unwrap() error {
	return e.Err
}

func newVerificationError(reason Reason, err error) *VerificationError {
	return &VerificationError{Reason: reason, Err: err}
}

// ReasonOf はerrがVerificationErrorであればその理由を返す。
func ReasonOf(err error) (Reason, bool) {
	var verr *VerificationError
	if errors.As(err, &verr) {
		return verr.Reason, true
	}
	return "", false
}

var (
	// ErrKeySetUnavailable は署名鍵セットを取得できなかったことを示す。
	// トークン不正ではなく外部依存の障害として扱う。
	ErrKeySetUnavailable = errors.New("signing key set unavailable")

	// ErrUnknownKeyID は鍵セットにトークンのkidが存在しないことを示す。
	ErrUnknownKeyID = errors.New("key id not found in signing key set")
)
