// Package model はドメインモデルを定義する。
package model

import "fmt"

// ErrorKind はクライアントに返すエラーの分類を表す。
// HTTPステータスとレスポンスの error コードはこの分類だけで決まる。
type ErrorKind int

const (
	// KindInternal は分類不能な内部エラー。
	KindInternal ErrorKind = iota
	// KindUnauthorized はトークンが無い、または検証に失敗したことを示す。
	KindUnauthorized
	// KindForbidden は有効なトークンだが必要なスコープを持たないことを示す。
	KindForbidden
	// KindEmailNotVerified はメールアドレス未確認のため操作を拒否したことを示す。
	KindEmailNotVerified
	// KindInvalidRequest はリクエストボディが不正であることを示す。
	KindInvalidRequest
	// KindDependencyFailure は鍵セットやプロフィールAPIに到達できないことを示す。
	KindDependencyFailure
	// KindRateLimited はレート制限を超過したことを示す。
	KindRateLimited
)

// エラーコード（レスポンスの error フィールド）
const (
	ErrCodeUnauthorized      = "unauthorized"
	ErrCodeForbidden         = "forbidden"
	ErrCodeEmailNotVerified  = "email_not_verified"
	ErrCodeInvalidRequest    = "invalid_request"
	ErrCodeDependencyFailure = "dependency_failure"
	ErrCodeRateLimited       = "rate_limited"
	ErrCodeInternal          = "internal_error"
)

// Code は安定したエラーコード文字列を返す。
func (k ErrorKind) Code() string {
	switch k {
	case KindUnauthorized:
		return ErrCodeUnauthorized
	case KindForbidden:
		return ErrCodeForbidden
	case KindEmailNotVerified:
		return ErrCodeEmailNotVerified
	case KindInvalidRequest:
		return ErrCodeInvalidRequest
	case KindDependencyFailure:
		return ErrCodeDependencyFailure
	case KindRateLimited:
		return ErrCodeRateLimited
	default:
		return ErrCodeInternal
	}
}

// HTTPStatus は分類に対応するHTTPステータスコードを返す。
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindUnauthorized:
		return 401
	case KindForbidden, KindEmailNotVerified:
		return 403
	case KindInvalidRequest:
		return 400
	case KindDependencyFailure:
		return 502
	case KindRateLimited:
		return 429
	default:
		return 500
	}
}

// String はKindのコード文字列を返す。
func (k ErrorKind) String() string {
	return k.Code()
}

// APIError は統一エラーフォーマットを表す。
// Kind以外のフィールドは分類ごとの構造化ペイロード。
type APIError struct {
	Kind    ErrorKind
	Missing string // KindForbidden: 不足しているスコープ
	Detail  string // KindInvalidRequest: 拒否理由（レスポンスに含める前にスクラブされる）

	// cause はログ用の元エラー。レスポンスには含めない。
	cause error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	msg := fmt.Sprintf("[%s]", e.Kind.Code())
	if e.Missing != "" {
		msg += " missing=" + e.Missing
	}
	if e.Detail != "" {
		msg += " " + e.Detail
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// Unwrap は元エラーを返す。
func (e *APIError) Unwrap() error {
	return e.cause
}

// NewUnauthorizedError はトークン検証失敗エラーを生成する。
// 具体的な失敗理由はcauseに保持し、クライアントには返さない。
func NewUnauthorizedError(cause error) *APIError {
	return &APIError{Kind: KindUnauthorized, cause: cause}
}

// NewForbiddenError はスコープ不足エラーを生成する。
func NewForbiddenError(missingScope string) *APIError {
	return &APIError{Kind: KindForbidden, Missing: missingScope}
}

// NewEmailNotVerifiedError はメール未確認エラーを生成する。
func NewEmailNotVerifiedError() *APIError {
	return &APIError{Kind: KindEmailNotVerified}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(detail string) *APIError {
	return &APIError{Kind: KindInvalidRequest, Detail: detail}
}

// NewDependencyFailureError は外部依存の障害エラーを生成する。
func NewDependencyFailureError(cause error) *APIError {
	return &APIError{Kind: KindDependencyFailure, cause: cause}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{Kind: KindRateLimited}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError(cause error) *APIError {
	return &APIError{Kind: KindInternal, cause: cause}
}
