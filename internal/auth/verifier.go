package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 受け付ける署名アルゴリズム。対称鍵（HS*）と none は受け付けない。
var allowedAlgorithms = []string{"RS256", "RS384", "RS512", "ES256"}

// VerificationMetrics はトークン検証の結果を記録するインターフェース。
type VerificationMetrics interface {
	KeySetMetrics
	RecordTokenVerification(result string)
}

// VerifierConfig はVerifierの設定を保持する。
type VerifierConfig struct {
	IssuerURL          string // 信頼するissuer（末尾スラッシュは正規化される）
	Audience           string // 期待するaudience（APIの識別子）
	JWKSURL            string // 省略時は <issuer>/.well-known/jwks.json
	OrdersContextClaim string // 名前空間付きカスタムクレームのキー
	Leeway             time.Duration

	HTTPClient         *http.Client
	FetchTimeout       time.Duration
	MinRefreshInterval time.Duration
	Metrics            VerificationMetrics
}

// Verifier はBearerトークンを検証してClaimSetを生成する。
// 複数goroutineから同時に利用できる。
type Verifier struct {
	issuer             string
	audience           string
	ordersContextClaim string
	leeway             time.Duration
	keys               *KeySet
	metrics            VerificationMetrics
}

// NewVerifier は新しいVerifierを生成する。
// issuerとaudienceは必須。鍵セットは最初の検証時に取得する。
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.IssuerURL == "" {
		return nil, errors.New("issuer URL is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("audience is required")
	}

	issuer := NormalizeIssuer(cfg.IssuerURL)
	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = issuer + ".well-known/jwks.json"
	}

	var keyMetrics KeySetMetrics
	if cfg.Metrics != nil {
		keyMetrics = cfg.Metrics
	}

	return &Verifier{
		issuer:             issuer,
		audience:           cfg.Audience,
		ordersContextClaim: cfg.OrdersContextClaim,
		leeway:             cfg.Leeway,
		metrics:            cfg.Metrics,
		keys: NewKeySet(KeySetConfig{
			URL:                jwksURL,
			HTTPClient:         cfg.HTTPClient,
			FetchTimeout:       cfg.FetchTimeout,
			MinRefreshInterval: cfg.MinRefreshInterval,
			Metrics:            keyMetrics,
		}),
	}, nil
}

// Issuer は正規化済みのissuerを返す。
func (v *Verifier) Issuer() string {
	return v.issuer
}

// JWKSURL は鍵セットの取得先URLを返す。
func (v *Verifier) JWKSURL() string {
	return v.keys.URL()
}

// Verify は Authorization ヘッダーの値を検証し、ClaimSetを返す。
//
// 検証失敗時は *VerificationError を返す。鍵セットを取得できない場合は
// ErrKeySetUnavailable をラップしたエラーを返す（トークン不正とは区別する）。
func (v *Verifier) Verify(ctx context.Context, header string) (*ClaimSet, error) {
	claims, err := v.verify(ctx, header)
	if v.metrics != nil {
		v.metrics.RecordTokenVerification(resultLabel(err))
	}
	return claims, err
}

func (v *Verifier) verify(ctx context.Context, header string) (*ClaimSet, error) {
	raw, err := ExtractBearerToken(header)
	if err != nil {
		return nil, err
	}

	mapClaims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(raw, mapClaims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return v.keys.Key(ctx, kid)
	},
		jwt.WithValidMethods(allowedAlgorithms),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return nil, classifyParseError(err, mapClaims)
	}

	// issuerは末尾スラッシュの有無を正規化して比較する
	iss, err := mapClaims.GetIssuer()
	if err != nil || NormalizeIssuer(iss) != v.issuer {
		return nil, newVerificationError(ReasonIssuerMismatch, fmt.Errorf("unexpected issuer %q", iss))
	}

	return newClaimSet(mapClaims, v.ordersContextClaim)
}

// classifyParseError はjwtライブラリのエラーを検証失敗理由に変換する。
// 必須クレーム欠落はどのクレームが無いかで理由を分ける。
func classifyParseError(err error, claims jwt.MapClaims) error {
	switch {
	case errors.Is(err, ErrKeySetUnavailable):
		return err
	case errors.Is(err, jwt.ErrTokenMalformed):
		return newVerificationError(ReasonMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return newVerificationError(ReasonSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return newVerificationError(ReasonExpired, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return newVerificationError(ReasonAudienceMismatch, err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		if _, ok := claims["aud"]; !ok {
			return newVerificationError(ReasonAudienceMismatch, err)
		}
		return newVerificationError(ReasonExpired, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return newVerificationError(ReasonNotYetValid, err)
	default:
		return newVerificationError(ReasonMalformedToken, err)
	}
}

// NormalizeIssuer はissuerを末尾スラッシュ付きの形に揃える。
func NormalizeIssuer(issuer string) string {
	return strings.TrimRight(strings.TrimSpace(issuer), "/") + "/"
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	if reason, ok := ReasonOf(err); ok {
		return string(reason)
	}
	if errors.Is(err, ErrKeySetUnavailable) {
		return "key_set_unavailable"
	}
	return "error"
}
