// Package authtest はトークン検証のテスト用に、署名鍵とJWKSを公開する
// テスト用IdPを提供する。
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// JWKSPath はテスト用IdPが鍵セットを公開するパス。
const JWKSPath = "/.well-known/jwks.json"

// Issuer はhttptestサーバー上で動くテスト用IdP。
// JWKSの取得回数を数え、障害や遅延を注入できる。
type Issuer struct {
	Server *httptest.Server

	mu      sync.Mutex
	key     *rsa.PrivateKey
	kid     string
	set     jwk.Set
	failing bool
	delay   time.Duration
	rotated int

	fetches atomic.Int64
}

// NewIssuer は新しいテスト用IdPを起動する。サーバーはテスト終了時に停止する。
func NewIssuer(t testing.TB) *Issuer {
	t.Helper()

	iss := &Issuer{}
	iss.installKey(t, "test-key-0")

	iss.Server = httptest.NewServer(http.HandlerFunc(iss.serveJWKS))
	t.Cleanup(iss.Server.Close)
	return iss
}

// URL は末尾スラッシュ付きのissuer URLを返す。
func (i *Issuer) URL() string {
	return i.Server.URL + "/"
}

// JWKSURL は鍵セットのURLを返す。
func (i *Issuer) JWKSURL() string {
	return i.Server.URL + JWKSPath
}

// Fetches はJWKSエンドポイントへのリクエスト回数を返す。
func (i *Issuer) Fetches() int64 {
	return i.fetches.Load()
}

// SetFailing はJWKSエンドポイントが503を返すかどうかを切り替える。
func (i *Issuer) SetFailing(failing bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.failing = failing
}

// SetDelay はJWKSレスポンスの遅延を設定する。
func (i *Issuer) SetDelay(d time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.delay = d
}

// KeyID は現在の署名鍵のkidを返す。
func (i *Issuer) KeyID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.kid
}

// Rotate は署名鍵を新しい鍵に差し替え、鍵セットも新しい鍵だけにする。
func (i *Issuer) Rotate(t testing.TB) {
	t.Helper()
	i.mu.Lock()
	i.rotated++
	kid := fmt.Sprintf("test-key-%d", i.rotated)
	i.mu.Unlock()
	i.installKey(t, kid)
}

// Claims はaudienceとsubjectを持つ有効なクレームの雛形を返す。
func (i *Issuer) Claims(audience, subject string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": i.URL(),
		"aud": audience,
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

// Sign は現在の署名鍵でRS256トークンを生成する。
func (i *Issuer) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	i.mu.Lock()
	key, kid := i.key, i.kid
	i.mu.Unlock()
	return SignWithKey(t, claims, key, kid)
}

// BearerHeader はSignの結果を Authorization ヘッダー値の形式で返す。
func (i *Issuer) BearerHeader(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	return "Bearer " + i.Sign(t, claims)
}

// SignWithKey は任意の鍵とkidでRS256トークンを生成する。
func SignWithKey(t testing.TB, claims jwt.MapClaims, key *rsa.PrivateKey, kid string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

// GenerateKey はテスト用のRSA鍵を生成する。
func GenerateKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return key
}

func (i *Issuer) installKey(t testing.TB, kid string) {
	t.Helper()
	privateKey := GenerateKey(t)

	key, err := jwk.Import(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("failed to create JWK from public key: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		t.Fatalf("failed to set key ID: %v", err)
	}
	if err := key.Set(jwk.AlgorithmKey, "RS256"); err != nil {
		t.Fatalf("failed to set algorithm: %v", err)
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		t.Fatalf("failed to set key usage: %v", err)
	}

	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		t.Fatalf("failed to add key to set: %v", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.key = privateKey
	i.kid = kid
	i.set = set
}

func (i *Issuer) serveJWKS(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != JWKSPath {
		http.NotFound(w, r)
		return
	}
	i.fetches.Add(1)

	i.mu.Lock()
	failing, delay, set := i.failing, i.delay, i.set
	i.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if failing {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	buf, err := json.Marshal(set)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(buf)
}
