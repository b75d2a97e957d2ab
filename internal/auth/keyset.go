package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	// maxKeySetSize はJWKSレスポンスの最大サイズ（1MB）。
	maxKeySetSize = 1 << 20

	defaultFetchTimeout       = 5 * time.Second
	defaultMinRefreshInterval = time.Minute
)

// KeySetMetrics は鍵セット取得の結果を記録するインターフェース。
type KeySetMetrics interface {
	RecordJWKSFetch(result string)
}

// KeySetConfig はKeySetの設定を保持する。
type KeySetConfig struct {
	URL                string
	HTTPClient         *http.Client
	FetchTimeout       time.Duration // 1回の取得にかける最大時間
	MinRefreshInterval time.Duration // 未知のkidによる再取得の最小間隔
	Metrics            KeySetMetrics
}

// KeySet はIdPが公開する署名鍵セット（JWKS）のプロセス内キャッシュ。
//
// 初回利用時に遅延取得し、成功した結果をプロセスの生存期間中再利用する。
// 同時に到着した初回リクエストはsingleflightで1回の取得を共有する。
// 取得に失敗した場合はキャッシュを空のままにし、次のリクエストで再取得する。
type KeySet struct {
	url     string
	client  *http.Client
	timeout time.Duration
	metrics KeySetMetrics

	mu  sync.RWMutex
	set jwk.Set

	group          singleflight.Group
	refreshLimiter *rate.Limiter
}

// NewKeySet は新しいKeySetを生成する。この時点ではネットワークアクセスしない。
func NewKeySet(cfg KeySetConfig) *KeySet {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	interval := cfg.MinRefreshInterval
	if interval <= 0 {
		interval = defaultMinRefreshInterval
	}

	return &KeySet{
		url:            cfg.URL,
		client:         client,
		timeout:        timeout,
		metrics:        cfg.Metrics,
		refreshLimiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// URL は鍵セットの取得先URLを返す。
func (ks *KeySet) URL() string {
	return ks.url
}

// Key はkidに対応する検証用の公開鍵を返す。
//
// キャッシュにkidが無い場合は鍵のローテーションとみなし、MinRefreshIntervalに
// 1回までの頻度で鍵セットを再取得する。kidが空のトークンは鍵セットに鍵が
// 1つだけの場合に限りその鍵を使う。
func (ks *KeySet) Key(ctx context.Context, kid string) (any, error) {
	set, err := ks.load(ctx)
	if err != nil {
		return nil, err
	}

	if key, ok := lookup(set, kid); ok {
		return exportKey(key)
	}

	if kid == "" || !ks.refreshLimiter.Allow() {
		return nil, ErrUnknownKeyID
	}

	slog.Info("unknown key id, refreshing signing key set",
		slog.String("kid", kid),
	)
	set, err = ks.refresh(ctx)
	if err != nil {
		return nil, err
	}
	if key, ok := lookup(set, kid); ok {
		return exportKey(key)
	}
	return nil, ErrUnknownKeyID
}

// cached はキャッシュ済みの鍵セットを返す。未取得の場合はnil。
func (ks *KeySet) cached() jwk.Set {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.set
}

// load はキャッシュ済みの鍵セットを返し、未取得であれば取得する。
func (ks *KeySet) load(ctx context.Context) (jwk.Set, error) {
	if set := ks.cached(); set != nil {
		return set, nil
	}

	v, err, _ := ks.group.Do("jwks", func() (any, error) {
		// ダブルチェック: 待機中に他のgoroutineが取得を完了している場合
		if set := ks.cached(); set != nil {
			return set, nil
		}
		return ks.fetchAndStore(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(jwk.Set), nil
}

// refresh はキャッシュの有無にかかわらず鍵セットを取得し直す。
// 失敗した場合は既存のキャッシュを保持する。
func (ks *KeySet) refresh(ctx context.Context) (jwk.Set, error) {
	v, err, _ := ks.group.Do("jwks", func() (any, error) {
		return ks.fetchAndStore(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(jwk.Set), nil
}

func (ks *KeySet) fetchAndStore(ctx context.Context) (jwk.Set, error) {
	// 共有される取得処理が最初の呼び出し元のキャンセルに引きずられないようにする
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ks.timeout)
	defer cancel()

	set, err := ks.fetch(fetchCtx)
	if err != nil {
		ks.record("failure")
		slog.Warn("failed to fetch signing key set",
			slog.String("url", ks.url),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	ks.record("success")

	ks.mu.Lock()
	ks.set = set
	ks.mu.Unlock()

	slog.Info("signing key set loaded",
		slog.String("url", ks.url),
		slog.Int("keys", set.Len()),
	)
	return set, nil
}

func (ks *KeySet) fetch(ctx context.Context) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := ks.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key set: %w", err)
	}
	if set.Len() == 0 {
		return nil, errors.New("key set contains no keys")
	}
	return set, nil
}

func (ks *KeySet) record(result string) {
	if ks.metrics != nil {
		ks.metrics.RecordJWKSFetch(result)
	}
}

func lookup(set jwk.Set, kid string) (jwk.Key, bool) {
	if kid != "" {
		return set.LookupKeyID(kid)
	}
	if set.Len() == 1 {
		return set.Key(0)
	}
	return nil, false
}

func exportKey(key jwk.Key) (any, error) {
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}
	return raw, nil
}
