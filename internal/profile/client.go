// Package profile はIdPのユーザー管理APIクライアントを提供する。
// メール確認状態のフォールバック参照と、注文履歴のuser_metadataへの保存に使用する。
package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/hitoshi/pizza42/internal/model"
)

const (
	// DefaultTimeout は1回の呼び出し全体（リトライ込み）のタイムアウト。
	DefaultTimeout = 5 * time.Second
	// DefaultMaxAttempts はGETの最大試行回数。
	DefaultMaxAttempts = 3

	maxResponseBytes = 1 << 20
)

// Config はClientの設定を保持する。
type Config struct {
	Domain       string // 例: "pizza42.eu.auth0.com"
	ClientID     string
	ClientSecret string

	// BaseURL はAPIとトークンエンドポイントのベースURL。空の場合は https://<Domain>。
	BaseURL string
	// HTTPClient は外向き通信に使うクライアント（通常はSSRFガード付き）。
	HTTPClient *http.Client

	Timeout     time.Duration
	MaxAttempts uint
}

// StatusError はユーザー管理APIが2xx以外を返したことを示す。
type StatusError struct {
	Method     string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("management api %s returned status %d", e.Method, e.StatusCode)
}

// retryable は再試行で回復し得るステータスかを返す。
func (e *StatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client はユーザー管理APIのクライアント。
// アクセストークンはclient credentialsで取得し、有効期限まで再利用する。
type Client struct {
	baseURL     string
	httpClient  *http.Client
	timeout     time.Duration
	maxAttempts uint
	logger      *slog.Logger
}

// NewClient は新しいClientを生成する。
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	domain := strings.TrimSuffix(strings.TrimPrefix(cfg.Domain, "https://"), "/")
	if domain == "" {
		return nil, errors.New("profile: domain is required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("profile: client id and secret are required")
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://" + domain
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	attempts := cfg.MaxAttempts
	if attempts == 0 {
		attempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     baseURL + "/oauth/token",
		EndpointParams: url.Values{
			"audience": {"https://" + domain + "/api/v2/"},
		},
		AuthStyle: oauth2.AuthStyleInParams,
	}

	// トークン取得とAPI呼び出しの両方が同じ外向きクライアントを通る
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
	authed := oauth2.NewClient(tokenCtx, oauth2.ReuseTokenSource(nil, cc.TokenSource(tokenCtx)))

	return &Client{
		baseURL:     baseURL,
		httpClient:  authed,
		timeout:     timeout,
		maxAttempts: attempts,
		logger:      logger,
	}, nil
}

// GetProfile はユーザープロフィールを取得する。
// 通信エラー・429・5xxは指数バックオフで再試行する。
func (c *Client) GetProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.userURL(userID)
	attempt := 0
	operation := func() (*model.UserProfile, error) {
		attempt++
		profile, err := c.getProfileOnce(ctx, endpoint)
		if err != nil && !isRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return profile, err
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 100 * time.Millisecond
	expBackoff.MaxInterval = time.Second

	profile, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(c.maxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Warn("retrying profile lookup",
				slog.String("user_id", userID),
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()),
			)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return profile, nil
}

func (c *Client) getProfileOnce(ctx context.Context, endpoint string) (*model.UserProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Method: http.MethodGet, StatusCode: resp.StatusCode}
	}

	var profile model.UserProfile
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &profile, nil
}

// UpdateUserMetadata はuser_metadataを部分更新する。
// 更新は冪等とは限らないため再試行しない。
func (c *Client) UpdateUserMetadata(ctx context.Context, userID string, metadata model.UserMetadata) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{"user_metadata": metadata})
	if err != nil {
		return fmt.Errorf("failed to encode user metadata: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.userURL(userID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to update user metadata: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Method: http.MethodPatch, StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Client) userURL(userID string) string {
	return c.baseURL + "/api/v2/users/" + url.PathEscape(userID)
}

// isRetryable は再試行すべきエラーかを判定する。
// トークンエンドポイントの4xx（資格情報の誤りなど）は再試行しない。
func isRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.retryable()
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		code := retrieveErr.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
