package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/mykobo/anchor-solana/internal/config"
	"github.com/mykobo/anchor-solana/pkg/logger"
)

var (
	ErrUnauthorized     = errors.New("identity: unauthorized")
	ErrScopeCheckFailed = errors.New("identity: scope check failed")
)

// ScopeTransactionAdmin 处理账本指令所要求的权限
const ScopeTransactionAdmin = "transaction:admin"

// Verifier 消息发送方鉴权接口
type Verifier interface {
	// VerifyScope 校验发送方令牌是否携带指定权限
	VerifyScope(ctx context.Context, senderToken, scope string) error
}

// Client 身份服务客户端
//
// 先用服务凭据换取自身令牌, 再以该令牌校验消息发送方的权限。
// 服务令牌在进程内缓存, 收到 401 时强制换新一次。
type Client struct {
	http      *resty.Client
	accessKey string
	secretKey string

	mu    sync.Mutex
	token string
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

type verifyResponse struct {
	Valid  bool     `json:"valid"`
	Scopes []string `json:"scopes"`
}

// NewClient 创建身份服务客户端
func NewClient(cfg *config.IdentityConfig) *Client {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	http := resty.New().
		SetBaseURL(cfg.Host).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &Client{
		http:      http,
		accessKey: cfg.AccessKey,
		secretKey: cfg.SecretKey,
	}
}

// AcquireToken 用服务凭据换取令牌 (带进程内缓存)
func (c *Client) AcquireToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" {
		return c.token, nil
	}
	return c.refreshTokenLocked(ctx)
}

func (c *Client) refreshTokenLocked(ctx context.Context) (string, error) {
	var result tokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"access_key": c.accessKey,
			"secret_key": c.secretKey,
		}).
		SetResult(&result).
		Post("/api/v1/auth/token")
	if err != nil {
		return "", fmt.Errorf("acquire token: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("acquire token: status %d", resp.StatusCode())
	}
	if result.Token == "" {
		return "", errors.New("acquire token: empty token in response")
	}

	c.token = result.Token
	return c.token, nil
}

// VerifyScope 校验发送方令牌是否携带指定权限
//
// 鉴权被拒 (令牌无效或权限不足) 返回 ErrUnauthorized,
// 校验请求本身失败返回 ErrScopeCheckFailed; 两者对消费方都意味着
// 消息不可信, 区分只为日志与指标。
func (c *Client) VerifyScope(ctx context.Context, senderToken, scope string) error {
	serviceToken, err := c.AcquireToken(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScopeCheckFailed, err)
	}

	result, resp, err := c.doVerify(ctx, serviceToken, senderToken, scope)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScopeCheckFailed, err)
	}

	// 服务令牌过期, 换新后重试一次
	if resp.StatusCode() == 401 {
		c.mu.Lock()
		c.token = ""
		serviceToken, err = c.refreshTokenLocked(ctx)
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrScopeCheckFailed, err)
		}
		result, resp, err = c.doVerify(ctx, serviceToken, senderToken, scope)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrScopeCheckFailed, err)
		}
	}

	switch {
	case resp.StatusCode() == 403:
		return ErrUnauthorized
	case resp.IsError():
		return fmt.Errorf("%w: status %d", ErrScopeCheckFailed, resp.StatusCode())
	case !result.Valid:
		logger.Warn("sender token rejected", zap.String("scope", scope))
		return ErrUnauthorized
	}
	return nil
}

func (c *Client) doVerify(ctx context.Context, serviceToken, senderToken, scope string) (*verifyResponse, *resty.Response, error) {
	var result verifyResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(serviceToken).
		SetBody(map[string]string{
			"token": senderToken,
			"scope": scope,
		}).
		SetResult(&result).
		Post("/api/v1/auth/verify")
	if err != nil {
		return nil, nil, err
	}
	return &result, resp, nil
}

var _ Verifier = (*Client)(nil)
