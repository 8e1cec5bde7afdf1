package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// =============================================================================
// BusinessExecutor — 业务执行器
// 审核全部通过后由工作流核心调用一次，真正落地业务变更。
// 业务逻辑本身（因子库、基准值等）在各业务服务里，这里只做调用
// =============================================================================

// Input 业务执行入参，RequestID同时充当幂等键
type Input struct {
	RequestID     string                 `json:"requestId"`
	BusinessType  string                 `json:"businessType"`
	OperationType string                 `json:"operationType"`
	BusinessID    string                 `json:"businessId,omitempty"`
	NewData       map[string]interface{} `json:"newData,omitempty"`
}

// BusinessExecutor 业务执行器接口
type BusinessExecutor interface {
	Apply(ctx context.Context, input Input) error
}

// HTTPExecutor 通过HTTP调用业务服务的执行器
type HTTPExecutor struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPExecutor 创建HTTP业务执行器
func NewHTTPExecutor(baseURL string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExecutor{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Apply 调用业务服务执行已审核通过的变更
func (e *HTTPExecutor) Apply(ctx context.Context, input Input) error {
	bodyBytes, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("序列化执行请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST",
		e.baseURL+"/internal/approved-operations",
		bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("创建执行请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", input.RequestID)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("调用业务服务失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var result struct {
		Code    int    `json:"code"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		if resp.StatusCode >= 400 {
			return fmt.Errorf("业务服务返回 %d", resp.StatusCode)
		}
		return nil
	}
	if result.Code != 0 {
		msg := result.Error
		if msg == "" {
			msg = result.Message
		}
		return fmt.Errorf("业务执行失败 (code=%d): %s", result.Code, msg)
	}
	return nil
}

// IdempotentExecutor 幂等执行器
// 用redis SETNX按requestId去重，调用方重试不会导致业务变更执行两次
type IdempotentExecutor struct {
	inner BusinessExecutor
	rdb   *redis.Client
	ttl   time.Duration
}

// NewIdempotentExecutor 包装一个执行器，按requestId幂等
func NewIdempotentExecutor(inner BusinessExecutor, rdb *redis.Client, ttl time.Duration) *IdempotentExecutor {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &IdempotentExecutor{inner: inner, rdb: rdb, ttl: ttl}
}

func (e *IdempotentExecutor) key(requestID string) string {
	return "approval:exec:" + requestID
}

// Apply 执行业务变更，至多一次
func (e *IdempotentExecutor) Apply(ctx context.Context, input Input) error {
	if e.rdb != nil {
		ok, err := e.rdb.SetNX(ctx, e.key(input.RequestID), time.Now().Format(time.RFC3339), e.ttl).Result()
		if err == nil && !ok {
			// 该申请已执行过
			return nil
		}
		// redis不可用时放行，由业务侧X-Idempotency-Key兜底
	}

	if err := e.inner.Apply(ctx, input); err != nil {
		// 执行失败释放幂等键，允许人工介入后重试
		if e.rdb != nil {
			e.rdb.Del(context.WithoutCancel(ctx), e.key(input.RequestID))
		}
		return err
	}
	return nil
}
