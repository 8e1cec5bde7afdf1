package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// =============================================================================
// Notifier — 消息通知客户端
// 调用平台消息服务给审核人/提交人发站内消息。通知失败不影响审核流程，
// 由调用方记日志后吞掉
// =============================================================================

// Message 通知消息
type Message struct {
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	Priority    string   `json:"priority"`
	TargetUsers []string `json:"targetUsers"`
	EventType   string   `json:"eventType"`
	EntityID    string   `json:"relatedEntityId"`
	EntityType  string   `json:"relatedEntityType"`
	Link        string   `json:"link"`
}

// Notifier 通知接口
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Client 消息服务HTTP客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 创建消息服务客户端
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Notify 发送通知消息
func (c *Client) Notify(ctx context.Context, msg Message) error {
	if len(msg.TargetUsers) == 0 {
		return nil
	}
	if msg.Priority == "" {
		msg.Priority = "normal"
	}

	payload := map[string]interface{}{
		"action": "createMessage",
		"data": map[string]interface{}{
			"title":             msg.Title,
			"content":           msg.Content,
			"type":              "approval",
			"priority":          msg.Priority,
			"targetType":        "users",
			"targetUsers":       msg.TargetUsers,
			"eventType":         msg.EventType,
			"relatedEntityId":   msg.EntityID,
			"relatedEntityType": msg.EntityType,
			"link":              msg.Link,
		},
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化通知消息失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST",
		c.baseURL+"/internal/messages",
		bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("创建通知请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("调用消息服务失败: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("消息服务返回 %d", resp.StatusCode)
	}
	return nil
}
