package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"message_center/model"
	"message_center/utils"
)

// RemoteCaller 远程调用执行策略：方法名映射到 HTTP 端点，以 JSON POST 调用
type RemoteCaller struct {
	httpClient     *http.Client
	endpoints      map[string]string
	defaultTimeout time.Duration
}

// NewRemoteCaller endpoints 为 方法名 -> URL 的注册表，由外部配置提供
func NewRemoteCaller(endpoints map[string]string, defaultTimeout time.Duration) *RemoteCaller {
	if defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Second
	}
	return &RemoteCaller{
		httpClient:     &http.Client{},
		endpoints:      endpoints,
		defaultTimeout: defaultTimeout,
	}
}

// RegisterAll 为每个已配置的远程方法注册执行策略
func (c *RemoteCaller) RegisterAll(d *Dispatcher) {
	for method := range c.endpoints {
		Handle(d, method, func(ctx context.Context, task *model.Schedule, payload *model.RemoteCallTask) error {
			return c.Call(ctx, task.Method, payload)
		})
	}
}

// Call 调用远程端点，超时或服务端错误返回 ErrTransient，请求被拒绝返回 ErrValidation
func (c *RemoteCaller) Call(ctx context.Context, method string, payload *model.RemoteCallTask) error {
	endpoint, ok := c.endpoints[method]
	if !ok {
		return fmt.Errorf("remote method %s: %w", method, utils.ErrNotFound)
	}

	timeout := c.defaultTimeout
	if payload.TimeoutMs > 0 {
		timeout = time.Duration(payload.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := strings.TrimRight(endpoint, "/")
	if payload.Path != "" {
		url += "/" + strings.TrimLeft(payload.Path, "/")
	}

	body := payload.Payload
	if len(body) == 0 {
		body = []byte("{}")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request for %s: %w: %v", method, utils.ErrValidation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("call %s timed out after %s: %w", method, timeout, utils.ErrTransient)
		}
		return fmt.Errorf("call %s: %w: %v", method, utils.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("call %s: status=%d body=%s: %w", method, resp.StatusCode, respBody, utils.ErrTransient)
	}
	return fmt.Errorf("call %s: status=%d body=%s: %w", method, resp.StatusCode, respBody, utils.ErrValidation)
}
