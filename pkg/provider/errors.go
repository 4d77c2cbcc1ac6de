package provider

import (
	"fmt"
	"time"
)

// APIError 平台 API 返回非 2xx 时的错误
// 携带 HTTP 状态码和原始响应体，便于排查
type APIError struct {
	Provider   string // 平台名称
	StatusCode int    // HTTP 状态码
	Body       string // 原始响应体
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// NewAPIError 创建 APIError，响应体过长时截断
func NewAPIError(providerName string, statusCode int, body []byte) *APIError {
	const maxBody = 2048
	b := string(body)
	if len(b) > maxBody {
		b = b[:maxBody] + "...(truncated)"
	}
	return &APIError{
		Provider:   providerName,
		StatusCode: statusCode,
		Body:       b,
	}
}

// WaitTimeoutError 等待资源到达目标状态超时
type WaitTimeoutError struct {
	Provider  string
	ID        string
	Target    string
	LastState string
	Timeout   time.Duration
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("%s resource %s did not reach state %q within %s (last state: %q)",
		e.Provider, e.ID, e.Target, e.Timeout, e.LastState)
}

// TerminalStateError 资源进入了已知的终态失败状态
// 遇到该错误时立即停止轮询，不等待超时
type TerminalStateError struct {
	Provider string
	ID       string
	State    string
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("%s resource %s entered terminal state %q", e.Provider, e.ID, e.State)
}
