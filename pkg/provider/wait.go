package provider

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// terminalStates 已知的终态失败状态（各平台状态取并集，统一小写比较）
var terminalStates = map[string]bool{
	"failed":        true,
	"destroyed":     true,
	"build_failed":  true,
	"update_failed": true,
	"deactivated":   true,
	"crashed":       true,
	"removed":       true,
}

// IsTerminalState 判断状态是否为终态失败状态
func IsTerminalState(state string) bool {
	return terminalStates[strings.ToLower(state)]
}

// WaitOptions 轮询参数
type WaitOptions struct {
	// Interval 轮询间隔，默认 3 秒
	Interval time.Duration
	// Timeout 总超时，默认 180 秒
	Timeout time.Duration
}

// WaitForState 轮询资源状态直到达到 target
// 遇到终态失败状态立即返回 TerminalStateError，超过 Timeout 返回 WaitTimeoutError
// 每次轮询之间通过定时休眠挂起，不占用额外线程
func WaitForState(ctx context.Context, c Client, ref Ref, target string, opts WaitOptions) (*Resource, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}

	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("provider", c.Name()).
		Str("resource_id", ref.ID).
		Str("target_state", target).
		Dur("timeout", timeout).
		Msg("Waiting for resource state")

	deadline := time.Now().Add(timeout)
	lastState := ""

	for {
		res, err := c.GetResource(ctx, ref)
		if err != nil {
			// 查询失败不终止等待，平台状态接口偶发 5xx
			logger.Warn().
				Err(err).
				Str("resource_id", ref.ID).
				Msg("Failed to poll resource state, will retry")
		} else {
			lastState = res.State
			if strings.EqualFold(res.State, target) {
				logger.Info().
					Str("resource_id", ref.ID).
					Str("state", res.State).
					Msg("Resource reached target state")
				return res, nil
			}
			if IsTerminalState(res.State) {
				return nil, &TerminalStateError{
					Provider: c.Name(),
					ID:       ref.ID,
					State:    res.State,
				}
			}
			logger.Debug().
				Str("resource_id", ref.ID).
				Str("state", res.State).
				Msg("Resource not ready yet")
		}

		if time.Now().After(deadline) {
			return nil, &WaitTimeoutError{
				Provider:  c.Name(),
				ID:        ref.ID,
				Target:    target,
				LastState: lastState,
				Timeout:   timeout,
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}
