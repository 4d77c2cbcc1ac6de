package openclaw

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// ListPendingDevices 列出等待审批的设备配对请求
// 先请求 JSON 输出，容器内的 CLI 版本不支持 --json 时退回文本解析
func (p *Proxy) ListPendingDevices(ctx context.Context, appName string) ([]PendingDevice, error) {
	result, err := p.Execute(ctx, appName, "devices list --json", nil)
	if err != nil {
		return nil, err
	}
	return ParsePendingDevices(result.Stdout), nil
}

// ApproveDevice 审批一个设备配对请求，返回成功与否和 CLI 的原始输出
// CLI 没有结构化的执行结果，成功判定是启发式的：
// stdout 和 stderr 都不包含 "error" 或 "failed" 即视为成功
func (p *Proxy) ApproveDevice(ctx context.Context, appName, requestID string) (bool, string, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("app_name", appName).
		Str("request_id", requestID).
		Msg("Approving device pairing request")

	result, err := p.Execute(ctx, appName, "devices approve "+SanitizeCommand(requestID), nil)
	if err != nil {
		return false, "", err
	}

	combined := result.Stdout + result.Stderr
	ok := !strings.Contains(combined, "error") && !strings.Contains(combined, "failed")
	if !ok {
		logger.Warn().
			Str("request_id", requestID).
			Str("output", combined).
			Msg("Device approval output indicates failure")
	}
	return ok, combined, nil
}

// WhatsAppQR 从网关日志中提取 WhatsApp 配对二维码
// 没有待展示的二维码时返回空串，不算错误
func (p *Proxy) WhatsAppQR(ctx context.Context, appName string) (string, error) {
	logs, err := p.Logs(ctx, appName)
	if err != nil {
		return "", err
	}
	return ExtractQRCode(logs), nil
}

// RunDoctor 执行网关自诊断
// 命令执行失败时降级为包含错误信息的报告，不向上传播
func (p *Proxy) RunDoctor(ctx context.Context, appName string) *DoctorReport {
	result, err := p.Execute(ctx, appName, "doctor --json", nil)
	if err != nil {
		return &DoctorReport{
			OK:       false,
			Issues:   []string{err.Error()},
			Warnings: []string{},
		}
	}
	return ParseDoctorOutput(result.Stdout)
}

// GatewayHealth 查询网关自身的健康状态
// 命令执行失败时返回 unknown，不向上传播
func (p *Proxy) GatewayHealth(ctx context.Context, appName string) *HealthStatus {
	result, err := p.Execute(ctx, appName, "health --json", nil)
	if err != nil {
		return &HealthStatus{Status: "unknown"}
	}
	return ParseHealthOutput(result.Stdout)
}

// ListChannels 列出各消息通道的连接状态
// 命令执行失败时返回空列表，不向上传播
func (p *Proxy) ListChannels(ctx context.Context, appName string) []ChannelStatus {
	result, err := p.Execute(ctx, appName, "channels status --json", nil)
	if err != nil {
		return []ChannelStatus{}
	}
	return ParseChannelsOutput(result.Stdout)
}

// ExecuteCommand 执行任意 openclaw 子命令（HTTP 层已做前缀白名单校验）
// 转发前剥离 shell 元字符
func (p *Proxy) ExecuteCommand(ctx context.Context, appName, command string) (*ExecResult, error) {
	return p.Execute(ctx, appName, SanitizeCommand(command), nil)
}
