// Package openclaw 封装对已部署 OpenClaw 网关容器的命令代理
//
// 命令通过 fly CLI 的 ssh console 透传进容器执行，认证沿用进程环境中的
// FLY_API_TOKEN。CLI 输出面向人类，解析逻辑见 parse.go
package openclaw

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Proxy OpenClaw 命令代理
type Proxy struct {
	flyBinPath string
	timeout    time.Duration
}

// NewProxy 创建命令代理
// 查找不到 fly CLI 时返回错误，调用方可以降级运行（网关命令不可用）
func NewProxy() (*Proxy, error) {
	path, err := exec.LookPath("fly")
	if err != nil {
		// 旧安装的二进制名是 flyctl
		path, err = exec.LookPath("flyctl")
		if err != nil {
			return nil, fmt.Errorf("fly CLI not found in PATH: %w", err)
		}
	}

	return &Proxy{
		flyBinPath: path,
		timeout:    60 * time.Second,
	}, nil
}

// NewProxyWithPath 使用指定的 CLI 路径创建代理（测试用）
func NewProxyWithPath(path string) *Proxy {
	return &Proxy{
		flyBinPath: path,
		timeout:    60 * time.Second,
	}
}

// SetTimeout 设置单条命令的超时时间
func (p *Proxy) SetTimeout(timeout time.Duration) {
	p.timeout = timeout
}

// ExecResult 命令执行结果
type ExecResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// ExecOptions 单次执行的可选参数
type ExecOptions struct {
	// Timeout 覆盖默认超时
	Timeout time.Duration
	// TargetID 指定 machine（多 machine app 时需要）
	TargetID string
}

// Execute 在容器内执行一条 openclaw 子命令
// command 是 openclaw 之后的参数串，例如 "devices list --json"
func (p *Proxy) Execute(ctx context.Context, appName, command string, opts *ExecOptions) (*ExecResult, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("app_name", appName).
		Str("command", command).
		Msg("Executing gateway command")

	timeout := p.timeout
	if opts != nil && opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"ssh", "console", "-a", appName}
	if opts != nil && opts.TargetID != "" {
		args = append(args, "--machine", opts.TargetID)
	}
	args = append(args, "-C", "openclaw "+command)

	cmd := exec.CommandContext(cmdCtx, p.flyBinPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		logger.Error().
			Err(err).
			Str("stderr", stderr.String()).
			Msg("Gateway command failed")
		return nil, fmt.Errorf("gateway command %q failed: %w, stderr: %s", command, err, stderr.String())
	}

	return &ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}, nil
}

// Logs 获取 app 最近的日志输出（不跟随）
func (p *Proxy) Logs(ctx context.Context, appName string) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, p.flyBinPath, "logs", "-a", appName, "--no-tail")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("fetch logs for %s: %w, output: %s", appName, err, string(output))
	}
	return string(output), nil
}

// SanitizeCommand 剥离 shell 元字符，作为命令注入的缓解手段
// 剥离字符：; & | ` $ ( )
// 这不是沙箱，最终的安全边界是 HTTP 层的命令前缀白名单
func SanitizeCommand(command string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ';', '&', '|', '`', '$', '(', ')':
			return -1
		}
		return r
	}, command)
}
