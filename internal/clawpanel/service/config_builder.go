package service

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clawpanel/clawpanel/internal/clawpanel/entity"
)

// 网关和 agent 的默认配置
const (
	defaultAgentModel   = "claude-sonnet-4"
	defaultAgentName    = "OpenClaw"
	defaultGatewayBind  = "0.0.0.0"
	gatewayInternalPort = 18789 // 容器内网关监听的固定端口
)

// BuildGatewayConfig 把用户配置翻译成网关的配置文档和机密环境变量
// 渠道 token 只进 secrets（OPENCLAW_<CHANNEL>_TOKEN），绝不写进配置文档
func BuildGatewayConfig(cfg *entity.GatewayConfig, port int) (map[string]any, map[string]string) {
	if cfg == nil {
		cfg = &entity.GatewayConfig{}
	}

	secrets := make(map[string]string)

	channels := make(map[string]any, len(cfg.Channels))
	for name, ch := range cfg.Channels {
		channelDoc := map[string]any{
			"enabled": ch.Enabled,
		}
		for k, v := range ch.Settings {
			channelDoc[k] = v
		}
		if ch.Token != "" {
			// token 走 secret 通道，配置文档里只留环境变量名
			envKey := fmt.Sprintf("OPENCLAW_%s_TOKEN", strings.ToUpper(name))
			secrets[envKey] = ch.Token
			channelDoc["token_env"] = envKey
		}
		channels[name] = channelDoc
	}

	agentModel := cfg.AgentModel
	if agentModel == "" {
		agentModel = defaultAgentModel
	}
	agentName := cfg.AgentName
	if agentName == "" {
		agentName = defaultAgentName
	}

	doc := map[string]any{
		"gateway": map[string]any{
			"bind": defaultGatewayBind,
			"port": gatewayInternalPort,
			"auth": map[string]any{
				"mode":      "token",
				"token_env": "OPENCLAW_GATEWAY_TOKEN",
			},
			"external_port": port,
		},
		"channels": channels,
		"agent": map[string]any{
			"model": agentModel,
			"name":  agentName,
		},
	}

	return doc, secrets
}

// EncodeConfigDoc 把配置文档编码为 base64，通过环境变量注入容器
func EncodeConfigDoc(doc map[string]any) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal gateway config: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// GatewayStartCommand 容器启动命令
// 先把 OPENCLAW_CONFIG_B64 落成配置文件，再 exec 网关进程
func GatewayStartCommand() []string {
	return []string{
		"/bin/sh", "-c",
		`mkdir -p /data && printf '%s' "$OPENCLAW_CONFIG_B64" | base64 -d > /data/openclaw.json && exec openclaw-gateway --config /data/openclaw.json`,
	}
}
