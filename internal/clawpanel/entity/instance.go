// Package entity 定义业务实体
package entity

import (
	"fmt"
	"time"
)

// 实例状态
const (
	StatusDeploying  = "DEPLOYING"  // 部署流程进行中
	StatusRunning    = "RUNNING"    // 网关在线
	StatusStopped    = "STOPPED"    // 已停止（按需停机省成本）
	StatusError      = "ERROR"      // 部署或运行失败
	StatusRestarting = "RESTARTING" // 重启中的过渡状态
)

// 支持的云平台
const (
	ProviderFly     = "fly"
	ProviderRender  = "render"
	ProviderRailway = "railway"
)

// Instance 每个用户独占的 OpenClaw 网关实例
type Instance struct {
	ID              string     `json:"id"`      // Instance ID: inst-{n}
	UserID          string     `json:"user_id"` // 归属用户，一个用户最多一个活跃实例
	Provider        string     `json:"provider"`
	ContainerID     string     `json:"container_id"`   // 平台侧资源 ID（fly machine / render service / railway service）
	ContainerName   string     `json:"container_name"` // 平台侧资源名称（fly app 名）
	Port            int        `json:"port"`           // 分配的网关端口
	Status          string     `json:"status"`
	AccessURL       string     `json:"access_url"`  // 面向用户的访问地址
	ServiceURL      string     `json:"service_url"` // 平台分配的原始地址
	GatewayToken    string     `json:"-"`           // 网关 API token，不下发给前端
	LastHealthCheck *time.Time `json:"last_health_check,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// GatewayConfig 网关的渠道和 agent 配置
// 渠道 token 等机密不进入配置文档，单独走平台的 secret 通道
type GatewayConfig struct {
	Channels   map[string]ChannelConfig `json:"channels,omitempty"`    // key 为渠道名：whatsapp, telegram, discord...
	AgentModel string                   `json:"agent_model,omitempty"` // 后端模型标识
	AgentName  string                   `json:"agent_name,omitempty"`  // 对话中的 agent 显示名
}

// ChannelConfig 单个消息渠道的配置
type ChannelConfig struct {
	Enabled  bool           `json:"enabled"`
	Token    string         `json:"token,omitempty"` // 渠道凭证，只用于生成 secret，不落库不进配置文档
	Settings map[string]any `json:"settings,omitempty"`
}

// DeployInstanceRequest 部署实例请求
type DeployInstanceRequest struct {
	UserID   string         `json:"user_id"  binding:"required"`
	Provider string         `json:"provider"` // 可选，默认 fly
	Config   *GatewayConfig `json:"config,omitempty"`
	Plan     string         `json:"plan,omitempty"`
	Region   string         `json:"region,omitempty"`
}

// IsValid 实现 ginx 的请求校验
func (r *DeployInstanceRequest) IsValid() error {
	switch r.Provider {
	case "", ProviderFly, ProviderRender, ProviderRailway:
		return nil
	}
	return fmt.Errorf("unsupported provider %q, expect one of fly, render, railway", r.Provider)
}

// DeployInstanceResponse 部署实例响应
type DeployInstanceResponse struct {
	Instance *Instance `json:"instance"`
}

// InstanceActionRequest 启停/重启实例请求
type InstanceActionRequest struct {
	InstanceID string `json:"instance_id" binding:"required"`
}

// InstanceActionResponse 启停/重启实例响应
type InstanceActionResponse struct {
	InstanceID    string `json:"instance_id"`
	CurrentState  string `json:"current_state"`
	PreviousState string `json:"previous_state"`
}

// GetInstanceRequest 查询实例请求
type GetInstanceRequest struct {
	InstanceID string `uri:"id" binding:"required"`
}

// GetInstanceResponse 查询实例响应
type GetInstanceResponse struct {
	Instance *Instance `json:"instance"`
}

// ListInstancesRequest 列出实例请求
type ListInstancesRequest struct {
	UserID string `form:"user_id"` // 可选，按用户过滤
}

// ListInstancesResponse 列出实例响应
type ListInstancesResponse struct {
	Instances []Instance `json:"instances"`
}

// DeleteInstanceRequest 销毁实例请求
type DeleteInstanceRequest struct {
	InstanceID string `json:"instance_id" binding:"required"`
}

// DeleteInstanceResponse 销毁实例响应
type DeleteInstanceResponse struct {
	InstanceID string `json:"instance_id"`
	Deleted    bool   `json:"deleted"`
}

// InstanceLogsRequest 拉取实例日志请求
type InstanceLogsRequest struct {
	InstanceID string `json:"instance_id" binding:"required"`
	Tail       int    `json:"tail,omitempty"` // 保留最近 N 条，0 表示全部
}

// InstanceLogsResponse 拉取实例日志响应
type InstanceLogsResponse struct {
	InstanceID string `json:"instance_id"`
	Logs       string `json:"logs"`
}

// InstanceHealthRequest 健康检查请求
type InstanceHealthRequest struct {
	InstanceID string `json:"instance_id" binding:"required"`
}

// InstanceHealthResponse 健康检查响应
type InstanceHealthResponse struct {
	InstanceID string     `json:"instance_id"`
	Healthy    bool       `json:"healthy"`
	Status     string     `json:"status"` // 检查后的实例状态
	CheckedAt  *time.Time `json:"checked_at,omitempty"`
}

// DeploymentLog 部署操作的流水记录，只追加不修改
type DeploymentLog struct {
	ID          uint      `json:"id"`
	InstanceID  string    `json:"instance_id"`
	Action      string    `json:"action"` // DEPLOY, START, STOP, RESTART, DELETE
	Status      string    `json:"status"` // IN_PROGRESS, SUCCESS, PARTIAL, FAILED
	Message     string    `json:"message"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// 部署流水的动作
const (
	ActionDeploy  = "DEPLOY"
	ActionStart   = "START"
	ActionStop    = "STOP"
	ActionRestart = "RESTART"
	ActionDelete  = "DELETE"
)

// 部署流水的结果状态
const (
	LogStatusInProgress = "IN_PROGRESS"
	LogStatusSuccess    = "SUCCESS"
	LogStatusPartial    = "PARTIAL" // 资源创建成功但后续步骤（如健康检查）失败
	LogStatusFailed     = "FAILED"
)

// ListDeploymentLogsRequest 查询部署流水请求
type ListDeploymentLogsRequest struct {
	InstanceID string `uri:"id" binding:"required"`
}

// ListDeploymentLogsResponse 查询部署流水响应
type ListDeploymentLogsResponse struct {
	Logs []DeploymentLog `json:"logs"`
}
