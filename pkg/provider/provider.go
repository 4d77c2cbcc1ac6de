// Package provider 定义云平台客户端的统一契约
// Fly.io、Render、Railway 的具体实现分别位于子包中
package provider

import (
	"context"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Resource 云平台计算资源的统一表示
// 一个 Resource 对应一个 Instance 背后的 machine 或 service
type Resource struct {
	ID        string    `json:"id"`         // 平台资源 ID（machine ID / service ID）
	Name      string    `json:"name"`       // 平台资源名称（app 名 / service 名）
	State     string    `json:"state"`      // 平台原始状态（小写）
	Region    string    `json:"region"`     // 部署区域
	Image     string    `json:"image"`      // 容器镜像
	URL       string    `json:"url"`        // 公网访问地址
	CreatedAt time.Time `json:"created_at"` // 创建时间
}

// Ref 资源引用
// 部分平台（Fly）的 API 同时需要 app 名和 machine ID，所以引用携带两者
type Ref struct {
	ID   string `json:"id"`   // 资源 ID
	Name string `json:"name"` // 资源名称
}

// CreateResourceRequest 创建资源请求
type CreateResourceRequest struct {
	Name         string            `json:"name"`          // 资源名称（必须全局唯一）
	Image        string            `json:"image"`         // 容器镜像
	Env          map[string]string `json:"env"`           // 环境变量（含 secret）
	Region       string            `json:"region"`        // 区域（空则使用客户端默认值）
	Plan         string            `json:"plan"`          // 规格档位（starter/standard）
	StartCommand []string          `json:"start_command"` // 容器启动命令
	InternalPort int               `json:"internal_port"` // 容器内监听端口
}

// Client 云平台客户端接口
// 所有方法都是对远端 API 的一次封装调用，无本地副作用
type Client interface {
	// Name 返回平台名称（fly/render/railway）
	Name() string
	// CreateResource 创建计算资源，阻塞到平台接受请求为止（不等待就绪）
	CreateResource(ctx context.Context, req *CreateResourceRequest) (*Resource, error)
	// GetResource 获取资源当前状态
	GetResource(ctx context.Context, ref Ref) (*Resource, error)
	// ListResources 列出当前凭证可见的所有资源
	ListResources(ctx context.Context) ([]Resource, error)
	// DeleteResource 删除资源及其附属（IP、卷）
	DeleteResource(ctx context.Context, ref Ref) error
	StartResource(ctx context.Context, ref Ref) error
	StopResource(ctx context.Context, ref Ref) error
	RestartResource(ctx context.Context, ref Ref) error
	// SetSecrets 设置或更新资源的 secret 环境变量
	SetSecrets(ctx context.Context, ref Ref, secrets map[string]string) error
	// GetLogs 获取最近 tail 行日志
	// 没有公开日志 API 的平台返回指向其控制台的静态提示
	GetLogs(ctx context.Context, ref Ref, tail int) (string, error)
	// ResourceURL 返回资源的公网访问地址（不发起网络请求）
	ResourceURL(name string) string
}

// IPAllocator 支持显式分配公网地址的平台实现此接口（Fly）
type IPAllocator interface {
	// AllocateIP 为资源分配共享 IPv4，返回分配到的地址
	AllocateIP(ctx context.Context, name string) (string, error)
}

// NewRetryClient 创建用于平台 API 调用的 HTTP 客户端
// 重试只覆盖网络错误和 5xx，4xx 直接返回
func NewRetryClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 5 * time.Second
	c.Logger = nil
	return c
}
