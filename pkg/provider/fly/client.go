// Package fly 实现 Fly.io Machines API 的 provider.Client
//
// 资源模型：一个实例对应一个 Fly app 加一个 machine
// machine 的创建/启停走 Machines REST API，IP 分配和 secret 管理走 GraphQL API
package fly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clawpanel/clawpanel/pkg/provider"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

const (
	defaultAPIBaseURL = "https://api.machines.dev/v1"
	defaultGraphQLURL = "https://api.fly.io/graphql"
	defaultRegion     = "iad"
)

// StateStarted machine 的运行状态，WaitForState 的部署目标
const StateStarted = "started"

// Config Fly 客户端配置
type Config struct {
	// Token Fly API token，对应环境变量 FLY_API_TOKEN
	Token string
	// OrgSlug 组织标识，对应环境变量 FLY_ORG_SLUG，默认 personal
	OrgSlug string
	// Region 默认部署区域
	Region string
	// APIBaseURL Machines API 地址，仅测试时覆盖
	APIBaseURL string
	// GraphQLURL GraphQL API 地址，仅测试时覆盖
	GraphQLURL string
}

// Client Fly.io Machines API 客户端
type Client struct {
	cfg  Config
	http *retryablehttp.Client
}

var _ provider.Client = (*Client)(nil)
var _ provider.IPAllocator = (*Client)(nil)

// New 创建 Fly 客户端
// Token 缺失时立即报错，不会延迟到第一次请求
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("FLY_API_TOKEN is not set; create a token at https://fly.io/user/personal_access_tokens and export it")
	}
	if cfg.OrgSlug == "" {
		cfg.OrgSlug = "personal"
	}
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.GraphQLURL == "" {
		cfg.GraphQLURL = defaultGraphQLURL
	}

	return &Client{
		cfg:  cfg,
		http: provider.NewRetryClient(),
	}, nil
}

// Name 实现 provider.Client 接口
func (c *Client) Name() string {
	return "fly"
}

// ResourceURL 返回 app 的公网地址
func (c *Client) ResourceURL(name string) string {
	return fmt.Sprintf("https://%s.fly.dev", name)
}

// machine Machines API 的 machine 对象（只保留用到的字段）
type machine struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Region    string    `json:"region"`
	CreatedAt time.Time `json:"created_at"`
	Config    struct {
		Image string `json:"image"`
	} `json:"config"`
}

// app Machines API 的 app 对象
type app struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// machineConfig 创建 machine 的配置
type machineConfig struct {
	Image    string            `json:"image"`
	Env      map[string]string `json:"env,omitempty"`
	Init     *machineInit      `json:"init,omitempty"`
	Guest    machineGuest      `json:"guest"`
	Services []machineService  `json:"services,omitempty"`
	Restart  machineRestart    `json:"restart"`
}

type machineInit struct {
	Cmd []string `json:"cmd,omitempty"`
}

type machineGuest struct {
	CPUKind  string `json:"cpu_kind"`
	CPUs     int    `json:"cpus"`
	MemoryMB int    `json:"memory_mb"`
}

type machineService struct {
	Protocol     string        `json:"protocol"`
	InternalPort int           `json:"internal_port"`
	Ports        []servicePort `json:"ports"`
}

type servicePort struct {
	Port     int      `json:"port"`
	Handlers []string `json:"handlers"`
}

type machineRestart struct {
	Policy string `json:"policy"`
}

// CreateResource 创建 app 和 machine
// 两步操作：先创建 app（幂等），再在 app 下创建 machine
func (c *Client) CreateResource(ctx context.Context, req *provider.CreateResourceRequest) (*provider.Resource, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("app_name", req.Name).
		Str("image", req.Image).
		Msg("Creating Fly app and machine")

	// 1. 创建 app（已存在时 Fly 返回 422，视为成功）
	createApp := map[string]string{
		"app_name": req.Name,
		"org_slug": c.cfg.OrgSlug,
	}
	if err := c.doREST(ctx, http.MethodPost, "/apps", createApp, nil); err != nil {
		apiErr, ok := err.(*provider.APIError)
		if !ok || apiErr.StatusCode != http.StatusUnprocessableEntity {
			return nil, fmt.Errorf("create fly app %s: %w", req.Name, err)
		}
		logger.Debug().Str("app_name", req.Name).Msg("Fly app already exists, reusing")
	}

	// 2. 创建 machine
	region := req.Region
	if region == "" {
		region = c.cfg.Region
	}
	guest := guestForPlan(req.Plan)
	internalPort := req.InternalPort
	if internalPort == 0 {
		internalPort = 8080
	}

	body := map[string]any{
		"name":   req.Name,
		"region": region,
		"config": machineConfig{
			Image: req.Image,
			Env:   req.Env,
			Init:  initForCommand(req.StartCommand),
			Guest: guest,
			Services: []machineService{{
				Protocol:     "tcp",
				InternalPort: internalPort,
				Ports: []servicePort{
					{Port: 80, Handlers: []string{"http"}},
					{Port: 443, Handlers: []string{"tls", "http"}},
				},
			}},
			Restart: machineRestart{Policy: "on-failure"},
		},
	}

	var m machine
	if err := c.doREST(ctx, http.MethodPost, "/apps/"+req.Name+"/machines", body, &m); err != nil {
		return nil, fmt.Errorf("create fly machine in app %s: %w", req.Name, err)
	}

	logger.Info().
		Str("app_name", req.Name).
		Str("machine_id", m.ID).
		Str("state", m.State).
		Msg("Fly machine created")

	return machineToResource(req.Name, &m, c.ResourceURL(req.Name)), nil
}

// guestForPlan Plan 到 machine 规格的映射
func guestForPlan(plan string) machineGuest {
	switch plan {
	case "standard":
		return machineGuest{CPUKind: "shared", CPUs: 2, MemoryMB: 2048}
	default: // starter
		return machineGuest{CPUKind: "shared", CPUs: 1, MemoryMB: 1024}
	}
}

func initForCommand(cmd []string) *machineInit {
	if len(cmd) == 0 {
		return nil
	}
	return &machineInit{Cmd: cmd}
}

// GetResource 获取 machine 当前状态
// ref.Name 是 app 名，ref.ID 是 machine ID
func (c *Client) GetResource(ctx context.Context, ref provider.Ref) (*provider.Resource, error) {
	var m machine
	if err := c.doREST(ctx, http.MethodGet, "/apps/"+ref.Name+"/machines/"+ref.ID, nil, &m); err != nil {
		return nil, fmt.Errorf("get fly machine %s: %w", ref.ID, err)
	}
	return machineToResource(ref.Name, &m, c.ResourceURL(ref.Name)), nil
}

// ListResources 列出组织下的所有 app
func (c *Client) ListResources(ctx context.Context) ([]provider.Resource, error) {
	var out struct {
		Apps []app `json:"apps"`
	}
	if err := c.doREST(ctx, http.MethodGet, "/apps?org_slug="+c.cfg.OrgSlug, nil, &out); err != nil {
		return nil, fmt.Errorf("list fly apps: %w", err)
	}

	resources := make([]provider.Resource, 0, len(out.Apps))
	for _, a := range out.Apps {
		resources = append(resources, provider.Resource{
			ID:    a.ID,
			Name:  a.Name,
			State: strings.ToLower(a.Status),
			URL:   c.ResourceURL(a.Name),
		})
	}
	return resources, nil
}

// DeleteResource 删除整个 app（连带 machine、IP 和 volume）
func (c *Client) DeleteResource(ctx context.Context, ref provider.Ref) error {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("app_name", ref.Name).
		Msg("Deleting Fly app")

	if err := c.doREST(ctx, http.MethodDelete, "/apps/"+ref.Name, nil, nil); err != nil {
		return fmt.Errorf("delete fly app %s: %w", ref.Name, err)
	}
	return nil
}

// StartResource 启动 machine
func (c *Client) StartResource(ctx context.Context, ref provider.Ref) error {
	return c.machineAction(ctx, ref, "start")
}

// StopResource 停止 machine
func (c *Client) StopResource(ctx context.Context, ref provider.Ref) error {
	return c.machineAction(ctx, ref, "stop")
}

// RestartResource 重启 machine
func (c *Client) RestartResource(ctx context.Context, ref provider.Ref) error {
	return c.machineAction(ctx, ref, "restart")
}

func (c *Client) machineAction(ctx context.Context, ref provider.Ref, action string) error {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("app_name", ref.Name).
		Str("machine_id", ref.ID).
		Str("action", action).
		Msg("Fly machine lifecycle action")

	path := fmt.Sprintf("/apps/%s/machines/%s/%s", ref.Name, ref.ID, action)
	if err := c.doREST(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("%s fly machine %s: %w", action, ref.ID, err)
	}
	return nil
}

// GetLogs 获取 machine 最近的事件
// Machines API 没有日志拉取端点，用事件流代替
func (c *Client) GetLogs(ctx context.Context, ref provider.Ref, tail int) (string, error) {
	var m struct {
		Events []struct {
			Type      string `json:"type"`
			Status    string `json:"status"`
			Timestamp int64  `json:"timestamp"`
		} `json:"events"`
	}
	if err := c.doREST(ctx, http.MethodGet, "/apps/"+ref.Name+"/machines/"+ref.ID, nil, &m); err != nil {
		return "", fmt.Errorf("get fly machine events %s: %w", ref.ID, err)
	}

	var sb strings.Builder
	// Machines API 的 events 按时间倒序返回，最新的在前，取前 tail 条即最近的事件
	events := m.Events
	if tail > 0 && len(events) > tail {
		events = events[:tail]
	}
	for _, ev := range events {
		ts := time.UnixMilli(ev.Timestamp).UTC().Format(time.RFC3339)
		fmt.Fprintf(&sb, "%s %s %s\n", ts, ev.Type, ev.Status)
	}
	if sb.Len() == 0 {
		return fmt.Sprintf("No recent events for machine %s. Full logs: https://fly.io/apps/%s/monitoring", ref.ID, ref.Name), nil
	}
	return sb.String(), nil
}

// SetSecrets 通过 GraphQL 设置 app secrets
// Machines API 不提供 secret 管理，必须走 GraphQL
func (c *Client) SetSecrets(ctx context.Context, ref provider.Ref, secrets map[string]string) error {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("app_name", ref.Name).
		Int("secret_count", len(secrets)).
		Msg("Setting Fly app secrets")

	type secretInput struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	inputs := make([]secretInput, 0, len(secrets))
	for k, v := range secrets {
		inputs = append(inputs, secretInput{Key: k, Value: v})
	}

	const mutation = `
mutation($appId: ID!, $secrets: [SecretInput!]!) {
  setSecrets(input: {appId: $appId, secrets: $secrets}) {
    release { id }
  }
}`
	var out json.RawMessage
	if err := c.doGraphQL(ctx, mutation, map[string]any{
		"appId":   ref.Name,
		"secrets": inputs,
	}, &out); err != nil {
		return fmt.Errorf("set fly secrets for %s: %w", ref.Name, err)
	}
	return nil
}

// AllocateIP 为 app 分配共享 IPv4（实现 provider.IPAllocator）
// 不分配 IP 时 .fly.dev 域名不可达
func (c *Client) AllocateIP(ctx context.Context, name string) (string, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("app_name", name).
		Msg("Allocating shared IPv4 for Fly app")

	const mutation = `
mutation($appId: ID!) {
  allocateIpAddress(input: {appId: $appId, type: shared_v4}) {
    ipAddress { address }
  }
}`
	var out struct {
		AllocateIPAddress struct {
			IPAddress struct {
				Address string `json:"address"`
			} `json:"ipAddress"`
		} `json:"allocateIpAddress"`
	}
	if err := c.doGraphQL(ctx, mutation, map[string]any{"appId": name}, &out); err != nil {
		return "", fmt.Errorf("allocate ip for fly app %s: %w", name, err)
	}

	logger.Info().
		Str("app_name", name).
		Str("address", out.AllocateIPAddress.IPAddress.Address).
		Msg("Shared IPv4 allocated")
	return out.AllocateIPAddress.IPAddress.Address, nil
}

// machineToResource machine 到统一 Resource 的转换
func machineToResource(appName string, m *machine, url string) *provider.Resource {
	return &provider.Resource{
		ID:        m.ID,
		Name:      appName,
		State:     strings.ToLower(m.State),
		Region:    m.Region,
		Image:     m.Config.Image,
		URL:       url,
		CreatedAt: m.CreatedAt,
	}
}

// doREST 发起 Machines API 请求
// 非 2xx 响应包装为 provider.APIError
func (c *Client) doREST(ctx context.Context, method, path string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequest(method, c.cfg.APIBaseURL+path, payload)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return provider.NewAPIError(c.Name(), resp.StatusCode, data)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// doGraphQL 发起 GraphQL 请求，errors 数组非空视为失败
func (c *Client) doGraphQL(ctx context.Context, query string, variables map[string]any, out any) error {
	body := map[string]any{
		"query":     query,
		"variables": variables,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, c.cfg.GraphQLURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read graphql response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return provider.NewAPIError(c.Name(), resp.StatusCode, raw)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode graphql response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return provider.NewAPIError(c.Name(), resp.StatusCode, raw)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode graphql data: %w", err)
		}
	}
	return nil
}
