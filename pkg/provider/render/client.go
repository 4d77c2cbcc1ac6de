// Package render 实现 Render API 的 provider.Client
//
// 资源模型：一个实例对应一个 image-backed web service
// 启停映射到 Render 的 suspend/resume，部署状态通过最近一次 deploy 查询
package render

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
	defaultAPIBaseURL = "https://api.render.com/v1"
	defaultRegion     = "oregon"
	defaultPlan       = "starter"
)

// StateLive 最近一次 deploy 的存活状态，WaitForState 的部署目标
const StateLive = "live"

// Config Render 客户端配置
type Config struct {
	// APIKey Render API key，对应环境变量 RENDER_API_KEY
	APIKey string
	// OwnerID workspace/owner ID（usr-/tea- 前缀），对应环境变量 RENDER_OWNER_ID
	OwnerID string
	// Region 默认部署区域
	Region string
	// Plan 默认规格档位
	Plan string
	// APIBaseURL 仅测试时覆盖
	APIBaseURL string
}

// Client Render API 客户端
type Client struct {
	cfg  Config
	http *retryablehttp.Client
}

var _ provider.Client = (*Client)(nil)

// New 创建 Render 客户端
// APIKey 和 OwnerID 缺失时立即报错
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("RENDER_API_KEY is not set; create a key at https://dashboard.render.com/u/settings#api-keys and export it")
	}
	if cfg.OwnerID == "" {
		return nil, fmt.Errorf("RENDER_OWNER_ID is not set; find your owner id (usr-/tea- prefix) in the Render dashboard URL and export it")
	}
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}
	if cfg.Plan == "" {
		cfg.Plan = defaultPlan
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}

	return &Client{
		cfg:  cfg,
		http: provider.NewRetryClient(),
	}, nil
}

// Name 实现 provider.Client 接口
func (c *Client) Name() string {
	return "render"
}

// ResourceURL 返回 service 的公网地址
func (c *Client) ResourceURL(name string) string {
	return fmt.Sprintf("https://%s.onrender.com", name)
}

// service Render API 的 service 对象（只保留用到的字段）
type service struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Suspended      string    `json:"suspended"` // suspended / not_suspended
	CreatedAt      time.Time `json:"createdAt"`
	ServiceDetails struct {
		URL    string `json:"url"`
		Region string `json:"region"`
	} `json:"serviceDetails"`
	ImagePath string `json:"imagePath"`
}

// deploy Render API 的 deploy 对象
type deploy struct {
	ID     string `json:"id"`
	Status string `json:"status"` // created, build_in_progress, update_in_progress, live, build_failed, update_failed, deactivated, canceled
}

// CreateResource 创建 image-backed web service
func (c *Client) CreateResource(ctx context.Context, req *provider.CreateResourceRequest) (*provider.Resource, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("service_name", req.Name).
		Str("image", req.Image).
		Msg("Creating Render service")

	region := req.Region
	if region == "" {
		region = c.cfg.Region
	}
	plan := req.Plan
	if plan == "" {
		plan = c.cfg.Plan
	}

	type envVar struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	envVars := make([]envVar, 0, len(req.Env))
	for k, v := range req.Env {
		envVars = append(envVars, envVar{Key: k, Value: v})
	}

	details := map[string]any{
		"env":    "image",
		"region": region,
		"plan":   plan,
		"envSpecificDetails": map[string]any{
			"image": map[string]string{"imagePath": req.Image},
		},
	}
	if len(req.StartCommand) > 0 {
		details["envSpecificDetails"].(map[string]any)["dockerCommand"] = strings.Join(req.StartCommand, " ")
	}

	body := map[string]any{
		"type":           "web_service",
		"name":           req.Name,
		"ownerId":        c.cfg.OwnerID,
		"serviceDetails": details,
		"envVars":        envVars,
	}

	var out struct {
		Service  service `json:"service"`
		DeployID string  `json:"deployId"`
	}
	if err := c.do(ctx, http.MethodPost, "/services", body, &out); err != nil {
		return nil, fmt.Errorf("create render service %s: %w", req.Name, err)
	}

	logger.Info().
		Str("service_id", out.Service.ID).
		Str("deploy_id", out.DeployID).
		Msg("Render service created")

	return c.serviceToResource(&out.Service, "created"), nil
}

// GetResource 获取 service 当前状态
// suspended 的 service 状态为 suspended，否则取最近一次 deploy 的状态
func (c *Client) GetResource(ctx context.Context, ref provider.Ref) (*provider.Resource, error) {
	var svc service
	if err := c.do(ctx, http.MethodGet, "/services/"+ref.ID, nil, &svc); err != nil {
		return nil, fmt.Errorf("get render service %s: %w", ref.ID, err)
	}

	state := "suspended"
	if svc.Suspended != "suspended" {
		d, err := c.latestDeploy(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		if d != nil {
			state = strings.ToLower(d.Status)
		} else {
			state = "created"
		}
	}

	return c.serviceToResource(&svc, state), nil
}

// latestDeploy 获取最近一次 deploy，没有部署记录时返回 nil
func (c *Client) latestDeploy(ctx context.Context, serviceID string) (*deploy, error) {
	var out []struct {
		Deploy deploy `json:"deploy"`
	}
	if err := c.do(ctx, http.MethodGet, "/services/"+serviceID+"/deploys?limit=1", nil, &out); err != nil {
		return nil, fmt.Errorf("list render deploys for %s: %w", serviceID, err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0].Deploy, nil
}

// ListResources 列出 owner 下的所有 service
func (c *Client) ListResources(ctx context.Context) ([]provider.Resource, error) {
	var out []struct {
		Service service `json:"service"`
	}
	if err := c.do(ctx, http.MethodGet, "/services?ownerId="+c.cfg.OwnerID+"&limit=100", nil, &out); err != nil {
		return nil, fmt.Errorf("list render services: %w", err)
	}

	resources := make([]provider.Resource, 0, len(out))
	for _, item := range out {
		state := "created"
		if item.Service.Suspended == "suspended" {
			state = "suspended"
		}
		resources = append(resources, *c.serviceToResource(&item.Service, state))
	}
	return resources, nil
}

// DeleteResource 删除 service
func (c *Client) DeleteResource(ctx context.Context, ref provider.Ref) error {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("service_id", ref.ID).
		Msg("Deleting Render service")

	if err := c.do(ctx, http.MethodDelete, "/services/"+ref.ID, nil, nil); err != nil {
		return fmt.Errorf("delete render service %s: %w", ref.ID, err)
	}
	return nil
}

// StartResource 恢复 suspended 的 service
func (c *Client) StartResource(ctx context.Context, ref provider.Ref) error {
	return c.serviceAction(ctx, ref, "resume")
}

// StopResource 挂起 service
func (c *Client) StopResource(ctx context.Context, ref provider.Ref) error {
	return c.serviceAction(ctx, ref, "suspend")
}

// RestartResource 重启 service
func (c *Client) RestartResource(ctx context.Context, ref provider.Ref) error {
	return c.serviceAction(ctx, ref, "restart")
}

func (c *Client) serviceAction(ctx context.Context, ref provider.Ref, action string) error {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("service_id", ref.ID).
		Str("action", action).
		Msg("Render service lifecycle action")

	if err := c.do(ctx, http.MethodPost, "/services/"+ref.ID+"/"+action, nil, nil); err != nil {
		return fmt.Errorf("%s render service %s: %w", action, ref.ID, err)
	}
	return nil
}

// SetSecrets 整体覆盖 service 的环境变量
func (c *Client) SetSecrets(ctx context.Context, ref provider.Ref, secrets map[string]string) error {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("service_id", ref.ID).
		Int("secret_count", len(secrets)).
		Msg("Updating Render env vars")

	type envVar struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	envVars := make([]envVar, 0, len(secrets))
	for k, v := range secrets {
		envVars = append(envVars, envVar{Key: k, Value: v})
	}

	if err := c.do(ctx, http.MethodPut, "/services/"+ref.ID+"/env-vars", envVars, nil); err != nil {
		return fmt.Errorf("update render env vars for %s: %w", ref.ID, err)
	}
	return nil
}

// GetLogs Render 没有公开的日志拉取 API，返回指向控制台的提示
func (c *Client) GetLogs(ctx context.Context, ref provider.Ref, tail int) (string, error) {
	return fmt.Sprintf("Render does not expose a public log API. View logs at https://dashboard.render.com/web/%s/logs", ref.ID), nil
}

func (c *Client) serviceToResource(svc *service, state string) *provider.Resource {
	url := svc.ServiceDetails.URL
	if url == "" {
		url = c.ResourceURL(svc.Name)
	}
	return &provider.Resource{
		ID:        svc.ID,
		Name:      svc.Name,
		State:     state,
		Region:    svc.ServiceDetails.Region,
		Image:     svc.ImagePath,
		URL:       url,
		CreatedAt: svc.CreatedAt,
	}
}

// do 发起 Render API 请求，非 2xx 响应包装为 provider.APIError
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
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
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

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
