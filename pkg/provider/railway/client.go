// Package railway 实现 Railway GraphQL API 的 provider.Client
//
// Railway 的所有操作（包括 secret 管理）都走 GraphQL mutation，没有 REST 端点
// 资源模型：一个实例对应项目固定环境下的一个 service
package railway

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

const defaultGraphQLURL = "https://backboard.railway.app/graphql/v2"

// StateSuccess 最近一次 deployment 的成功状态，WaitForState 的部署目标
const StateSuccess = "success"

// Config Railway 客户端配置
type Config struct {
	// Token Railway API token，对应环境变量 RAILWAY_API_TOKEN
	Token string
	// ProjectID 项目 ID，对应环境变量 RAILWAY_PROJECT_ID
	ProjectID string
	// EnvironmentID 环境 ID，对应环境变量 RAILWAY_ENVIRONMENT_ID
	EnvironmentID string
	// GraphQLURL 仅测试时覆盖
	GraphQLURL string
}

// Client Railway GraphQL API 客户端
type Client struct {
	cfg  Config
	http *retryablehttp.Client
}

var _ provider.Client = (*Client)(nil)

// New 创建 Railway 客户端
// Token、ProjectID、EnvironmentID 任一缺失时立即报错
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("RAILWAY_API_TOKEN is not set; create a token at https://railway.app/account/tokens and export it")
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("RAILWAY_PROJECT_ID is not set; copy it from your Railway project settings")
	}
	if cfg.EnvironmentID == "" {
		return nil, fmt.Errorf("RAILWAY_ENVIRONMENT_ID is not set; copy it from your Railway project settings")
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
	return "railway"
}

// ResourceURL 返回 service 的公网地址
func (c *Client) ResourceURL(name string) string {
	return fmt.Sprintf("https://%s.up.railway.app", name)
}

// CreateResource 创建 service 并写入环境变量
// serviceCreate 会自动触发首次部署
func (c *Client) CreateResource(ctx context.Context, req *provider.CreateResourceRequest) (*provider.Resource, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("service_name", req.Name).
		Str("image", req.Image).
		Msg("Creating Railway service")

	const mutation = `
mutation($input: ServiceCreateInput!) {
  serviceCreate(input: $input) {
    id
    name
    createdAt
  }
}`
	var out struct {
		ServiceCreate struct {
			ID        string    `json:"id"`
			Name      string    `json:"name"`
			CreatedAt time.Time `json:"createdAt"`
		} `json:"serviceCreate"`
	}
	input := map[string]any{
		"projectId": c.cfg.ProjectID,
		"name":      req.Name,
		"source":    map[string]string{"image": req.Image},
	}
	if err := c.doGraphQL(ctx, mutation, map[string]any{"input": input}, &out); err != nil {
		return nil, fmt.Errorf("create railway service %s: %w", req.Name, err)
	}

	// 创建后立刻写入环境变量，下一次部署生效
	if len(req.Env) > 0 {
		if err := c.SetSecrets(ctx, provider.Ref{ID: out.ServiceCreate.ID, Name: req.Name}, req.Env); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("service_id", out.ServiceCreate.ID).
		Msg("Railway service created")

	return &provider.Resource{
		ID:        out.ServiceCreate.ID,
		Name:      out.ServiceCreate.Name,
		State:     "deploying",
		Image:     req.Image,
		URL:       c.ResourceURL(req.Name),
		CreatedAt: out.ServiceCreate.CreatedAt,
	}, nil
}

// GetResource 获取 service 最近一次 deployment 的状态
// SUCCESS 映射为 success，其余状态统一小写透传
func (c *Client) GetResource(ctx context.Context, ref provider.Ref) (*provider.Resource, error) {
	const query = `
query($input: DeploymentListInput!) {
  deployments(first: 1, input: $input) {
    edges {
      node { id status createdAt }
    }
  }
}`
	var out struct {
		Deployments struct {
			Edges []struct {
				Node struct {
					ID        string    `json:"id"`
					Status    string    `json:"status"`
					CreatedAt time.Time `json:"createdAt"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"deployments"`
	}
	input := map[string]any{
		"serviceId":     ref.ID,
		"environmentId": c.cfg.EnvironmentID,
	}
	if err := c.doGraphQL(ctx, query, map[string]any{"input": input}, &out); err != nil {
		return nil, fmt.Errorf("get railway deployments for %s: %w", ref.ID, err)
	}

	state := "deploying"
	if len(out.Deployments.Edges) > 0 {
		state = strings.ToLower(out.Deployments.Edges[0].Node.Status)
	}
	return &provider.Resource{
		ID:    ref.ID,
		Name:  ref.Name,
		State: state,
		URL:   c.ResourceURL(ref.Name),
	}, nil
}

// ListResources 列出项目下的所有 service
func (c *Client) ListResources(ctx context.Context) ([]provider.Resource, error) {
	const query = `
query($id: String!) {
  project(id: $id) {
    services {
      edges {
        node { id name createdAt }
      }
    }
  }
}`
	var out struct {
		Project struct {
			Services struct {
				Edges []struct {
					Node struct {
						ID        string    `json:"id"`
						Name      string    `json:"name"`
						CreatedAt time.Time `json:"createdAt"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"services"`
		} `json:"project"`
	}
	if err := c.doGraphQL(ctx, query, map[string]any{"id": c.cfg.ProjectID}, &out); err != nil {
		return nil, fmt.Errorf("list railway services: %w", err)
	}

	resources := make([]provider.Resource, 0, len(out.Project.Services.Edges))
	for _, edge := range out.Project.Services.Edges {
		resources = append(resources, provider.Resource{
			ID:        edge.Node.ID,
			Name:      edge.Node.Name,
			URL:       c.ResourceURL(edge.Node.Name),
			CreatedAt: edge.Node.CreatedAt,
		})
	}
	return resources, nil
}

// DeleteResource 删除 service
func (c *Client) DeleteResource(ctx context.Context, ref provider.Ref) error {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("service_id", ref.ID).
		Msg("Deleting Railway service")

	const mutation = `
mutation($id: String!) {
  serviceDelete(id: $id)
}`
	if err := c.doGraphQL(ctx, mutation, map[string]any{"id": ref.ID}, nil); err != nil {
		return fmt.Errorf("delete railway service %s: %w", ref.ID, err)
	}
	return nil
}

// StartResource 重新部署 service（Railway 没有独立的启动操作）
func (c *Client) StartResource(ctx context.Context, ref provider.Ref) error {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("service_id", ref.ID).
		Msg("Redeploying Railway service")

	const mutation = `
mutation($serviceId: String!, $environmentId: String!) {
  serviceInstanceRedeploy(serviceId: $serviceId, environmentId: $environmentId)
}`
	vars := map[string]any{
		"serviceId":     ref.ID,
		"environmentId": c.cfg.EnvironmentID,
	}
	if err := c.doGraphQL(ctx, mutation, vars, nil); err != nil {
		return fmt.Errorf("redeploy railway service %s: %w", ref.ID, err)
	}
	return nil
}

// StopResource 停止 service 最近一次 deployment
func (c *Client) StopResource(ctx context.Context, ref provider.Ref) error {
	deploymentID, err := c.latestDeploymentID(ctx, ref)
	if err != nil {
		return err
	}
	if deploymentID == "" {
		return nil
	}

	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("service_id", ref.ID).
		Str("deployment_id", deploymentID).
		Msg("Stopping Railway deployment")

	const mutation = `
mutation($id: String!) {
  deploymentStop(id: $id)
}`
	if err := c.doGraphQL(ctx, mutation, map[string]any{"id": deploymentID}, nil); err != nil {
		return fmt.Errorf("stop railway deployment %s: %w", deploymentID, err)
	}
	return nil
}

// RestartResource 重启 service 最近一次 deployment
func (c *Client) RestartResource(ctx context.Context, ref provider.Ref) error {
	deploymentID, err := c.latestDeploymentID(ctx, ref)
	if err != nil {
		return err
	}
	if deploymentID == "" {
		return c.StartResource(ctx, ref)
	}

	const mutation = `
mutation($id: String!) {
  deploymentRestart(id: $id)
}`
	if err := c.doGraphQL(ctx, mutation, map[string]any{"id": deploymentID}, nil); err != nil {
		return fmt.Errorf("restart railway deployment %s: %w", deploymentID, err)
	}
	return nil
}

func (c *Client) latestDeploymentID(ctx context.Context, ref provider.Ref) (string, error) {
	const query = `
query($input: DeploymentListInput!) {
  deployments(first: 1, input: $input) {
    edges { node { id } }
  }
}`
	var out struct {
		Deployments struct {
			Edges []struct {
				Node struct {
					ID string `json:"id"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"deployments"`
	}
	input := map[string]any{
		"serviceId":     ref.ID,
		"environmentId": c.cfg.EnvironmentID,
	}
	if err := c.doGraphQL(ctx, query, map[string]any{"input": input}, &out); err != nil {
		return "", fmt.Errorf("get latest railway deployment for %s: %w", ref.ID, err)
	}
	if len(out.Deployments.Edges) == 0 {
		return "", nil
	}
	return out.Deployments.Edges[0].Node.ID, nil
}

// SetSecrets 通过 variableCollectionUpsert 批量写入环境变量
func (c *Client) SetSecrets(ctx context.Context, ref provider.Ref, secrets map[string]string) error {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("service_id", ref.ID).
		Int("secret_count", len(secrets)).
		Msg("Upserting Railway variables")

	const mutation = `
mutation($input: VariableCollectionUpsertInput!) {
  variableCollectionUpsert(input: $input)
}`
	input := map[string]any{
		"projectId":     c.cfg.ProjectID,
		"environmentId": c.cfg.EnvironmentID,
		"serviceId":     ref.ID,
		"variables":     secrets,
	}
	if err := c.doGraphQL(ctx, mutation, map[string]any{"input": input}, nil); err != nil {
		return fmt.Errorf("upsert railway variables for %s: %w", ref.ID, err)
	}
	return nil
}

// GetLogs Railway 的日志查询需要 websocket 订阅，这里返回指向控制台的提示
func (c *Client) GetLogs(ctx context.Context, ref provider.Ref, tail int) (string, error) {
	return fmt.Sprintf("Railway logs require the dashboard. View them at https://railway.app/project/%s", c.cfg.ProjectID), nil
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
