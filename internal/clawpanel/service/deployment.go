package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/clawpanel/clawpanel/internal/clawpanel/entity"
	"github.com/clawpanel/clawpanel/internal/clawpanel/repository"
	"github.com/clawpanel/clawpanel/internal/clawpanel/repository/model"
	"github.com/clawpanel/clawpanel/pkg/apierror"
	"github.com/clawpanel/clawpanel/pkg/idgen"
	"github.com/clawpanel/clawpanel/pkg/provider"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// runningTargets 各平台的"运行中"状态，WaitForState 的部署目标
var runningTargets = map[string]string{
	entity.ProviderFly:     "started",
	entity.ProviderRender:  "live",
	entity.ProviderRailway: "success",
}

// DeploymentOptions 部署编排的可调参数
type DeploymentOptions struct {
	// Image 要部署的网关镜像
	Image string
	// DefaultProvider 请求未指定时使用的平台，默认 fly
	DefaultProvider string
	// Wait 资源状态轮询参数
	Wait provider.WaitOptions
	// DNSPause 分配公网 IP 后等待 DNS 生效的时间，默认 10s
	DNSPause time.Duration
	// WarmupDelay 健康探测前的预热等待，默认 5s
	WarmupDelay time.Duration
}

// DeploymentService 部署编排服务，驱动实例的完整生命周期
type DeploymentService struct {
	instances repository.InstanceRepository
	logs      repository.DeploymentLogRepository
	providers map[string]provider.Client
	idGen     *idgen.Generator
	ports     *PortAllocator
	http      *retryablehttp.Client
	opts      DeploymentOptions
}

// NewDeploymentService 创建部署编排服务
func NewDeploymentService(
	instances repository.InstanceRepository,
	logs repository.DeploymentLogRepository,
	providers map[string]provider.Client,
	opts DeploymentOptions,
) *DeploymentService {
	if opts.DefaultProvider == "" {
		opts.DefaultProvider = entity.ProviderFly
	}
	if opts.DNSPause == 0 {
		opts.DNSPause = 10 * time.Second
	}
	if opts.WarmupDelay == 0 {
		opts.WarmupDelay = 5 * time.Second
	}

	return &DeploymentService{
		instances: instances,
		logs:      logs,
		providers: providers,
		idGen:     idgen.New(),
		ports:     NewPortAllocator(instances),
		http:      provider.NewRetryClient(),
		opts:      opts,
	}
}

// client 取平台客户端
func (s *DeploymentService) client(name string) (provider.Client, error) {
	c, ok := s.providers[name]
	if !ok {
		return nil, apierror.WrapError(apierror.ErrInvalidParameter,
			fmt.Sprintf("Provider %q is not configured", name), nil)
	}
	return c, nil
}

// resourceName 生成平台侧的资源名称，只保留小写字母数字和连字符
func resourceName(userID string) string {
	name := strings.ToLower(userID)
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return '-'
	}, name)
	return "claw-" + strings.Trim(name, "-")
}

// DeployInstance 为用户部署一个新的网关实例
// 已有实例时先做尽力而为的清理再重建；部署中任一步失败都会把实例置为
// ERROR 并写 FAILED 流水，健康探测失败除外（只影响最终状态，不中断返回）
func (s *DeploymentService) DeployInstance(ctx context.Context, req *entity.DeployInstanceRequest) (*entity.Instance, error) {
	logger := zerolog.Ctx(ctx)

	providerName := req.Provider
	if providerName == "" {
		providerName = s.opts.DefaultProvider
	}
	client, err := s.client(providerName)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("user_id", req.UserID).
		Str("provider", providerName).
		Msg("Deploying gateway instance")

	// 1. 清理用户的旧实例（资源删除失败只记日志，不阻断重建）
	s.cleanupPriorInstance(ctx, req.UserID)

	// 2. 分配端口并落库
	port, err := s.ports.Allocate(ctx)
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to allocate gateway port", err)
	}
	instanceID, err := s.idGen.GenerateInstanceID()
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to generate instance ID", err)
	}

	now := time.Now()
	inst := &model.Instance{
		ID:        instanceID,
		UserID:    req.UserID,
		Provider:  providerName,
		Port:      port,
		Status:    entity.StatusDeploying,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.instances.Create(ctx, inst); err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to persist instance", err)
	}
	s.appendLog(ctx, instanceID, entity.ActionDeploy, entity.LogStatusInProgress,
		fmt.Sprintf("Deploying to %s", providerName), "")

	// 3. 翻译配置，生成网关凭证
	token, err := idgen.GenerateGatewayToken()
	if err != nil {
		return nil, s.failDeploy(ctx, inst, "Failed to generate gateway token", err)
	}
	doc, secrets := BuildGatewayConfig(req.Config, port)
	configB64, err := EncodeConfigDoc(doc)
	if err != nil {
		return nil, s.failDeploy(ctx, inst, "Failed to encode gateway config", err)
	}

	env := map[string]string{
		"OPENCLAW_GATEWAY_TOKEN": token,
		"OPENCLAW_CONFIG_B64":    configB64,
	}
	for k, v := range secrets {
		env[k] = v
	}

	// 4. 创建云端资源
	name := resourceName(req.UserID)
	res, err := client.CreateResource(ctx, &provider.CreateResourceRequest{
		Name:         name,
		Image:        s.opts.Image,
		Env:          env,
		Region:       req.Region,
		Plan:         req.Plan,
		StartCommand: GatewayStartCommand(),
		InternalPort: gatewayInternalPort,
	})
	if err != nil {
		return nil, s.failDeploy(ctx, inst, "Failed to create cloud resource", err)
	}

	// 5. 先持久化资源标识，晚于这一步的失败不会留下无主资源
	inst.ContainerID = res.ID
	inst.ContainerName = res.Name
	inst.GatewayToken = token
	inst.ServiceURL = res.URL
	inst.AccessURL = res.URL
	if err := s.instances.Update(ctx, inst); err != nil {
		return nil, s.failDeploy(ctx, inst, "Failed to persist resource identifiers", err)
	}

	// 6. 等待资源进入运行状态
	ref := provider.Ref{ID: res.ID, Name: res.Name}
	if _, err := provider.WaitForState(ctx, client, ref, runningTargets[providerName], s.opts.Wait); err != nil {
		return nil, s.failDeploy(ctx, inst, "Resource did not reach running state", err)
	}

	// Fly 需要显式分配公网 IP，之后等 DNS 生效
	if allocator, ok := client.(provider.IPAllocator); ok {
		if _, err := allocator.AllocateIP(ctx, res.Name); err != nil {
			return nil, s.failDeploy(ctx, inst, "Failed to allocate public IP", err)
		}
		s.sleep(ctx, s.opts.DNSPause)
	}

	// 7. 预热后做健康探测，失败只降级最终状态，不中断部署
	s.sleep(ctx, s.opts.WarmupDelay)
	healthy := s.probeHealth(ctx, inst.AccessURL, token)

	// 8. 写最终状态和流水
	finalStatus := entity.StatusRunning
	logStatus := entity.LogStatusSuccess
	message := "Gateway deployed and healthy"
	if !healthy {
		finalStatus = entity.StatusError
		logStatus = entity.LogStatusPartial
		message = "Gateway deployed but health probe failed"
	}
	inst.Status = finalStatus
	if err := s.instances.Update(ctx, inst); err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to persist final status", err)
	}
	s.appendLog(ctx, inst.ID, entity.ActionDeploy, logStatus, message, "")

	logger.Info().
		Str("instance_id", inst.ID).
		Str("status", finalStatus).
		Str("access_url", inst.AccessURL).
		Msg("Deployment finished")

	return instanceModelToEntity(inst)
}

// cleanupPriorInstance 删除用户的旧实例，云端资源删除失败只记日志
func (s *DeploymentService) cleanupPriorInstance(ctx context.Context, userID string) {
	logger := zerolog.Ctx(ctx)

	prior, err := s.instances.GetByUserID(ctx, userID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warn().Err(err).Str("user_id", userID).Msg("Prior instance lookup failed")
		}
		return
	}

	logger.Info().
		Str("instance_id", prior.ID).
		Str("provider", prior.Provider).
		Msg("Replacing prior instance")

	if client, err := s.client(prior.Provider); err == nil && prior.ContainerName != "" {
		ref := provider.Ref{ID: prior.ContainerID, Name: prior.ContainerName}
		if err := client.DeleteResource(ctx, ref); err != nil {
			logger.Warn().Err(err).
				Str("instance_id", prior.ID).
				Msg("Prior resource cleanup failed, continuing")
		}
	}
	if err := s.instances.HardDelete(ctx, prior.ID); err != nil {
		logger.Warn().Err(err).Str("instance_id", prior.ID).Msg("Prior instance row cleanup failed")
	}
}

// failDeploy 部署失败的统一收尾：状态置 ERROR，写 FAILED 流水，包装错误
func (s *DeploymentService) failDeploy(ctx context.Context, inst *model.Instance, message string, cause error) error {
	logger := zerolog.Ctx(ctx)
	logger.Error().Err(cause).
		Str("instance_id", inst.ID).
		Msg(message)

	if err := s.instances.UpdateStatus(ctx, inst.ID, entity.StatusError); err != nil {
		logger.Warn().Err(err).Str("instance_id", inst.ID).Msg("Failed to mark instance as ERROR")
	}
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	s.appendLog(ctx, inst.ID, entity.ActionDeploy, entity.LogStatusFailed, message, detail)

	var apiErr *apierror.Error
	if errors.As(cause, &apiErr) {
		return apiErr
	}
	var timeoutErr *provider.WaitTimeoutError
	if errors.As(cause, &timeoutErr) {
		return apierror.WrapError(apierror.ErrWaitTimeout, message, cause)
	}
	var terminalErr *provider.TerminalStateError
	if errors.As(cause, &terminalErr) {
		return apierror.WrapError(apierror.ErrResourceFailed, message, cause)
	}
	var providerErr *provider.APIError
	if errors.As(cause, &providerErr) {
		return apierror.WrapError(apierror.ErrProviderAPI, message, cause)
	}
	return apierror.WrapError(apierror.ErrInternalError, message, cause)
}

// probeHealth 带网关凭证访问 /health，2xx 视为健康
func (s *DeploymentService) probeHealth(ctx context.Context, accessURL, token string) bool {
	logger := zerolog.Ctx(ctx)

	req, err := retryablehttp.NewRequest(http.MethodGet, strings.TrimSuffix(accessURL, "/")+"/health", nil)
	if err != nil {
		return false
	}
	req = req.WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.http.Do(req)
	if err != nil {
		logger.Warn().Err(err).Str("access_url", accessURL).Msg("Health probe failed")
		return false
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= 200 && resp.StatusCode <= 299
	if !healthy {
		logger.Warn().
			Int("status_code", resp.StatusCode).
			Str("access_url", accessURL).
			Msg("Health probe returned non-2xx")
	}
	return healthy
}

// sleep 可被 context 打断的等待
func (s *DeploymentService) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// appendLog 追加部署流水，流水表写失败不影响主流程
func (s *DeploymentService) appendLog(ctx context.Context, instanceID, action, status, message, errorDetail string) {
	err := s.logs.Append(ctx, &model.DeploymentLog{
		InstanceID:  instanceID,
		Action:      action,
		Status:      status,
		Message:     message,
		ErrorDetail: errorDetail,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("instance_id", instanceID).
			Str("action", action).
			Msg("Failed to append deployment log")
	}
}

// getInstance 查实例，查不到映射为 ErrInstanceNotFound
func (s *DeploymentService) getInstance(ctx context.Context, instanceID string) (*model.Instance, error) {
	inst, err := s.instances.GetByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierror.WrapError(apierror.ErrInstanceNotFound, "Instance "+instanceID+" not found", err)
		}
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to load instance", err)
	}
	return inst, nil
}

// requireIdentifiers 生命周期操作要求平台资源标识齐全，缺失时直接失败且不改状态
func requireIdentifiers(inst *model.Instance) error {
	if inst.ContainerID == "" || inst.ContainerName == "" {
		return apierror.WrapError(apierror.ErrMissingIdentifiers,
			"Instance "+inst.ID+" has no provider identifiers", nil)
	}
	return nil
}

// lifecycleAction 启停/重启的公共路径
func (s *DeploymentService) lifecycleAction(
	ctx context.Context,
	instanceID string,
	action string,
	targetStatus string,
	invoke func(context.Context, provider.Client, provider.Ref) error,
) (*entity.InstanceActionResponse, error) {
	logger := zerolog.Ctx(ctx)

	inst, err := s.getInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if err := requireIdentifiers(inst); err != nil {
		return nil, err
	}
	client, err := s.client(inst.Provider)
	if err != nil {
		return nil, err
	}

	previous := inst.Status
	logger.Info().
		Str("instance_id", instanceID).
		Str("action", action).
		Str("previous_status", previous).
		Msg("Instance lifecycle action")

	// 重启先落中间状态，宕机后还能看出卡在哪一步
	if action == entity.ActionRestart {
		if err := s.instances.UpdateStatus(ctx, instanceID, entity.StatusRestarting); err != nil {
			return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to mark instance as RESTARTING", err)
		}
	}

	ref := provider.Ref{ID: inst.ContainerID, Name: inst.ContainerName}
	if err := invoke(ctx, client, ref); err != nil {
		s.appendLog(ctx, instanceID, action, entity.LogStatusFailed, "Provider call failed", err.Error())
		return nil, apierror.WrapError(apierror.ErrProviderAPI,
			fmt.Sprintf("Failed to %s instance", strings.ToLower(action)), err)
	}

	if err := s.instances.UpdateStatus(ctx, instanceID, targetStatus); err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to persist instance status", err)
	}
	s.appendLog(ctx, instanceID, action, entity.LogStatusSuccess, "", "")

	return &entity.InstanceActionResponse{
		InstanceID:    instanceID,
		CurrentState:  targetStatus,
		PreviousState: previous,
	}, nil
}

// StopInstance 停止实例
func (s *DeploymentService) StopInstance(ctx context.Context, instanceID string) (*entity.InstanceActionResponse, error) {
	return s.lifecycleAction(ctx, instanceID, entity.ActionStop, entity.StatusStopped,
		func(ctx context.Context, c provider.Client, ref provider.Ref) error {
			return c.StopResource(ctx, ref)
		})
}

// StartInstance 启动已停止的实例
func (s *DeploymentService) StartInstance(ctx context.Context, instanceID string) (*entity.InstanceActionResponse, error) {
	return s.lifecycleAction(ctx, instanceID, entity.ActionStart, entity.StatusRunning,
		func(ctx context.Context, c provider.Client, ref provider.Ref) error {
			return c.StartResource(ctx, ref)
		})
}

// RestartInstance 重启实例
func (s *DeploymentService) RestartInstance(ctx context.Context, instanceID string) (*entity.InstanceActionResponse, error) {
	return s.lifecycleAction(ctx, instanceID, entity.ActionRestart, entity.StatusRunning,
		func(ctx context.Context, c provider.Client, ref provider.Ref) error {
			return c.RestartResource(ctx, ref)
		})
}

// DeleteInstance 销毁实例：删云端资源、软删库里的行
func (s *DeploymentService) DeleteInstance(ctx context.Context, instanceID string) (*entity.DeleteInstanceResponse, error) {
	logger := zerolog.Ctx(ctx)

	inst, err := s.getInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if inst.ContainerName != "" {
		client, err := s.client(inst.Provider)
		if err != nil {
			return nil, err
		}
		ref := provider.Ref{ID: inst.ContainerID, Name: inst.ContainerName}
		if err := client.DeleteResource(ctx, ref); err != nil {
			s.appendLog(ctx, instanceID, entity.ActionDelete, entity.LogStatusFailed, "Provider delete failed", err.Error())
			return nil, apierror.WrapError(apierror.ErrProviderAPI, "Failed to delete cloud resource", err)
		}
	}

	if err := s.instances.Delete(ctx, instanceID); err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to delete instance row", err)
	}
	s.appendLog(ctx, instanceID, entity.ActionDelete, entity.LogStatusSuccess, "", "")

	logger.Info().Str("instance_id", instanceID).Msg("Instance deleted")
	return &entity.DeleteInstanceResponse{InstanceID: instanceID, Deleted: true}, nil
}

// CheckInstanceHealth 查询平台侧资源状态并回写实例
// 任何错误都按不健康处理，不向上传播
func (s *DeploymentService) CheckInstanceHealth(ctx context.Context, instanceID string) (*entity.InstanceHealthResponse, error) {
	logger := zerolog.Ctx(ctx)

	inst, err := s.getInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	healthy := false
	status := inst.Status
	if inst.ContainerID != "" && inst.ContainerName != "" {
		if client, err := s.client(inst.Provider); err == nil {
			ref := provider.Ref{ID: inst.ContainerID, Name: inst.ContainerName}
			res, err := client.GetResource(ctx, ref)
			if err != nil {
				logger.Warn().Err(err).Str("instance_id", instanceID).Msg("Provider state fetch failed")
			} else {
				state := strings.ToLower(res.State)
				switch {
				case state == runningTargets[inst.Provider]:
					healthy = true
					status = entity.StatusRunning
				case state == "stopped" || state == "suspended":
					status = entity.StatusStopped
				case provider.IsTerminalState(state):
					status = entity.StatusError
				}
			}
		}
	}

	now := time.Now()
	if err := s.instances.TouchHealthCheck(ctx, instanceID, now); err != nil {
		logger.Warn().Err(err).Str("instance_id", instanceID).Msg("Failed to record health check time")
	}
	if status != inst.Status {
		if err := s.instances.UpdateStatus(ctx, instanceID, status); err != nil {
			logger.Warn().Err(err).Str("instance_id", instanceID).Msg("Failed to persist health status")
		}
	}

	return &entity.InstanceHealthResponse{
		InstanceID: instanceID,
		Healthy:    healthy,
		Status:     status,
		CheckedAt:  &now,
	}, nil
}

// GetInstanceLogs 拉取实例日志，没有日志 API 的平台返回指向控制台的提示
func (s *DeploymentService) GetInstanceLogs(ctx context.Context, instanceID string, tail int) (*entity.InstanceLogsResponse, error) {
	inst, err := s.getInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if err := requireIdentifiers(inst); err != nil {
		return nil, err
	}
	client, err := s.client(inst.Provider)
	if err != nil {
		return nil, err
	}

	logs, err := client.GetLogs(ctx, provider.Ref{ID: inst.ContainerID, Name: inst.ContainerName}, tail)
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrProviderAPI, "Failed to fetch instance logs", err)
	}
	return &entity.InstanceLogsResponse{InstanceID: instanceID, Logs: logs}, nil
}

// GetInstance 查询单个实例
func (s *DeploymentService) GetInstance(ctx context.Context, instanceID string) (*entity.Instance, error) {
	inst, err := s.getInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return instanceModelToEntity(inst)
}

// ListInstances 列出实例，userID 非空时按用户过滤
func (s *DeploymentService) ListInstances(ctx context.Context, userID string) ([]entity.Instance, error) {
	filters := map[string]interface{}{}
	if userID != "" {
		filters["user_id"] = userID
	}
	models, err := s.instances.List(ctx, filters)
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to list instances", err)
	}

	out := make([]entity.Instance, 0, len(models))
	for _, m := range models {
		e, err := instanceModelToEntity(m)
		if err != nil {
			return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to convert instance", err)
		}
		out = append(out, *e)
	}
	return out, nil
}

// ListDeploymentLogs 查询实例的部署流水
func (s *DeploymentService) ListDeploymentLogs(ctx context.Context, instanceID string) ([]entity.DeploymentLog, error) {
	if _, err := s.getInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	models, err := s.logs.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to list deployment logs", err)
	}

	out := make([]entity.DeploymentLog, 0, len(models))
	for _, m := range models {
		e, err := logModelToEntity(m)
		if err != nil {
			return nil, apierror.WrapError(apierror.ErrInternalError, "Failed to convert deployment log", err)
		}
		out = append(out, *e)
	}
	return out, nil
}
