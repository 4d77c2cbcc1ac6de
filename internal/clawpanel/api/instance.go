package api

import (
	"context"

	"github.com/clawpanel/clawpanel/internal/clawpanel/entity"
	"github.com/clawpanel/clawpanel/internal/clawpanel/service"
	"github.com/clawpanel/clawpanel/pkg/ginx"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// DeploymentServiceInterface 定义部署服务的接口
type DeploymentServiceInterface interface {
	DeployInstance(ctx context.Context, req *entity.DeployInstanceRequest) (*entity.Instance, error)
	StopInstance(ctx context.Context, instanceID string) (*entity.InstanceActionResponse, error)
	StartInstance(ctx context.Context, instanceID string) (*entity.InstanceActionResponse, error)
	RestartInstance(ctx context.Context, instanceID string) (*entity.InstanceActionResponse, error)
	DeleteInstance(ctx context.Context, instanceID string) (*entity.DeleteInstanceResponse, error)
	CheckInstanceHealth(ctx context.Context, instanceID string) (*entity.InstanceHealthResponse, error)
	GetInstanceLogs(ctx context.Context, instanceID string, tail int) (*entity.InstanceLogsResponse, error)
	GetInstance(ctx context.Context, instanceID string) (*entity.Instance, error)
	ListInstances(ctx context.Context, userID string) ([]entity.Instance, error)
	ListDeploymentLogs(ctx context.Context, instanceID string) ([]entity.DeploymentLog, error)
}

// Instance 实例相关的 HTTP handler
type Instance struct {
	deploymentService DeploymentServiceInterface
}

// NewInstance 创建实例 handler
func NewInstance(deploymentService *service.DeploymentService) *Instance {
	return &Instance{
		deploymentService: deploymentService,
	}
}

// RegisterRoutes 注册实例路由
func (i *Instance) RegisterRoutes(router *gin.RouterGroup) {
	instanceRouter := router.Group("/instances")
	instanceRouter.POST("/deploy", ginx.Adapt5(i.DeployInstance))
	instanceRouter.POST("/stop", ginx.Adapt5(i.StopInstance))
	instanceRouter.POST("/start", ginx.Adapt5(i.StartInstance))
	instanceRouter.POST("/restart", ginx.Adapt5(i.RestartInstance))
	instanceRouter.POST("/delete", ginx.Adapt5(i.DeleteInstance))
	instanceRouter.POST("/logs", ginx.Adapt5(i.InstanceLogs))
	instanceRouter.POST("/health", ginx.Adapt5(i.InstanceHealth))
	instanceRouter.GET("", ginx.Adapt5(i.ListInstances))
	instanceRouter.GET("/:id", ginx.Adapt5(i.GetInstance))
	instanceRouter.GET("/:id/deployment-logs", ginx.Adapt5(i.ListDeploymentLogs))
}

// DeployInstance 部署实例
func (i *Instance) DeployInstance(ctx *gin.Context, req *entity.DeployInstanceRequest) (*entity.DeployInstanceResponse, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("user_id", req.UserID).
		Str("provider", req.Provider).
		Msg("DeployInstance called")

	instance, err := i.deploymentService.DeployInstance(ctx, req)
	if err != nil {
		logger.Error().
			Err(err).
			Msg("Failed to deploy instance")
		return nil, err
	}

	logger.Info().
		Str("instance_id", instance.ID).
		Str("status", instance.Status).
		Msg("Instance deployed")

	return &entity.DeployInstanceResponse{Instance: instance}, nil
}

// StopInstance 停止实例
func (i *Instance) StopInstance(ctx *gin.Context, req *entity.InstanceActionRequest) (*entity.InstanceActionResponse, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("instance_id", req.InstanceID).
		Msg("StopInstance called")

	resp, err := i.deploymentService.StopInstance(ctx, req.InstanceID)
	if err != nil {
		logger.Error().
			Err(err).
			Msg("Failed to stop instance")
		return nil, err
	}
	return resp, nil
}

// StartInstance 启动实例
func (i *Instance) StartInstance(ctx *gin.Context, req *entity.InstanceActionRequest) (*entity.InstanceActionResponse, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("instance_id", req.InstanceID).
		Msg("StartInstance called")

	resp, err := i.deploymentService.StartInstance(ctx, req.InstanceID)
	if err != nil {
		logger.Error().
			Err(err).
			Msg("Failed to start instance")
		return nil, err
	}
	return resp, nil
}

// RestartInstance 重启实例
func (i *Instance) RestartInstance(ctx *gin.Context, req *entity.InstanceActionRequest) (*entity.InstanceActionResponse, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("instance_id", req.InstanceID).
		Msg("RestartInstance called")

	resp, err := i.deploymentService.RestartInstance(ctx, req.InstanceID)
	if err != nil {
		logger.Error().
			Err(err).
			Msg("Failed to restart instance")
		return nil, err
	}
	return resp, nil
}

// DeleteInstance 销毁实例
func (i *Instance) DeleteInstance(ctx *gin.Context, req *entity.DeleteInstanceRequest) (*entity.DeleteInstanceResponse, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("instance_id", req.InstanceID).
		Msg("DeleteInstance called")

	resp, err := i.deploymentService.DeleteInstance(ctx, req.InstanceID)
	if err != nil {
		logger.Error().
			Err(err).
			Msg("Failed to delete instance")
		return nil, err
	}
	return resp, nil
}

// InstanceLogs 拉取实例日志
func (i *Instance) InstanceLogs(ctx *gin.Context, req *entity.InstanceLogsRequest) (*entity.InstanceLogsResponse, error) {
	resp, err := i.deploymentService.GetInstanceLogs(ctx, req.InstanceID, req.Tail)
	if err != nil {
		zerolog.Ctx(ctx).Error().
			Err(err).
			Str("instance_id", req.InstanceID).
			Msg("Failed to fetch instance logs")
		return nil, err
	}
	return resp, nil
}

// InstanceHealth 实例健康检查
func (i *Instance) InstanceHealth(ctx *gin.Context, req *entity.InstanceHealthRequest) (*entity.InstanceHealthResponse, error) {
	resp, err := i.deploymentService.CheckInstanceHealth(ctx, req.InstanceID)
	if err != nil {
		zerolog.Ctx(ctx).Error().
			Err(err).
			Str("instance_id", req.InstanceID).
			Msg("Failed to check instance health")
		return nil, err
	}
	return resp, nil
}

// GetInstance 查询单个实例
func (i *Instance) GetInstance(ctx *gin.Context, req *entity.GetInstanceRequest) (*entity.GetInstanceResponse, error) {
	instance, err := i.deploymentService.GetInstance(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	return &entity.GetInstanceResponse{Instance: instance}, nil
}

// ListInstances 列出实例
func (i *Instance) ListInstances(ctx *gin.Context, req *entity.ListInstancesRequest) (*entity.ListInstancesResponse, error) {
	instances, err := i.deploymentService.ListInstances(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	return &entity.ListInstancesResponse{Instances: instances}, nil
}

// ListDeploymentLogs 查询实例的部署流水
func (i *Instance) ListDeploymentLogs(ctx *gin.Context, req *entity.ListDeploymentLogsRequest) (*entity.ListDeploymentLogsResponse, error) {
	logs, err := i.deploymentService.ListDeploymentLogs(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	return &entity.ListDeploymentLogsResponse{Logs: logs}, nil
}
