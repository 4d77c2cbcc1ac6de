package api

import (
	"context"
	"strings"

	"github.com/clawpanel/clawpanel/internal/clawpanel/entity"
	"github.com/clawpanel/clawpanel/internal/clawpanel/service"
	"github.com/clawpanel/clawpanel/pkg/apierror"
	"github.com/clawpanel/clawpanel/pkg/ginx"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// GatewayServiceInterface 定义网关命令代理服务的接口
type GatewayServiceInterface interface {
	Available() bool
	Status(ctx context.Context, instanceID string) (*entity.GatewayStatusResponse, error)
	ListPendingDevices(ctx context.Context, instanceID string) (*entity.ListPendingDevicesResponse, error)
	ApproveDevice(ctx context.Context, instanceID, requestID string) (*entity.ApproveDeviceResponse, error)
	WhatsAppQR(ctx context.Context, instanceID string) (*entity.WhatsAppQRResponse, error)
	RunDoctor(ctx context.Context, instanceID string) (*entity.DoctorReport, error)
	GatewayHealth(ctx context.Context, instanceID string) (*entity.HealthReport, error)
	ListChannels(ctx context.Context, instanceID string) ([]entity.ChannelStatus, error)
	ExecuteCommand(ctx context.Context, instanceID, command string) (*entity.ExecuteCommandResponse, error)
}

// allowedCommandPrefixes execute 动作的命令前缀白名单
var allowedCommandPrefixes = []string{
	"devices list",
	"devices approve",
	"channels status",
	"health",
	"doctor",
	"status",
}

// commandAllowed 命令是否命中白名单前缀
func commandAllowed(command string) bool {
	trimmed := strings.TrimSpace(command)
	for _, prefix := range allowedCommandPrefixes {
		if trimmed == prefix || strings.HasPrefix(trimmed, prefix+" ") {
			return true
		}
	}
	return false
}

// Gateway 网关命令代理的 HTTP handler
type Gateway struct {
	gatewayService GatewayServiceInterface
}

// NewGateway 创建网关 handler
func NewGateway(gatewayService *service.GatewayService) *Gateway {
	return &Gateway{
		gatewayService: gatewayService,
	}
}

// RegisterRoutes 注册网关路由
func (g *Gateway) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/gateway", ginx.Adapt5(g.GatewayStatus))
	router.POST("/gateway", ginx.Adapt5(g.GatewayAction))
}

// GatewayStatus 聚合查询网关状态
// 各子项独立降级，整体永远 200
func (g *Gateway) GatewayStatus(ctx *gin.Context, req *entity.GatewayStatusRequest) (*entity.GatewayStatusResponse, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("instance_id", req.InstanceID).
		Msg("GatewayStatus called")

	resp, err := g.gatewayService.Status(ctx, req.InstanceID)
	if err != nil {
		logger.Error().
			Err(err).
			Msg("Failed to fetch gateway status")
		return nil, err
	}
	return resp, nil
}

// GatewayAction 网关操作的统一分发入口
func (g *Gateway) GatewayAction(ctx *gin.Context, req *entity.GatewayActionRequest) (any, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Str("instance_id", req.InstanceID).
		Str("action", req.Action).
		Msg("GatewayAction called")

	switch req.Action {
	case "list-devices":
		return g.gatewayService.ListPendingDevices(ctx, req.InstanceID)
	case "approve-device":
		if req.RequestID == "" {
			return nil, apierror.WrapError(apierror.ErrInvalidParameter,
				"approve-device requires request_id", nil)
		}
		return g.gatewayService.ApproveDevice(ctx, req.InstanceID, req.RequestID)
	case "get-whatsapp-qr":
		return g.gatewayService.WhatsAppQR(ctx, req.InstanceID)
	case "run-doctor":
		return g.gatewayService.RunDoctor(ctx, req.InstanceID)
	case "check-health":
		return g.gatewayService.GatewayHealth(ctx, req.InstanceID)
	case "list-channels":
		return g.gatewayService.ListChannels(ctx, req.InstanceID)
	case "execute":
		if req.Command == "" {
			return nil, apierror.WrapError(apierror.ErrInvalidParameter,
				"execute requires command", nil)
		}
		if !commandAllowed(req.Command) {
			logger.Warn().
				Str("command", req.Command).
				Msg("Command rejected by allow list")
			return nil, apierror.WrapError(apierror.ErrCommandRejected,
				"Command "+req.Command+" is not allowed", nil)
		}
		return g.gatewayService.ExecuteCommand(ctx, req.InstanceID, req.Command)
	default:
		return nil, apierror.WrapError(apierror.ErrInvalidParameter,
			"Unknown action "+req.Action, nil)
	}
}
