package service

import (
	"context"
	"errors"

	"github.com/clawpanel/clawpanel/internal/clawpanel/entity"
	"github.com/clawpanel/clawpanel/internal/clawpanel/repository"
	"github.com/clawpanel/clawpanel/pkg/apierror"
	"github.com/clawpanel/clawpanel/pkg/openclaw"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// CommandProxy 网关命令通道，生产实现是 *openclaw.Proxy
type CommandProxy interface {
	ListPendingDevices(ctx context.Context, appName string) ([]openclaw.PendingDevice, error)
	ApproveDevice(ctx context.Context, appName, requestID string) (bool, string, error)
	WhatsAppQR(ctx context.Context, appName string) (string, error)
	RunDoctor(ctx context.Context, appName string) *openclaw.DoctorReport
	GatewayHealth(ctx context.Context, appName string) *openclaw.HealthStatus
	ListChannels(ctx context.Context, appName string) []openclaw.ChannelStatus
	ExecuteCommand(ctx context.Context, appName, command string) (*openclaw.ExecResult, error)
}

// GatewayService 网关命令代理服务
// 通过 fly CLI 在容器内执行 openclaw 子命令，只支持部署在 Fly 上的实例
type GatewayService struct {
	instances repository.InstanceRepository
	proxy     CommandProxy // nil 表示宿主机上没有 fly CLI
}

// NewGatewayService 创建网关命令代理服务
func NewGatewayService(instances repository.InstanceRepository, proxy CommandProxy) *GatewayService {
	return &GatewayService{
		instances: instances,
		proxy:     proxy,
	}
}

// Available 命令代理通道是否可用
func (s *GatewayService) Available() bool {
	return s.proxy != nil
}

// resolveApp 解析实例对应的 fly app 名称
func (s *GatewayService) resolveApp(ctx context.Context, instanceID string) (string, error) {
	if s.proxy == nil {
		return "", apierror.WrapError(apierror.ErrCommandFailed,
			"The fly CLI is not installed on this host; gateway commands are unavailable", nil)
	}

	inst, err := s.instances.GetByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", apierror.WrapError(apierror.ErrInstanceNotFound, "Instance "+instanceID+" not found", err)
		}
		return "", apierror.WrapError(apierror.ErrInternalError, "Failed to load instance", err)
	}
	if inst.Provider != entity.ProviderFly {
		return "", apierror.WrapError(apierror.ErrCommandFailed,
			"Gateway commands require a Fly-deployed instance; this instance runs on "+inst.Provider, nil)
	}
	if inst.ContainerName == "" {
		return "", apierror.WrapError(apierror.ErrMissingIdentifiers,
			"Instance "+instanceID+" has no provider identifiers", nil)
	}
	return inst.ContainerName, nil
}

// Status 聚合采集网关状态
// 各子项独立失败：单项采集不到置 nil/空并清掉对应的 OK 标记，整体仍返回成功
func (s *GatewayService) Status(ctx context.Context, instanceID string) (*entity.GatewayStatusResponse, error) {
	logger := zerolog.Ctx(ctx)

	resp := &entity.GatewayStatusResponse{InstanceID: instanceID}

	appName, err := s.resolveApp(ctx, instanceID)
	if err != nil {
		// 实例不存在照常报错，其余的降级为不可达
		if errors.Is(err, apierror.ErrInstanceNotFound) {
			return nil, err
		}
		logger.Warn().Err(err).Str("instance_id", instanceID).Msg("Gateway channel unavailable")
		return resp, nil
	}
	resp.Reachable = true

	if health := s.proxy.GatewayHealth(ctx, appName); health != nil {
		resp.Health = healthToEntity(health)
		resp.HealthOK = health.Status != "unknown"
	}
	if doctor := s.proxy.RunDoctor(ctx, appName); doctor != nil {
		resp.Doctor = doctorToEntity(doctor)
		resp.DoctorOK = resp.Doctor != nil
	}
	channels := s.proxy.ListChannels(ctx, appName)
	resp.Channels = channelsToEntity(channels)
	resp.ChannelsOK = len(channels) > 0

	if devices, err := s.proxy.ListPendingDevices(ctx, appName); err != nil {
		logger.Warn().Err(err).Str("instance_id", instanceID).Msg("Failed to collect pending devices")
	} else {
		resp.PendingDevices = pendingDevicesToEntity(devices)
		resp.DevicesOK = true
	}

	return resp, nil
}

// ListPendingDevices 列出等待审批的设备配对请求
func (s *GatewayService) ListPendingDevices(ctx context.Context, instanceID string) (*entity.ListPendingDevicesResponse, error) {
	appName, err := s.resolveApp(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	devices, err := s.proxy.ListPendingDevices(ctx, appName)
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrCommandFailed, "Failed to list pending devices", err)
	}
	return &entity.ListPendingDevicesResponse{
		InstanceID: instanceID,
		Devices:    pendingDevicesToEntity(devices),
	}, nil
}

// ApproveDevice 审批一个设备配对请求
func (s *GatewayService) ApproveDevice(ctx context.Context, instanceID, requestID string) (*entity.ApproveDeviceResponse, error) {
	appName, err := s.resolveApp(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	approved, output, err := s.proxy.ApproveDevice(ctx, appName, requestID)
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrCommandFailed, "Failed to approve device", err)
	}
	return &entity.ApproveDeviceResponse{
		InstanceID: instanceID,
		RequestID:  requestID,
		Approved:   approved,
		Output:     output,
	}, nil
}

// WhatsAppQR 从网关日志提取 WhatsApp 配对二维码
// 没有二维码时 Found 为 false，不算错误
func (s *GatewayService) WhatsAppQR(ctx context.Context, instanceID string) (*entity.WhatsAppQRResponse, error) {
	appName, err := s.resolveApp(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	qr, err := s.proxy.WhatsAppQR(ctx, appName)
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrCommandFailed, "Failed to fetch gateway logs", err)
	}
	return &entity.WhatsAppQRResponse{
		InstanceID: instanceID,
		QRCode:     qr,
		Found:      qr != "",
	}, nil
}

// RunDoctor 执行网关自诊断
func (s *GatewayService) RunDoctor(ctx context.Context, instanceID string) (*entity.DoctorReport, error) {
	appName, err := s.resolveApp(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return doctorToEntity(s.proxy.RunDoctor(ctx, appName)), nil
}

// GatewayHealth 查询网关自身的健康状态
func (s *GatewayService) GatewayHealth(ctx context.Context, instanceID string) (*entity.HealthReport, error) {
	appName, err := s.resolveApp(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return healthToEntity(s.proxy.GatewayHealth(ctx, appName)), nil
}

// ListChannels 列出消息渠道的连接状态
func (s *GatewayService) ListChannels(ctx context.Context, instanceID string) ([]entity.ChannelStatus, error) {
	appName, err := s.resolveApp(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return channelsToEntity(s.proxy.ListChannels(ctx, appName)), nil
}

// ExecuteCommand 透传一条 openclaw 子命令
// 命令前缀白名单由 HTTP 层校验，这里只做元字符剥离和执行
func (s *GatewayService) ExecuteCommand(ctx context.Context, instanceID, command string) (*entity.ExecuteCommandResponse, error) {
	appName, err := s.resolveApp(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	result, err := s.proxy.ExecuteCommand(ctx, appName, command)
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrCommandFailed, "Gateway command failed", err)
	}
	return &entity.ExecuteCommandResponse{
		InstanceID: instanceID,
		Command:    openclaw.SanitizeCommand(command),
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
	}, nil
}
