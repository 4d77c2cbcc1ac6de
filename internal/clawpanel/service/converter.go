// Package service 提供业务逻辑层的服务实现
// 包括 Deployment Service（部署编排）和 Gateway Service（网关命令代理）
package service

import (
	"github.com/clawpanel/clawpanel/internal/clawpanel/entity"
	"github.com/clawpanel/clawpanel/internal/clawpanel/repository/model"
	"github.com/clawpanel/clawpanel/pkg/openclaw"
	"github.com/jinzhu/copier"
)

// instanceModelToEntity 将 model.Instance 转换为 entity.Instance
func instanceModelToEntity(m *model.Instance) (*entity.Instance, error) {
	e := &entity.Instance{}
	if err := copier.Copy(e, m); err != nil {
		return nil, err
	}
	return e, nil
}

// logModelToEntity 将 model.DeploymentLog 转换为 entity.DeploymentLog
func logModelToEntity(m *model.DeploymentLog) (*entity.DeploymentLog, error) {
	e := &entity.DeploymentLog{}
	if err := copier.Copy(e, m); err != nil {
		return nil, err
	}
	return e, nil
}

// pendingDevicesToEntity 将命令代理的设备列表转换为业务实体
func pendingDevicesToEntity(devices []openclaw.PendingDevice) []entity.PendingDevice {
	out := make([]entity.PendingDevice, 0, len(devices))
	for _, d := range devices {
		e := entity.PendingDevice{}
		if err := copier.Copy(&e, &d); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out
}

// healthToEntity 将命令代理的健康状态转换为业务实体
func healthToEntity(h *openclaw.HealthStatus) *entity.HealthReport {
	if h == nil {
		return nil
	}
	return &entity.HealthReport{
		Status:  h.Status,
		Detail:  h.Detail,
		Healthy: h.Status == "healthy" || h.Status == "ok",
	}
}

// doctorToEntity 将命令代理的诊断报告转换为业务实体
func doctorToEntity(d *openclaw.DoctorReport) *entity.DoctorReport {
	if d == nil {
		return nil
	}
	e := &entity.DoctorReport{}
	if err := copier.Copy(e, d); err != nil {
		return nil
	}
	return e
}

// channelsToEntity 将命令代理的渠道状态转换为业务实体
func channelsToEntity(channels []openclaw.ChannelStatus) []entity.ChannelStatus {
	out := make([]entity.ChannelStatus, 0, len(channels))
	for _, c := range channels {
		out = append(out, entity.ChannelStatus{
			Name:      c.Name,
			Status:    c.Status,
			Connected: c.Status == "connected",
		})
	}
	return out
}
