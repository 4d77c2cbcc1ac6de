package repository

import (
	"context"

	"github.com/clawpanel/clawpanel/internal/clawpanel/repository/model"
	"gorm.io/gorm"
)

// DeploymentLogRepository 部署流水仓库接口，只追加
type DeploymentLogRepository interface {
	Append(ctx context.Context, log *model.DeploymentLog) error
	ListByInstance(ctx context.Context, instanceID string) ([]*model.DeploymentLog, error)
}

type deploymentLogRepository struct {
	db *gorm.DB
}

// NewDeploymentLogRepository 创建部署流水仓库
func NewDeploymentLogRepository(db *gorm.DB) DeploymentLogRepository {
	return &deploymentLogRepository{db: db}
}

// Append 追加一条部署流水
func (r *deploymentLogRepository) Append(ctx context.Context, log *model.DeploymentLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// ListByInstance 按时间倒序返回实例的部署流水
func (r *deploymentLogRepository) ListByInstance(ctx context.Context, instanceID string) ([]*model.DeploymentLog, error) {
	var logs []*model.DeploymentLog
	if err := r.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Order("created_at DESC, id DESC").
		Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
