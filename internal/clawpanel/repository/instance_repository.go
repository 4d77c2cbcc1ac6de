package repository

import (
	"context"
	"time"

	"github.com/clawpanel/clawpanel/internal/clawpanel/repository/model"
	"gorm.io/gorm"
)

// InstanceRepository 实例仓库接口
type InstanceRepository interface {
	Create(ctx context.Context, instance *model.Instance) error
	GetByID(ctx context.Context, id string) (*model.Instance, error)
	GetByUserID(ctx context.Context, userID string) (*model.Instance, error)
	List(ctx context.Context, filters map[string]interface{}) ([]*model.Instance, error)
	Update(ctx context.Context, instance *model.Instance) error
	UpdateStatus(ctx context.Context, id string, status string) error
	TouchHealthCheck(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	HardDelete(ctx context.Context, id string) error
}

type instanceRepository struct {
	db *gorm.DB
}

// NewInstanceRepository 创建实例仓库
func NewInstanceRepository(db *gorm.DB) InstanceRepository {
	return &instanceRepository{db: db}
}

// Create 创建实例
func (r *instanceRepository) Create(ctx context.Context, instance *model.Instance) error {
	return r.db.WithContext(ctx).Create(instance).Error
}

// GetByID 根据 ID 获取实例（自动过滤已删除）
func (r *instanceRepository) GetByID(ctx context.Context, id string) (*model.Instance, error) {
	var instance model.Instance
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&instance).Error; err != nil {
		return nil, err
	}
	return &instance, nil
}

// GetByUserID 获取用户的活跃实例
func (r *instanceRepository) GetByUserID(ctx context.Context, userID string) (*model.Instance, error) {
	var instance model.Instance
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&instance).Error; err != nil {
		return nil, err
	}
	return &instance, nil
}

// List 列出实例
func (r *instanceRepository) List(ctx context.Context, filters map[string]interface{}) ([]*model.Instance, error) {
	var instances []*model.Instance
	query := r.db.WithContext(ctx).Model(&model.Instance{})

	if userID, ok := filters["user_id"]; ok {
		query = query.Where("user_id = ?", userID)
	}
	if status, ok := filters["status"]; ok {
		query = query.Where("status = ?", status)
	}
	if provider, ok := filters["provider"]; ok {
		query = query.Where("provider = ?", provider)
	}

	if err := query.Order("created_at DESC").Find(&instances).Error; err != nil {
		return nil, err
	}
	return instances, nil
}

// Update 更新实例
func (r *instanceRepository) Update(ctx context.Context, instance *model.Instance) error {
	return r.db.WithContext(ctx).Save(instance).Error
}

// UpdateStatus 只更新实例状态
func (r *instanceRepository) UpdateStatus(ctx context.Context, id string, status string) error {
	return r.db.WithContext(ctx).
		Model(&model.Instance{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// TouchHealthCheck 记录最近一次健康检查时间
func (r *instanceRepository) TouchHealthCheck(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Instance{}).
		Where("id = ?", id).
		Update("last_health_check", at).Error
}

// Delete 软删除实例，释放 user_id 的唯一约束
func (r *instanceRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Instance{}).Error
}

// HardDelete 物理删除实例
func (r *instanceRepository) HardDelete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Unscoped().Where("id = ?", id).Delete(&model.Instance{}).Error
}
