package model

import (
	"time"

	"gorm.io/gorm"
)

// Instance 实例表
// user_id 上的部分唯一索引保证一个用户同时只有一个活跃实例（见 repository.createIndexes）
type Instance struct {
	ID              string         `gorm:"primaryKey;type:text;column:id" json:"id"` // inst-{n}
	UserID          string         `gorm:"type:text;not null;index:idx_instances_user_id;column:user_id" json:"user_id"`
	Provider        string         `gorm:"type:text;not null;column:provider" json:"provider"`                        // fly, render, railway
	ContainerID     string         `gorm:"type:text;column:container_id" json:"container_id"`                         // 平台侧资源 ID
	ContainerName   string         `gorm:"type:text;column:container_name" json:"container_name"`                     // 平台侧资源名称
	Port            int            `gorm:"type:integer;not null;column:port" json:"port"`                             // 分配的网关端口
	Status          string         `gorm:"type:text;not null;index:idx_instances_status;column:status" json:"status"` // DEPLOYING, RUNNING, STOPPED, ERROR, RESTARTING
	AccessURL       string         `gorm:"type:text;column:access_url" json:"access_url"`
	ServiceURL      string         `gorm:"type:text;column:service_url" json:"service_url"`
	GatewayToken    string         `gorm:"type:text;column:gateway_token" json:"-"` // 网关 API token，响应中不输出
	LastHealthCheck *time.Time     `gorm:"type:datetime;column:last_health_check" json:"last_health_check,omitempty"`
	CreatedAt       time.Time      `gorm:"type:datetime;not null;index:idx_instances_created_at;column:created_at" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"type:datetime;not null;column:updated_at" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"type:datetime;index:idx_instances_deleted_at;column:deleted_at" json:"deleted_at,omitempty"` // 软删除
}

// TableName 指定表名
func (Instance) TableName() string {
	return "instances"
}
