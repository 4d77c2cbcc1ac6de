package model

import "time"

// DeploymentLog 部署流水表，只追加不修改，不做软删除
type DeploymentLog struct {
	ID          uint      `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	InstanceID  string    `gorm:"type:text;not null;index:idx_deployment_logs_instance_id;column:instance_id" json:"instance_id"`
	Action      string    `gorm:"type:text;not null;column:action" json:"action"` // DEPLOY, START, STOP, RESTART, DELETE
	Status      string    `gorm:"type:text;not null;column:status" json:"status"` // IN_PROGRESS, SUCCESS, PARTIAL, FAILED
	Message     string    `gorm:"type:text;column:message" json:"message"`
	ErrorDetail string    `gorm:"type:text;column:error_detail" json:"error_detail,omitempty"`
	CreatedAt   time.Time `gorm:"type:datetime;not null;index:idx_deployment_logs_created_at;column:created_at" json:"created_at"`
}

// TableName 指定表名
func (DeploymentLog) TableName() string {
	return "deployment_logs"
}
