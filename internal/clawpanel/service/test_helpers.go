package service

import (
	"time"

	"github.com/clawpanel/clawpanel/internal/clawpanel/repository/model"
)

// newBareInstance 构造一条没有平台资源标识的实例记录，测试用
func newBareInstance(id, userID, status string) *model.Instance {
	now := time.Now()
	return &model.Instance{
		ID:        id,
		UserID:    userID,
		Provider:  "fly",
		Port:      BasePort,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
