package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clawpanel/clawpanel/internal/clawpanel/repository/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *Repository {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	repo, err := New(dbPath)
	require.NoError(t, err)

	// 使用 t.Cleanup 确保在测试真正结束时清理，支持并发测试
	t.Cleanup(func() {
		_ = repo.Close()
		_ = os.RemoveAll(tmpDir)
	})

	return repo
}

func newTestInstance(id, userID string) *model.Instance {
	now := time.Now()
	return &model.Instance{
		ID:            id,
		UserID:        userID,
		Provider:      "fly",
		ContainerID:   "d891234",
		ContainerName: "claw-" + userID,
		Port:          18800,
		Status:        "DEPLOYING",
		AccessURL:     "https://claw-" + userID + ".fly.dev",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestInstanceRepository(t *testing.T) {
	t.Parallel()

	repo := setupTestDB(t)

	instanceRepo := NewInstanceRepository(repo.DB())
	ctx := context.Background()

	t.Run("Create and GetByID", func(t *testing.T) {
		instance := newTestInstance("inst-100", "u-100")

		err := instanceRepo.Create(ctx, instance)
		assert.NoError(t, err)

		got, err := instanceRepo.GetByID(ctx, "inst-100")
		assert.NoError(t, err)
		assert.Equal(t, instance.ID, got.ID)
		assert.Equal(t, instance.UserID, got.UserID)
		assert.Equal(t, "fly", got.Provider)
		assert.Equal(t, 18800, got.Port)
	})

	t.Run("GetByUserID", func(t *testing.T) {
		instance := newTestInstance("inst-200", "u-200")
		require.NoError(t, instanceRepo.Create(ctx, instance))

		got, err := instanceRepo.GetByUserID(ctx, "u-200")
		assert.NoError(t, err)
		assert.Equal(t, "inst-200", got.ID)

		_, err = instanceRepo.GetByUserID(ctx, "u-nobody")
		assert.Error(t, err)
	})

	t.Run("one active instance per user", func(t *testing.T) {
		first := newTestInstance("inst-300", "u-300")
		require.NoError(t, instanceRepo.Create(ctx, first))

		// 同一用户的第二个活跃实例撞唯一索引
		second := newTestInstance("inst-301", "u-300")
		err := instanceRepo.Create(ctx, second)
		assert.Error(t, err)

		// 软删除后可以重新部署
		require.NoError(t, instanceRepo.Delete(ctx, "inst-300"))
		err = instanceRepo.Create(ctx, second)
		assert.NoError(t, err)
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		instance := newTestInstance("inst-400", "u-400")
		require.NoError(t, instanceRepo.Create(ctx, instance))

		err := instanceRepo.UpdateStatus(ctx, "inst-400", "RUNNING")
		assert.NoError(t, err)

		got, err := instanceRepo.GetByID(ctx, "inst-400")
		assert.NoError(t, err)
		assert.Equal(t, "RUNNING", got.Status)
	})

	t.Run("TouchHealthCheck", func(t *testing.T) {
		instance := newTestInstance("inst-500", "u-500")
		require.NoError(t, instanceRepo.Create(ctx, instance))

		checkedAt := time.Now().Truncate(time.Second)
		err := instanceRepo.TouchHealthCheck(ctx, "inst-500", checkedAt)
		assert.NoError(t, err)

		got, err := instanceRepo.GetByID(ctx, "inst-500")
		assert.NoError(t, err)
		require.NotNil(t, got.LastHealthCheck)
		assert.WithinDuration(t, checkedAt, *got.LastHealthCheck, time.Second)
	})

	t.Run("List with filters", func(t *testing.T) {
		a := newTestInstance("inst-600", "u-600")
		a.Status = "RUNNING"
		b := newTestInstance("inst-601", "u-601")
		b.Status = "STOPPED"
		b.Provider = "render"
		require.NoError(t, instanceRepo.Create(ctx, a))
		require.NoError(t, instanceRepo.Create(ctx, b))

		running, err := instanceRepo.List(ctx, map[string]interface{}{"status": "RUNNING"})
		assert.NoError(t, err)
		found := false
		for _, inst := range running {
			assert.Equal(t, "RUNNING", inst.Status)
			if inst.ID == "inst-600" {
				found = true
			}
		}
		assert.True(t, found)

		byProvider, err := instanceRepo.List(ctx, map[string]interface{}{"provider": "render", "user_id": "u-601"})
		assert.NoError(t, err)
		require.Len(t, byProvider, 1)
		assert.Equal(t, "inst-601", byProvider[0].ID)
	})

	t.Run("HardDelete", func(t *testing.T) {
		instance := newTestInstance("inst-700", "u-700")
		require.NoError(t, instanceRepo.Create(ctx, instance))

		err := instanceRepo.HardDelete(ctx, "inst-700")
		assert.NoError(t, err)

		_, err = instanceRepo.GetByID(ctx, "inst-700")
		assert.Error(t, err)

		// 物理删除后唯一索引立即释放
		err = instanceRepo.Create(ctx, newTestInstance("inst-701", "u-700"))
		assert.NoError(t, err)
	})
}

func TestDeploymentLogRepository(t *testing.T) {
	t.Parallel()

	repo := setupTestDB(t)

	logRepo := NewDeploymentLogRepository(repo.DB())
	ctx := context.Background()

	t.Run("Append and ListByInstance", func(t *testing.T) {
		logs := []*model.DeploymentLog{
			{InstanceID: "inst-900", Action: "DEPLOY", Status: "IN_PROGRESS", Message: "Creating resource", CreatedAt: time.Now().Add(-2 * time.Minute)},
			{InstanceID: "inst-900", Action: "DEPLOY", Status: "SUCCESS", Message: "Gateway healthy", CreatedAt: time.Now().Add(-time.Minute)},
			{InstanceID: "inst-901", Action: "STOP", Status: "SUCCESS", Message: "Suspended", CreatedAt: time.Now()},
		}
		for _, l := range logs {
			require.NoError(t, logRepo.Append(ctx, l))
		}

		got, err := logRepo.ListByInstance(ctx, "inst-900")
		assert.NoError(t, err)
		require.Len(t, got, 2)
		// 按时间倒序
		assert.Equal(t, "SUCCESS", got[0].Status)
		assert.Equal(t, "IN_PROGRESS", got[1].Status)

		other, err := logRepo.ListByInstance(ctx, "inst-901")
		assert.NoError(t, err)
		require.Len(t, other, 1)
		assert.Equal(t, "STOP", other[0].Action)
	})

	t.Run("failure keeps error detail", func(t *testing.T) {
		l := &model.DeploymentLog{
			InstanceID:  "inst-902",
			Action:      "DEPLOY",
			Status:      "FAILED",
			Message:     "Deploy failed",
			ErrorDetail: "fly: status 422: insufficient capacity",
			CreatedAt:   time.Now(),
		}
		require.NoError(t, logRepo.Append(ctx, l))

		got, err := logRepo.ListByInstance(ctx, "inst-902")
		assert.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "FAILED", got[0].Status)
		assert.Contains(t, got[0].ErrorDetail, "insufficient capacity")
	})
}
