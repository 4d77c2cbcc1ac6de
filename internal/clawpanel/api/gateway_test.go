package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clawpanel/clawpanel/internal/clawpanel/entity"
	"github.com/clawpanel/clawpanel/pkg/apierror"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockGatewayService 是 GatewayService 的 mock 实现
type MockGatewayService struct {
	mock.Mock
}

func (m *MockGatewayService) Available() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockGatewayService) Status(ctx context.Context, instanceID string) (*entity.GatewayStatusResponse, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.GatewayStatusResponse), args.Error(1)
}

func (m *MockGatewayService) ListPendingDevices(ctx context.Context, instanceID string) (*entity.ListPendingDevicesResponse, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.ListPendingDevicesResponse), args.Error(1)
}

func (m *MockGatewayService) ApproveDevice(ctx context.Context, instanceID, requestID string) (*entity.ApproveDeviceResponse, error) {
	args := m.Called(ctx, instanceID, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.ApproveDeviceResponse), args.Error(1)
}

func (m *MockGatewayService) WhatsAppQR(ctx context.Context, instanceID string) (*entity.WhatsAppQRResponse, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.WhatsAppQRResponse), args.Error(1)
}

func (m *MockGatewayService) RunDoctor(ctx context.Context, instanceID string) (*entity.DoctorReport, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.DoctorReport), args.Error(1)
}

func (m *MockGatewayService) GatewayHealth(ctx context.Context, instanceID string) (*entity.HealthReport, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.HealthReport), args.Error(1)
}

func (m *MockGatewayService) ListChannels(ctx context.Context, instanceID string) ([]entity.ChannelStatus, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.ChannelStatus), args.Error(1)
}

func (m *MockGatewayService) ExecuteCommand(ctx context.Context, instanceID, command string) (*entity.ExecuteCommandResponse, error) {
	args := m.Called(ctx, instanceID, command)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.ExecuteCommandResponse), args.Error(1)
}

func setupGatewayRouter(mockService *MockGatewayService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	gatewayAPI := &Gateway{gatewayService: mockService}
	gatewayAPI.RegisterRoutes(router.Group("/api"))
	return router
}

func postGatewayAction(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/gateway", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGateway_Status(t *testing.T) {
	t.Parallel()

	t.Run("aggregate with degraded fields", func(t *testing.T) {
		t.Parallel()
		mockService := new(MockGatewayService)
		mockService.On("Status", mock.Anything, "inst-1").
			Return(&entity.GatewayStatusResponse{
				InstanceID: "inst-1",
				Reachable:  true,
				Health:     &entity.HealthReport{Status: "healthy", Healthy: true},
				HealthOK:   true,
				// doctor 和 channels 采集失败，置空
			}, nil)
		router := setupGatewayRouter(mockService)

		req := httptest.NewRequest(http.MethodGet, "/api/gateway?instance_id=inst-1", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var resp entity.GatewayStatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Reachable)
		assert.True(t, resp.HealthOK)
		assert.Nil(t, resp.Doctor)
		assert.False(t, resp.DoctorOK)
	})

	t.Run("missing instance_id rejected", func(t *testing.T) {
		t.Parallel()
		router := setupGatewayRouter(new(MockGatewayService))

		req := httptest.NewRequest(http.MethodGet, "/api/gateway", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGateway_Actions(t *testing.T) {
	t.Parallel()

	t.Run("list devices", func(t *testing.T) {
		t.Parallel()
		mockService := new(MockGatewayService)
		mockService.On("ListPendingDevices", mock.Anything, "inst-1").
			Return(&entity.ListPendingDevicesResponse{
				InstanceID: "inst-1",
				Devices:    []entity.PendingDevice{{RequestID: "req-1", Channel: "whatsapp"}},
			}, nil)
		router := setupGatewayRouter(mockService)

		w := postGatewayAction(router, `{"instance_id": "inst-1", "action": "list-devices"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("approve device requires request_id", func(t *testing.T) {
		t.Parallel()
		router := setupGatewayRouter(new(MockGatewayService))

		w := postGatewayAction(router, `{"instance_id": "inst-1", "action": "approve-device"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("approve device", func(t *testing.T) {
		t.Parallel()
		mockService := new(MockGatewayService)
		mockService.On("ApproveDevice", mock.Anything, "inst-1", "req-9").
			Return(&entity.ApproveDeviceResponse{InstanceID: "inst-1", RequestID: "req-9", Approved: true}, nil)
		router := setupGatewayRouter(mockService)

		w := postGatewayAction(router, `{"instance_id": "inst-1", "action": "approve-device", "request_id": "req-9"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("unknown action rejected", func(t *testing.T) {
		t.Parallel()
		router := setupGatewayRouter(new(MockGatewayService))

		w := postGatewayAction(router, `{"instance_id": "inst-1", "action": "self-destruct"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGateway_ExecuteAllowList(t *testing.T) {
	t.Parallel()

	t.Run("allowed command forwarded", func(t *testing.T) {
		t.Parallel()
		mockService := new(MockGatewayService)
		mockService.On("ExecuteCommand", mock.Anything, "inst-1", "devices list --json").
			Return(&entity.ExecuteCommandResponse{InstanceID: "inst-1", Stdout: "[]"}, nil)
		router := setupGatewayRouter(mockService)

		w := postGatewayAction(router, `{"instance_id": "inst-1", "action": "execute", "command": "devices list --json"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("disallowed command gets 403", func(t *testing.T) {
		t.Parallel()
		mockService := new(MockGatewayService)
		router := setupGatewayRouter(mockService)

		w := postGatewayAction(router, `{"instance_id": "inst-1", "action": "execute", "command": "rm -rf /"}`)
		assert.Equal(t, http.StatusForbidden, w.Code)

		var resp struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "CommandRejected", resp.Error.Code)

		// 命令没有到达服务层
		mockService.AssertNotCalled(t, "ExecuteCommand", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("prefix must match a whole word", func(t *testing.T) {
		t.Parallel()
		router := setupGatewayRouter(new(MockGatewayService))

		// "statusfoo" 不是 "status" 前缀的合法扩展
		w := postGatewayAction(router, `{"instance_id": "inst-1", "action": "execute", "command": "statusfoo"}`)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("command proxy failure surfaces 502", func(t *testing.T) {
		t.Parallel()
		mockService := new(MockGatewayService)
		mockService.On("ExecuteCommand", mock.Anything, "inst-1", "doctor").
			Return(nil, apierror.WrapError(apierror.ErrCommandFailed, "exit status 1", nil))
		router := setupGatewayRouter(mockService)

		w := postGatewayAction(router, `{"instance_id": "inst-1", "action": "execute", "command": "doctor"}`)
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestCommandAllowed(t *testing.T) {
	t.Parallel()

	allowed := []string{
		"devices list",
		"devices list --json",
		"devices approve req-1",
		"channels status",
		"health --json",
		"doctor",
		"status",
		"  status  ",
	}
	for _, cmd := range allowed {
		assert.True(t, commandAllowed(cmd), cmd)
	}

	denied := []string{
		"",
		"rm -rf /",
		"statusfoo",
		"devices remove req-1",
		"healthcheck",
		"channels",
	}
	for _, cmd := range denied {
		assert.False(t, commandAllowed(cmd), cmd)
	}
}
