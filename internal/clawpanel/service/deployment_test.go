package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/clawpanel/clawpanel/internal/clawpanel/entity"
	"github.com/clawpanel/clawpanel/internal/clawpanel/repository"
	"github.com/clawpanel/clawpanel/pkg/apierror"
	"github.com/clawpanel/clawpanel/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient 测试用的平台客户端
type fakeClient struct {
	mu sync.Mutex

	name        string
	url         string
	states      []string // GetResource 依次返回的状态，末尾状态重复返回
	stateIdx    int
	createCalls int
	deleteCalls int
	lastCreate  *provider.CreateResourceRequest
	actions     []string
}

var _ provider.Client = (*fakeClient)(nil)

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) CreateResource(ctx context.Context, req *provider.CreateResourceRequest) (*provider.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.lastCreate = req
	return &provider.Resource{ID: "res-1", Name: req.Name, State: "created", URL: f.url}, nil
}

func (f *fakeClient) GetResource(ctx context.Context, ref provider.Ref) (*provider.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.states[f.stateIdx]
	if f.stateIdx < len(f.states)-1 {
		f.stateIdx++
	}
	return &provider.Resource{ID: ref.ID, Name: ref.Name, State: state, URL: f.url}, nil
}

func (f *fakeClient) ListResources(ctx context.Context) ([]provider.Resource, error) {
	return nil, nil
}

func (f *fakeClient) DeleteResource(ctx context.Context, ref provider.Ref) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	return nil
}

func (f *fakeClient) StartResource(ctx context.Context, ref provider.Ref) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, "start")
	return nil
}

func (f *fakeClient) StopResource(ctx context.Context, ref provider.Ref) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, "stop")
	return nil
}

func (f *fakeClient) RestartResource(ctx context.Context, ref provider.Ref) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, "restart")
	return nil
}

func (f *fakeClient) SetSecrets(ctx context.Context, ref provider.Ref, secrets map[string]string) error {
	return nil
}

func (f *fakeClient) GetLogs(ctx context.Context, ref provider.Ref, tail int) (string, error) {
	return "log line 1\nlog line 2\n", nil
}

func (f *fakeClient) ResourceURL(name string) string { return f.url }

// fakeIPClient 额外实现 IPAllocator，模拟 Fly 的公网 IP 分配
type fakeIPClient struct {
	fakeClient
	allocateCalls int
}

func (f *fakeIPClient) AllocateIP(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allocateCalls++
	return "66.241.1.1", nil
}

func setupService(t *testing.T, client provider.Client) (*DeploymentService, *repository.Repository) {
	t.Helper()
	repo, err := repository.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	svc := NewDeploymentService(
		repository.NewInstanceRepository(repo.DB()),
		repository.NewDeploymentLogRepository(repo.DB()),
		map[string]provider.Client{"fly": client},
		DeploymentOptions{
			Image:       "ghcr.io/openclaw/gateway:test",
			Wait:        provider.WaitOptions{Interval: time.Millisecond, Timeout: time.Second},
			DNSPause:    -1,
			WarmupDelay: -1,
		},
	)
	// 健康探测不重试，失败路径的测试不用等退避
	svc.http.RetryMax = 0
	return svc, repo
}

// healthServer 记录探测请求携带的 Authorization 头
func healthServer(t *testing.T, statusCode int) (*httptest.Server, *string) {
	t.Helper()
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			gotAuth = r.Header.Get("Authorization")
			w.WriteHeader(statusCode)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	return srv, &gotAuth
}

func TestDeployInstance(t *testing.T) {
	t.Parallel()

	t.Run("healthy deploy ends RUNNING", func(t *testing.T) {
		t.Parallel()
		srv, gotAuth := healthServer(t, http.StatusOK)
		client := &fakeClient{name: "fly", url: srv.URL, states: []string{"created", "starting", "started"}}
		svc, repo := setupService(t, client)

		inst, err := svc.DeployInstance(context.Background(), &entity.DeployInstanceRequest{
			UserID: "u-1",
			Config: &entity.GatewayConfig{
				Channels: map[string]entity.ChannelConfig{
					"telegram": {Enabled: true, Token: "tg-secret"},
				},
			},
		})
		require.NoError(t, err)

		assert.Equal(t, entity.StatusRunning, inst.Status)
		assert.Equal(t, "res-1", inst.ContainerID)
		assert.Equal(t, "claw-u-1", inst.ContainerName)
		assert.GreaterOrEqual(t, inst.Port, BasePort)
		assert.Equal(t, 1, client.createCalls)

		// 创建请求带镜像、网关凭证和渠道 secret
		require.NotNil(t, client.lastCreate)
		assert.Equal(t, "ghcr.io/openclaw/gateway:test", client.lastCreate.Image)
		token := client.lastCreate.Env["OPENCLAW_GATEWAY_TOKEN"]
		assert.NotEmpty(t, token)
		assert.Equal(t, "tg-secret", client.lastCreate.Env["OPENCLAW_TELEGRAM_TOKEN"])
		assert.NotEmpty(t, client.lastCreate.Env["OPENCLAW_CONFIG_B64"])
		assert.NotEmpty(t, client.lastCreate.StartCommand)

		// 健康探测用网关凭证做 Bearer 认证
		assert.Equal(t, "Bearer "+token, *gotAuth)

		// 流水：IN_PROGRESS 起步，SUCCESS 收尾
		logs, err := repository.NewDeploymentLogRepository(repo.DB()).ListByInstance(context.Background(), inst.ID)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, entity.LogStatusSuccess, logs[0].Status)
		assert.Equal(t, entity.LogStatusInProgress, logs[1].Status)
	})

	t.Run("failed health probe ends ERROR with PARTIAL log", func(t *testing.T) {
		t.Parallel()
		srv, _ := healthServer(t, http.StatusInternalServerError)
		client := &fakeClient{name: "fly", url: srv.URL, states: []string{"started"}}
		svc, repo := setupService(t, client)

		inst, err := svc.DeployInstance(context.Background(), &entity.DeployInstanceRequest{UserID: "u-2"})
		require.NoError(t, err) // 探测失败不算部署失败

		assert.Equal(t, entity.StatusError, inst.Status)

		logs, err := repository.NewDeploymentLogRepository(repo.DB()).ListByInstance(context.Background(), inst.ID)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, entity.LogStatusPartial, logs[0].Status)
	})

	t.Run("terminal state fails deploy", func(t *testing.T) {
		t.Parallel()
		srv, _ := healthServer(t, http.StatusOK)
		client := &fakeClient{name: "fly", url: srv.URL, states: []string{"created", "failed"}}
		svc, repo := setupService(t, client)

		_, err := svc.DeployInstance(context.Background(), &entity.DeployInstanceRequest{UserID: "u-3"})
		require.Error(t, err)
		assert.ErrorIs(t, err, apierror.ErrResourceFailed)

		// 实例留在 ERROR，流水以 FAILED 收尾
		instRepo := repository.NewInstanceRepository(repo.DB())
		stored, err := instRepo.GetByUserID(context.Background(), "u-3")
		require.NoError(t, err)
		assert.Equal(t, entity.StatusError, stored.Status)

		logs, err := repository.NewDeploymentLogRepository(repo.DB()).ListByInstance(context.Background(), stored.ID)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, entity.LogStatusFailed, logs[0].Status)
	})

	t.Run("redeploy replaces prior instance", func(t *testing.T) {
		t.Parallel()
		srv, _ := healthServer(t, http.StatusOK)
		client := &fakeClient{name: "fly", url: srv.URL, states: []string{"started"}}
		svc, repo := setupService(t, client)

		ctx := context.Background()
		first, err := svc.DeployInstance(ctx, &entity.DeployInstanceRequest{UserID: "u-4"})
		require.NoError(t, err)
		second, err := svc.DeployInstance(ctx, &entity.DeployInstanceRequest{UserID: "u-4"})
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)

		// 旧资源被删掉，用户只剩一行记录
		assert.Equal(t, 1, client.deleteCalls)
		assert.Equal(t, 2, client.createCalls)

		all, err := repository.NewInstanceRepository(repo.DB()).List(ctx, map[string]interface{}{"user_id": "u-4"})
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, second.ID, all[0].ID)
	})

	t.Run("fly path allocates public IP", func(t *testing.T) {
		t.Parallel()
		srv, _ := healthServer(t, http.StatusOK)
		client := &fakeIPClient{fakeClient: fakeClient{name: "fly", url: srv.URL, states: []string{"started"}}}
		svc, _ := setupService(t, client)

		_, err := svc.DeployInstance(context.Background(), &entity.DeployInstanceRequest{UserID: "u-5"})
		require.NoError(t, err)
		assert.Equal(t, 1, client.allocateCalls)
	})

	t.Run("unknown provider rejected", func(t *testing.T) {
		t.Parallel()
		client := &fakeClient{name: "fly", states: []string{"started"}}
		svc, _ := setupService(t, client)

		_, err := svc.DeployInstance(context.Background(), &entity.DeployInstanceRequest{UserID: "u-6", Provider: "heroku"})
		require.Error(t, err)
		assert.ErrorIs(t, err, apierror.ErrInvalidParameter)
	})
}

func TestLifecycleActions(t *testing.T) {
	t.Parallel()

	deploy := func(t *testing.T) (*DeploymentService, *repository.Repository, *fakeClient, string) {
		srv, _ := healthServer(t, http.StatusOK)
		client := &fakeClient{name: "fly", url: srv.URL, states: []string{"started"}}
		svc, repo := setupService(t, client)
		inst, err := svc.DeployInstance(context.Background(), &entity.DeployInstanceRequest{UserID: "u-lc"})
		require.NoError(t, err)
		return svc, repo, client, inst.ID
	}

	t.Run("stop then start", func(t *testing.T) {
		t.Parallel()
		svc, _, client, id := deploy(t)
		ctx := context.Background()

		resp, err := svc.StopInstance(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, entity.StatusStopped, resp.CurrentState)
		assert.Equal(t, entity.StatusRunning, resp.PreviousState)

		resp, err = svc.StartInstance(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, entity.StatusRunning, resp.CurrentState)

		assert.Equal(t, []string{"stop", "start"}, client.actions)
	})

	t.Run("restart passes through RESTARTING", func(t *testing.T) {
		t.Parallel()
		svc, repo, client, id := deploy(t)
		ctx := context.Background()

		resp, err := svc.RestartInstance(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, entity.StatusRunning, resp.CurrentState)
		assert.Equal(t, []string{"restart"}, client.actions)

		logs, err := repository.NewDeploymentLogRepository(repo.DB()).ListByInstance(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, entity.ActionRestart, logs[0].Action)
		assert.Equal(t, entity.LogStatusSuccess, logs[0].Status)
	})

	t.Run("missing identifiers fail without status change", func(t *testing.T) {
		t.Parallel()
		client := &fakeClient{name: "fly", states: []string{"started"}}
		svc, repo := setupService(t, client)
		ctx := context.Background()

		// 手工造一条没有平台标识的记录，模拟创建资源前就失败的部署
		instRepo := repository.NewInstanceRepository(repo.DB())
		require.NoError(t, instRepo.Create(ctx, newBareInstance("inst-bare", "u-bare", entity.StatusError)))

		for _, op := range []func(context.Context, string) (*entity.InstanceActionResponse, error){
			svc.StopInstance, svc.StartInstance, svc.RestartInstance,
		} {
			_, err := op(ctx, "inst-bare")
			require.Error(t, err)
			assert.ErrorIs(t, err, apierror.ErrMissingIdentifiers)
		}

		stored, err := instRepo.GetByID(ctx, "inst-bare")
		require.NoError(t, err)
		assert.Equal(t, entity.StatusError, stored.Status)
		assert.Empty(t, client.actions)
	})

	t.Run("unknown instance", func(t *testing.T) {
		t.Parallel()
		svc, _, _, _ := deploy(t)
		_, err := svc.StopInstance(context.Background(), "inst-missing")
		require.Error(t, err)
		assert.ErrorIs(t, err, apierror.ErrInstanceNotFound)
	})
}

func TestCheckInstanceHealth(t *testing.T) {
	t.Parallel()

	srv, _ := healthServer(t, http.StatusOK)
	client := &fakeClient{name: "fly", url: srv.URL, states: []string{"started"}}
	svc, repo := setupService(t, client)
	ctx := context.Background()

	inst, err := svc.DeployInstance(ctx, &entity.DeployInstanceRequest{UserID: "u-health"})
	require.NoError(t, err)

	resp, err := svc.CheckInstanceHealth(ctx, inst.ID)
	require.NoError(t, err)
	assert.True(t, resp.Healthy)
	assert.Equal(t, entity.StatusRunning, resp.Status)

	stored, err := repository.NewInstanceRepository(repo.DB()).GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastHealthCheck)

	// 平台侧变成 stopped 后状态跟着回写
	client.mu.Lock()
	client.states = []string{"stopped"}
	client.stateIdx = 0
	client.mu.Unlock()

	resp, err = svc.CheckInstanceHealth(ctx, inst.ID)
	require.NoError(t, err)
	assert.False(t, resp.Healthy)
	assert.Equal(t, entity.StatusStopped, resp.Status)
}

func TestGetInstanceLogs(t *testing.T) {
	t.Parallel()

	srv, _ := healthServer(t, http.StatusOK)
	client := &fakeClient{name: "fly", url: srv.URL, states: []string{"started"}}
	svc, _ := setupService(t, client)
	ctx := context.Background()

	inst, err := svc.DeployInstance(ctx, &entity.DeployInstanceRequest{UserID: "u-logs"})
	require.NoError(t, err)

	resp, err := svc.GetInstanceLogs(ctx, inst.ID, 10)
	require.NoError(t, err)
	assert.Contains(t, resp.Logs, "log line 1")
}

func TestDeleteInstance(t *testing.T) {
	t.Parallel()

	srv, _ := healthServer(t, http.StatusOK)
	client := &fakeClient{name: "fly", url: srv.URL, states: []string{"started"}}
	svc, repo := setupService(t, client)
	ctx := context.Background()

	inst, err := svc.DeployInstance(ctx, &entity.DeployInstanceRequest{UserID: "u-del"})
	require.NoError(t, err)

	resp, err := svc.DeleteInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.True(t, resp.Deleted)
	assert.Equal(t, 1, client.deleteCalls)

	_, err = repository.NewInstanceRepository(repo.DB()).GetByID(ctx, inst.ID)
	assert.Error(t, err)
}

func TestPortAllocator(t *testing.T) {
	t.Parallel()

	repo, err := repository.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	instRepo := repository.NewInstanceRepository(repo.DB())
	allocator := NewPortAllocator(instRepo)
	ctx := context.Background()

	// 空库从 BasePort 起分配
	port, err := allocator.Allocate(ctx)
	require.NoError(t, err)
	assert.Equal(t, BasePort, port)

	// 占掉 18800 和 18802，最小空闲是 18801
	a := newBareInstance("inst-p1", "u-p1", entity.StatusRunning)
	a.Port = BasePort
	b := newBareInstance("inst-p2", "u-p2", entity.StatusRunning)
	b.Port = BasePort + 2
	require.NoError(t, instRepo.Create(ctx, a))
	require.NoError(t, instRepo.Create(ctx, b))

	port, err = allocator.Allocate(ctx)
	require.NoError(t, err)
	assert.Equal(t, BasePort+1, port)
}
