// Package clawpanel 提供 ClawPanel 服务器的主入口和初始化逻辑
package clawpanel

import (
	"context"
	"os"
	"time"

	"github.com/clawpanel/clawpanel/internal/clawpanel/api"
	"github.com/clawpanel/clawpanel/internal/clawpanel/config"
	"github.com/clawpanel/clawpanel/internal/clawpanel/repository"
	"github.com/clawpanel/clawpanel/internal/clawpanel/service"
	"github.com/clawpanel/clawpanel/pkg/openclaw"
	"github.com/clawpanel/clawpanel/pkg/provider"
	"github.com/clawpanel/clawpanel/pkg/provider/fly"
	"github.com/clawpanel/clawpanel/pkg/provider/railway"
	"github.com/clawpanel/clawpanel/pkg/provider/render"
	"github.com/jimmicro/grace"
	"github.com/rs/zerolog"
)

type Server struct {
	cfg  *config.Config
	api  *api.API
	repo *repository.Repository
}

func New(cfg *config.Config) (*Server, error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger

	// 1. 打开 SQLite 数据库
	repo, err := repository.New(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	instanceRepo := repository.NewInstanceRepository(repo.DB())
	logRepo := repository.NewDeploymentLogRepository(repo.DB())

	// 2. 按配置的凭据创建平台客户端，缺凭据的平台跳过
	providers := buildProviders(cfg, &logger)
	if len(providers) == 0 {
		logger.Warn().Msg("No hosting provider is configured, deploy requests will fail")
	}

	// 3. 创建部署编排服务
	deploymentService := service.NewDeploymentService(instanceRepo, logRepo, providers, service.DeploymentOptions{
		Image:           cfg.Image,
		DefaultProvider: cfg.DefaultProvider,
	})

	// 4. 创建网关命令代理服务
	// fly CLI 不在 PATH 时网关运维接口降级，其余功能不受影响
	var proxy service.CommandProxy
	if p, err := openclaw.NewProxy(); err != nil {
		logger.Warn().Err(err).Msg("Gateway command proxy is unavailable")
	} else {
		proxy = p
	}
	gatewayService := service.NewGatewayService(instanceRepo, proxy)

	// 5. 创建 API
	apiInstance, err := api.New(cfg.Address, deploymentService, gatewayService)
	if err != nil {
		return nil, err
	}

	server := &Server{
		cfg:  cfg,
		api:  apiInstance,
		repo: repo,
	}
	return server, nil
}

// buildProviders 为每个配好凭据的平台创建客户端
func buildProviders(cfg *config.Config, logger *zerolog.Logger) map[string]provider.Client {
	providers := make(map[string]provider.Client)

	if cfg.Fly.Token != "" {
		client, err := fly.New(fly.Config{
			Token:   cfg.Fly.Token,
			OrgSlug: cfg.Fly.OrgSlug,
			Region:  cfg.Fly.Region,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Skip fly provider")
		} else {
			providers[client.Name()] = client
		}
	}

	if cfg.Render.APIKey != "" && cfg.Render.OwnerID != "" {
		client, err := render.New(render.Config{
			APIKey:  cfg.Render.APIKey,
			OwnerID: cfg.Render.OwnerID,
			Region:  cfg.Render.Region,
			Plan:    cfg.Render.Plan,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Skip render provider")
		} else {
			providers[client.Name()] = client
		}
	}

	if cfg.Railway.Token != "" {
		client, err := railway.New(railway.Config{
			Token:         cfg.Railway.Token,
			ProjectID:     cfg.Railway.ProjectID,
			EnvironmentID: cfg.Railway.EnvironmentID,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Skip railway provider")
		} else {
			providers[client.Name()] = client
		}
	}

	return providers
}

func (s *Server) Run(ctx context.Context) error {
	// 使用 grace.Shepherd 管理服务生命周期
	services := []grace.Grace{
		s.api,
	}

	shepherd := grace.NewShepherd(
		services,
		grace.WithTimeout(30*time.Second),
		grace.WithLogger(&zerologLogger{}),
	)

	shepherd.Start(ctx)
	return s.repo.Close()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.api.Shutdown(ctx); err != nil {
		return err
	}
	return s.repo.Close()
}

// Name 实现 grace.Grace 接口
func (s *Server) Name() string {
	return "ClawPanel Server"
}

// zerologLogger 实现 grace.Logger 接口
type zerologLogger struct{}

func (l *zerologLogger) Info(msg string, args ...interface{}) {
	logger := zerolog.DefaultContextLogger.Info()
	// 如果有参数，使用 Msgf 格式化消息
	if len(args) > 0 {
		logger.Msgf(msg, args...)
	} else {
		logger.Msg(msg)
	}
}

func (l *zerologLogger) Error(msg string, args ...interface{}) {
	logger := zerolog.DefaultContextLogger.Error()
	// 如果有参数，使用 Msgf 格式化消息
	if len(args) > 0 {
		logger.Msgf(msg, args...)
	} else {
		logger.Msg(msg)
	}
}
