// Package api 提供 HTTP API 层
package api

import (
	"context"
	"net/http"

	"github.com/clawpanel/clawpanel/internal/clawpanel/service"
	"github.com/gin-gonic/gin"
)

// API HTTP 服务
type API struct {
	engine *gin.Engine
	server *http.Server

	instance *Instance
	gateway  *Gateway
}

// New 创建 HTTP API
func New(addr string, deploymentService *service.DeploymentService, gatewayService *service.GatewayService) (*API, error) {
	engine := gin.New()
	engine.Use(gin.Recovery(), RequestID(), RequestLogger())

	api := &API{
		engine:   engine,
		instance: NewInstance(deploymentService),
		gateway:  NewGateway(gatewayService),
	}

	group := engine.Group("/api")
	api.instance.RegisterRoutes(group)
	api.gateway.RegisterRoutes(group)

	api.server = &http.Server{
		Addr:    addr,
		Handler: engine,
	}
	return api, nil
}

// Run 启动 HTTP 服务，阻塞到出错或被 Shutdown
func (a *API) Run(ctx context.Context) error {
	err := a.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown 优雅关闭
func (a *API) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

// Name 实现 grace.Grace 接口
func (a *API) Name() string {
	return "api"
}

// Engine 返回底层的 gin 引擎，测试用
func (a *API) Engine() *gin.Engine {
	return a.engine
}
