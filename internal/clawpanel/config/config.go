package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Address 是 HTTP API 的绑定地址
	// 可以通过环境变量 CLAWPANEL_ADDRESS 配置
	Address string `yaml:"address"`

	// DataDir 是 ClawPanel 数据目录
	// 用于存储 SQLite 数据库
	// 可以通过环境变量 CLAWPANEL_DATA_DIR 配置
	// 默认：~/.local/share/clawpanel
	DataDir string `yaml:"data_dir"`

	// Image 是部署网关实例使用的容器镜像
	// 可以通过环境变量 OPENCLAW_IMAGE 配置
	Image string `yaml:"image"`

	// DefaultProvider 是未指定 provider 时使用的托管平台
	// 可以通过环境变量 CLAWPANEL_DEFAULT_PROVIDER 配置
	DefaultProvider string `yaml:"default_provider"`

	Fly     FlyConfig     `yaml:"fly"`
	Render  RenderConfig  `yaml:"render"`
	Railway RailwayConfig `yaml:"railway"`
}

// FlyConfig 是 Fly.io 平台凭据
// Token 只能通过环境变量 FLY_API_TOKEN 配置，不落盘
type FlyConfig struct {
	Token   string `yaml:"-"`
	OrgSlug string `yaml:"org_slug"`
	Region  string `yaml:"region"`
}

// RenderConfig 是 Render 平台凭据
// APIKey 只能通过环境变量 RENDER_API_KEY 配置，不落盘
type RenderConfig struct {
	APIKey  string `yaml:"-"`
	OwnerID string `yaml:"owner_id"`
	Region  string `yaml:"region"`
	Plan    string `yaml:"plan"`
}

// RailwayConfig 是 Railway 平台凭据
// Token 只能通过环境变量 RAILWAY_API_TOKEN 配置，不落盘
type RailwayConfig struct {
	Token         string `yaml:"-"`
	ProjectID     string `yaml:"project_id"`
	EnvironmentID string `yaml:"environment_id"`
}

// New 构建配置
// 先读取数据目录下的 clawpanel.yaml（可选），再用环境变量覆盖
func New() (*Config, error) {
	cfg := &Config{
		Address:         "0.0.0.0:8080",
		DataDir:         getDataDir(),
		Image:           "ghcr.io/openclaw/openclaw-gateway:latest",
		DefaultProvider: "fly",
	}

	if err := cfg.loadFile(filepath.Join(cfg.DataDir, "clawpanel.yaml")); err != nil {
		return nil, err
	}
	cfg.loadEnv()

	return cfg, nil
}

// loadFile 读取 YAML 配置文件，文件不存在不算错误
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	if err = yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// loadEnv 用环境变量覆盖文件配置，凭据只从环境变量读取
func (c *Config) loadEnv() {
	setFromEnv(&c.Address, "CLAWPANEL_ADDRESS")
	setFromEnv(&c.DataDir, "CLAWPANEL_DATA_DIR")
	setFromEnv(&c.Image, "OPENCLAW_IMAGE")
	setFromEnv(&c.DefaultProvider, "CLAWPANEL_DEFAULT_PROVIDER")

	setFromEnv(&c.Fly.Token, "FLY_API_TOKEN")
	setFromEnv(&c.Fly.OrgSlug, "FLY_ORG_SLUG")
	setFromEnv(&c.Fly.Region, "FLY_REGION")

	setFromEnv(&c.Render.APIKey, "RENDER_API_KEY")
	setFromEnv(&c.Render.OwnerID, "RENDER_OWNER_ID")
	setFromEnv(&c.Render.Region, "RENDER_REGION")
	setFromEnv(&c.Render.Plan, "RENDER_PLAN")

	setFromEnv(&c.Railway.Token, "RAILWAY_API_TOKEN")
	setFromEnv(&c.Railway.ProjectID, "RAILWAY_PROJECT_ID")
	setFromEnv(&c.Railway.EnvironmentID, "RAILWAY_ENVIRONMENT_ID")
}

// DBPath 返回 SQLite 数据库路径
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "clawpanel.db")
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// getDataDir 获取数据目录，优先使用环境变量
func getDataDir() string {
	// 1. 优先使用环境变量 CLAWPANEL_DATA_DIR
	if dir := os.Getenv("CLAWPANEL_DATA_DIR"); dir != "" {
		return dir
	}

	// 2. 使用用户主目录下的 .local/share/clawpanel
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "clawpanel")
	}

	// 3. 如果无法获取主目录，使用当前目录下的 data
	return filepath.Join(".", "data")
}
