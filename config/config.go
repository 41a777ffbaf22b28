package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath 未指定配置文件时使用的路径；该文件不存在时使用默认值
const DefaultPath = "config.yaml"

// PortEnv 监听端口的环境变量
const PortEnv = "CYCLES_PORT"

// Config 服务端配置（YAML）
type Config struct {
	MaxClients       int           `yaml:"max_clients"`
	GridWidth        int32         `yaml:"grid_width"`
	GridHeight       int32         `yaml:"grid_height"`
	TickPeriod       time.Duration `yaml:"tick_period"`
	RoundDeadline    time.Duration `yaml:"round_deadline"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	AdminAddr        string        `yaml:"admin_addr"`
	LogFile          string        `yaml:"log_file"`
	LogLevel         string        `yaml:"log_level"`
	Seed             int64         `yaml:"seed"`
}

// Default 默认配置：约 30Hz 的 Tick，单轮 50ms 截止
func Default() Config {
	return Config{
		MaxClients:       8,
		GridWidth:        100,
		GridHeight:       100,
		TickPeriod:       33 * time.Millisecond,
		RoundDeadline:    50 * time.Millisecond,
		HandshakeTimeout: 5 * time.Second,
		AdminAddr:        ":8080",
		LogFile:          "cycles.log",
		LogLevel:         "info",
	}
}

// Load 读取 YAML 配置并叠加环境变量。
// path 为空时读取 DefaultPath，且该文件缺失不视为错误。
func Load(path string) (Config, error) {
	cfg := Default()
	optional := path == ""
	if optional {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case optional && errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if v := os.Getenv("CYCLES_ADMIN_ADDR"); v != "" {
		cfg.AdminAddr = v
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 检查取值范围
func (c Config) Validate() error {
	switch {
	case c.MaxClients <= 0 || c.MaxClients > 255:
		return fmt.Errorf("config: max_clients must be in [1,255], got %d", c.MaxClients)
	case c.GridWidth <= 0 || c.GridHeight <= 0:
		return fmt.Errorf("config: grid must be positive, got %dx%d", c.GridWidth, c.GridHeight)
	case c.TickPeriod <= 0:
		return fmt.Errorf("config: tick_period must be positive, got %s", c.TickPeriod)
	case c.RoundDeadline <= 0:
		return fmt.Errorf("config: round_deadline must be positive, got %s", c.RoundDeadline)
	case c.HandshakeTimeout <= 0:
		return fmt.Errorf("config: handshake_timeout must be positive, got %s", c.HandshakeTimeout)
	}
	return nil
}

// LoadDotEnv 加载可选的 .env 文件，返回的错误仅用于提示
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Port 读取 CYCLES_PORT；未设置、0 或非法端口返回错误
func Port() (int, error) {
	v := os.Getenv(PortEnv)
	if v == "" {
		return 0, fmt.Errorf("please set the %s environment variable", PortEnv)
	}
	port, err := strconv.Atoi(v)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid %s %q", PortEnv, v)
	}
	return port, nil
}

// Host 客户端连接的服务端地址，默认本机
func Host() string {
	if v := os.Getenv("CYCLES_HOST"); v != "" {
		return v
	}
	return "127.0.0.1"
}
