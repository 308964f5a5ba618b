package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Upload  UploadConfig  `mapstructure:"upload"`
	Model   ModelConfig   `mapstructure:"model"`
	Segment SegmentConfig `mapstructure:"segment"`
	Monitor MonitorConfig `mapstructure:"monitor"`
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	AllowedTypes []string `mapstructure:"allowed_types"` // 为空时不限制，由解码结果决定
}

// ModelConfig 分割模型配置
type ModelConfig struct {
	Backend       string        `mapstructure:"backend"` // onnx, remote
	Path          string        `mapstructure:"path"`
	InputSize     int           `mapstructure:"input_size"`
	Confidence    float32       `mapstructure:"confidence"`
	IoU           float32       `mapstructure:"iou"`
	MaskThreshold float32       `mapstructure:"mask_threshold"`
	RemoteURL     string        `mapstructure:"remote_url"`
	RemoteTimeout time.Duration `mapstructure:"remote_timeout"`
}

type SegmentConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
	QueueTimeout  int `mapstructure:"queue_timeout"` // 秒
}

type MonitorConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

const (
	BackendONNX   = "onnx"
	BackendRemote = "remote"
)

// 与 gin 的运行模式一致
const (
	ModeDebug   = "debug"
	ModeRelease = "release"
	ModeTest    = "test"
)

// Load 从 YAML 文件加载配置，path 为空或文件不存在时只使用默认值和环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// 设置默认值
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}

	// 读取配置文件
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// New 使用默认配置路径加载配置
func New() *Config {
	return newFrom("config.yaml")
}

// newFrom 配置文件不可用时退回默认值，环境变量依然生效
func newFrom(path string) *Config {
	cfg, err := Load(path)
	if err == nil {
		return cfg
	}
	fmt.Printf("failed to load %s, using defaults: %v\n", path, err)

	if cfg, err = Load(""); err == nil {
		return cfg
	}
	fmt.Printf("environment overrides invalid, using built-in defaults: %v\n", err)
	return getDefaultConfig()
}

// Validate 检查配置取值范围
func (c *Config) Validate() error {
	switch c.Server.Mode {
	case ModeDebug, ModeRelease, ModeTest:
	default:
		return fmt.Errorf("server.mode must be one of debug, release, test, got %q", c.Server.Mode)
	}
	switch c.Model.Backend {
	case BackendONNX:
		if c.Model.Path == "" {
			return fmt.Errorf("model.path cannot be empty for backend %q", c.Model.Backend)
		}
	case BackendRemote:
		if c.Model.RemoteURL == "" {
			return fmt.Errorf("model.remote_url cannot be empty for backend %q", c.Model.Backend)
		}
	default:
		return fmt.Errorf("unsupported model backend: %q", c.Model.Backend)
	}
	if c.Model.Confidence < 0 || c.Model.Confidence > 1 {
		return fmt.Errorf("model.confidence must be between 0.0 and 1.0, got %f", c.Model.Confidence)
	}
	if c.Model.IoU < 0 || c.Model.IoU > 1 {
		return fmt.Errorf("model.iou must be between 0.0 and 1.0, got %f", c.Model.IoU)
	}
	if c.Segment.MaxConcurrent <= 0 {
		return fmt.Errorf("segment.max_concurrent must be positive, got %d", c.Segment.MaxConcurrent)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", ModeDebug)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", time.Hour)

	v.SetDefault("upload.max_size", 20*1024*1024)
	v.SetDefault("upload.allowed_types", []string{})

	v.SetDefault("model.backend", BackendONNX)
	v.SetDefault("model.path", "./models/yolov8n-seg.onnx")
	v.SetDefault("model.input_size", 640)
	v.SetDefault("model.confidence", 0.25)
	v.SetDefault("model.iou", 0.7)
	v.SetDefault("model.mask_threshold", 0.5)
	v.SetDefault("model.remote_url", "http://localhost:5000/predict")
	v.SetDefault("model.remote_timeout", 30*time.Second)

	v.SetDefault("segment.max_concurrent", 2)
	v.SetDefault("segment.queue_timeout", 30)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.sample_interval", 5*time.Second)
}

func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix("MASKKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 与原 Python 服务保持一致的环境变量
	for key, env := range map[string]string{
		"model.path":       "MODEL_PATH",
		"model.backend":    "MODEL_BACKEND",
		"model.remote_url": "INFERENCE_URL",
		"server.port":      "PORT",
	} {
		if err := v.BindEnv(key, "MASKKIT_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return err
		}
	}
	return nil
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           ":8080",
			Mode:           ModeDebug,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:      20 * 1024 * 1024,
			AllowedTypes: []string{},
		},
		Model: ModelConfig{
			Backend:       BackendONNX,
			Path:          "./models/yolov8n-seg.onnx",
			InputSize:     640,
			Confidence:    0.25,
			IoU:           0.7,
			MaskThreshold: 0.5,
			RemoteURL:     "http://localhost:5000/predict",
			RemoteTimeout: 30 * time.Second,
		},
		Segment: SegmentConfig{
			MaxConcurrent: 2,
			QueueTimeout:  30,
		},
		Monitor: MonitorConfig{
			Enabled:        true,
			SampleInterval: 5 * time.Second,
		},
	}
}
