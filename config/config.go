// Package config 加载顺序：结构体默认值 < .env < 环境变量（PIXFIX_ 前缀，__ 表示层级）。
// 命令行参数由 cmd 在加载之后覆盖。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
)

const EnvPrefix = "PIXFIX_"

type Config struct {
	Log    LogConfig    `koanf:"log"`
	Server ServerConfig `koanf:"server"`
	Fetch  FetchConfig  `koanf:"fetch"`
	RemBG  RemBGConfig  `koanf:"rembg"`
	Batch  BatchConfig  `koanf:"batch"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `koanf:"json"`
}

type ServerConfig struct {
	Addr    string        `koanf:"addr" validate:"required"`
	TempDir string        `koanf:"temp_dir" validate:"required"`
	TempTTL time.Duration `koanf:"temp_ttl" validate:"gt=0"`
	// CleanupSchedule cron 表达式，例如 "@every 10m"
	CleanupSchedule string `koanf:"cleanup_schedule" validate:"required"`
	MaxUploadBytes  int64  `koanf:"max_upload_bytes" validate:"gt=0"`
}

type FetchConfig struct {
	Timeout   time.Duration `koanf:"timeout" validate:"gt=0"`
	Retries   uint64        `koanf:"retries" validate:"lte=10"`
	CacheSize int           `koanf:"cache_size" validate:"gte=0"`
}

// RemBGConfig Endpoint 为空时使用本地抠图
type RemBGConfig struct {
	Endpoint  string        `koanf:"endpoint" validate:"omitempty,url"`
	Timeout   time.Duration `koanf:"timeout" validate:"gt=0"`
	Tolerance float64       `koanf:"tolerance" validate:"gt=0,lte=442"`
}

type BatchConfig struct {
	InputDir  string `koanf:"input_dir" validate:"required"`
	OutputDir string `koanf:"output_dir" validate:"required"`
	Workers   int    `koanf:"workers" validate:"gte=1,lte=64"`
}

func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Server: ServerConfig{
			Addr:            ":8000",
			TempDir:         "temp_images",
			TempTTL:         30 * time.Minute,
			CleanupSchedule: "@every 10m",
			MaxUploadBytes:  20 << 20,
		},
		Fetch: FetchConfig{
			Timeout:   15 * time.Second,
			Retries:   3,
			CacheSize: 32,
		},
		RemBG: RemBGConfig{
			Timeout:   2 * time.Minute,
			Tolerance: 30,
		},
		Batch: BatchConfig{
			InputDir:  "input_images",
			OutputDir: "output_images",
			Workers:   1,
		},
	}
}

// Load envFiles 中不存在的文件会被忽略
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envKey,
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey PIXFIX_SERVER__TEMP_DIR -> server.temp_dir
func envKey(key, value string) (string, any) {
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", "."), value
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := cron.ParseStandard(c.Server.CleanupSchedule); err != nil {
		return fmt.Errorf("invalid config: server.cleanup_schedule: %w", err)
	}
	return nil
}
