package config

import (
	"fmt"
	"log"
	"os"
	"strings"
)

type Config struct {
	AppPort string

	// 存储端点与服务密钥，必需
	SupabaseURL string
	SupabaseKey string

	// 相关性筛选用的模型，APIKey 必需
	GeminiAPIKey string
	GeminiModel  string

	// CronSecret 保护 /api/fetch 的非 POST 触发，空表示不校验
	CronSecret string

	// RedisAddr 读缓存，空表示不启用
	RedisAddr string

	// CronSpec 进程内定时采集，空表示只靠外部触发
	CronSpec string
}

// Load 只读环境变量，不在这里判必填
// 必需项缺失由 Validate 统一报告，服务照常起来，对外给出明确的 500
func Load() *Config {
	cfg := &Config{
		AppPort:      getEnv("APP_PORT", "9000"),
		SupabaseURL:  os.Getenv("SUPABASE_URL"),
		SupabaseKey:  os.Getenv("SUPABASE_SERVICE_KEY"),
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		CronSecret:   os.Getenv("CRON_SECRET"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		CronSpec:     os.Getenv("CRON_SPEC"),
	}

	log.Printf("config loaded: port=%s model=%s cron=%q", cfg.AppPort, cfg.GeminiModel, cfg.CronSpec)
	return cfg
}

// Validate 检查必需配置，缺失项按环境变量名列出，部署排查用
func (c *Config) Validate() error {
	var missing []string
	if c.SupabaseURL == "" {
		missing = append(missing, "SUPABASE_URL")
	}
	if c.SupabaseKey == "" {
		missing = append(missing, "SUPABASE_SERVICE_KEY")
	}
	if c.GeminiAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
