package config

import (
	"os"
	"time"
)

type Config struct {
	// 上游 REMBG API 地址
	APIBaseURL string
	// 控制台监听端口
	Port string
	// 单次请求超时，0 表示用 transport 默认
	RequestTimeout time.Duration
	// 状态缓存刷新的 cron 表达式
	StatusRefresh string
}

func Load() *Config {
	return &Config{
		APIBaseURL:     getEnv("API_BASE_URL", "http://localhost:5000"),
		Port:           getEnv("PORT", "8080"),
		RequestTimeout: getDuration("REQUEST_TIMEOUT", 0),
		StatusRefresh:  getEnv("STATUS_REFRESH", "@every 1m"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
