package utils

import (
	"os"
	"strconv"
	"time"
)

// EnvOr：读取环境变量，空值时返回默认值
func EnvOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvInt：读取整数环境变量，解析失败时返回默认值
func EnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// EnvFloat：读取浮点环境变量，解析失败时返回默认值
func EnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// EnvSeconds：读取以秒为单位的正整数时长
func EnvSeconds(key string, def time.Duration) time.Duration {
	if n := EnvInt(key, 0); n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

// EnvBool：仅 "true"/"false" 生效，其余返回默认值
func EnvBool(key string, def bool) bool {
	switch os.Getenv(key) {
	case "true":
		return true
	case "false":
		return false
	}
	return def
}
