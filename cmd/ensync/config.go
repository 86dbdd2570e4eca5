package main

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/dep2p/go-ensync"
)

// ============================================================================
//                              配置加载（CLI 专用）
// ============================================================================

// 环境变量
const (
	envPrefix       = "ENSYNC_"
	envURL          = "URL"
	envAccessKey    = "ACCESS_KEY"
	envAppSecretKey = "APP_SECRET_KEY"
	envMaxReconnect = "MAX_RECONNECT_ATTEMPTS"
	envLogFile      = "LOG_FILE"
)

// loadConfigFile 从 JSON 文件加载配置
func loadConfigFile(path string) (*ensync.UserConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: 用户指定的配置文件路径是预期行为
	if err != nil {
		return nil, err
	}

	var cfg ensync.UserConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides 应用环境变量覆盖配置
//
// 环境变量优先级高于配置文件，但低于命令行参数。
// 支持的环境变量（均使用 ENSYNC_ 前缀）：
//   - ENSYNC_URL: Broker 地址
//   - ENSYNC_APP_SECRET_KEY: 默认解密私钥
//   - ENSYNC_MAX_RECONNECT_ATTEMPTS: 最大重连次数
func applyEnvOverrides(cfg *ensync.UserConfig, getenv func(string) string) {
	if v := getenv(envPrefix + envURL); v != "" {
		cfg.URL = v
	}

	if v := getenv(envPrefix + envAppSecretKey); v != "" {
		cfg.AppSecretKey = v
	}

	if v := getenv(envPrefix + envMaxReconnect); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxReconnectAttempts = &n
		}
	}
}

// accessKeyFromEnv 从环境变量获取访问密钥
func accessKeyFromEnv(getenv func(string) string) string {
	return getenv(envPrefix + envAccessKey)
}

// logFileFromEnv 从环境变量获取日志文件路径
func logFileFromEnv(getenv func(string) string) string {
	return getenv(envPrefix + envLogFile)
}

// ============================================================================
//                              辅助函数
// ============================================================================

// splitAndTrim 分割字符串并去除空白
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// parseHeaders 解析 k=v,k2=v2 形式的附加头
func parseHeaders(s string) map[string]string {
	pairs := splitAndTrim(s, ",")
	if len(pairs) == 0 {
		return nil
	}
	headers := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, _ := strings.Cut(p, "=")
		if k = strings.TrimSpace(k); k != "" {
			headers[k] = strings.TrimSpace(v)
		}
	}
	return headers
}

// parsePayload 把命令行数据解析为 JSON 值，不是合法 JSON 时按字符串发送
func parsePayload(data string) any {
	var v any
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return data
	}
	return v
}
