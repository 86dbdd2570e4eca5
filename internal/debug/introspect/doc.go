// Package introspect 提供本地自省 HTTP 服务
//
// 该服务运行在本地端口，提供 JSON 格式的诊断信息，用于调试和监控。
// 默认绑定到 127.0.0.1，不暴露到网络。
//
// # 端点
//
//	GET /debug/introspect               - 完整诊断报告 (JSON)
//	GET /debug/introspect/session       - 会话状态（不含访问密钥）
//	GET /debug/introspect/subscriptions - 订阅列表
//	GET /debug/introspect/runtime       - 运行时信息
//	GET /debug/pprof/*                  - Go pprof 端点
//	GET /metrics                        - Prometheus 指标（注册器同时是 Gatherer 时）
//	GET /health                         - 健康检查
//
// # 使用示例
//
//	server := introspect.New(introspect.Config{
//	    Addr:    "127.0.0.1:6060",
//	    Session: connManager,
//	})
//	server.Start(ctx)
//	defer server.Stop(ctx)
//
// 通过 config.Diagnostics.EnableIntrospect 启用（根包的 WithIntrospect）。
package introspect
