// Package metrics 提供客户端监控指标
//
// 基于 Prometheus client_golang，收集：
//   - ensync_publish_total{result}        发布结果计数
//   - ensync_publish_inflight             在途发布数
//   - ensync_deliveries_total{opaque}     入站投递计数
//   - ensync_acks_total{outcome}          确认计数
//   - ensync_reconnect_attempts_total     重连尝试计数
//   - ensync_connection_state             当前连接状态
//   - ensync_frames_total{direction,type} 帧计数
//
// # 快速开始
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(reg)
//	m.PublishDone("ok")
//
// 所有方法对 nil *Metrics 安全，未启用指标时调用方无需判空。
package metrics
