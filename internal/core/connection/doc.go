// Package connection 实现与 Broker 的会话管理
//
// Manager 独占一条传输通道，负责：
//   - 建立通道并完成认证握手
//   - 接收循环：按请求 ID 把应答交给等待者，把事件交给订阅层
//   - 心跳：连续 MissedHeartbeats 次未应答即进入重连
//   - 重连：按 ReconnectInterval 间隔重试，达到上限后关闭
//   - 写入串行化：同一时刻只有一个写者
//
// 状态机：
//
//	Disconnected → Connecting → Authenticating → Ready
//	Ready → Reconnecting → Ready | Closed
//	任意状态 --Close(false)--> Closed
//
// 所有会话字段的修改都在 mu 保护下进行；每次拆除通道都会递增
// generation，过期的循环与请求据此自行退出。
package connection
