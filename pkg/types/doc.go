// Package types 定义 go-ensync 的公共数据结构
//
// 这是整个系统的最底层包，不依赖任何其他内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
//
// # 文件组织
//
//   - session.go  - Session 会话快照, ConnState 连接状态
//   - event.go    - Event 投递事件, OpaqueMarker 不可解密标记
//   - publish.go  - PublishRequest, PublishOptions, PublishResult
//   - ack.go      - AckOutcome, AckRecord, AckResult
//   - errors.go   - 错误分类（Authentication/Connection/Encryption/Publish/Subscription/Ack）
//
// # 与 pkg/wire 的区别
//
// pkg/types 定义 Go 内部数据结构（内存结构），
// pkg/wire 定义与 Broker 交互的逻辑帧（wire format）。
package types
