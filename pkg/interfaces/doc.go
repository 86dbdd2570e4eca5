// Package interfaces 定义 go-ensync 的公共接口
//
// 组件之间只通过这些接口交互，便于在测试中替换：
//   - transport.go  - Transport / Channel 抽象双向帧通道
//   - directory.go  - KeyDirectory 收件人公钥目录
//   - connection.go - Connection 连接管理器对发布/订阅暴露的能力
package interfaces
