// Package brokertest 提供内存版 Broker，用于测试
//
// Broker 实现 interfaces.Transport，每次 Open 得到一条内存通道。
// 帧在通道两端会经过一次 JSON 编解码，行为上接近真实传输。
//
// 可以脚本化的行为：
//   - 接受的访问密钥、拨号失败、心跳是否应答
//   - 发布处理函数（用于注入拒绝或延迟）
//   - 事件推送、断开全部连接、保留事件（replay）、公钥目录
//
// 同时记录订阅次数、确认调用与发布并发度，供断言使用。
package brokertest
