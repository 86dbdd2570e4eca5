// Package keycache 实现收件人公钥缓存
//
// 发布前需要把每个收件人标识解析为 X25519 公钥。Cache 在内存中
// 按 LRU 保存解析结果（容量 RecipientCacheSize），未命中时查询
// KeyDirectory 并回填；同一标识的并发未命中只触发一次查询。
//
// 目录实现：
//   - InlineDirectory  - 标识本身就是 base64 公钥
//   - BrokerDirectory  - 通过 resolve_key 帧向 Broker 查询
//   - ChainDirectory   - 依次尝试多个目录，第一个命中者胜出
//
// 缓存只存在于内存中，客户端关闭即丢弃。
package keycache
