package interfaces

import "context"

// KeyDirectory 收件人公钥目录
//
// 由 Broker 侧维护，客户端只在内存中缓存查询结果。
type KeyDirectory interface {
	// LookupKey 查询收件人的 X25519 公钥（32 字节）
	LookupKey(ctx context.Context, identifier string) ([]byte, error)
}
