// Package envelope 实现多收件人的信封加密
//
// 内容只加密一次，内容密钥按收件人分别封装：
//
//	content key (32B, 随机) ──XChaCha20-Poly1305──► ciphertext
//	for each recipient:
//	    ephemeral X25519 ──ECDH──► shared ──HKDF-SHA256──► wrap key
//	    wrap key ──XChaCha20-Poly1305──► wrapped content key
//
// 持有者的私钥解不开任何封装时，Open 返回 Opaque 结果而不是错误，
// 订阅方仍然可以拿到投递元数据。
//
// Sealer 没有可变共享状态，可以被多个发布/分发路径并发调用。
package envelope
