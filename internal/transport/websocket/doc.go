// Package websocket 提供基于 gorilla/websocket 的 Transport 实现
//
// 每个逻辑帧编码为一条 JSON 文本消息。TLS 由 wss:// 地址与
// Options.TLSConfig 决定。
//
// 使用示例：
//
//	t, err := websocket.New("wss://broker.example.com/ws", nil)
//	if err != nil {
//	    return err
//	}
//	client, err := ensync.New(ensync.WithTransport(t))
package websocket
