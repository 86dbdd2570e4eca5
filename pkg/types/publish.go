package types

// PublishOptions 发布选项
type PublishOptions struct {
	// Persist 连接中断后等待重连并重新提交
	Persist bool

	// Headers 附加头，原样转发给 Broker
	Headers map[string]string
}

// PublishRequest 发布请求
type PublishRequest struct {
	EventName string

	// Recipients 收件人标识，有序且不要求唯一（重复收件人会得到重复的密钥封装）
	Recipients []string

	// Payload 加密前的结构化值，按 JSON 序列化
	Payload any

	Options PublishOptions
}

// PublishResult 发布结果
type PublishResult struct {
	// Idem Broker 分配的 ID
	Idem string
}
