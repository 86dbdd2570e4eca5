// Package ensync 是 EnSync 事件交换服务的 Go 客户端
//
// 客户端通过一条长连接向 Broker 发布和订阅具名事件。每条事件的
// 载荷在客户端按收件人公钥做端到端信封加密，Broker 只转发密文；
// 订阅方用自己的私钥解密，并通过 ack/defer/discard/replay 与
// Broker 协商投递结果。
//
// # 快速开始
//
//	client, err := ensync.New(
//	    ensync.WithURL("wss://broker.example.com/ws", nil),
//	    ensync.WithAppSecretKey(os.Getenv("APP_SECRET_KEY")),
//	)
//	if err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
//	if _, err := client.Connect(ctx, accessKey); err != nil {
//	    return err
//	}
//
//	// 发布
//	idem, err := client.Publish(ctx, "orders/created", []string{recipientPub}, order)
//
//	// 订阅
//	sub, err := client.Subscribe(ctx, "orders/created")
//	sub.On(func(ctx context.Context, ev *ensync.Event) error {
//	    _, err := sub.Ack(ctx, ev.Idem, ev.Block)
//	    return err
//	})
//
// # 连接生命周期
//
//	Disconnected → Connecting → Authenticating → Ready
//	Ready → Reconnecting → Ready | Closed
//
// 心跳连续丢失或通道断开时进入 Reconnecting，按固定间隔重试，
// 最多 MaxReconnectAttempts 次；成功后自动重新订阅所有活跃订阅。
//
// # 错误
//
// 所有错误都可以按类别匹配：
//
//	errors.Is(err, ensync.ErrConnection)     // 任意连接错误
//	errors.Is(err, ensync.ErrPublishTimeout) // 仅发布确认超时
package ensync
