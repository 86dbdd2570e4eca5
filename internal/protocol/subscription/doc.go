// Package subscription 实现订阅注册表与确认协议
//
// 每个事件名至多一个活跃订阅。入站事件由连接层的接收循环交给
// Registry，Registry 把事件放入对应订阅的无界队列后立即返回；
// 每个订阅有一个分发协程按到达顺序解密并依次调用处理器，
// 因此同一订阅内保持顺序，不同订阅之间互不阻塞。
//
// 确认（ack/defer/discard）通过按 idem 索引的账本去重：
//   - 重复的 ack 或 discard 返回首次结果，不再发帧
//   - 对已终结的 idem 做不同的操作返回 ErrAlreadyResolved
//   - 未投递过的 idem 返回 ErrUnknownIdem
//   - 被 defer 的 idem 再次投递后重新变为待确认
//
// 重连成功后，所有 Active 订阅自动重新注册。
package subscription
