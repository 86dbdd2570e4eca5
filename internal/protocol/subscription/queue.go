package subscription

import (
	"container/list"
	"sync"

	"github.com/dep2p/go-ensync/pkg/wire"
)

// ============================================================================
//                              投递队列
// ============================================================================

// delivery 等待分发的一次投递
type delivery struct {
	body        *wire.EventBody
	redelivered bool
}

// deliveryQueue 无界 FIFO 队列
//
// 入队不阻塞，接收循环因此不会被慢处理器拖住。
type deliveryQueue struct {
	mu     sync.Mutex
	items  *list.List
	notify chan struct{}
}

func newDeliveryQueue() *deliveryQueue {
	return &deliveryQueue{
		items:  list.New(),
		notify: make(chan struct{}, 1),
	}
}

// push 入队并唤醒分发协程
func (q *deliveryQueue) push(d delivery) {
	q.mu.Lock()
	q.items.PushBack(d)
	q.mu.Unlock()

	q.wake()
}

// wake 唤醒分发协程，用于队列之外的条件变化
func (q *deliveryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop 取出队首，队列为空时返回 false
func (q *deliveryQueue) pop() (delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.items.Front()
	if front == nil {
		return delivery{}, false
	}
	q.items.Remove(front)
	return front.Value.(delivery), true
}

// clear 丢弃所有排队投递，返回丢弃数
func (q *deliveryQueue) clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.items.Len()
	q.items.Init()
	return n
}

// Len 排队数
func (q *deliveryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
