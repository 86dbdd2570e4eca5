package subscription

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/go-ensync/pkg/types"
)

// entryStatus 投递在账本中的状态
type entryStatus int

const (
	statusPending entryStatus = iota
	statusDeferred
	statusResolved
)

// ackEntry 一次投递的确认记录
//
// op 在发送确认帧期间持有，同一 idem 的操作因此串行；
// mu 只保护状态字段，接收循环登记重投时不会等待网络往返。
type ackEntry struct {
	op sync.Mutex

	mu        sync.Mutex
	eventName string
	idem      string
	block     int64
	status    entryStatus
	result    types.AckResult
}

// snapshot 读取状态
func (e *ackEntry) snapshot() (entryStatus, types.AckResult, int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, e.result, e.block
}

// settle 记录成功的确认操作
func (e *ackEntry) settle(result types.AckResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.result = result
	if result.Outcome == types.OutcomeDefer {
		e.status = statusDeferred
		return
	}
	e.status = statusResolved
}

// ledger 确认账本，容量有限，最久未访问的记录先被淘汰
type ledger struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *ackEntry]
}

func newLedger(size int) (*ledger, error) {
	entries, err := lru.New[string, *ackEntry](size)
	if err != nil {
		return nil, err
	}
	return &ledger{entries: entries}, nil
}

// observe 记录一次投递
//
// 返回值 redelivered 表示同一 idem 之前已投递过；resolved 表示该
// idem 已被 ack 或 discard，这次投递是重复的。记录归属于首次投递
// 的事件名。
func (l *ledger) observe(eventName, idem string, block int64) (redelivered, resolved bool) {
	l.mu.Lock()
	entry, ok := l.entries.Get(idem)
	if !ok {
		l.entries.Add(idem, &ackEntry{eventName: eventName, idem: idem, block: block})
		l.mu.Unlock()
		return false, false
	}
	l.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	switch entry.status {
	case statusResolved:
		return true, true
	case statusDeferred:
		entry.status = statusPending
	}
	entry.block = block
	return true, false
}

// get 查找投递给 eventName 的记录
func (l *ledger) get(eventName, idem string) (*ackEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries.Get(idem)
	if !ok || entry.eventName != eventName {
		return nil, false
	}
	return entry, true
}

// Len 记录数
func (l *ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries.Len()
}
