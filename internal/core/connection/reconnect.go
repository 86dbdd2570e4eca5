package connection

import (
	"context"
	"errors"
	"time"

	"github.com/dep2p/go-ensync/pkg/types"
)

// ============================================================================
//                              重连
// ============================================================================

// startReconnectLocked 进入 Reconnecting 并启动重连循环
func (m *Manager) startReconnectLocked() {
	m.cancelReconnectLocked()
	ctx, cancel := context.WithCancel(context.Background())
	m.stopReconnect = cancel

	m.session.ReconnectAttempts = 0
	m.setStateLocked(types.StateReconnecting)

	m.wg.Add(1)
	go m.reconnectLoop(ctx, m.gen)
}

func (m *Manager) cancelReconnectLocked() {
	if m.stopReconnect != nil {
		m.stopReconnect()
		m.stopReconnect = nil
	}
}

// reconnectLoop 重连循环
//
// 第一次尝试立即进行，之后每次间隔 ReconnectInterval。连续失败
// MaxReconnectAttempts 次后进入 Closed，不会再多尝试一次。
func (m *Manager) reconnectLoop(ctx context.Context, gen uint64) {
	defer m.wg.Done()

	for {
		m.mu.Lock()
		if m.gen != gen || m.state != types.StateReconnecting {
			m.mu.Unlock()
			return
		}
		if m.session.ReconnectAttempts >= m.cfg.MaxReconnectAttempts {
			log.Warn("重连次数耗尽，关闭会话", "attempts", m.session.ReconnectAttempts)
			m.cancelReconnectLocked()
			m.closeCause = types.ErrConnectionClosed.Wrap(types.ErrReconnectExhausted)
			m.setStateLocked(types.StateClosed)
			m.mu.Unlock()
			return
		}
		m.session.ReconnectAttempts++
		attempt := m.session.ReconnectAttempts
		m.mu.Unlock()

		if attempt > 1 && !m.sleep(ctx, m.cfg.ReconnectInterval) {
			return
		}

		m.metrics.ReconnectAttempt()
		log.Info("尝试重连", "attempt", attempt, "max", m.cfg.MaxReconnectAttempts)

		sess, err := m.establish(ctx, gen, true)
		if err == nil {
			log.Info("重连成功", "clientId", sess.ClientID)
			m.runReadyHooks(ctx)
			return
		}

		if errors.Is(err, types.ErrAuthentication) {
			log.Error("重连时认证被拒绝，关闭会话", "err", err)
			m.mu.Lock()
			if m.gen == gen {
				m.cancelReconnectLocked()
				m.setStateLocked(types.StateClosed)
			}
			m.mu.Unlock()
			return
		}

		log.Warn("重连失败", "attempt", attempt, "err", err)
	}
}

// sleep 按注入的时钟等待，ctx 取消时返回 false
func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	t := m.clock.Timer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
