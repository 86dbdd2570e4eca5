package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/dep2p/go-ensync/pkg/wire"
)

// ============================================================================
//                              心跳
// ============================================================================

// heartbeatLoop 心跳循环
//
// 每个心跳请求的超时等于心跳间隔；Broker 的失败应答也算存活。
func (m *Manager) heartbeatLoop(ctx context.Context, gen uint64) {
	defer m.wg.Done()

	ticker := m.clock.Ticker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := m.heartbeat(ctx)
		if err == nil {
			missed = 0
			continue
		}
		if ctx.Err() != nil {
			return
		}

		var remote *wire.RemoteError
		if errors.As(err, &remote) {
			missed = 0
			continue
		}

		missed++
		log.Debug("心跳未应答", "missed", missed, "err", err)

		if missed >= m.cfg.MissedHeartbeats {
			log.Warn("连续心跳丢失，进入重连", "missed", missed)
			m.connectionLost(gen, fmt.Errorf("%d heartbeats missed", missed))
			return
		}
	}
}

func (m *Manager) heartbeat(ctx context.Context) error {
	req, err := wire.NewRequest(wire.TypeHeartbeat, &wire.HeartbeatBody{ClientID: m.ClientID()})
	if err != nil {
		return err
	}
	_, err = m.Request(ctx, req, m.cfg.HeartbeatInterval)
	return err
}
