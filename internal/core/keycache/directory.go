package keycache

import (
	"context"
	"errors"
	"time"

	"github.com/dep2p/go-ensync/internal/core/envelope"
	"github.com/dep2p/go-ensync/pkg/interfaces"
	"github.com/dep2p/go-ensync/pkg/types"
	"github.com/dep2p/go-ensync/pkg/wire"
)

// ============================================================================
//                              InlineDirectory
// ============================================================================

// InlineDirectory 标识本身就是 base64 编码的公钥
type InlineDirectory struct{}

var _ interfaces.KeyDirectory = InlineDirectory{}

// LookupKey 解码标识
func (InlineDirectory) LookupKey(_ context.Context, identifier string) ([]byte, error) {
	key, err := envelope.DecodeKey(identifier)
	if err != nil {
		return nil, types.ErrMissingKey.Wrapf("%s: %w", identifier, err)
	}
	return key, nil
}

// ============================================================================
//                              BrokerDirectory
// ============================================================================

// Requester 发送请求帧的能力
type Requester interface {
	Request(ctx context.Context, frame *wire.Frame, timeout time.Duration) (*wire.Frame, error)
}

// BrokerDirectory 通过 resolve_key 帧查询 Broker 侧目录
type BrokerDirectory struct {
	conn    Requester
	timeout time.Duration
}

var _ interfaces.KeyDirectory = (*BrokerDirectory)(nil)

// NewBrokerDirectory 创建 Broker 目录
//
// timeout <= 0 时使用连接的默认请求超时。
func NewBrokerDirectory(conn Requester, timeout time.Duration) *BrokerDirectory {
	return &BrokerDirectory{conn: conn, timeout: timeout}
}

// LookupKey 向 Broker 查询公钥
//
// 连接错误原样返回，其余失败归为缺少密钥。
func (d *BrokerDirectory) LookupKey(ctx context.Context, identifier string) ([]byte, error) {
	req, err := wire.NewRequest(wire.TypeResolveKey, &wire.ResolveKeyBody{Identifier: identifier})
	if err != nil {
		return nil, types.ErrMissingKey.Wrap(err)
	}

	resp, err := d.conn.Request(ctx, req, d.timeout)
	if err != nil {
		if wire.IsCode(err, wire.CodeNotFound) {
			return nil, types.ErrMissingKey.Wrapf("%s: %w", identifier, ErrNotFound)
		}
		if errors.Is(err, types.ErrConnection) && !errors.Is(err, types.ErrRequestTimeout) {
			return nil, err
		}
		// 超时等失败只保留描述，避免被当成连接错误
		return nil, types.ErrMissingKey.Wrapf("%s: %v", identifier, err)
	}

	var result wire.ResolveKeyResult
	if err := resp.DecodeBody(&result); err != nil {
		return nil, types.ErrMissingKey.Wrap(err)
	}
	key, err := envelope.DecodeKey(result.PublicKey)
	if err != nil {
		return nil, types.ErrInvalidKey.Wrapf("directory returned bad key for %s: %w", identifier, err)
	}
	return key, nil
}

// ============================================================================
//                              ChainDirectory
// ============================================================================

// ChainDirectory 依次尝试多个目录
type ChainDirectory []interfaces.KeyDirectory

var _ interfaces.KeyDirectory = ChainDirectory(nil)

// LookupKey 返回第一个命中的结果
//
// 连接错误立即返回，不再尝试后续目录。
func (c ChainDirectory) LookupKey(ctx context.Context, identifier string) ([]byte, error) {
	var lastErr error
	for _, dir := range c {
		key, err := dir.LookupKey(ctx, identifier)
		if err == nil {
			return key, nil
		}
		if errors.Is(err, types.ErrConnection) {
			return nil, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = types.ErrMissingKey.Wrapf("%s: %w", identifier, ErrNoDirectory)
	}
	return nil, lastErr
}
