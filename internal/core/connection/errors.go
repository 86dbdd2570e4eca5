package connection

import "github.com/dep2p/go-ensync/pkg/types"

var (
	// ErrAlreadyConnected 会话已建立或正在建立
	ErrAlreadyConnected = &types.Error{Kind: types.KindConnection, Message: "already connected"}

	// ErrNeverConnected 从未成功连接，无法重连
	ErrNeverConnected = &types.Error{Kind: types.KindConnection, Message: "never connected"}
)
