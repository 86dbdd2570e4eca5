package subscription

import (
	"context"
	"errors"

	"github.com/dep2p/go-ensync/pkg/types"
	"github.com/dep2p/go-ensync/pkg/wire"
)

// ============================================================================
//                              确认协议
// ============================================================================

// acknowledge 执行 ack/defer/discard
//
// 只能确认投递给 eventName 的 idem。并发的相同操作合并为一次请求，
// 请求不随任何一个调用方的 ctx 取消，由 AckTimeout 限定；每个调用方
// 只按自己的 ctx 放弃等待。不同操作按 idem 串行。
func (r *Registry) acknowledge(ctx context.Context, eventName string, rec types.AckRecord) (types.AckResult, error) {
	if rec.Idem == "" {
		return types.AckResult{}, types.ErrUnknownIdem.Wrapf("idem is empty")
	}

	shared := context.WithoutCancel(ctx)
	key := eventName + "/" + rec.Idem + "/" + rec.Outcome.String()
	ch := r.flight.DoChan(key, func() (any, error) {
		return r.resolve(shared, eventName, rec)
	})

	select {
	case <-ctx.Done():
		return types.AckResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return types.AckResult{}, res.Err
		}
		return res.Val.(types.AckResult), nil
	}
}

// resolve 在账本上执行一次确认操作
func (r *Registry) resolve(ctx context.Context, eventName string, rec types.AckRecord) (types.AckResult, error) {
	entry, ok := r.ledger.get(eventName, rec.Idem)
	if !ok {
		return types.AckResult{}, types.ErrUnknownIdem.Wrapf("%s on %s", rec.Idem, eventName)
	}

	entry.op.Lock()
	defer entry.op.Unlock()

	status, prev, block := entry.snapshot()
	switch status {
	case statusResolved:
		if prev.Outcome == rec.Outcome {
			return prev, nil
		}
		return types.AckResult{}, types.ErrAlreadyResolved.Wrapf("%s is %s", rec.Idem, prev.Outcome)
	case statusDeferred:
		if rec.Outcome == types.OutcomeDefer {
			return prev, nil
		}
	}

	if rec.Outcome == types.OutcomeAck && rec.Block == 0 {
		rec.Block = block
	}

	frame, err := ackFrame(rec)
	if err != nil {
		return types.AckResult{}, types.ErrAck.Wrap(err)
	}
	if _, err := r.conn.Request(ctx, frame, r.cfg.AckTimeout); err != nil {
		return types.AckResult{}, r.ackError(rec, err)
	}

	result := types.AckResult{Idem: rec.Idem, Outcome: rec.Outcome, OK: true}
	entry.settle(result)
	r.metrics.Acked(rec.Outcome)

	log.Debug("确认完成", "idem", rec.Idem, "outcome", rec.Outcome)
	return result, nil
}

// ackError 转换确认请求的错误
func (r *Registry) ackError(rec types.AckRecord, err error) error {
	var remote *wire.RemoteError
	switch {
	case errors.Is(err, types.ErrRequestTimeout):
		return types.ErrAckTimeout.Wrapf("%s %s: no response within %s", rec.Outcome, rec.Idem, r.cfg.AckTimeout)
	case wire.IsCode(err, wire.CodeUnknownIdem):
		return types.ErrUnknownIdem.Wrap(err)
	case errors.As(err, &remote):
		return types.ErrAck.Wrap(remote)
	default:
		return err
	}
}

// ackFrame 构建确认帧
func ackFrame(rec types.AckRecord) (*wire.Frame, error) {
	switch rec.Outcome {
	case types.OutcomeAck:
		return wire.NewRequest(wire.TypeAck, &wire.AckBody{Idem: rec.Idem, Block: rec.Block})
	case types.OutcomeDefer:
		return wire.NewRequest(wire.TypeDefer, &wire.DeferBody{Idem: rec.Idem, DelayMs: rec.DelayMs, Reason: rec.Reason})
	case types.OutcomeDiscard:
		return wire.NewRequest(wire.TypeDiscard, &wire.DiscardBody{Idem: rec.Idem, Reason: rec.Reason})
	default:
		return nil, errors.New("unknown ack outcome")
	}
}
