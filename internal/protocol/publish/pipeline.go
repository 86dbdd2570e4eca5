package publish

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-ensync/internal/config"
	"github.com/dep2p/go-ensync/internal/core/metrics"
	"github.com/dep2p/go-ensync/internal/util/logger"
	"github.com/dep2p/go-ensync/pkg/interfaces"
	"github.com/dep2p/go-ensync/pkg/types"
	"github.com/dep2p/go-ensync/pkg/wire"
)

var log = logger.Logger("protocol/publish")

// ============================================================================
//                              依赖接口
// ============================================================================

// KeyResolver 把收件人标识解析为公钥
type KeyResolver interface {
	ResolveAll(ctx context.Context, identifiers []string) ([][]byte, error)
}

// Encrypter 为收件人加密结构化载荷
type Encrypter interface {
	Encrypt(payload any, recipientKeys [][]byte) (*wire.Envelope, error)
}

// ============================================================================
//                              Pipeline
// ============================================================================

// Pipeline 发布管道
type Pipeline struct {
	cfg     *config.PublishConfig
	conn    interfaces.Connection
	keys    KeyResolver
	crypto  Encrypter
	metrics *metrics.Metrics

	slots   *semaphore.Weighted
	limiter *rate.Limiter
}

// New 创建发布管道
func New(cfg *config.PublishConfig, conn interfaces.Connection, keys KeyResolver, crypto Encrypter, m *metrics.Metrics) *Pipeline {
	if cfg == nil {
		c := config.DefaultPublishConfig()
		cfg = &c
	}

	p := &Pipeline{
		cfg:     cfg,
		conn:    conn,
		keys:    keys,
		crypto:  crypto,
		metrics: m,
		slots:   semaphore.NewWeighted(int64(cfg.MaxInFlight)),
	}
	if cfg.RateLimit > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	return p
}

// Publish 发布事件，返回 Broker 分配的 idem
func (p *Pipeline) Publish(ctx context.Context, req types.PublishRequest) (types.PublishResult, error) {
	if err := validate(req); err != nil {
		return types.PublishResult{}, err
	}

	if !req.Options.Persist {
		if err := p.checkReady(); err != nil {
			return types.PublishResult{}, err
		}
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return types.PublishResult{}, err
		}
	}

	if err := p.slots.Acquire(ctx, 1); err != nil {
		return types.PublishResult{}, err
	}
	defer p.slots.Release(1)

	p.metrics.PublishStarted()
	res, err := p.publishWithRetry(ctx, req)
	p.metrics.PublishDone(resultLabel(err))

	if err != nil {
		log.Debug("发布失败", "event", req.EventName, "err", err)
		return types.PublishResult{}, err
	}
	return res, nil
}

// PublishMany 并发发布一批事件
//
// 并发度仍受在途上限约束；结果与输入一一对应，失败项为零值，
// 所有错误合并返回。
func (p *Pipeline) PublishMany(ctx context.Context, reqs []types.PublishRequest) ([]types.PublishResult, error) {
	results := make([]types.PublishResult, len(reqs))
	errs := make([]error, len(reqs))

	var wg sync.WaitGroup
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Publish(ctx, reqs[i])
		}(i)
	}
	wg.Wait()

	return results, multierr.Combine(errs...)
}

// publishWithRetry persist 发布在连接错误后等待恢复并重新提交
func (p *Pipeline) publishWithRetry(ctx context.Context, req types.PublishRequest) (types.PublishResult, error) {
	for {
		res, err := p.publishOnce(ctx, req)
		if err == nil || !req.Options.Persist || !errors.Is(err, types.ErrConnection) {
			return res, err
		}

		log.Debug("连接不可用，等待会话恢复后重新提交", "event", req.EventName, "err", err)
		if werr := p.conn.WaitReady(ctx); werr != nil {
			if errors.Is(werr, types.ErrConnection) {
				return types.PublishResult{}, werr
			}
			return types.PublishResult{}, types.ErrNotConnected.Wrap(werr)
		}
	}
}

// publishOnce 解析、加密、提交一次
func (p *Pipeline) publishOnce(ctx context.Context, req types.PublishRequest) (types.PublishResult, error) {
	if err := p.checkReady(); err != nil {
		return types.PublishResult{}, err
	}

	keys, err := p.keys.ResolveAll(ctx, req.Recipients)
	if err != nil {
		return types.PublishResult{}, err
	}

	env, err := p.crypto.Encrypt(req.Payload, keys)
	if err != nil {
		return types.PublishResult{}, err
	}

	frame, err := wire.NewRequest(wire.TypePublish, &wire.PublishBody{
		EventName:  req.EventName,
		Recipients: req.Recipients,
		Envelope:   env,
		Persist:    req.Options.Persist,
		Headers:    req.Options.Headers,
	})
	if err != nil {
		return types.PublishResult{}, types.ErrInvalidPublish.Wrap(err)
	}

	resp, err := p.conn.Request(ctx, frame, p.cfg.Timeout)
	if err != nil {
		return types.PublishResult{}, p.mapError(err)
	}

	var result wire.PublishResult
	if err := resp.DecodeBody(&result); err != nil {
		return types.PublishResult{}, types.ErrPublishRejected.Wrap(err)
	}
	return types.PublishResult{Idem: result.Idem}, nil
}

// mapError 把请求错误归类为发布错误
func (p *Pipeline) mapError(err error) error {
	var remote *wire.RemoteError
	switch {
	case errors.Is(err, types.ErrRequestTimeout):
		return types.ErrPublishTimeout.Wrapf("no ack within %s", p.cfg.Timeout)
	case errors.As(err, &remote):
		return types.ErrPublishRejected.Wrap(remote)
	default:
		return err
	}
}

func (p *Pipeline) checkReady() error {
	switch state := p.conn.State(); state {
	case types.StateReady:
		return nil
	case types.StateClosed:
		return types.ErrConnectionClosed
	default:
		return types.ErrNotConnected.Wrapf("state %s", state)
	}
}

// ============================================================================
//                              辅助
// ============================================================================

func validate(req types.PublishRequest) error {
	if req.EventName == "" {
		return types.ErrInvalidPublish.Wrapf("event name is empty")
	}
	if len(req.Recipients) == 0 {
		return types.ErrInvalidPublish.Wrapf("no recipients")
	}
	for i, r := range req.Recipients {
		if r == "" {
			return types.ErrInvalidPublish.Wrapf("recipient %d is empty", i)
		}
	}
	return nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, types.ErrPublishTimeout):
		return metrics.ResultTimeout
	case errors.Is(err, types.ErrPublishRejected):
		return metrics.ResultRejected
	default:
		return metrics.ResultError
	}
}
