package keycache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/dep2p/go-ensync/internal/config"
	"github.com/dep2p/go-ensync/internal/core/envelope"
	"github.com/dep2p/go-ensync/internal/util/logger"
	"github.com/dep2p/go-ensync/pkg/interfaces"
	"github.com/dep2p/go-ensync/pkg/types"
)

var log = logger.Logger("core/keycache")

// Cache 收件人公钥缓存
//
// 并发安全。Get/Put 不做 I/O；Resolve 在未命中时查询目录。
type Cache struct {
	entries *lru.Cache[string, []byte]

	directory     interfaces.KeyDirectory
	lookupTimeout time.Duration

	group singleflight.Group
}

// New 创建缓存
//
// directory 可以为 nil，此时 Resolve 只使用缓存。
func New(cfg *config.KeysConfig, directory interfaces.KeyDirectory) (*Cache, error) {
	if cfg == nil {
		c := config.DefaultKeysConfig()
		cfg = &c
	}

	entries, err := lru.New[string, []byte](cfg.RecipientCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}

	return &Cache{
		entries:       entries,
		directory:     directory,
		lookupTimeout: cfg.LookupTimeout,
	}, nil
}

// Get 查询缓存
func (c *Cache) Get(identifier string) ([]byte, bool) {
	return c.entries.Get(identifier)
}

// Put 写入缓存，满时淘汰最久未使用的条目
func (c *Cache) Put(identifier string, publicKey []byte) error {
	if len(publicKey) != envelope.KeySize {
		return types.ErrInvalidKey.Wrapf("public key for %q must be %d bytes, got %d",
			identifier, envelope.KeySize, len(publicKey))
	}
	key := make([]byte, len(publicKey))
	copy(key, publicKey)

	if evicted := c.entries.Add(identifier, key); evicted {
		log.Debug("公钥缓存已满，淘汰最久未使用条目", "size", c.entries.Len())
	}
	return nil
}

// Remove 移除条目
func (c *Cache) Remove(identifier string) {
	c.entries.Remove(identifier)
}

// Len 当前条目数
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Purge 清空缓存
func (c *Cache) Purge() {
	c.entries.Purge()
}

// Resolve 解析单个收件人公钥
//
// 未命中时查询目录并回填；同一标识的并发查询合并为一次。合并的查询
// 不随任何一个调用方的 ctx 取消，由 LookupTimeout 限定，每个调用方
// 只按自己的 ctx 放弃等待。
func (c *Cache) Resolve(ctx context.Context, identifier string) ([]byte, error) {
	if key, ok := c.entries.Get(identifier); ok {
		return key, nil
	}
	if c.directory == nil {
		return nil, types.ErrMissingKey.Wrapf("%s: %w", identifier, ErrNoDirectory)
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(identifier, func() (any, error) {
		if key, ok := c.entries.Peek(identifier); ok {
			return key, nil
		}

		lookupCtx, cancel := context.WithTimeout(shared, c.lookupTimeout)
		defer cancel()

		key, err := c.directory.LookupKey(lookupCtx, identifier)
		if err != nil {
			return nil, err
		}
		if err := c.Put(identifier, key); err != nil {
			return nil, err
		}
		log.Debug("收件人公钥已缓存", "recipient", identifier)
		return key, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// ResolveAll 按顺序解析全部收件人
//
// 重复的标识得到重复的公钥。
func (c *Cache) ResolveAll(ctx context.Context, identifiers []string) ([][]byte, error) {
	keys := make([][]byte, 0, len(identifiers))
	for _, id := range identifiers {
		key, err := c.Resolve(ctx, id)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}
