package keycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-ensync/internal/config"
	"github.com/dep2p/go-ensync/internal/core/envelope"
	"github.com/dep2p/go-ensync/pkg/types"
	"github.com/dep2p/go-ensync/pkg/wire"
)

// ============================================================================
//                              测试辅助
// ============================================================================

type mockDirectory struct {
	LookupKeyFunc func(ctx context.Context, identifier string) ([]byte, error)
	calls         atomic.Int32
}

func (m *mockDirectory) LookupKey(ctx context.Context, identifier string) ([]byte, error) {
	m.calls.Add(1)
	return m.LookupKeyFunc(ctx, identifier)
}

type mockRequester struct {
	RequestFunc func(ctx context.Context, frame *wire.Frame, timeout time.Duration) (*wire.Frame, error)
}

func (m *mockRequester) Request(ctx context.Context, frame *wire.Frame, timeout time.Duration) (*wire.Frame, error) {
	return m.RequestFunc(ctx, frame, timeout)
}

func testKey(b byte) []byte {
	key := make([]byte, envelope.KeySize)
	for i := range key {
		key[i] = b
	}
	return key
}

func newCache(t *testing.T, size int, dir *mockDirectory) *Cache {
	t.Helper()
	cfg := config.DefaultKeysConfig()
	cfg.RecipientCacheSize = size
	var c *Cache
	var err error
	if dir == nil {
		c, err = New(&cfg, nil)
	} else {
		c, err = New(&cfg, dir)
	}
	require.NoError(t, err)
	return c
}

// ============================================================================
//                              Cache
// ============================================================================

func TestCache_PutGet(t *testing.T) {
	c := newCache(t, 10, nil)

	require.NoError(t, c.Put("alice", testKey(1)))
	key, ok := c.Get("alice")
	require.True(t, ok)
	assert.Equal(t, testKey(1), key)

	_, ok = c.Get("bob")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestCache_PutRejectsBadKey(t *testing.T) {
	c := newCache(t, 10, nil)

	err := c.Put("alice", []byte("short"))
	assert.True(t, errors.Is(err, types.ErrInvalidKey))
	assert.Equal(t, 0, c.Len())
}

func TestCache_LRUEviction(t *testing.T) {
	c := newCache(t, 3, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Put(fmt.Sprintf("r%d", i), testKey(byte(i))))
	}
	// r0 变为最近使用
	_, ok := c.Get("r0")
	require.True(t, ok)

	require.NoError(t, c.Put("r3", testKey(3)))

	assert.Equal(t, 3, c.Len())
	_, ok = c.Get("r1")
	assert.False(t, ok, "r1 应被淘汰")
	_, ok = c.Get("r0")
	assert.True(t, ok)
	_, ok = c.Get("r3")
	assert.True(t, ok)
}

func TestCache_NeverExceedsCapacity(t *testing.T) {
	c := newCache(t, 5, nil)

	for i := 0; i < 100; i++ {
		require.NoError(t, c.Put(fmt.Sprintf("r%d", i), testKey(byte(i))))
		assert.LessOrEqual(t, c.Len(), 5)
	}
}

func TestCache_RemovePurge(t *testing.T) {
	c := newCache(t, 5, nil)
	require.NoError(t, c.Put("a", testKey(1)))
	require.NoError(t, c.Put("b", testKey(2)))

	c.Remove("a")
	assert.Equal(t, 1, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestCache_ResolveFillsCache(t *testing.T) {
	dir := &mockDirectory{LookupKeyFunc: func(_ context.Context, id string) ([]byte, error) {
		return testKey(7), nil
	}}
	c := newCache(t, 10, dir)

	key, err := c.Resolve(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, testKey(7), key)

	_, err = c.Resolve(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, int32(1), dir.calls.Load())
}

func TestCache_ResolveConcurrentMissesCollapse(t *testing.T) {
	release := make(chan struct{})
	dir := &mockDirectory{LookupKeyFunc: func(_ context.Context, id string) ([]byte, error) {
		<-release
		return testKey(9), nil
	}}
	c := newCache(t, 10, dir)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, err := c.Resolve(context.Background(), "dave")
			assert.NoError(t, err)
			assert.Equal(t, testKey(9), key)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, dir.calls.Load(), int32(2))
}

// TestCache_ResolveCallerCancelDoesNotFailOthers 第一个调用方取消不影响合并进来的调用方
func TestCache_ResolveCallerCancelDoesNotFailOthers(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	dir := &mockDirectory{LookupKeyFunc: func(ctx context.Context, _ string) ([]byte, error) {
		close(entered)
		select {
		case <-release:
			return testKey(5), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	c := newCache(t, 10, dir)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Resolve(firstCtx, "erin")
		firstErr <- err
	}()
	<-entered

	type result struct {
		key []byte
		err error
	}
	second := make(chan result, 1)
	go func() {
		key, err := c.Resolve(context.Background(), "erin")
		second <- result{key, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("取消的调用方没有返回")
	}

	close(release)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.Equal(t, testKey(5), res.key)
	case <-time.After(time.Second):
		t.Fatal("第二个调用方没有返回")
	}

	assert.Equal(t, int32(1), dir.calls.Load())
	_, ok := c.Get("erin")
	assert.True(t, ok)
}

func TestCache_ResolveErrors(t *testing.T) {
	c := newCache(t, 10, nil)
	_, err := c.Resolve(context.Background(), "nobody")
	assert.True(t, errors.Is(err, types.ErrMissingKey))
	assert.True(t, errors.Is(err, ErrNoDirectory))

	dir := &mockDirectory{LookupKeyFunc: func(_ context.Context, id string) ([]byte, error) {
		return []byte("bad"), nil
	}}
	c = newCache(t, 10, dir)
	_, err = c.Resolve(context.Background(), "x")
	assert.True(t, errors.Is(err, types.ErrInvalidKey))
	assert.Equal(t, 0, c.Len())
}

func TestCache_ResolveAllKeepsOrderAndDuplicates(t *testing.T) {
	dir := &mockDirectory{LookupKeyFunc: func(_ context.Context, id string) ([]byte, error) {
		return testKey(id[0]), nil
	}}
	c := newCache(t, 10, dir)

	keys, err := c.ResolveAll(context.Background(), []string{"a", "b", "a"})
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.Equal(t, testKey('a'), keys[0])
	assert.Equal(t, testKey('b'), keys[1])
	assert.Equal(t, testKey('a'), keys[2])
}

// ============================================================================
//                              目录
// ============================================================================

func TestInlineDirectory(t *testing.T) {
	kp, err := envelope.GenerateKeyPair()
	require.NoError(t, err)

	key, err := InlineDirectory{}.LookupKey(context.Background(), kp.PublicKeyString())
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, key)

	_, err = InlineDirectory{}.LookupKey(context.Background(), "deadRecipient")
	assert.True(t, errors.Is(err, types.ErrMissingKey))
}

func TestBrokerDirectory(t *testing.T) {
	kp, err := envelope.GenerateKeyPair()
	require.NoError(t, err)

	conn := &mockRequester{RequestFunc: func(_ context.Context, f *wire.Frame, _ time.Duration) (*wire.Frame, error) {
		assert.Equal(t, wire.TypeResolveKey, f.Type)
		var body wire.ResolveKeyBody
		require.NoError(t, f.DecodeBody(&body))
		if body.Identifier != "alice" {
			return nil, &wire.RemoteError{Code: wire.CodeNotFound}
		}
		return wire.NewResponse("1", &wire.ResolveKeyResult{PublicKey: kp.PublicKeyString()})
	}}
	dir := NewBrokerDirectory(conn, time.Second)

	key, err := dir.LookupKey(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, key)

	_, err = dir.LookupKey(context.Background(), "bob")
	assert.True(t, errors.Is(err, types.ErrMissingKey))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBrokerDirectory_ConnectionErrorPassesThrough(t *testing.T) {
	conn := &mockRequester{RequestFunc: func(context.Context, *wire.Frame, time.Duration) (*wire.Frame, error) {
		return nil, types.ErrNotConnected
	}}

	_, err := NewBrokerDirectory(conn, 0).LookupKey(context.Background(), "alice")
	assert.True(t, errors.Is(err, types.ErrNotConnected))
	assert.False(t, errors.Is(err, types.ErrMissingKey))
}

func TestChainDirectory(t *testing.T) {
	kp, err := envelope.GenerateKeyPair()
	require.NoError(t, err)

	fallback := &mockDirectory{LookupKeyFunc: func(_ context.Context, id string) ([]byte, error) {
		return testKey(5), nil
	}}
	chain := ChainDirectory{InlineDirectory{}, fallback}

	key, err := chain.LookupKey(context.Background(), kp.PublicKeyString())
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, key)
	assert.Equal(t, int32(0), fallback.calls.Load())

	key, err = chain.LookupKey(context.Background(), "named-recipient")
	require.NoError(t, err)
	assert.Equal(t, testKey(5), key)

	_, err = ChainDirectory{}.LookupKey(context.Background(), "x")
	assert.True(t, errors.Is(err, types.ErrMissingKey))
}

func TestChainDirectory_StopsOnConnectionError(t *testing.T) {
	failing := &mockDirectory{LookupKeyFunc: func(context.Context, string) ([]byte, error) {
		return nil, types.ErrConnectionClosed
	}}
	after := &mockDirectory{LookupKeyFunc: func(context.Context, string) ([]byte, error) {
		return testKey(1), nil
	}}

	_, err := ChainDirectory{failing, after}.LookupKey(context.Background(), "x")
	assert.True(t, errors.Is(err, types.ErrConnection))
	assert.Equal(t, int32(0), after.calls.Load())
}

func TestDefaultDirectory(t *testing.T) {
	cfg := config.DefaultKeysConfig()
	assert.IsType(t, InlineDirectory{}, DefaultDirectory(&cfg, nil))

	custom := &mockDirectory{}
	cfg.Directory = custom
	assert.Same(t, custom, DefaultDirectory(&cfg, nil))
}
