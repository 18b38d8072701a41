package tally

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyhq/tally/mock"
	"github.com/tallyhq/tally/transport"
	"github.com/tallyhq/tally/transport/tcp"
)

func constant(results ...interface{}) transport.IndicatorFunc {
	return func(ctx context.Context, inv transport.Invocation) transport.Outcome {
		return transport.Outcome{Results: results}
	}
}

func TestE2EMockTransport(t *testing.T) {
	defer leaktest.Check(t)()
	ctx := context.Background()
	mt := mock.NewTransport()
	e := New("g1", WithTransport(mt), WithConfig(ConfigPatch{
		InitConfig: map[string]interface{}{"interval": 5}}))
	require.NoError(t, e.Initialize(ctx))

	a, err := mt.Connect(ctx, normal("svc1"), constant(1, 2))
	require.NoError(t, err)
	cfg, err := a.InitConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"interval": 5.0}, cfg)

	c, err := mt.Connect(ctx, normal("svc2"), func(ctx context.Context, inv transport.Invocation) transport.Outcome {
		return transport.Outcome{Error: "no data yet"}
	})
	require.NoError(t, err)

	results, err := e.Invoke(ctx, "svc1", nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1.0, 2.0}, results)

	all, err := e.InvokeAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, Results{"svc1": {1.0, 2.0}}, all)

	// A disconnected indicator is evicted; the query still succeeds
	require.NoError(t, a.Disconnect())
	require.Eventually(t, func() bool { return e.Len() == 1 }, time.Second, 5*time.Millisecond)
	results, err = e.Invoke(ctx, "svc1", nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	require.NoError(t, e.Destroy(ctx))
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		assert.Fail(t, "indicator still connected after Destroy")
	}
	assert.Equal(t, 0, mt.Connected())
}

func TestE2ESingletonNeverHearsBack(t *testing.T) {
	defer leaktest.Check(t)()
	ctx := context.Background()
	mt := mock.NewTransport()
	e := New("g1", WithTransport(mt))
	require.NoError(t, e.Initialize(ctx))
	defer e.Destroy(ctx)

	first, err := mt.Connect(ctx, singleton("svc1", "ind1"), constant("first"))
	require.NoError(t, err)
	_, err = first.InitConfig(ctx)
	require.NoError(t, err)

	second, err := mt.Connect(ctx, singleton("svc1", "ind1"), constant("second"))
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = second.InitConfig(waitCtx)
	assert.Equal(t, transport.ErrTimeout, err)
	assert.Equal(t, 1, e.Len())

	results, err := e.Invoke(ctx, "svc1", nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"first"}, results)

	// Once the first one goes, the name is free again
	require.NoError(t, first.Disconnect())
	require.Eventually(t, func() bool { return e.Len() == 0 }, time.Second, 5*time.Millisecond)
	third, err := mt.Connect(ctx, singleton("svc1", "ind1"), constant("third"))
	require.NoError(t, err)
	_, err = third.InitConfig(ctx)
	require.NoError(t, err)
	second.Disconnect()
}

func TestE2EGroupsShareTransport(t *testing.T) {
	defer leaktest.Check(t)()
	ctx := context.Background()
	mt := mock.NewTransport()
	e1 := New("g1", WithTransport(mt))
	e2 := New("g2", WithTransport(mt))
	require.NoError(t, e1.Initialize(ctx))
	require.NoError(t, e2.Initialize(ctx))

	reg := normal("svc1")
	_, err := mt.Connect(ctx, reg, constant(1))
	require.NoError(t, err)
	reg.Group = "g2"
	_, err = mt.Connect(ctx, reg, constant(2))
	require.NoError(t, err)

	r1, err := e1.Invoke(ctx, "svc1", nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1.0}, r1)
	r2, err := e2.Invoke(ctx, "svc1", nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{2.0}, r2)

	require.NoError(t, e2.Destroy(ctx))
	// g2 closed the shared transport, which takes g1's indicators with it
	require.Eventually(t, func() bool { return e1.Len() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, e1.Destroy(ctx))
}

func TestE2ETCP(t *testing.T) {
	defer leaktest.Check(t)()
	ctx := context.Background()
	tt, err := tcp.Listen("127.0.0.1:0")
	require.NoError(t, err)
	timeout := 200 * time.Millisecond
	e := New("g1", WithTransport(tt), WithConfig(ConfigPatch{
		InitConfig:   map[string]interface{}{"interval": 5},
		QueryTimeout: &timeout}))
	require.NoError(t, e.Initialize(ctx))

	const n = 5
	clients := make([]*tcp.Client, n)
	for i := 0; i < n; i++ {
		i := i
		c, err := tcp.Dial(ctx, tt.Addr().String(), normal(fmt.Sprintf("svc%d", i%2)),
			func(ctx context.Context, inv transport.Invocation) transport.Outcome {
				return transport.Outcome{Results: []interface{}{float64(i), inv.Args}}
			})
		require.NoError(t, err)
		cfg, err := c.InitConfig(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"interval": 5.0}, cfg)
		clients[i] = c
	}
	// The reply goes out just before the handle joins the set
	require.Eventually(t, func() bool { return e.Len() == n }, time.Second, 5*time.Millisecond)

	// A slow indicator costs only its own results
	slow, err := tcp.Dial(ctx, tt.Addr().String(), normal("svc0"),
		func(ctx context.Context, inv transport.Invocation) transport.Outcome {
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
			return transport.Outcome{Results: []interface{}{"late"}}
		})
	require.NoError(t, err)
	_, err = slow.InitConfig(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return e.Len() == n+1 }, time.Second, 5*time.Millisecond)

	all, err := e.InvokeAll(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, Results{
		"svc0": {0.0, "x", 2.0, "x", 4.0, "x"},
		"svc1": {1.0, "x", 3.0, "x"}}, all)

	wg := sync.WaitGroup{}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := e.Invoke(ctx, "svc1", nil)
			assert.NoError(t, err)
			assert.Len(t, results, 4)
		}()
	}
	wg.Wait()

	require.NoError(t, clients[0].Disconnect())
	require.Eventually(t, func() bool { return e.Len() == n }, time.Second, 5*time.Millisecond)

	require.NoError(t, e.Destroy(ctx))
	for _, c := range append(clients[1:], slow) {
		select {
		case <-c.Done():
		case <-time.After(time.Second):
			assert.Fail(t, "indicator still connected after Destroy")
		}
	}
}
