// Package mock provides an in-memory Transport. Indicators "connect" from the same process, but every frame still
// crosses the wire codec so payloads behave exactly as they would over a network.
package mock

import (
	"context"
	"sync"

	mapset "github.com/deckarep/golang-set"
	log "github.com/monzo/slog"
	"github.com/monzo/terrors"
	uuid "github.com/nu7hatch/gouuid"
	"gopkg.in/tomb.v2"

	"github.com/tallyhq/tally/transport"
)

// Transport is an in-memory transport.Transport.
type Transport struct {
	sync.RWMutex
	tomb     *tomb.Tomb
	handlers []transport.DiscoveryHandler
	links    map[string]*link
	live     mapset.Set // ids of connected links
	calls    sync.WaitGroup
}

// NewTransport vends a Transport which is ready for use.
func NewTransport() *Transport {
	t := &Transport{
		tomb:  new(tomb.Tomb),
		links: make(map[string]*link),
		live:  mapset.NewSet()}
	t.tomb.Go(t.run)
	return t
}

func (t *Transport) run() error {
	<-t.tomb.Dying()
	t.disconnectAll()
	return nil
}

func (t *Transport) disconnectAll() {
	t.RLock()
	ls := make([]*link, 0, len(t.links))
	for _, l := range t.links {
		ls = append(ls, l)
	}
	t.RUnlock()
	for _, l := range ls {
		l.disconnect()
	}
}

// Discovery binds h; it will be offered every subsequent registration.
func (t *Transport) Discovery(h transport.DiscoveryHandler) error {
	t.Lock()
	defer t.Unlock()
	if !t.tomb.Alive() {
		return transport.ErrClosed
	}
	t.handlers = append(t.handlers, h)
	return nil
}

// Close disconnects every indicator and waits for in-flight invocations to drain, or for ctx to expire.
func (t *Transport) Close(ctx context.Context) error {
	// Calls are only counted while the tomb is alive (see serverConn.Call), so none are added once Wait starts
	t.Lock()
	t.tomb.Kill(nil)
	t.Unlock()
	drained := make(chan struct{})
	go func() {
		t.tomb.Wait()
		t.calls.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return terrors.Timeout("close", "Timed out draining mock transport", nil)
	}
}

// Connected returns the number of live connections.
func (t *Transport) Connected() int {
	return t.live.Cardinality()
}

// Connect registers an indicator as if it had dialled in from another process. It returns once every bound discovery
// handler has seen the registration.
func (t *Transport) Connect(ctx context.Context, reg transport.Registration, f transport.IndicatorFunc) (*Client, error) {
	wire, err := transport.CopyOverWire(transport.Frame{Kind: transport.KindRegister, Registration: reg})
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, terrors.Wrap(err, nil)
	}

	lctx, cancel := context.WithCancel(context.Background())
	l := &link{
		t:      t,
		id:     id.String(),
		reg:    wire.Registration,
		f:      f,
		ctx:    lctx,
		cancel: cancel,
		config: make(chan map[string]interface{}, 1),
		done:   make(chan struct{})}

	t.Lock()
	if !t.tomb.Alive() {
		t.Unlock()
		cancel()
		return nil, transport.ErrClosed
	}
	if len(t.handlers) == 0 {
		t.Unlock()
		cancel()
		return nil, transport.ErrNoListener
	}
	handlers := append([]transport.DiscoveryHandler(nil), t.handlers...)
	t.links[l.id] = l
	t.live.Add(l.id)
	t.Unlock()

	log.Debug(ctx, "[Tally:MockTransport] Indicator %s/%s connected as %s", reg.AppName, reg.IndicatorName, l.id)
	for _, h := range handlers {
		h(l.reg, l.reply, &serverConn{l})
	}
	return &Client{l}, nil
}

func (t *Transport) remove(id string) {
	t.Lock()
	defer t.Unlock()
	delete(t.links, id)
	t.live.Remove(id)
}

// link is a single in-memory connection; the EndPoint and the indicator each hold a view onto it.
type link struct {
	t      *Transport
	id     string
	reg    transport.Registration
	f      transport.IndicatorFunc
	ctx    context.Context // the indicator process's view; cancelled on disconnect
	cancel context.CancelFunc
	config chan map[string]interface{}
	done   chan struct{}
	once   sync.Once
}

func (l *link) disconnect() {
	l.once.Do(func() {
		l.cancel()
		close(l.done)
		l.t.remove(l.id)
		log.Debug(l.ctx, "[Tally:MockTransport] Connection %s closed", l.id)
	})
}

func (l *link) reply(cfg map[string]interface{}) error {
	wire, err := transport.CopyOverWire(transport.Frame{Kind: transport.KindConfig, ID: l.id, Config: cfg})
	if err != nil {
		return err
	}
	select {
	case <-l.done:
		return transport.ErrClosed
	default:
	}
	select {
	case l.config <- wire.Config:
	default: // only the first reply is kept
	}
	return nil
}

type serverConn struct {
	l *link
}

func (c *serverConn) ID() string {
	return c.l.id
}

func (c *serverConn) Done() <-chan struct{} {
	return c.l.done
}

func (c *serverConn) Close() error {
	c.l.disconnect()
	return nil
}

func (c *serverConn) Call(ctx context.Context, inv transport.Invocation) (transport.Outcome, error) {
	l := c.l
	select {
	case <-l.done:
		return transport.Outcome{}, transport.ErrClosed
	default:
	}
	wire, err := transport.CopyOverWire(transport.Frame{Kind: transport.KindInvoke, ID: l.id, Invocation: inv})
	if err != nil {
		return transport.Outcome{}, err
	}

	rspChan := make(chan transport.Outcome, 1)
	l.t.RLock()
	if !l.t.tomb.Alive() {
		l.t.RUnlock()
		return transport.Outcome{}, transport.ErrClosed
	}
	l.t.calls.Add(1)
	l.t.RUnlock()
	go func() {
		defer l.t.calls.Done()
		rspChan <- l.invoke(wire.Invocation)
	}()

	select {
	case out := <-rspChan:
		return out, nil
	case <-l.done:
		return transport.Outcome{}, transport.ErrClosed
	case <-ctx.Done():
		log.Debug(ctx, "[Tally:MockTransport] Gave up waiting for %s: %v", l.id, ctx.Err())
		if ctx.Err() == context.DeadlineExceeded {
			return transport.Outcome{}, transport.ErrTimeout
		}
		return transport.Outcome{}, terrors.Wrap(ctx.Err(), nil)
	}
}

// invoke runs on the indicator's side of the link.
func (l *link) invoke(inv transport.Invocation) transport.Outcome {
	out := l.f(l.ctx, inv)
	if out.AppName == "" {
		out.AppName = l.reg.AppName
	}
	wire, err := transport.CopyOverWire(transport.Frame{Kind: transport.KindResult, ID: l.id, Outcome: out})
	if err != nil {
		return transport.Outcome{AppName: out.AppName, Error: err.Error()}
	}
	return wire.Outcome
}

// Client is the indicator's side of an in-memory connection.
type Client struct {
	l *link
}

var _ transport.Peer = (*Client)(nil)

// ID returns the connection id shared with the EndPoint's side.
func (c *Client) ID() string {
	return c.l.id
}

// InitConfig waits for the EndPoint's reply to the registration.
func (c *Client) InitConfig(ctx context.Context) (map[string]interface{}, error) {
	select {
	case cfg := <-c.l.config:
		select {
		case c.l.config <- cfg: // keep it for later callers
		default:
		}
		return cfg, nil
	case <-c.l.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, transport.ErrTimeout
	}
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.l.done
}

// Disconnect drops the connection, as if the indicator process had exited.
func (c *Client) Disconnect() error {
	c.l.disconnect()
	return nil
}
