// Package tcp carries indicator connections over TCP. Frames are length-prefixed protobuf Structs (see
// transport.MarshalFrame).
package tcp

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	log "github.com/monzo/slog"
	"github.com/monzo/terrors"
	uuid "github.com/nu7hatch/gouuid"
	"gopkg.in/tomb.v2"

	"github.com/tallyhq/tally/transport"
)

// HandshakeTimeout bounds how long a new connection may take to send its registration.
var HandshakeTimeout = 10 * time.Second

// WriteTimeout bounds a frame write when the caller brings no deadline of its own.
var WriteTimeout = 10 * time.Second

// Transport accepts indicator connections on a listener.
type Transport struct {
	sync.RWMutex
	tomb     *tomb.Tomb
	l        net.Listener
	handlers []transport.DiscoveryHandler
	conns    map[string]*serverConn
	live     mapset.Set // ids of registered connections
	raw      mapset.Set // every accepted net.Conn, registered or not
}

// Listen starts a Transport on the passed TCP address.
func Listen(addr string) (*Transport, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, terrors.Wrap(err, map[string]string{"addr": addr})
	}
	return Serve(l), nil
}

// Serve starts a Transport accepting connections from l.
func Serve(l net.Listener) *Transport {
	t := &Transport{
		tomb:  new(tomb.Tomb),
		l:     l,
		conns: make(map[string]*serverConn),
		live:  mapset.NewSet(),
		raw:   mapset.NewSet()}
	t.tomb.Go(t.acceptLoop)
	return t
}

// Addr is the address the Transport is listening on.
func (t *Transport) Addr() net.Addr {
	return t.l.Addr()
}

// Connected returns the number of live connections.
func (t *Transport) Connected() int {
	return t.live.Cardinality()
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

// Close stops accepting, disconnects every indicator, and waits for connection goroutines to exit.
func (t *Transport) Close(ctx context.Context) error {
	t.tomb.Kill(nil)
	t.l.Close()
	t.RLock()
	conns := make([]*serverConn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.RUnlock()
	for _, c := range conns {
		c.Close()
	}
	for _, nc := range t.raw.ToSlice() {
		nc.(net.Conn).Close()
	}

	select {
	case <-t.tomb.Dead():
		return nil
	case <-ctx.Done():
		return terrors.Timeout("close", "Timed out closing tcp transport", nil)
	}
}

func (t *Transport) acceptLoop() error {
	for {
		nc, err := t.l.Accept()
		if err != nil {
			select {
			case <-t.tomb.Dying():
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				log.Warn(context.Background(), "[Tally:TCP] Temporary accept error: %v", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return terrors.Wrap(err, nil)
		}
		t.Lock()
		if !t.tomb.Alive() {
			t.Unlock()
			nc.Close()
			return nil
		}
		t.raw.Add(nc)
		t.Unlock()
		t.tomb.Go(func() error {
			defer t.raw.Remove(nc)
			t.handle(nc)
			return nil
		})
	}
}

func (t *Transport) handle(nc net.Conn) {
	ctx := context.Background()
	r := bufio.NewReader(nc)

	nc.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	f, err := readFrame(r)
	if err != nil || f.Kind != transport.KindRegister {
		log.Warn(ctx, "[Tally:TCP] Bad handshake from %s: %v", nc.RemoteAddr(), err, map[string]string{
			"remote_addr": nc.RemoteAddr().String()})
		nc.Close()
		return
	}
	nc.SetReadDeadline(time.Time{})

	id, err := uuid.NewV4()
	if err != nil {
		log.Error(ctx, "[Tally:TCP] Failed to generate connection id: %v", err)
		nc.Close()
		return
	}
	c := &serverConn{
		t:        t,
		id:       id.String(),
		nc:       nc,
		writeSem: make(chan struct{}, 1),
		inflight: make(map[string]chan<- transport.Outcome),
		done:     make(chan struct{})}

	t.Lock()
	if !t.tomb.Alive() || len(t.handlers) == 0 {
		t.Unlock()
		nc.Close()
		return
	}
	handlers := append([]transport.DiscoveryHandler(nil), t.handlers...)
	t.conns[c.id] = c
	t.live.Add(c.id)
	t.Unlock()

	log.Debug(ctx, "[Tally:TCP] Indicator %s/%s connected from %s as %s", f.Registration.AppName,
		f.Registration.IndicatorName, nc.RemoteAddr(), c.id)
	for _, h := range handlers {
		h(f.Registration, c.reply, c)
	}
	c.readLoop(r)
}

func (t *Transport) remove(id string) {
	t.Lock()
	defer t.Unlock()
	delete(t.conns, id)
	t.live.Remove(id)
}

type serverConn struct {
	t         *Transport
	id        string
	nc        net.Conn
	writeSem  chan struct{} // holds one token while a frame is being written
	inflightM sync.Mutex
	inflight  map[string]chan<- transport.Outcome // request id: outcome chan
	done      chan struct{}
	once      sync.Once
}

func (c *serverConn) ID() string {
	return c.id
}

func (c *serverConn) Done() <-chan struct{} {
	return c.done
}

func (c *serverConn) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.nc.Close()
		c.t.remove(c.id)
		log.Debug(context.Background(), "[Tally:TCP] Connection %s closed", c.id)
	})
	return nil
}

// write sends one frame, giving up once ctx expires. A write cut short leaves a partial frame on the stream, so the
// connection is closed.
func (c *serverConn) write(ctx context.Context, f transport.Frame) error {
	select {
	case c.writeSem <- struct{}{}:
	case <-c.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return transport.ErrTimeout
	}
	defer func() { <-c.writeSem }()
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(WriteTimeout)
	}
	c.nc.SetWriteDeadline(deadline)
	err := writeFrame(c.nc, f)
	c.nc.SetWriteDeadline(time.Time{})
	if err == nil {
		return nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		log.Warn(ctx, "[Tally:TCP] Timed out writing %s frame to %s; closing", f.Kind, c.id, map[string]string{
			"conn": c.id})
		c.Close()
		return transport.ErrTimeout
	}
	return terrors.Wrap(err, nil)
}

func (c *serverConn) reply(cfg map[string]interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), WriteTimeout)
	defer cancel()
	return c.write(ctx, transport.Frame{Kind: transport.KindConfig, ID: c.id, Config: cfg})
}

func (c *serverConn) readLoop(r *bufio.Reader) {
	defer c.Close()
	for {
		f, err := readFrame(r)
		if err != nil {
			return
		}
		if f.Kind != transport.KindResult {
			log.Warn(context.Background(), "[Tally:TCP] Unexpected %s frame on %s", f.Kind, c.id)
			continue
		}
		c.inflightM.Lock()
		rspChan, ok := c.inflight[f.ID]
		c.inflightM.Unlock()
		if ok {
			select {
			case rspChan <- f.Outcome:
			default:
			}
		}
	}
}

func (c *serverConn) Call(ctx context.Context, inv transport.Invocation) (transport.Outcome, error) {
	select {
	case <-c.done:
		return transport.Outcome{}, transport.ErrClosed
	default:
	}
	reqID, err := uuid.NewV4()
	if err != nil {
		return transport.Outcome{}, terrors.Wrap(err, nil)
	}

	rspChan := make(chan transport.Outcome, 1)
	c.inflightM.Lock()
	c.inflight[reqID.String()] = rspChan
	c.inflightM.Unlock()
	defer func() {
		c.inflightM.Lock()
		delete(c.inflight, reqID.String())
		c.inflightM.Unlock()
	}()

	if err := c.write(ctx, transport.Frame{Kind: transport.KindInvoke, ID: reqID.String(), Invocation: inv}); err != nil {
		return transport.Outcome{}, err
	}

	select {
	case out := <-rspChan:
		return out, nil
	case <-c.done:
		return transport.Outcome{}, transport.ErrClosed
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return transport.Outcome{}, transport.ErrTimeout
		}
		return transport.Outcome{}, terrors.Wrap(ctx.Err(), nil)
	}
}
