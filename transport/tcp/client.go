package tcp

import (
	"bufio"
	"context"
	"net"
	"sync"

	log "github.com/monzo/slog"
	"github.com/monzo/terrors"
	"gopkg.in/tomb.v2"

	"github.com/tallyhq/tally/transport"
)

// Client is an indicator process's connection to a tcp Transport.
type Client struct {
	tomb   *tomb.Tomb
	nc     net.Conn
	reg    transport.Registration
	f      transport.IndicatorFunc
	ctx    context.Context
	cancel context.CancelFunc
	writeM sync.Mutex
	config chan map[string]interface{}
}

var _ transport.Peer = (*Client)(nil)

// Dial connects to the Transport at addr and registers an indicator, which f serves until the connection drops.
func Dial(ctx context.Context, addr string, reg transport.Registration, f transport.IndicatorFunc) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, terrors.Wrap(err, map[string]string{"addr": addr})
	}
	if err := writeFrame(nc, transport.Frame{Kind: transport.KindRegister, Registration: reg}); err != nil {
		nc.Close()
		return nil, terrors.Wrap(err, nil)
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		tomb:   new(tomb.Tomb),
		nc:     nc,
		reg:    reg,
		f:      f,
		ctx:    cctx,
		cancel: cancel,
		config: make(chan map[string]interface{}, 1)}
	c.tomb.Go(c.readLoop)
	return c, nil
}

func (c *Client) readLoop() error {
	defer c.cancel()
	r := bufio.NewReader(c.nc)
	for {
		f, err := readFrame(r)
		if err != nil {
			select {
			case <-c.tomb.Dying():
				return nil
			default:
				c.nc.Close()
				return terrors.Wrap(err, nil)
			}
		}
		switch f.Kind {
		case transport.KindConfig:
			select {
			case c.config <- f.Config:
			default:
			}
		case transport.KindInvoke:
			f := f
			c.tomb.Go(func() error {
				c.invoke(f)
				return nil
			})
		default:
			log.Warn(c.ctx, "[Tally:TCP] Indicator ignoring unexpected %s frame", f.Kind)
		}
	}
}

func (c *Client) invoke(req transport.Frame) {
	out := c.f(c.ctx, req.Invocation)
	if out.AppName == "" {
		out.AppName = c.reg.AppName
	}
	rsp := transport.Frame{Kind: transport.KindResult, ID: req.ID, Outcome: out}

	c.writeM.Lock()
	defer c.writeM.Unlock()
	err := writeFrame(c.nc, rsp)
	if err != nil && terrors.Wrap(err, nil).(*terrors.Error).Matches(terrors.ErrBadRequest) {
		// The outcome could not be encoded; report that in its place
		err = writeFrame(c.nc, transport.Frame{
			Kind:    transport.KindResult,
			ID:      req.ID,
			Outcome: transport.Outcome{AppName: out.AppName, Error: err.Error()}})
	}
	if err != nil {
		log.Debug(c.ctx, "[Tally:TCP] Failed to write result %s: %v", req.ID, err)
	}
}

// InitConfig waits for the EndPoint's reply to the registration.
func (c *Client) InitConfig(ctx context.Context) (map[string]interface{}, error) {
	select {
	case cfg := <-c.config:
		select {
		case c.config <- cfg:
		default:
		}
		return cfg, nil
	case <-c.tomb.Dying():
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, transport.ErrTimeout
	}
}

// Done is closed once the connection is gone and every in-progress invocation has returned.
func (c *Client) Done() <-chan struct{} {
	return c.tomb.Dead()
}

// Disconnect closes the connection and waits for the indicator's goroutines to exit.
func (c *Client) Disconnect() error {
	c.tomb.Kill(nil)
	c.nc.Close()
	c.tomb.Wait()
	return nil
}
