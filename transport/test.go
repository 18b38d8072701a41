package transport

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"
)

const testGroup = "group.example"

// TransportTestSuite is a test suite which can be extended to test any Transport's basic functionality. Provide the
// Transport and a Connect function which registers an indicator against it, then run it.
type TransportTestSuite struct {
	suite.Suite
	Transport Transport
	Connect   func(ctx context.Context, reg Registration, f IndicatorFunc) (Peer, error)
}

func (suite *TransportTestSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	suite.Assert().NoError(suite.Transport.Close(ctx))
	suite.Transport = nil
}

type accepted struct {
	reg  Registration
	conn Conn
}

// acceptAll binds a discovery handler which replies with cfg to every registration.
func (suite *TransportTestSuite) acceptAll(cfg map[string]interface{}) <-chan accepted {
	c := make(chan accepted, 64)
	suite.Require().NoError(suite.Transport.Discovery(func(reg Registration, reply ReplyFunc, conn Conn) {
		suite.Assert().NoError(reply(cfg))
		c <- accepted{reg, conn}
	}))
	return c
}

func (suite *TransportTestSuite) waitAccepted(c <-chan accepted) accepted {
	select {
	case a := <-c:
		return a
	case <-time.After(5 * time.Second):
		suite.FailNow("timed out waiting for registration")
	}
	return accepted{}
}

func (suite *TransportTestSuite) connect(reg Registration, f IndicatorFunc) Peer {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := suite.Connect(ctx, reg, f)
	suite.Require().NoError(err)
	return p
}

func echo(ctx context.Context, inv Invocation) Outcome {
	return Outcome{Results: []interface{}{inv.Args}}
}

// TestRegisterReceivesConfig verifies that a registration reaches the discovery handler and that the handler's reply
// is delivered back to the indicator.
func (suite *TransportTestSuite) TestRegisterReceivesConfig() {
	accepts := suite.acceptAll(map[string]interface{}{"interval": 5})
	reg := Registration{Group: testGroup, AppName: "svc1", IndicatorName: "cpu", Type: Singleton}
	p := suite.connect(reg, echo)
	defer p.Disconnect()

	a := suite.waitAccepted(accepts)
	suite.Assert().Equal(reg, a.reg)
	suite.Assert().NotEmpty(a.conn.ID())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cfg, err := p.InitConfig(ctx)
	suite.Require().NoError(err)
	suite.Assert().Equal(map[string]interface{}{"interval": 5.0}, cfg)
}

// TestCallRoundTrip sends an invocation to an indicator and checks the outcome.
func (suite *TransportTestSuite) TestCallRoundTrip() {
	accepts := suite.acceptAll(nil)
	p := suite.connect(Registration{Group: testGroup, AppName: "svc1", IndicatorName: "cpu"},
		func(ctx context.Context, inv Invocation) Outcome {
			return Outcome{Results: []interface{}{inv.Args, 1}}
		})
	defer p.Disconnect()
	a := suite.waitAccepted(accepts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := a.conn.Call(ctx, Invocation{Args: "ping"})
	suite.Require().NoError(err)
	suite.Assert().Equal("svc1", out.AppName, "app name defaults to the registration's")
	suite.Assert().Equal([]interface{}{"ping", 1.0}, out.Results)
	suite.Assert().Empty(out.Error)
}

// TestCallReportsIndicatorError checks that an indicator-side failure arrives as an Outcome error, not a Call error.
func (suite *TransportTestSuite) TestCallReportsIndicatorError() {
	accepts := suite.acceptAll(nil)
	p := suite.connect(Registration{Group: testGroup, AppName: "svc1", IndicatorName: "cpu"},
		func(ctx context.Context, inv Invocation) Outcome {
			return Outcome{AppName: "svc2", Error: "boom"}
		})
	defer p.Disconnect()
	a := suite.waitAccepted(accepts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := a.conn.Call(ctx, Invocation{})
	suite.Require().NoError(err)
	suite.Assert().Equal("svc2", out.AppName)
	suite.Assert().Equal("boom", out.Error)
}

// TestCallRespectsContext checks that a slow indicator cannot hold a caller past its deadline.
func (suite *TransportTestSuite) TestCallRespectsContext() {
	accepts := suite.acceptAll(nil)
	release := make(chan struct{})
	defer close(release)
	p := suite.connect(Registration{Group: testGroup, AppName: "svc1", IndicatorName: "slow"},
		func(ctx context.Context, inv Invocation) Outcome {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return Outcome{}
		})
	defer p.Disconnect()
	a := suite.waitAccepted(accepts)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := a.conn.Call(ctx, Invocation{})
	suite.Assert().Error(err)
}

// TestPeerDisconnect checks that the EndPoint side observes an indicator going away, and can no longer call it.
func (suite *TransportTestSuite) TestPeerDisconnect() {
	accepts := suite.acceptAll(nil)
	p := suite.connect(Registration{Group: testGroup, AppName: "svc1", IndicatorName: "cpu"}, echo)
	a := suite.waitAccepted(accepts)

	suite.Require().NoError(p.Disconnect())
	select {
	case <-a.conn.Done():
	case <-time.After(5 * time.Second):
		suite.FailNow("connection not closed after peer disconnect")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := a.conn.Call(ctx, Invocation{})
	suite.Assert().Error(err)
}

// TestConnClose checks that closing a connection from the EndPoint side disconnects the indicator.
func (suite *TransportTestSuite) TestConnClose() {
	accepts := suite.acceptAll(nil)
	p := suite.connect(Registration{Group: testGroup, AppName: "svc1", IndicatorName: "cpu"}, echo)
	a := suite.waitAccepted(accepts)

	suite.Require().NoError(a.conn.Close())
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		suite.FailNow("peer not disconnected after close")
	}
	<-a.conn.Done()
}

// TestMultiplexedDiscovery checks that every bound handler is offered every registration.
func (suite *TransportTestSuite) TestMultiplexedDiscovery() {
	first := suite.acceptAll(nil)
	seen := make(chan Registration, 1)
	suite.Require().NoError(suite.Transport.Discovery(func(reg Registration, reply ReplyFunc, conn Conn) {
		seen <- reg
	}))

	p := suite.connect(Registration{Group: "other", AppName: "svc1", IndicatorName: "cpu"}, echo)
	defer p.Disconnect()
	suite.waitAccepted(first)
	select {
	case reg := <-seen:
		suite.Assert().Equal("other", reg.Group)
	case <-time.After(5 * time.Second):
		suite.FailNow("second handler never saw the registration")
	}
}

// TestCallParallel sends a bunch of invocations in parallel and checks that the outcomes match correctly
func (suite *TransportTestSuite) TestCallParallel() {
	accepts := suite.acceptAll(nil)
	p := suite.connect(Registration{Group: testGroup, AppName: "svc1", IndicatorName: "cpu"}, echo)
	defer p.Disconnect()
	conn := suite.waitAccepted(accepts).conn

	workers := 50
	wg := sync.WaitGroup{}
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			out, err := conn.Call(ctx, Invocation{Args: strconv.Itoa(i)})
			suite.Assert().NoError(err)
			suite.Assert().Equal([]interface{}{strconv.Itoa(i)}, out.Results)
		}(i)
	}
	wg.Wait()
}
