package client

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/diegose/limitd-go/common"
	"github.com/diegose/limitd-go/serializer"
	"github.com/diegose/limitd-go/transport"
	"github.com/diegose/limitd-go/transport/tcp"
)

// --------------------------------------------------------------------------
// Test server
// --------------------------------------------------------------------------

// fakeServer is an in-process server speaking the framed JSON protocol.
// The handler decides the reply for each request; a nil reply swallows the
// request, which is how timeouts are provoked.
type fakeServer struct {
	t        *testing.T
	ln       net.Listener
	s        serializer.ISerializer
	handler  func(msg common.Message) *common.Message
	mu       sync.Mutex
	received []common.Message
	conns    []net.Conn
}

func newFakeServer(t *testing.T, handler func(msg common.Message) *common.Message) *fakeServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	srv := &fakeServer{
		t:       t,
		ln:      ln,
		s:       serializer.NewJSONSerializer(),
		handler: handler,
	}
	go srv.acceptLoop()
	t.Cleanup(srv.close)
	return srv
}

func (srv *fakeServer) addr() string {
	return srv.ln.Addr().String()
}

func (srv *fakeServer) acceptLoop() {
	for {
		conn, err := srv.ln.Accept()
		if err != nil {
			return
		}
		srv.mu.Lock()
		srv.conns = append(srv.conns, conn)
		srv.mu.Unlock()
		go srv.serve(conn)
	}
}

func (srv *fakeServer) serve(conn net.Conn) {
	header := make([]byte, 13)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		version := header[0]
		requestID := binary.BigEndian.Uint64(header[1:9])
		length := binary.BigEndian.Uint32(header[9:13])

		data := make([]byte, length)
		if _, err := io.ReadFull(conn, data); err != nil {
			return
		}

		var msg common.Message
		if err := srv.s.Deserialize(data, &msg); err != nil {
			srv.t.Errorf("Server failed to decode request: %v", err)
			return
		}

		srv.mu.Lock()
		srv.received = append(srv.received, msg)
		srv.mu.Unlock()

		reply := srv.handler(msg)
		if reply == nil {
			continue
		}

		out, err := srv.s.Serialize(*reply)
		if err != nil {
			srv.t.Errorf("Server failed to encode reply: %v", err)
			return
		}
		frame := make([]byte, 13+len(out))
		frame[0] = version
		binary.BigEndian.PutUint64(frame[1:9], requestID)
		binary.BigEndian.PutUint32(frame[9:13], uint32(len(out)))
		copy(frame[13:], out)
		if _, err := conn.Write(frame); err != nil {
			return
		}
	}
}

// requests returns a snapshot of everything the server has received
func (srv *fakeServer) requests() []common.Message {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	out := make([]common.Message, len(srv.received))
	copy(out, srv.received)
	return out
}

// dropConnections closes the accepted connections without closing the listener
func (srv *fakeServer) dropConnections() {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for _, conn := range srv.conns {
		conn.Close()
	}
	srv.conns = nil
}

func (srv *fakeServer) close() {
	srv.ln.Close()
	srv.dropConnections()
}

// echoHandler answers every request with a generic acknowledgement
func echoHandler(msg common.Message) *common.Message {
	return common.NewAckResponse(msg.Method)
}

// --------------------------------------------------------------------------
// Test helpers
// --------------------------------------------------------------------------

// newTestClient connects a client to the given address with fast timeouts
func newTestClient(t *testing.T, addr string, mutate func(*common.ClientConfig)) *Client {
	t.Helper()

	conf := common.ClientConfig{
		Endpoints: []string{addr},
		Timeout:   500 * time.Millisecond,
		Retry: common.RetryConfig{
			MinTimeout: 10 * time.Millisecond,
			MaxTimeout: 100 * time.Millisecond,
		},
	}.WithDefaults()
	if mutate != nil {
		mutate(&conf)
	}

	c, err := newClient(conf, tcp.NewConnector(), serializer.NewJSONSerializer())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// waitState polls until the supervisor reaches the given state
func waitState(t *testing.T, c *Client, want connState) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.sup.mu.Lock()
		state := c.sup.state
		c.sup.mu.Unlock()
		if state == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Supervisor never reached state %s", want)
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

// TestClientReserve tests a full reserve round trip including the request
// fields seen by the server
func TestClientReserve(t *testing.T) {
	srv := newFakeServer(t, func(msg common.Message) *common.Message {
		return common.NewReserveResponse(msg.Method, true, false, 7, 1735689600, 10)
	})
	c := newTestClient(t, srv.addr(), nil)
	waitState(t, c, stateReady)

	ctx, cancel := testContext()
	defer cancel()

	res, err := c.ReserveCtx(ctx, "ip", "192.168.0.1", 3)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if !res.Conformant {
		t.Error("Expected a conformant result")
	}
	if res.Remaining != 7 || res.Limit != 10 || res.ResetAt != 1735689600 {
		t.Errorf("Unexpected result: %+v", res)
	}

	reqs := srv.requests()
	if len(reqs) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(reqs))
	}
	req := reqs[0]
	if req.Method != common.MethodReserve {
		t.Errorf("Expected method reserve, got %s", req.Method)
	}
	if req.BucketType != "ip" || req.Key != "192.168.0.1" || req.Count != 3 {
		t.Errorf("Unexpected request fields: %+v", req)
	}
	if !req.All {
		t.Error("Expected all-or-nothing flag on the request")
	}
}

// TestClientCountDefaults tests that a zero count is sent as one token
func TestClientCountDefaults(t *testing.T) {
	srv := newFakeServer(t, echoHandler)
	c := newTestClient(t, srv.addr(), nil)
	waitState(t, c, stateReady)

	ctx, cancel := testContext()
	defer cancel()

	if _, err := c.WaitCtx(ctx, "ip", "10.0.0.1", 0); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	reqs := srv.requests()
	if len(reqs) != 1 || reqs[0].Count != 1 {
		t.Errorf("Expected count 1 on the wire, got %+v", reqs)
	}
}

// TestClientValidation tests that invalid arguments fail synchronously
// without touching the network
func TestClientValidation(t *testing.T) {
	srv := newFakeServer(t, echoHandler)
	c := newTestClient(t, srv.addr(), nil)
	waitState(t, c, stateReady)

	testCases := []struct {
		name string
		call func(done Completion) error
	}{
		{"Reserve without type", func(done Completion) error { return c.Reserve("", "key", 1, done) }},
		{"Reserve without key", func(done Completion) error { return c.Reserve("ip", "", 1, done) }},
		{"Reserve negative count", func(done Completion) error { return c.Reserve("ip", "key", -1, done) }},
		{"Wait without key", func(done Completion) error { return c.Wait("ip", "", 1, done) }},
		{"Replenish without key", func(done Completion) error { return c.Replenish("ip", "", 1, done) }},
		{"Inspect without type", func(done Completion) error { return c.Inspect("", "key", done) }},
		{"Status without type", func(done Completion) error { return c.Status("", "", done) }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call(func(result *Result, err error) {
				t.Error("Completion must not fire for validation failures")
			})
			if common.ErrorCode(err) != common.ErrCInvalidArgument {
				t.Errorf("Expected an invalid argument error, got %v", err)
			}
		})
	}

	if n := len(srv.requests()); n != 0 {
		t.Errorf("Expected no requests on the wire, got %d", n)
	}
}

// TestClientInspectEmptyKey tests that inspect accepts an empty key
func TestClientInspectEmptyKey(t *testing.T) {
	srv := newFakeServer(t, func(msg common.Message) *common.Message {
		return common.NewInspectResponse(5, 1735689600, 10)
	})
	c := newTestClient(t, srv.addr(), nil)
	waitState(t, c, stateReady)

	ctx, cancel := testContext()
	defer cancel()

	res, err := c.InspectCtx(ctx, "ip", "")
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if res.Remaining != 5 || res.Limit != 10 {
		t.Errorf("Unexpected result: %+v", res)
	}
}

// TestClientUnknownBucketType tests the translation of the server error
func TestClientUnknownBucketType(t *testing.T) {
	srv := newFakeServer(t, func(msg common.Message) *common.Message {
		return common.NewErrorResponse(msg.Method, common.ErrKindUnknownBucketType)
	})
	c := newTestClient(t, srv.addr(), nil)
	waitState(t, c, stateReady)

	ctx, cancel := testContext()
	defer cancel()

	_, err := c.ReserveCtx(ctx, "no-such-type", "key", 1)
	if err == nil {
		t.Fatal("Expected an error")
	}
	if err.Error() != "Invalid bucket type" {
		t.Errorf("Expected 'Invalid bucket type', got %q", err.Error())
	}
	if common.ErrorCode(err) != common.ErrCProtocol {
		t.Errorf("Expected a protocol error, got code %d", common.ErrorCode(err))
	}
}

// TestClientStatus tests the instance listing
func TestClientStatus(t *testing.T) {
	srv := newFakeServer(t, func(msg common.Message) *common.Message {
		return common.NewStatusResponse([]common.BucketStatus{
			{Key: "10.0.0.1", Remaining: 3, ResetAt: 1735689600, Limit: 10},
			{Key: "10.0.0.2", Remaining: 10, ResetAt: 1735689600, Limit: 10},
		})
	})
	c := newTestClient(t, srv.addr(), nil)
	waitState(t, c, stateReady)

	ctx, cancel := testContext()
	defer cancel()

	res, err := c.StatusCtx(ctx, "ip", "10.0.0")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(res.Instances) != 2 {
		t.Fatalf("Expected 2 instances, got %d", len(res.Instances))
	}
	if res.Instances[0].Key != "10.0.0.1" || res.Instances[0].Remaining != 3 {
		t.Errorf("Unexpected first instance: %+v", res.Instances[0])
	}
}

// TestClientTimeout tests that an unanswered request resolves with a timeout
func TestClientTimeout(t *testing.T) {
	srv := newFakeServer(t, func(msg common.Message) *common.Message {
		return nil // never answer
	})
	c := newTestClient(t, srv.addr(), func(conf *common.ClientConfig) {
		conf.Timeout = 50 * time.Millisecond
	})
	waitState(t, c, stateReady)

	ctx, cancel := testContext()
	defer cancel()

	start := time.Now()
	_, err := c.ReserveCtx(ctx, "ip", "key", 1)
	if !common.IsTimeout(err) {
		t.Fatalf("Expected a timeout error, got %v", err)
	}
	if err.Error() != "reserve timeout" {
		t.Errorf("Expected 'reserve timeout', got %q", err.Error())
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Timeout took too long: %v", elapsed)
	}
}

// TestClientFireAndForgetReplenish tests that a replenish without a
// completion still reaches the server
func TestClientFireAndForgetReplenish(t *testing.T) {
	srv := newFakeServer(t, echoHandler)
	c := newTestClient(t, srv.addr(), nil)
	waitState(t, c, stateReady)

	if err := c.Replenish("ip", "10.0.0.1", 5, nil); err != nil {
		t.Fatalf("Replenish failed: %v", err)
	}

	// The request is resolved on write, the server sees it asynchronously
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(srv.requests()) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	reqs := srv.requests()
	if len(reqs) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(reqs))
	}
	if reqs[0].Method != common.MethodReplenish || reqs[0].Count != 5 {
		t.Errorf("Unexpected request: %+v", reqs[0])
	}

	// Nothing left pending, the server's ack is dropped by the unknown-id rule
	if n := c.reg.size(); n != 0 {
		t.Errorf("Expected no pending requests, got %d", n)
	}
}

// TestClientNotConnected tests fail-fast submission on a dead client
func TestClientNotConnected(t *testing.T) {
	// A listener that is closed immediately yields a free, unreachable port
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := newTestClient(t, addr, func(conf *common.ClientConfig) {
		conf.Retry.Disabled = true
	})
	waitState(t, c, stateDisconnected)

	done := make(chan error, 1)
	err = c.Reserve("ip", "key", 1, func(result *Result, err error) {
		done <- err
	})
	if err != nil {
		t.Fatalf("Submission must not fail synchronously, got %v", err)
	}

	select {
	case err := <-done:
		if common.ErrorCode(err) != common.ErrCConnection {
			t.Errorf("Expected a connection error, got %v", err)
		}
		if !strings.Contains(err.Error(), "not connected") {
			t.Errorf("Expected a not-connected message, got %q", err.Error())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Completion never fired")
	}
}

// TestClientFireAndForgetWriteError tests that fire-and-forget failures are
// escalated to the error hooks
func TestClientFireAndForgetWriteError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := newTestClient(t, addr, func(conf *common.ClientConfig) {
		conf.Retry.Disabled = true
	})
	waitState(t, c, stateDisconnected)

	hookErr := make(chan error, 1)
	c.OnError(func(err error) {
		select {
		case hookErr <- err:
		default:
		}
	})

	if err := c.Replenish("ip", "key", 1, nil); err != nil {
		t.Fatalf("Replenish must not fail synchronously, got %v", err)
	}

	select {
	case err := <-hookErr:
		if common.ErrorCode(err) != common.ErrCConnection {
			t.Errorf("Expected a connection error on the hook, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Error hook never fired")
	}
}

// TestClientReconnect tests that a dropped connection is re-established and
// in-flight requests are failed with a connection error
func TestClientReconnect(t *testing.T) {
	srv := newFakeServer(t, func(msg common.Message) *common.Message {
		if msg.Method == common.MethodWait {
			return nil // hold the request so the drop catches it in flight
		}
		return echoHandler(msg)
	})
	c := newTestClient(t, srv.addr(), nil)
	waitState(t, c, stateReady)

	disconnected := make(chan error, 1)
	c.OnDisconnect(func(err error) {
		select {
		case disconnected <- err:
		default:
		}
	})

	inFlight := make(chan error, 1)
	if err := c.Wait("ip", "key", 1, func(result *Result, err error) {
		inFlight <- err
	}); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	// Wait until the server holds the request, then kill the connection
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(srv.requests()) == 0 {
		time.Sleep(time.Millisecond)
	}
	srv.dropConnections()

	select {
	case err := <-inFlight:
		if common.ErrorCode(err) != common.ErrCConnection {
			t.Errorf("Expected a connection error for the in-flight request, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("In-flight request was never failed")
	}

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect hook never fired")
	}

	// The client reconnects on its own and serves requests again
	waitState(t, c, stateReady)

	ctx, cancel := testContext()
	defer cancel()
	if err := c.PingCtx(ctx); err != nil {
		t.Fatalf("Ping after reconnect failed: %v", err)
	}
}

// TestClientResetCircuitBreaker tests that a reset skips the backoff delay
func TestClientResetCircuitBreaker(t *testing.T) {
	srv := newFakeServer(t, echoHandler)
	addr := srv.addr()

	c := newTestClient(t, addr, func(conf *common.ClientConfig) {
		// A backoff long enough that only a reset can explain a reconnect
		conf.Retry.MinTimeout = time.Hour
		conf.Retry.MaxTimeout = 2 * time.Hour
	})
	waitState(t, c, stateReady)

	// Take the server away and let the client enter backoff
	srv.close()
	waitState(t, c, stateBackoff)

	// Bring a server back on the same address and reset
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to re-listen on %s: %v", addr, err)
	}
	srv2 := &fakeServer{t: t, ln: ln, s: serializer.NewJSONSerializer(), handler: echoHandler}
	go srv2.acceptLoop()
	defer srv2.close()

	c.ResetCircuitBreaker()
	waitState(t, c, stateReady)

	ctx, cancel := testContext()
	defer cancel()
	if err := c.PingCtx(ctx); err != nil {
		t.Fatalf("Ping after reset failed: %v", err)
	}
}

// testContext bounds a single test request
func testContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// failingConn delegates to a real connection but fails every write
type failingConn struct {
	net.Conn
	writeErr error
}

func (c *failingConn) Write(b []byte) (int, error) {
	return 0, c.writeErr
}

// failingConnector wraps a connector so established connections reject writes
type failingConnector struct {
	inner    transport.IConnector
	writeErr error
}

func (f *failingConnector) Connect(address string) (net.Conn, error) {
	conn, err := f.inner.Connect(address)
	if err != nil {
		return nil, err
	}
	return &failingConn{Conn: conn, writeErr: f.writeErr}, nil
}

func (f *failingConnector) GetName() string {
	return f.inner.GetName()
}

func (f *failingConnector) UpgradeConnection(conn net.Conn, conf common.SocketConf) error {
	return nil
}

// TestClientWriteFailure tests that a transport write failure reaches the
// completion callback with the underlying error message
func TestClientWriteFailure(t *testing.T) {
	srv := newFakeServer(t, echoHandler)
	writeErr := errors.New("write tcp 127.0.0.1:9231: broken pipe")

	conf := common.ClientConfig{
		Endpoints: []string{srv.addr()},
		Timeout:   500 * time.Millisecond,
		Retry: common.RetryConfig{
			MinTimeout: 10 * time.Millisecond,
			MaxTimeout: 100 * time.Millisecond,
		},
	}.WithDefaults()

	c, err := newClient(conf, &failingConnector{inner: tcp.NewConnector(), writeErr: writeErr}, serializer.NewJSONSerializer())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	waitState(t, c, stateReady)

	done := make(chan error, 1)
	if err := c.Reserve("ip", "key", 1, func(result *Result, err error) {
		done <- err
	}); err != nil {
		t.Fatalf("Submission must not fail synchronously, got %v", err)
	}

	select {
	case err := <-done:
		if common.ErrorCode(err) != common.ErrCWrite {
			t.Errorf("Expected a write error, got %v", err)
		}
		if err.Error() != writeErr.Error() {
			t.Errorf("Expected %q, got %q", writeErr.Error(), err.Error())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Completion never fired")
	}
}

// TestClientEndpointConnectorMismatch tests that a unix endpoint cannot be
// paired with a TCP connector
func TestClientEndpointConnectorMismatch(t *testing.T) {
	conf := common.ClientConfig{
		Endpoints: []string{"unix:///var/run/limitd.sock"},
	}.WithDefaults()

	_, err := newClient(conf, tcp.NewConnector(), serializer.NewJSONSerializer())
	if common.ErrorCode(err) != common.ErrCInvalidArgument {
		t.Fatalf("Expected an invalid argument error, got %v", err)
	}
}

// TestClientCompletionExactlyOnceUnderChurn tests that every submission
// resolves its completion exactly once while connections drop mid-flight,
// covering the race between a failed write and the disconnect drain
func TestClientCompletionExactlyOnceUnderChurn(t *testing.T) {
	srv := newFakeServer(t, echoHandler)
	c := newTestClient(t, srv.addr(), func(conf *common.ClientConfig) {
		conf.Timeout = 100 * time.Millisecond
	})
	waitState(t, c, stateReady)

	stop := make(chan struct{})
	churnDone := make(chan struct{})
	go func() {
		defer close(churnDone)
		for {
			select {
			case <-stop:
				return
			case <-time.After(500 * time.Microsecond):
				srv.dropConnections()
			}
		}
	}()

	const goroutines = 4
	const perGoroutine = 500

	var fired [goroutines * perGoroutine]atomic.Int32
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				idx := base + i
				if err := c.Reserve("ip", "key", 1, func(result *Result, err error) {
					fired[idx].Add(1)
				}); err != nil {
					t.Errorf("Reserve %d failed synchronously: %v", idx, err)
				}
			}
		}(g * perGoroutine)
	}
	wg.Wait()
	close(stop)
	<-churnDone

	// Every request resolves within its timeout, one way or another
	deadline := time.Now().Add(5 * time.Second)
	pending := true
	for pending && time.Now().Before(deadline) {
		pending = false
		for i := range fired {
			if fired[i].Load() == 0 {
				pending = true
				break
			}
		}
		if pending {
			time.Sleep(10 * time.Millisecond)
		}
	}

	for i := range fired {
		switch n := fired[i].Load(); n {
		case 1:
		case 0:
			t.Fatalf("Request %d never completed", i)
		default:
			t.Fatalf("Request %d completed %d times", i, n)
		}
	}
}
