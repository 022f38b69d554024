package client

import (
	"net"
	"sync"
	"time"

	"github.com/diegose/limitd-go/common"
	"github.com/diegose/limitd-go/serializer"
	"github.com/diegose/limitd-go/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("client")

// --------------------------------------------------------------------------
// Connection state machine
// --------------------------------------------------------------------------

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateReady
	stateBackoff
)

func (s connState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnecting:
		return "connecting"
	case stateReady:
		return "ready"
	case stateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Connection Supervisor
// --------------------------------------------------------------------------

// supervisor owns the single physical connection of one engine. It drives
// connection attempts through the retry policy, demultiplexes responses into
// the registry by correlation id, and drains the registry on disconnect so
// no callback is ever leaked.
type supervisor struct {
	conf       common.ClientConfig
	endpoints  []common.Endpoint
	connector  transport.IConnector
	serializer serializer.ISerializer
	reg        *registry
	policy     retryPolicy
	hooks      *eventHooks

	mu           sync.Mutex
	state        connState
	conn         net.Conn
	failures     int // consecutive failed connection attempts
	nextEndpoint int
	backoffTimer *time.Timer
	closed       bool

	writeMu sync.Mutex // serializes frame writes on the connection

	sweepStop chan struct{}
	sweepDone chan struct{}
}

func newSupervisor(
	conf common.ClientConfig,
	endpoints []common.Endpoint,
	connector transport.IConnector,
	s serializer.ISerializer,
	reg *registry,
	hooks *eventHooks,
) *supervisor {
	return &supervisor{
		conf:       conf,
		endpoints:  endpoints,
		connector:  connector,
		serializer: s,
		reg:        reg,
		policy:     newRetryPolicy(conf.Retry),
		hooks:      hooks,
		state:      stateDisconnected,
		sweepStop:  make(chan struct{}),
		sweepDone:  make(chan struct{}),
	}
}

// start kicks off the first connection attempt and the expiry sweep
func (s *supervisor) start() {
	go s.sweepLoop()
	go s.attempt()
}

// ready reports whether requests can be submitted right now
func (s *supervisor) ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateReady
}

// --------------------------------------------------------------------------
// Connection attempts
// --------------------------------------------------------------------------

// attempt dials the next endpoint. Runs on its own goroutine; at most one
// attempt is in flight because attempts are only scheduled from terminal
// outcomes of the previous one.
func (s *supervisor) attempt() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = stateConnecting
	ep := s.endpoints[s.nextEndpoint%len(s.endpoints)]
	s.nextEndpoint++
	s.mu.Unlock()

	conn, err := s.connector.Connect(ep.Address)
	if err == nil {
		if upErr := s.connector.UpgradeConnection(conn, s.conf.Socket); upErr != nil {
			conn.Close()
			err = upErr
		}
	}
	if err != nil {
		Logger.Warningf("failed to connect to %s: %v", ep.Address, err)
		s.attemptFailed(err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.state = stateReady
	s.failures = 0
	s.mu.Unlock()

	metricConnects.Inc()
	Logger.Infof("connected to %s via %s", ep.Address, s.connector.GetName())

	go s.readLoop(conn)

	s.hooks.emitConnect()
	s.hooks.emitReady()
}

// attemptFailed records a failed attempt and either schedules the next one
// through the retry policy or halts permanently when retry is disabled.
func (s *supervisor) attemptFailed(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.failures++
	delay, retry := s.policy.nextDelay(s.failures)
	if !retry {
		s.state = stateDisconnected
		s.mu.Unlock()
		Logger.Errorf("retry disabled, giving up after connection failure: %v", err)
		s.reg.drain(common.NewConnectionError("connection failed: %v", err))
		s.hooks.emitError(err)
		return
	}
	s.state = stateBackoff
	s.backoffTimer = time.AfterFunc(delay, s.attempt)
	failures := s.failures
	s.mu.Unlock()

	Logger.Warningf("connection attempt %d failed, next attempt in %v", failures, delay)
	s.hooks.emitError(err)
}

// connectionLost tears down the current connection, fails every outstanding
// request and re-enters the connect cycle. Invoked by the read loop exactly
// once per connection.
func (s *supervisor) connectionLost(conn net.Conn, err error) {
	s.mu.Lock()
	if s.closed || s.conn != conn {
		// stale reader of an already replaced connection
		s.mu.Unlock()
		return
	}
	s.conn.Close()
	s.conn = nil
	s.state = stateDisconnected
	s.mu.Unlock()

	metricDisconnects.Inc()
	Logger.Warningf("connection lost: %v", err)

	drained := s.reg.drain(common.NewConnectionError("connection closed: %v", err))
	if drained > 0 {
		Logger.Infof("failed %d in-flight requests after disconnect", drained)
	}
	s.hooks.emitDisconnect(err)

	s.attemptFailed(err)
}

// --------------------------------------------------------------------------
// I/O
// --------------------------------------------------------------------------

// send serializes and writes one request frame. The caller owns the pending
// registry entry and reacts to the returned error.
func (s *supervisor) send(p *pendingRequest, msg *common.Message) error {
	s.mu.Lock()
	if s.state != stateReady || s.conn == nil {
		state := s.state
		s.mu.Unlock()
		return common.NewConnectionError("not connected (%s)", state)
	}
	conn := s.conn
	s.mu.Unlock()

	data, err := s.serializer.Serialize(*msg)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	err = writeFrame(conn, s.conf.ProtocolVersion, p.id, data)
	s.writeMu.Unlock()
	if err != nil {
		return common.NewWriteError(err)
	}
	return nil
}

// readLoop reads response frames and resolves them against the registry.
// Response arrival order is unrelated to submission order; correlation is
// strictly by id.
func (s *supervisor) readLoop(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		version, requestID, data, err := readFrame(conn, buf)
		if err != nil {
			s.connectionLost(conn, err)
			return
		}

		if version != s.conf.ProtocolVersion {
			Logger.Warningf("dropping frame with protocol version %d (want %d)", version, s.conf.ProtocolVersion)
			continue
		}

		var msg common.Message
		if err := s.serializer.Deserialize(data, &msg); err != nil {
			Logger.Errorf("undecodable response for request %d: %v", requestID, err)
			s.reg.resolve(requestID, nil, common.NewConnectionError("undecodable response: %v", err))
			continue
		}

		result, opErr := translateResponse(&msg)
		if !s.reg.resolve(requestID, result, opErr) {
			// Late, duplicate or fire-and-forget response
			Logger.Debugf("discarding response for unknown request id %d", requestID)
		}
	}
}

// --------------------------------------------------------------------------
// Timers
// --------------------------------------------------------------------------

// sweepLoop periodically expires requests whose deadline has passed
func (s *supervisor) sweepLoop() {
	defer close(s.sweepDone)
	ticker := time.NewTicker(sweepInterval(s.conf.Timeout))
	defer ticker.Stop()
	for {
		select {
		case <-s.sweepStop:
			return
		case now := <-ticker.C:
			if n := s.reg.expire(now); n > 0 {
				metricTimeouts.Add(n)
				Logger.Debugf("expired %d requests", n)
			}
		}
	}
}

// sweepInterval derives the expiry sweep period from the request timeout,
// clamped so very small or very large timeouts stay practical.
func sweepInterval(timeout time.Duration) time.Duration {
	interval := timeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	if interval > time.Second {
		interval = time.Second
	}
	return interval
}

// --------------------------------------------------------------------------
// Operator controls
// --------------------------------------------------------------------------

// resetCircuitBreaker clears the failure count and, when currently backing
// off, cancels the pending timer and reconnects immediately. For callers that
// have independently confirmed server health.
func (s *supervisor) resetCircuitBreaker() {
	s.mu.Lock()
	s.failures = 0
	if s.state != stateBackoff || s.closed {
		s.mu.Unlock()
		return
	}
	if s.backoffTimer != nil && !s.backoffTimer.Stop() {
		// Timer already fired, the scheduled attempt will run anyway
		s.mu.Unlock()
		return
	}
	s.state = stateConnecting
	s.mu.Unlock()

	Logger.Infof("circuit breaker reset, reconnecting immediately")
	go s.attempt()
}

// close shuts the supervisor down: stops both background timers, closes the
// connection and fails all outstanding requests.
func (s *supervisor) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = stateDisconnected
	if s.backoffTimer != nil {
		s.backoffTimer.Stop()
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	close(s.sweepStop)
	<-s.sweepDone

	s.reg.drain(common.NewConnectionError("client closed"))
	return nil
}
