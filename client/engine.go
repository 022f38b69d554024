package client

import (
	"context"
	"time"

	"github.com/diegose/limitd-go/common"
	"github.com/diegose/limitd-go/serializer"
	"github.com/diegose/limitd-go/transport"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// ILimiter is the operation surface shared by the single-connection client
// and the shard router. Operations validate their arguments synchronously
// (returning an InvalidArgument error before any I/O) and deliver every other
// outcome asynchronously on the Completion callback.
type ILimiter interface {
	// Reserve takes count tokens from a bucket, answering immediately.
	// The key must be non-empty; count <= 0 defaults to 1.
	Reserve(bucketType, key string, count int, done Completion) error
	// Wait takes count tokens from a bucket, queueing server-side until they
	// are available. Same validation as Reserve.
	Wait(bucketType, key string, count int, done Completion) error
	// Inspect reads a bucket instance without taking tokens. An empty key is
	// valid and addresses the bucket type itself.
	Inspect(bucketType, key string, done Completion) error
	// Replenish puts count tokens back into a bucket. With a nil done it is
	// fire-and-forget: resolved on successful write, write failures are
	// escalated to the error event hooks.
	Replenish(bucketType, key string, count int, done Completion) error
	// Status lists the live instances of a bucket type. The key acts as a
	// prefix filter and may be empty.
	Status(bucketType, key string, done Completion) error
	// Ping checks liveness. It succeeds once any acknowledgement arrives.
	Ping(done Completion) error

	// Blocking variants of the operations above, bounded by ctx.
	ReserveCtx(ctx context.Context, bucketType, key string, count int) (*Result, error)
	WaitCtx(ctx context.Context, bucketType, key string, count int) (*Result, error)
	InspectCtx(ctx context.Context, bucketType, key string) (*Result, error)
	ReplenishCtx(ctx context.Context, bucketType, key string, count int) (*Result, error)
	StatusCtx(ctx context.Context, bucketType, key string) (*Result, error)
	PingCtx(ctx context.Context) error

	// Event registration. Attach error hooks before the first
	// fire-and-forget call; they are the only channel for its write errors.
	OnConnect(fn func())
	OnReady(fn func())
	OnError(fn func(error))
	OnDisconnect(fn func(error))

	// ResetCircuitBreaker clears the reconnect failure count and, when
	// backing off, retries immediately instead of waiting out the timer.
	ResetCircuitBreaker()

	// Close shuts down all connections and background timers. Outstanding
	// requests are failed with a connection error.
	Close() error
}

// --------------------------------------------------------------------------
// Client Factory
// --------------------------------------------------------------------------

// New creates a client from the configuration. With a shard configuration
// the returned instance is a shard router fanning out to one independent
// client per shard endpoint; otherwise it is a single-connection client.
func New(conf common.ClientConfig, connector transport.IConnector, s serializer.ISerializer) (ILimiter, error) {
	conf = conf.WithDefaults()

	if conf.Shard != nil && len(conf.Shard.Endpoints) > 0 {
		return newShardedClient(conf, connector, s)
	}
	return newClient(conf, connector, s)
}

// --------------------------------------------------------------------------
// Single-connection client (Request Engine)
// --------------------------------------------------------------------------

// Client is the single-connection request engine. Many concurrent logical
// requests are multiplexed over one physical connection and correlated by id.
type Client struct {
	conf  common.ClientConfig
	reg   *registry
	sup   *supervisor
	hooks *eventHooks
}

func newClient(conf common.ClientConfig, connector transport.IConnector, s serializer.ISerializer) (*Client, error) {
	endpoints, err := common.ParseEndpoints(conf.Endpoints)
	if err != nil {
		return nil, err
	}

	// The supervisor dials every endpoint through the one injected
	// connector, so mismatched schemes are rejected up front
	for _, ep := range endpoints {
		if ep.Network != connector.GetName() {
			return nil, common.NewInvalidArgumentError(
				"endpoint %s requires a %s connector, have %s",
				ep.Address, ep.Network, connector.GetName())
		}
	}

	// The first endpoint's query parameters override the configuration
	if endpoints[0].Retry != nil {
		conf.Retry.Disabled = !*endpoints[0].Retry
	}
	if endpoints[0].Timeout > 0 {
		conf.Timeout = endpoints[0].Timeout
	}

	c := &Client{
		conf:  conf,
		reg:   newRegistry(),
		hooks: &eventHooks{},
	}
	c.sup = newSupervisor(conf, endpoints, connector, s, c.reg, c.hooks)
	c.sup.start()
	return c, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see client.ILimiter)
// --------------------------------------------------------------------------

func (c *Client) Reserve(bucketType, key string, count int, done Completion) error {
	count, err := validateTake(bucketType, key, count)
	if err != nil {
		return err
	}
	return c.submit(common.NewReserveRequest(bucketType, key, uint32(count), true), false, done)
}

func (c *Client) Wait(bucketType, key string, count int, done Completion) error {
	count, err := validateTake(bucketType, key, count)
	if err != nil {
		return err
	}
	return c.submit(common.NewWaitRequest(bucketType, key, uint32(count), true), false, done)
}

func (c *Client) Inspect(bucketType, key string, done Completion) error {
	if bucketType == "" {
		return common.NewInvalidArgumentError("bucket type is required")
	}
	return c.submit(common.NewInspectRequest(bucketType, key), false, done)
}

func (c *Client) Replenish(bucketType, key string, count int, done Completion) error {
	count, err := validateTake(bucketType, key, count)
	if err != nil {
		return err
	}
	// Without a completion there is nothing to wait for: fire-and-forget
	return c.submit(common.NewReplenishRequest(bucketType, key, uint32(count)), done == nil, done)
}

func (c *Client) Status(bucketType, key string, done Completion) error {
	if bucketType == "" {
		return common.NewInvalidArgumentError("bucket type is required")
	}
	return c.submit(common.NewStatusRequest(bucketType, key), false, done)
}

func (c *Client) Ping(done Completion) error {
	return c.submit(common.NewPingRequest(), false, done)
}

func (c *Client) OnConnect(fn func()) { c.hooks.onConnect(fn) }

func (c *Client) OnReady(fn func()) { c.hooks.onReady(fn) }

func (c *Client) OnError(fn func(error)) { c.hooks.onError(fn) }

func (c *Client) OnDisconnect(fn func(error)) { c.hooks.onDisconnect(fn) }

func (c *Client) ResetCircuitBreaker() {
	c.sup.resetCircuitBreaker()
}

func (c *Client) Close() error {
	return c.sup.close()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// validateTake checks the arguments shared by Reserve, Wait and Replenish.
// Validation failures never touch the network.
func validateTake(bucketType, key string, count int) (int, error) {
	if bucketType == "" {
		return 0, common.NewInvalidArgumentError("bucket type is required")
	}
	if key == "" {
		return 0, common.NewInvalidArgumentError("key is required")
	}
	if count < 0 {
		return 0, common.NewInvalidArgumentError("count must not be negative, got %d", count)
	}
	if count == 0 {
		count = 1
	}
	return count, nil
}

// submit registers the request, writes it, and arranges its resolution.
// Write failures never surface as the return value: with a completion they
// are delivered on it, for fire-and-forget calls they are escalated to the
// error hooks. Only validation errors are synchronous.
func (c *Client) submit(msg *common.Message, fireAndForget bool, done Completion) error {
	p := c.reg.add(msg.Method, time.Now().Add(c.conf.Timeout), fireAndForget, done)
	metricRequests(msg.Method).Inc()

	if err := c.sup.send(p, msg); err != nil {
		// The disconnect drain or the expiry sweep may have resolved this
		// request already; only the winner of the removal completes it
		if _, ok := c.reg.remove(p.id); ok {
			if done != nil {
				done(nil, err)
			} else if fireAndForget {
				c.hooks.emitError(err)
			}
		}
		return nil
	}

	if fireAndForget {
		// Resolved on successful write, never awaiting a server reply. A
		// late reply for this id is discarded by the unknown-id rule.
		c.reg.resolve(p.id, &Result{}, nil)
	}
	return nil
}

// translateResponse maps a decoded response message onto the caller-facing
// Result or error.
func translateResponse(msg *common.Message) (*Result, error) {
	if msg.ErrKind != "" {
		return nil, common.NewProtocolError(msg.ErrKind)
	}

	switch msg.Method {
	case common.MethodReserve, common.MethodWait:
		return &Result{
			Conformant: msg.Conformant,
			Delayed:    msg.Delayed,
			Remaining:  int(msg.Remaining),
			ResetAt:    int64(msg.ResetAt),
			Limit:      int(msg.Limit),
		}, nil
	case common.MethodInspect:
		return &Result{
			Remaining: int(msg.Remaining),
			ResetAt:   int64(msg.ResetAt),
			Limit:     int(msg.Limit),
		}, nil
	case common.MethodStatus:
		return &Result{Instances: msg.Instances}, nil
	default:
		// Ping and Replenish acknowledgements carry no payload
		return &Result{}, nil
	}
}
