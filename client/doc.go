// Package client implements the client for a rate-limiting service reachable
// over a persistent, length-delimited binary connection. Many concurrent
// logical requests are multiplexed over one physical connection, correlated
// by id, with per-request timeouts, automatic reconnection under an
// exponential-backoff circuit breaker, and optional fan-out over independent
// server shards.
//
// The package focuses on:
//   - Request/response correlation: a monotonically increasing id per
//     request, resolved strictly by id since responses may arrive out of
//     order; late or duplicate responses are silently discarded
//   - Connection supervision: a DISCONNECTED/CONNECTING/READY/BACKOFF state
//     machine that drains all in-flight requests on disconnect (no leaked
//     callbacks) and never re-sends them, avoiding duplicate side effects on
//     quota-mutating operations
//   - Sharding: a deterministic key-to-shard router presenting the same
//     operation surface as a single client
//
// Key Components:
//
//   - New: factory returning an ILimiter, either a single-connection Client
//     or a ShardedClient when a shard configuration is present.
//
//   - ILimiter: the operation surface (Reserve, Wait, Inspect, Replenish,
//     Status, Ping) in asynchronous callback form plus blocking *Ctx
//     variants.
//
// Usage Example:
//
//	conf := common.ClientConfig{
//	  Endpoints: []string{"limitd://localhost:9231"},
//	  Timeout:   2 * time.Second,
//	}
//
//	c, _ := client.New(conf, tcp.NewConnector(), serializer.NewBinarySerializer())
//	defer c.Close()
//
//	res, err := c.ReserveCtx(ctx, "ip", "10.0.0.1", 1)
//	if err == nil && res.Conformant {
//	  // request is within quota
//	}
//
// Error Model:
//
//	Argument validation fails synchronously with an InvalidArgument error and
//	never touches the network. Everything else (timeouts, connection loss,
//	server errors, write failures) is delivered asynchronously through the
//	completion callback. Fire-and-forget calls have no callback, so their
//	write failures are emitted on the error event hooks instead; attach a
//	hook via OnError before the first such call.
//
// Thread Safety:
//
//	All client implementations are thread-safe and can be used concurrently
//	from multiple goroutines without additional synchronization. Completion
//	callbacks run on internal goroutines and must not block.
package client
