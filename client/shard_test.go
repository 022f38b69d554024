package client

import (
	"testing"
	"time"

	"github.com/diegose/limitd-go/common"
	"github.com/diegose/limitd-go/serializer"
	"github.com/diegose/limitd-go/transport/tcp"
)

// newTestShardedClient connects a shard router to the given servers
func newTestShardedClient(t *testing.T, addrs ...string) *ShardedClient {
	t.Helper()

	conf := common.ClientConfig{
		Endpoints: []string{addrs[0]},
		Shard:     &common.ShardConfig{Endpoints: addrs},
		Timeout:   500 * time.Millisecond,
		Retry: common.RetryConfig{
			MinTimeout: 10 * time.Millisecond,
			MaxTimeout: 100 * time.Millisecond,
		},
	}.WithDefaults()

	limiter, err := New(conf, tcp.NewConnector(), serializer.NewJSONSerializer())
	if err != nil {
		t.Fatalf("Failed to create sharded client: %v", err)
	}
	sc, ok := limiter.(*ShardedClient)
	if !ok {
		t.Fatalf("Expected a sharded client for a shard configuration, got %T", limiter)
	}
	t.Cleanup(func() { sc.Close() })
	return sc
}

// waitShardsReady polls until every shard's connection is established
func waitShardsReady(t *testing.T, sc *ShardedClient) {
	t.Helper()
	for _, shard := range sc.shards {
		waitState(t, shard, stateReady)
	}
}

// TestShardedRouting tests that every request for a key lands on the same
// shard and that different keys spread out
func TestShardedRouting(t *testing.T) {
	srv1 := newFakeServer(t, echoHandler)
	srv2 := newFakeServer(t, echoHandler)
	sc := newTestShardedClient(t, srv1.addr(), srv2.addr())
	waitShardsReady(t, sc)

	ctx, cancel := testContext()
	defer cancel()

	// Repeated requests for one key always hit the same shard
	for i := 0; i < 10; i++ {
		if _, err := sc.ReserveCtx(ctx, "ip", "10.0.0.1", 1); err != nil {
			t.Fatalf("Reserve failed: %v", err)
		}
	}

	n1, n2 := len(srv1.requests()), len(srv2.requests())
	if n1+n2 != 10 {
		t.Fatalf("Expected 10 requests total, got %d", n1+n2)
	}
	if n1 != 0 && n2 != 0 {
		t.Errorf("Expected all requests on one shard, got %d/%d", n1, n2)
	}

	// The routing decision is a pure function of the key
	idx := sc.pickIndex("10.0.0.1")
	for i := 0; i < 100; i++ {
		if sc.pickIndex("10.0.0.1") != idx {
			t.Fatal("Routing for a key must be stable")
		}
	}

	// Enough distinct keys reach both shards
	seen := map[int]bool{}
	for i := 0; i < 100; i++ {
		seen[sc.pickIndex(string(rune('a'+i%26))+"-key")] = true
	}
	if len(seen) != len(sc.shards) {
		t.Errorf("Expected keys to spread over %d shards, got %d", len(sc.shards), len(seen))
	}
}

// TestShardedValidation tests that validation happens before routing, so a
// missing key cannot panic the key hash
func TestShardedValidation(t *testing.T) {
	srv := newFakeServer(t, echoHandler)
	sc := newTestShardedClient(t, srv.addr())

	err := sc.Reserve("ip", "", 1, func(result *Result, err error) {
		t.Error("Completion must not fire for validation failures")
	})
	if common.ErrorCode(err) != common.ErrCInvalidArgument {
		t.Errorf("Expected an invalid argument error, got %v", err)
	}
}

// TestShardedPing tests that ping fans out to every shard
func TestShardedPing(t *testing.T) {
	srv1 := newFakeServer(t, echoHandler)
	srv2 := newFakeServer(t, echoHandler)
	sc := newTestShardedClient(t, srv1.addr(), srv2.addr())
	waitShardsReady(t, sc)

	ctx, cancel := testContext()
	defer cancel()

	if err := sc.PingCtx(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	if len(srv1.requests()) != 1 || len(srv2.requests()) != 1 {
		t.Errorf("Expected one ping per shard, got %d/%d", len(srv1.requests()), len(srv2.requests()))
	}
}

// TestShardedPingReportsFailure tests that one dead shard fails the ping
func TestShardedPingReportsFailure(t *testing.T) {
	srv := newFakeServer(t, echoHandler)

	dead := newFakeServer(t, echoHandler)
	deadAddr := dead.addr()
	dead.close()

	conf := common.ClientConfig{
		Endpoints: []string{srv.addr()},
		Shard:     &common.ShardConfig{Endpoints: []string{srv.addr(), deadAddr}},
		Timeout:   100 * time.Millisecond,
		Retry:     common.RetryConfig{Disabled: true},
	}.WithDefaults()

	limiter, err := New(conf, tcp.NewConnector(), serializer.NewJSONSerializer())
	if err != nil {
		t.Fatalf("Failed to create sharded client: %v", err)
	}
	defer limiter.Close()
	sc := limiter.(*ShardedClient)

	waitState(t, sc.shards[0], stateReady)
	waitState(t, sc.shards[1], stateDisconnected)

	ctx, cancel := testContext()
	defer cancel()

	if err := sc.PingCtx(ctx); err == nil {
		t.Fatal("Expected ping to report the dead shard")
	}
}
