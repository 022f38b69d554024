package client

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/diegose/limitd-go/common"
	"github.com/diegose/limitd-go/serializer"
	"github.com/diegose/limitd-go/transport"
)

// --------------------------------------------------------------------------
// Shard Router
// --------------------------------------------------------------------------

// ShardedClient presents the ILimiter surface over several independent
// server shards. Every call is routed to exactly one shard by a stable hash
// of the bucket key, so repeated queries for the same key observe a
// consistent quota. Responses are never merged across shards, and one
// shard's backoff state does not affect another's availability.
type ShardedClient struct {
	shards []*Client
}

func newShardedClient(conf common.ClientConfig, connector transport.IConnector, s serializer.ISerializer) (*ShardedClient, error) {
	shards := make([]*Client, 0, len(conf.Shard.Endpoints))
	for _, endpoint := range conf.Shard.Endpoints {
		shardConf := conf
		shardConf.Shard = nil
		shardConf.Endpoints = []string{endpoint}
		c, err := newClient(shardConf, connector, s)
		if err != nil {
			for _, created := range shards {
				created.Close()
			}
			return nil, err
		}
		shards = append(shards, c)
	}
	return &ShardedClient{shards: shards}, nil
}

// pick selects the shard serving a bucket key. xxhash is well distributed
// and stable across calls and processes.
func (s *ShardedClient) pick(key string) *Client {
	return s.shards[s.pickIndex(key)]
}

func (s *ShardedClient) pickIndex(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(s.shards)))
}

// --------------------------------------------------------------------------
// Interface Methods (docu see client.ILimiter)
// --------------------------------------------------------------------------

func (s *ShardedClient) Reserve(bucketType, key string, count int, done Completion) error {
	if _, err := validateTake(bucketType, key, count); err != nil {
		return err
	}
	return s.pick(key).Reserve(bucketType, key, count, done)
}

func (s *ShardedClient) Wait(bucketType, key string, count int, done Completion) error {
	if _, err := validateTake(bucketType, key, count); err != nil {
		return err
	}
	return s.pick(key).Wait(bucketType, key, count, done)
}

func (s *ShardedClient) Inspect(bucketType, key string, done Completion) error {
	return s.pick(key).Inspect(bucketType, key, done)
}

func (s *ShardedClient) Replenish(bucketType, key string, count int, done Completion) error {
	if _, err := validateTake(bucketType, key, count); err != nil {
		return err
	}
	return s.pick(key).Replenish(bucketType, key, count, done)
}

func (s *ShardedClient) Status(bucketType, key string, done Completion) error {
	return s.pick(key).Status(bucketType, key, done)
}

// Ping fans out to every shard and completes once all have answered,
// reporting the first failure if any shard is unreachable.
func (s *ShardedClient) Ping(done Completion) error {
	var (
		mu        sync.Mutex
		remaining = len(s.shards)
		firstErr  error
	)

	for _, shard := range s.shards {
		err := shard.Ping(func(_ *Result, err error) {
			mu.Lock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
			remaining--
			last := remaining == 0
			failed := firstErr
			mu.Unlock()

			if last && done != nil {
				if failed != nil {
					done(nil, failed)
				} else {
					done(&Result{}, nil)
				}
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *ShardedClient) OnConnect(fn func()) {
	for _, shard := range s.shards {
		shard.OnConnect(fn)
	}
}

func (s *ShardedClient) OnReady(fn func()) {
	for _, shard := range s.shards {
		shard.OnReady(fn)
	}
}

func (s *ShardedClient) OnError(fn func(error)) {
	for _, shard := range s.shards {
		shard.OnError(fn)
	}
}

func (s *ShardedClient) OnDisconnect(fn func(error)) {
	for _, shard := range s.shards {
		shard.OnDisconnect(fn)
	}
}

func (s *ShardedClient) ResetCircuitBreaker() {
	for _, shard := range s.shards {
		shard.ResetCircuitBreaker()
	}
}

func (s *ShardedClient) Close() error {
	var firstErr error
	for _, shard := range s.shards {
		if err := shard.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// --------------------------------------------------------------------------
// Blocking variants (docu see client.ILimiter)
// --------------------------------------------------------------------------

func (s *ShardedClient) ReserveCtx(ctx context.Context, bucketType, key string, count int) (*Result, error) {
	return await(ctx, func(done Completion) error {
		return s.Reserve(bucketType, key, count, done)
	})
}

func (s *ShardedClient) WaitCtx(ctx context.Context, bucketType, key string, count int) (*Result, error) {
	return await(ctx, func(done Completion) error {
		return s.Wait(bucketType, key, count, done)
	})
}

func (s *ShardedClient) InspectCtx(ctx context.Context, bucketType, key string) (*Result, error) {
	return await(ctx, func(done Completion) error {
		return s.Inspect(bucketType, key, done)
	})
}

func (s *ShardedClient) ReplenishCtx(ctx context.Context, bucketType, key string, count int) (*Result, error) {
	return await(ctx, func(done Completion) error {
		return s.Replenish(bucketType, key, count, done)
	})
}

func (s *ShardedClient) StatusCtx(ctx context.Context, bucketType, key string) (*Result, error) {
	return await(ctx, func(done Completion) error {
		return s.Status(bucketType, key, done)
	})
}

func (s *ShardedClient) PingCtx(ctx context.Context) error {
	_, err := await(ctx, s.Ping)
	return err
}
