package client

import (
	"context"
)

// await bridges the asynchronous callback surface into a blocking call.
// Synchronous validation errors are returned directly; otherwise the caller
// blocks until the completion fires or the context ends. On context
// cancellation the request keeps running until its own deadline; there is no
// per-request cancellation beyond the timeout.
func await(ctx context.Context, submit func(Completion) error) (*Result, error) {
	type outcome struct {
		result *Result
		err    error
	}
	ch := make(chan outcome, 1)

	if err := submit(func(result *Result, err error) {
		ch <- outcome{result, err}
	}); err != nil {
		return nil, err
	}

	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// --------------------------------------------------------------------------
// Blocking variants (docu see client.ILimiter)
// --------------------------------------------------------------------------

func (c *Client) ReserveCtx(ctx context.Context, bucketType, key string, count int) (*Result, error) {
	return await(ctx, func(done Completion) error {
		return c.Reserve(bucketType, key, count, done)
	})
}

func (c *Client) WaitCtx(ctx context.Context, bucketType, key string, count int) (*Result, error) {
	return await(ctx, func(done Completion) error {
		return c.Wait(bucketType, key, count, done)
	})
}

func (c *Client) InspectCtx(ctx context.Context, bucketType, key string) (*Result, error) {
	return await(ctx, func(done Completion) error {
		return c.Inspect(bucketType, key, done)
	})
}

func (c *Client) ReplenishCtx(ctx context.Context, bucketType, key string, count int) (*Result, error) {
	return await(ctx, func(done Completion) error {
		return c.Replenish(bucketType, key, count, done)
	})
}

func (c *Client) StatusCtx(ctx context.Context, bucketType, key string) (*Result, error) {
	return await(ctx, func(done Completion) error {
		return c.Status(bucketType, key, done)
	})
}

func (c *Client) PingCtx(ctx context.Context) error {
	_, err := await(ctx, c.Ping)
	return err
}
