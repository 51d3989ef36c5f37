// Package replaybuf is an embedded, in-memory experience replay store.
//
// Producers write experience as chunked step sequences and register
// prioritized items pointing into those chunks; consumers sample items
// according to pluggable distributions while a rate limiter keeps the
// two sides in balance.
//
//	srv := replaybuf.New()
//	limiter, _ := ratelimiter.New(1.0, 1, -math.MaxFloat64, math.MaxFloat64)
//	sampler, _ := selector.NewPrioritized(0.8)
//	_, err := srv.CreateTable(table.Config{
//	    Name:        "experience",
//	    Sampler:     sampler,
//	    Remover:     selector.NewFifo(),
//	    MaxSize:     1_000_000,
//	    RateLimiter: limiter,
//	})
//
//	stream := srv.NewInsertStream()
//	stream.AddChunk(chunk)
//	stream.InsertItem(ctx, item, nil)
//
//	samples, err := srv.Sample(ctx, "experience", 32)
//
// Tables, selectors, the rate limiter and the chunk store live in their
// own packages; this package wires them together and adds logging,
// metrics and checkpointing.
package replaybuf
