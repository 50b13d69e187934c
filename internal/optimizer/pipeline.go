package optimizer

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"imgopt/internal/cache"
	"imgopt/internal/imageformat"
	"imgopt/internal/metrics"
	"imgopt/internal/origin"
)

// CacheControl is sent with every successful response. The URL of a variant
// fully determines its bytes, so they can be cached forever.
const CacheControl = "public, max-age=31536000, immutable"

type Transformer interface {
	Transform(ctx context.Context, data []byte, opts imageformat.Options) ([]byte, error)
}

// Tier names the place a result came from.
type Tier string

const (
	TierMemory Tier = "memory"
	TierDisk   Tier = "disk"
	TierMiss   Tier = "miss"
)

type Request struct {
	Query  url.Values
	Accept string
}

type Result struct {
	Data   []byte
	Format Format
	Key    Key
	Tier   Tier
}

func (r *Result) ContentType() string {
	return r.Format.ContentType()
}

type Options struct {
	Limits Limits
	// Coalesce makes concurrent misses for the same variant share a single
	// fetch and transform.
	Coalesce bool
}

// Pipeline answers image requests from the memory tier, then the disk tier,
// and finally by fetching and transforming the source. Fresh results are
// written to disk before memory.
type Pipeline struct {
	memory      cache.Cache
	disk        cache.Cache
	fetcher     origin.Fetcher
	transformer Transformer
	opts        Options
	group       singleflight.Group
	logger      *zap.Logger
}

func New(memory, disk cache.Cache, fetcher origin.Fetcher, transformer Transformer, opts Options, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		memory:      memory,
		disk:        disk,
		fetcher:     fetcher,
		transformer: transformer,
		opts:        opts,
		logger:      logger,
	}
}

// Process runs one request to completion. Every returned error is an *Error.
func (p *Pipeline) Process(ctx context.Context, req Request) (*Result, error) {
	res, err := p.guard(func() (*Result, error) {
		return p.process(ctx, req)
	})
	if err != nil {
		pe := AsError(err)
		metrics.RecordError(pe.Kind.String())
		return nil, pe
	}
	return res, nil
}

func (p *Pipeline) process(ctx context.Context, req Request) (*Result, error) {
	d, err := Normalize(req.Query, req.Accept, p.opts.Limits)
	if err != nil {
		return nil, err
	}

	key := DeriveKey(d)
	name := key.EntryName(d.Format)

	if data, ok := p.memory.Get(name); ok {
		metrics.RecordLookup(string(TierMemory))
		p.logger.Debug("Memory cache hit", zap.String("key", string(key)))
		return &Result{Data: data, Format: d.Format, Key: key, Tier: TierMemory}, nil
	}

	if !p.opts.Coalesce {
		return p.load(ctx, d, key, name)
	}

	// The shared work must not die with whichever caller started it, so it
	// runs detached from cancellation and is bounded by the fetch timeout.
	shared := context.WithoutCancel(ctx)
	ch := p.group.DoChan(name, func() (any, error) {
		return p.guard(func() (*Result, error) {
			return p.load(shared, d, key, name)
		})
	})

	select {
	case r := <-ch:
		if r.Shared {
			metrics.RecordCoalesced()
		}
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Result), nil
	case <-ctx.Done():
		return nil, &Error{Kind: KindInternal, Message: genericMessage, Err: ctx.Err()}
	}
}

// load serves a memory miss from disk, or generates the variant.
func (p *Pipeline) load(ctx context.Context, d Descriptor, key Key, name string) (*Result, error) {
	if data, ok := p.disk.Get(name); ok {
		metrics.RecordLookup(string(TierDisk))
		p.logger.Debug("Disk cache hit", zap.String("key", string(key)))
		p.promote(name, data)
		return &Result{Data: data, Format: d.Format, Key: key, Tier: TierDisk}, nil
	}
	metrics.RecordLookup(string(TierMiss))

	start := time.Now()
	raw, err := p.fetcher.Fetch(ctx, d.Source)
	if err != nil {
		metrics.RecordFetch("error", time.Since(start).Seconds())
		p.logger.Warn("Failed to fetch source", zap.String("src", d.Source), zap.Error(err))
		return nil, &Error{
			Kind:    KindUpstreamFetch,
			Message: "Failed to fetch image: " + origin.Reason(err),
			Err:     err,
		}
	}
	metrics.RecordFetch("ok", time.Since(start).Seconds())

	start = time.Now()
	out, err := p.transformer.Transform(ctx, raw, imageformat.Options{
		Width:   d.Width,
		Quality: d.Quality,
		Format:  d.Format,
	})
	if err != nil {
		return nil, &Error{Kind: KindTransform, Message: genericMessage, Err: err}
	}
	metrics.RecordTransform(string(d.Format), time.Since(start).Seconds())

	if err := p.disk.Set(name, out); err != nil {
		return nil, &Error{Kind: KindInternal, Message: genericMessage, Err: fmt.Errorf("failed to persist variant: %w", err)}
	}
	p.promote(name, out)

	p.logger.Info("Image generated",
		zap.String("key", string(key)),
		zap.String("src", d.Source),
		zap.Int("width", d.Width),
		zap.Int("quality", d.Quality),
		zap.String("format", string(d.Format)),
		zap.Int("source_bytes", len(raw)),
		zap.Int("bytes", len(out)),
	)

	return &Result{Data: out, Format: d.Format, Key: key, Tier: TierMiss}, nil
}

func (p *Pipeline) promote(name string, data []byte) {
	if err := p.memory.Set(name, data); err != nil {
		p.logger.Warn("Failed to populate memory cache", zap.String("name", name), zap.Error(err))
	}
}

// guard turns a panic in fn into an internal error.
func (p *Pipeline) guard(fn func() (*Result, error)) (res *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("Panic in image pipeline", zap.Any("panic", rec), zap.Stack("stack"))
			res = nil
			err = &Error{Kind: KindInternal, Message: genericMessage, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	return fn()
}
