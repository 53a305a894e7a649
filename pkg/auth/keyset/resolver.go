package keyset

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/spendwise/spendwise-auth/internal/metrics"
	"github.com/spendwise/spendwise-auth/internal/tracing"
)

// Resolver supplies the current key set for a provider endpoint.
type Resolver interface {
	Resolve(ctx context.Context, endpoint string) (*KeySet, error)
	Refresh(ctx context.Context, endpoint string) (*KeySet, error)
	Invalidate(endpoint string)
}

const (
	DefaultFetchTimeout       = 5 * time.Second
	DefaultMinRefreshInterval = 30 * time.Second
)

type entry struct {
	set         *KeySet
	lastAttempt time.Time
}

// CachingResolver keeps one key set per endpoint in memory. Concurrent
// misses for an endpoint share a single fetch and no lock is held while
// the fetch is in flight.
type CachingResolver struct {
	fetcher      Fetcher
	store        Store
	ttl          time.Duration
	minRefresh   time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger
	tracer       trace.Tracer

	mu      sync.RWMutex
	entries map[string]*entry
	group   singleflight.Group
}

type Option func(*CachingResolver)

// WithTTL bounds how long a fetched set is served. Zero keeps it for the
// lifetime of the process.
func WithTTL(ttl time.Duration) Option {
	return func(r *CachingResolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func WithMinRefreshInterval(d time.Duration) Option {
	return func(r *CachingResolver) {
		if d >= 0 {
			r.minRefresh = d
		}
	}
}

func WithFetchTimeout(d time.Duration) Option {
	return func(r *CachingResolver) {
		if d > 0 {
			r.fetchTimeout = d
		}
	}
}

// WithStore puts a shared document cache in front of the origin.
func WithStore(s Store) Option {
	return func(r *CachingResolver) { r.store = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *CachingResolver) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *CachingResolver) {
		if now != nil {
			r.now = now
		}
	}
}

func NewCachingResolver(fetcher Fetcher, opts ...Option) *CachingResolver {
	if fetcher == nil {
		fetcher = NewHTTPFetcher(nil)
	}
	r := &CachingResolver{
		fetcher:      fetcher,
		minRefresh:   DefaultMinRefreshInterval,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		logger:       slog.Default(),
		tracer:       tracing.Tracer("keyset"),
		entries:      make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *CachingResolver) Resolve(ctx context.Context, endpoint string) (*KeySet, error) {
	r.mu.RLock()
	var (
		cached      *KeySet
		lastAttempt time.Time
	)
	if e := r.entries[endpoint]; e != nil {
		cached, lastAttempt = e.set, e.lastAttempt
	}
	r.mu.RUnlock()

	if cached != nil && !r.expired(cached) {
		metrics.JWKSCacheLookupsTotal.WithLabelValues("hit").Inc()
		return cached, nil
	}
	// An expired set whose last refetch failed recently keeps serving
	// until the refresh interval allows another attempt.
	if cached != nil && r.now().Sub(lastAttempt) < r.minRefresh && lastAttempt.After(cached.FetchedAt) {
		metrics.JWKSCacheLookupsTotal.WithLabelValues("stale").Inc()
		return cached, nil
	}
	if cached == nil {
		metrics.JWKSCacheLookupsTotal.WithLabelValues("miss").Inc()
	} else {
		metrics.JWKSCacheLookupsTotal.WithLabelValues("expired").Inc()
	}

	set, err := r.load(ctx, endpoint, false)
	if err != nil {
		if cached != nil {
			r.logger.Warn("jwks refetch failed; serving stale key set",
				"endpoint", endpoint,
				"age", r.now().Sub(cached.FetchedAt).String(),
				"err", err,
			)
			return cached, nil
		}
		return nil, err
	}
	return set, nil
}

// Refresh forces a refetch from the origin unless the endpoint was fetched
// within the minimum refresh interval, in which case ErrRefreshThrottled
// is returned.
func (r *CachingResolver) Refresh(ctx context.Context, endpoint string) (*KeySet, error) {
	now := r.now()
	r.mu.Lock()
	e := r.entries[endpoint]
	if e != nil && !e.lastAttempt.IsZero() && now.Sub(e.lastAttempt) < r.minRefresh {
		r.mu.Unlock()
		return nil, ErrRefreshThrottled
	}
	if e == nil {
		e = &entry{}
		r.entries[endpoint] = e
	}
	e.lastAttempt = now
	r.mu.Unlock()

	return r.load(ctx, endpoint, true)
}

func (r *CachingResolver) Invalidate(endpoint string) {
	r.mu.Lock()
	delete(r.entries, endpoint)
	r.mu.Unlock()

	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.fetchTimeout)
	defer cancel()
	if err := r.store.Delete(ctx, endpoint); err != nil {
		r.logger.Warn("jwks shared cache delete failed", "endpoint", endpoint, "err", err)
	}
}

// EntryStats describes one cached endpoint.
type EntryStats struct {
	Endpoint  string
	Keys      int
	FetchedAt time.Time
}

// Snapshot reports every endpoint currently holding a key set, sorted by
// endpoint.
func (r *CachingResolver) Snapshot() []EntryStats {
	r.mu.RLock()
	out := make([]EntryStats, 0, len(r.entries))
	for endpoint, e := range r.entries {
		if e.set == nil {
			continue
		}
		out = append(out, EntryStats{Endpoint: endpoint, Keys: len(e.set.Keys), FetchedAt: e.set.FetchedAt})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

func (r *CachingResolver) expired(set *KeySet) bool {
	return r.ttl > 0 && r.now().Sub(set.FetchedAt) >= r.ttl
}

func (r *CachingResolver) load(ctx context.Context, endpoint string, origin bool) (*KeySet, error) {
	key := "resolve:" + endpoint
	if origin {
		key = "refresh:" + endpoint
	}
	ch := r.group.DoChan(key, func() (any, error) {
		return r.fetch(ctx, endpoint, origin)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeySet), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	}
}

// fetch runs detached from the caller's cancellation so that one abandoned
// request does not fail every waiter sharing the flight.
func (r *CachingResolver) fetch(parent context.Context, endpoint string, origin bool) (*KeySet, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.fetchTimeout)
	defer cancel()
	ctx, span := r.tracer.Start(ctx, "jwks.Fetch", trace.WithAttributes(
		attribute.String("jwks.endpoint", endpoint),
		attribute.Bool("jwks.forced", origin),
	))
	defer span.End()

	r.markAttempt(endpoint)

	if r.store != nil && !origin {
		if set, ok := r.fromStore(ctx, endpoint); ok {
			span.SetAttributes(attribute.String("jwks.source", "shared"))
			r.put(set)
			return set, nil
		}
	}
	span.SetAttributes(attribute.String("jwks.source", "origin"))

	body, err := r.fetcher.Fetch(ctx, endpoint)
	if err == nil {
		var set *KeySet
		set, err = Parse(endpoint, body, r.now())
		if err == nil {
			metrics.JWKSFetchesTotal.WithLabelValues("origin", "ok").Inc()
			span.SetAttributes(attribute.Int("jwks.keys", len(set.Keys)))
			r.put(set)
			if r.store != nil {
				if perr := r.store.Put(ctx, endpoint, body); perr != nil {
					r.logger.Warn("jwks shared cache write failed", "endpoint", endpoint, "err", perr)
				}
			}
			r.logger.Debug("jwks fetched", "endpoint", endpoint, "keys", len(set.Keys))
			return set, nil
		}
	}

	metrics.JWKSFetchesTotal.WithLabelValues("origin", "error").Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, "jwks fetch failed")
	r.logger.Warn("jwks fetch failed", "endpoint", endpoint, "err", err)
	return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func (r *CachingResolver) fromStore(ctx context.Context, endpoint string) (*KeySet, bool) {
	body, ok, err := r.store.Get(ctx, endpoint)
	if err != nil {
		metrics.JWKSFetchesTotal.WithLabelValues("shared", "error").Inc()
		r.logger.Warn("jwks shared cache read failed", "endpoint", endpoint, "err", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	set, err := Parse(endpoint, body, r.now())
	if err != nil {
		metrics.JWKSFetchesTotal.WithLabelValues("shared", "error").Inc()
		r.logger.Warn("discarding unusable shared jwks document", "endpoint", endpoint, "err", err)
		return nil, false
	}
	metrics.JWKSFetchesTotal.WithLabelValues("shared", "ok").Inc()
	return set, true
}

func (r *CachingResolver) markAttempt(endpoint string) {
	now := r.now()
	r.mu.Lock()
	e := r.entries[endpoint]
	if e == nil {
		e = &entry{}
		r.entries[endpoint] = e
	}
	e.lastAttempt = now
	r.mu.Unlock()
}

func (r *CachingResolver) put(set *KeySet) {
	r.mu.Lock()
	e := r.entries[set.Endpoint]
	if e == nil {
		e = &entry{}
		r.entries[set.Endpoint] = e
	}
	e.set = set
	r.mu.Unlock()
}
