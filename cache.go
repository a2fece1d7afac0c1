// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package docengine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sassoftware/viya-doc-engine/logger"
	"golang.org/x/sync/singleflight"
)

// cacheKey is a key of one cache region. Keys know their document so a
// region can be invalidated per document.
type cacheKey interface {
	comparable
	document() string
	String() string
}

// RegionStats is a point-in-time view of one cache region.
type RegionStats struct {
	Name       string `json:"name"`
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Evictions  uint64 `json:"evictions"`
	Entries    int    `json:"entries"`
	Bytes      int64  `json:"bytes"`
	MaxEntries int    `json:"maxEntries"`
	MaxBytes   int64  `json:"maxBytes"`
}

type cacheEntry[V any] struct {
	value V
	size  int64
}

// region is one LRU cache bounded by entry count and estimated bytes, with
// at most one concurrent compute per key.
type region[K cacheKey, V any] struct {
	name    string
	limits  CacheLimits
	sizeOf  func(V) int64
	timeout time.Duration

	mu      sync.Mutex
	entries *lru.Cache[K, cacheEntry[V]]
	bytes   int64
	epochs  map[string]uint64

	group     singleflight.Group
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

func newRegion[K cacheKey, V any](name string, limits CacheLimits, sizeOf func(V) int64) (*region[K, V], error) {
	r := &region[K, V]{
		name:   name,
		limits: limits,
		sizeOf: sizeOf,
		epochs: make(map[string]uint64),
	}
	// The callback runs inside Add/Remove, which are only called under r.mu.
	entries, err := lru.NewWithEvict[K, cacheEntry[V]](limits.MaxEntries, func(_ K, e cacheEntry[V]) {
		r.bytes -= e.size
	})
	if err != nil {
		return nil, fmt.Errorf("create %s cache: %w", name, err)
	}
	r.entries = entries
	return r, nil
}

func (r *region[K, V]) get(key K) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries.Get(key)
	return e.value, ok
}

// GetOrCompute returns the cached value for key, or runs compute once for
// all concurrent callers missing the same key and caches its result.
// Errors are returned to every waiting caller and never cached.
//
// compute runs detached from any single caller: it keeps ctx's values but
// not its cancellation, and is bounded by the region's compute timeout. Each
// caller waits on its own ctx, so one caller giving up neither fails the
// others nor stops the result from being cached.
func (r *region[K, V]) GetOrCompute(ctx context.Context, key K, compute func(context.Context) (V, error)) (V, error) {
	var zero V
	if v, ok := r.get(key); ok {
		r.hits.Add(1)
		return v, nil
	}
	r.misses.Add(1)

	r.mu.Lock()
	epoch := r.epochs[key.document()]
	r.mu.Unlock()

	flight := flightKey(key, epoch)
	ch := r.group.DoChan(flight, func() (interface{}, error) {
		// A previous flight may have filled the key between our miss and now.
		if v, ok := r.get(key); ok {
			return v, nil
		}
		cctx, cancel := r.computeContext(ctx)
		defer cancel()
		var v V
		err := guard(func() (err error) {
			v, err = compute(cctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		r.insert(key, v, epoch)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		if res.Shared {
			logger.Debug(fmt.Sprintf("Cache compute shared: region=%s key=%s", r.name, key.String()), true)
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		return zero, newError(KindResourceExhausted, "cache "+r.name, key.document(), -1,
			fmt.Errorf("waiting for %s: %w", key.String(), ctx.Err()))
	}
}

func (r *region[K, V]) computeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if r.timeout > 0 {
		return context.WithTimeout(detached, r.timeout)
	}
	return context.WithCancel(detached)
}

// flightKey identifies one compute of key within one epoch of its document.
// The free-form document id is length-prefixed so distinct keys never share
// a flight.
func flightKey[K cacheKey](key K, epoch uint64) string {
	doc := key.document()
	return fmt.Sprintf("%d:%s|%s@%d", len(doc), doc, key.String(), epoch)
}

func (r *region[K, V]) insert(key K, v V, epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc := key.document()
	if r.epochs[doc] != epoch {
		logger.Debug(fmt.Sprintf("Cache insert skipped, document invalidated: region=%s key=%s", r.name, key.String()), true)
		return
	}
	size := r.sizeOf(v)
	if r.limits.MaxBytes > 0 && size > r.limits.MaxBytes {
		logger.Debug(fmt.Sprintf("Cache entry exceeds region budget: region=%s size=%d max=%d", r.name, size, r.limits.MaxBytes), true)
		return
	}
	if r.entries.Contains(key) {
		r.entries.Remove(key)
	}
	r.bytes += size
	if r.entries.Add(key, cacheEntry[V]{value: v, size: size}) {
		r.evictions.Add(1)
	}
	for r.limits.MaxBytes > 0 && r.bytes > r.limits.MaxBytes && r.entries.Len() > 1 {
		if _, _, ok := r.entries.RemoveOldest(); !ok {
			break
		}
		r.evictions.Add(1)
	}
}

// Invalidate drops every entry of doc and stops in-flight computes for it
// from inserting their results.
func (r *region[K, V]) Invalidate(doc string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epochs[doc]++
	removed := 0
	for _, k := range r.entries.Keys() {
		if k.document() == doc {
			r.entries.Remove(k)
			removed++
		}
	}
	return removed
}

func (r *region[K, V]) Purge() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries.Purge()
	r.bytes = 0
}

func (r *region[K, V]) Stats() RegionStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RegionStats{
		Name:       r.name,
		Hits:       r.hits.Load(),
		Misses:     r.misses.Load(),
		Evictions:  r.evictions.Load(),
		Entries:    r.entries.Len(),
		Bytes:      r.bytes,
		MaxEntries: r.limits.MaxEntries,
		MaxBytes:   r.limits.MaxBytes,
	}
}

// ParsedDocument is what the parsed region holds per document.
type ParsedDocument struct {
	Metadata  Metadata
	TOC       []TOCEntry
	ItemCount int
}

// CacheStats reports every region.
type CacheStats struct {
	Parsed RegionStats `json:"parsed"`
	Render RegionStats `json:"render"`
	Text   RegionStats `json:"text"`
}

// DocumentCache holds parsed documents, render outputs and structured text
// in three independently bounded regions.
type DocumentCache struct {
	parsed *region[docKey, ParsedDocument]
	render *region[RenderKey, RenderResult]
	text   *region[textKey, StructuredText]
}

func NewDocumentCache(parsed, render, text CacheLimits) (*DocumentCache, error) {
	p, err := newRegion[docKey, ParsedDocument]("parsed", parsed, parsedSize)
	if err != nil {
		return nil, err
	}
	r, err := newRegion[RenderKey, RenderResult]("render", render, func(v RenderResult) int64 {
		return int64(len(v.Data)) + int64(len(v.ContentType)) + 32
	})
	if err != nil {
		return nil, err
	}
	t, err := newRegion[textKey, StructuredText]("text", text, structuredTextSize)
	if err != nil {
		return nil, err
	}
	return &DocumentCache{parsed: p, render: r, text: t}, nil
}

// setComputeTimeout bounds every detached compute. Zero leaves computes
// unbounded. It must be called before the cache is used.
func (c *DocumentCache) setComputeTimeout(d time.Duration) {
	c.parsed.timeout = d
	c.render.timeout = d
	c.text.timeout = d
}

// Invalidate removes every entry of a document from all regions.
func (c *DocumentCache) Invalidate(documentID string) {
	n := c.parsed.Invalidate(documentID) + c.render.Invalidate(documentID) + c.text.Invalidate(documentID)
	logger.Debug(fmt.Sprintf("Cache invalidated: document=%s removed=%d", documentID, n), true)
}

func (c *DocumentCache) Purge() {
	c.parsed.Purge()
	c.render.Purge()
	c.text.Purge()
}

func (c *DocumentCache) Stats() CacheStats {
	return CacheStats{
		Parsed: c.parsed.Stats(),
		Render: c.render.Stats(),
		Text:   c.text.Stats(),
	}
}

func parsedSize(p ParsedDocument) int64 {
	m := p.Metadata
	n := len(m.Title) + len(m.Subject) + len(m.Keywords) + len(m.Language) + len(m.Publisher) +
		len(m.Creator) + len(m.Producer) + len(m.CreationDate) + len(m.ModDate) + len(m.Version)
	for _, s := range m.Authors {
		n += len(s)
	}
	for _, s := range m.Identifiers {
		n += len(s)
	}
	for k, v := range m.Extra {
		n += len(k) + len(v)
	}
	return int64(n) + tocSize(p.TOC) + 128
}

func tocSize(entries []TOCEntry) int64 {
	var n int64
	for _, e := range entries {
		n += int64(len(e.Title)+len(e.Href)) + 48 + tocSize(e.Children)
	}
	return n
}

func structuredTextSize(st StructuredText) int64 {
	n := int64(len(st.Text)) + 64
	for _, r := range st.Runs {
		n += int64(len(r.Text)) + 64
	}
	return n
}
