// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// Package docengine serves parsing and rendering of PDF and EPUB documents on
// top of native libraries that are not safe for free concurrent use. One
// library runs on a single service thread, the other from a bounded pool of
// contexts, and results are cached per document.
package docengine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/sassoftware/viya-doc-engine/logger"
)

// Option configures which native library serves which format.
type Option func(*engineOptions)

type engineOptions struct {
	actorLib     ActorLibrary
	actorFormats []Format
	factory      ContextFactory
	poolFormats  []Format
}

// WithActorLibrary hosts lib on the service actor and serves formats with it.
func WithActorLibrary(lib ActorLibrary, formats ...Format) Option {
	return func(o *engineOptions) {
		o.actorLib = lib
		o.actorFormats = formats
	}
}

// WithContextFactory serves formats from a pool of contexts created by factory.
func WithContextFactory(factory ContextFactory, formats ...Format) Option {
	return func(o *engineOptions) {
		o.factory = factory
		o.poolFormats = formats
	}
}

// EngineStats is a snapshot of every engine component.
type EngineStats struct {
	Pool      *PoolStats  `json:"pool,omitempty"`
	Actor     *ActorStats `json:"actor,omitempty"`
	Cache     CacheStats  `json:"cache"`
	Documents int         `json:"documents"`
}

// Engine owns the native libraries, the open documents and their caches.
type Engine struct {
	cfg      *Config
	cache    *DocumentCache
	pool     *ContextPool
	actor    *ServiceActor
	backends map[Format]docBackend

	mu          sync.RWMutex
	docs        map[string]*SafeDocument
	generations map[string]uint64
	closed      bool
	inflight    sync.WaitGroup

	releaseOnce sync.Once
	stoppedOnce sync.Once
}

// New validates cfg and builds an engine. Call Start before serving requests.
func New(cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if cfg.Logger != nil {
		logger.SetLogger(cfg.Logger)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.actorLib == nil && o.factory == nil {
		return nil, errors.New("engine requires at least one native library")
	}

	cache, err := NewDocumentCache(cfg.ParsedCache, cfg.RenderCache, cfg.TextCache)
	if err != nil {
		return nil, err
	}
	cache.setComputeTimeout(cfg.OperationTimeout)
	e := &Engine{
		cfg:         cfg,
		cache:       cache,
		backends:    make(map[Format]docBackend),
		docs:        make(map[string]*SafeDocument),
		generations: make(map[string]uint64),
	}

	if o.factory != nil {
		pool, err := NewContextPool(cfg.PoolCapacity, cfg.ContextDocuments, o.factory)
		if err != nil {
			return nil, err
		}
		e.pool = pool
		for _, f := range o.poolFormats {
			e.backends[f] = &pooledBackend{pool: pool}
		}
	}
	if o.actorLib != nil {
		e.actor = NewServiceActor(o.actorLib, cfg.ActorQueueSize)
		be, err := newActorBackend(e.actor, cfg.ContextDocuments*cfg.PoolCapacity)
		if err != nil {
			return nil, err
		}
		for _, f := range o.actorFormats {
			e.backends[f] = be
		}
	}

	logger.Debug(fmt.Sprintf("Engine initialized: formats=%v pool_capacity=%d timeout=%s",
		e.formats(), cfg.PoolCapacity, cfg.OperationTimeout), true)
	return e, nil
}

func (e *Engine) formats() []string {
	out := make([]string, 0, len(e.backends))
	for f := range e.backends {
		out = append(out, string(f))
	}
	sort.Strings(out)
	return out
}

// Start initializes the actor-hosted library. A failure here is fatal and
// the engine refuses every later operation on that library.
func (e *Engine) Start() error {
	if e.actor == nil {
		return nil
	}
	if err := e.actor.Start(); err != nil {
		logger.Error("engine start failed", "err", err)
		return err
	}
	logger.Info("document engine started", "formats", e.formats())
	return nil
}

// begin registers an in-flight operation so Shutdown can wait for it.
func (e *Engine) begin(op string) (func(), error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, newError(KindStopped, op, "", -1, errors.New("engine is shut down"))
	}
	e.inflight.Add(1)
	return e.inflight.Done, nil
}

func (e *Engine) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.OperationTimeout)
}

func (e *Engine) lookup(op, id string) (*SafeDocument, error) {
	e.mu.RLock()
	d, ok := e.docs[id]
	e.mu.RUnlock()
	if !ok {
		return nil, newError(KindNotFound, op, id, -1, errors.New("document is not open"))
	}
	return d, nil
}

// Open loads src and registers it under id. An empty id is replaced by a
// generated one and FormatUnknown is detected from the content. The document
// is parsed once before Open returns, so malformed input fails here.
func (e *Engine) Open(ctx context.Context, src Source, id string, format Format) (*Identity, error) {
	const op = "open"
	done, err := e.begin(op)
	if err != nil {
		return nil, err
	}
	defer done()
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	if id == "" {
		id = uuid.NewString()
	}
	logger.Debug(fmt.Sprintf("Opening document: id=%s source=%s", id, src), true)

	data, err := src.Load(ctx)
	if err != nil {
		return nil, annotate(err, KindNotFound, op, id, -1)
	}
	if len(data) == 0 {
		return nil, newError(KindInvalidContent, op, id, -1, errors.New("document is empty"))
	}
	if format == FormatUnknown {
		format = DetectFormat(data)
	}
	backend, ok := e.backends[format]
	if !ok {
		return nil, newError(KindInvalidContent, op, id, -1, fmt.Errorf("unsupported document format %q", format))
	}

	identity := Identity{ID: id, Format: format, Source: src.String(), Size: int64(len(data))}
	e.mu.Lock()
	if _, exists := e.docs[id]; exists {
		e.mu.Unlock()
		return nil, newError(KindInvalidContent, op, id, -1, errors.New("document already open"))
	}
	e.generations[id]++
	d := &SafeDocument{
		identity: identity,
		slot:     docSlot{id: id, generation: e.generations[id]},
		data:     data,
		backend:  backend,
	}
	e.docs[id] = d
	e.mu.Unlock()

	if _, err := e.parsed(ctx, d); err != nil {
		e.unregister(ctx, d)
		return nil, annotate(err, KindParse, op, id, -1)
	}
	logger.Debug(fmt.Sprintf("Document opened: id=%s format=%s size=%d", id, format, len(data)), true)
	return &identity, nil
}

// Close releases the native state of a document and drops its cache entries.
// Operations already queued on the document finish first.
func (e *Engine) Close(ctx context.Context, id string) error {
	const op = "close"
	done, err := e.begin(op)
	if err != nil {
		return err
	}
	defer done()
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	e.mu.Lock()
	d, ok := e.docs[id]
	if !ok {
		e.mu.Unlock()
		return newError(KindNotFound, op, id, -1, errors.New("document is not open"))
	}
	e.mu.Unlock()
	e.unregister(ctx, d)
	logger.Debug(fmt.Sprintf("Document closed: id=%s", id), true)
	return nil
}

// unregister removes d from the open set, then, once every operation queued
// on it has run, releases its native documents.
func (e *Engine) unregister(ctx context.Context, d *SafeDocument) {
	e.mu.Lock()
	if cur, ok := e.docs[d.identity.ID]; ok && cur == d {
		delete(e.docs, d.identity.ID)
	}
	e.mu.Unlock()
	d.closed.Store(true)
	e.cache.Invalidate(d.identity.ID)

	release := func(ctx context.Context) {
		if err := d.backend.forget(ctx, d.slot); err != nil {
			logger.Warn("failed to release native document", "document", d.identity.ID, "err", err)
		}
	}
	if err := d.gate.Lock(ctx); err != nil {
		// Still busy; release in the background once the gate frees up.
		go func() {
			_ = d.gate.Lock(context.Background())
			defer d.gate.Unlock()
			release(context.Background())
		}()
		return
	}
	defer d.gate.Unlock()
	release(ctx)
}

// Invalidate drops every cache entry of a document without closing it.
func (e *Engine) Invalidate(id string) {
	e.cache.Invalidate(id)
}

// Documents lists the open documents ordered by id.
func (e *Engine) Documents() []Identity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Identity, 0, len(e.docs))
	for _, d := range e.docs {
		out = append(out, d.identity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Parser returns the read capability of an open document.
func (e *Engine) Parser(id string) (Parser, error) {
	if _, err := e.lookup("parser", id); err != nil {
		return nil, err
	}
	return &documentCapability{engine: e, id: id}, nil
}

// Renderer returns the render capability of an open document.
func (e *Engine) Renderer(id string) (Renderer, error) {
	if _, err := e.lookup("renderer", id); err != nil {
		return nil, err
	}
	return &documentCapability{engine: e, id: id}, nil
}

// call wraps one public operation: registration, timeout, lookup and error context.
func call[T any](e *Engine, ctx context.Context, op, id string, item int, fallback Kind,
	fn func(ctx context.Context, d *SafeDocument) (T, error)) (T, error) {
	var zero T
	done, err := e.begin(op)
	if err != nil {
		return zero, err
	}
	defer done()
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	d, err := e.lookup(op, id)
	if err != nil {
		return zero, err
	}
	v, err := fn(ctx, d)
	if err != nil {
		logger.Debug(fmt.Sprintf("Operation failed: op=%s document=%s item=%d err=%v", op, id, item, err), true)
		return zero, annotate(err, fallback, op, id, item)
	}
	return v, nil
}

func (e *Engine) parsed(ctx context.Context, d *SafeDocument) (ParsedDocument, error) {
	return e.cache.parsed.GetOrCompute(ctx, docKey{DocumentID: d.identity.ID}, func(ctx context.Context) (ParsedDocument, error) {
		return withDocument(ctx, d, func(doc Document) (ParsedDocument, error) {
			md, err := doc.Metadata()
			if err != nil {
				return ParsedDocument{}, annotate(err, KindParse, "metadata", d.identity.ID, -1)
			}
			toc, err := doc.TOC()
			if err != nil {
				return ParsedDocument{}, annotate(err, KindParse, "toc", d.identity.ID, -1)
			}
			md.Format = d.identity.Format
			md.ItemCount = doc.ItemCount()
			return ParsedDocument{Metadata: md, TOC: toc, ItemCount: md.ItemCount}, nil
		})
	})
}

func (e *Engine) checkItem(ctx context.Context, d *SafeDocument, item int) error {
	p, err := e.parsed(ctx, d)
	if err != nil {
		return err
	}
	if item < 0 || item >= p.ItemCount {
		return Errorf(KindNotFound, "item %d out of range [0,%d)", item, p.ItemCount)
	}
	return nil
}

// Parse returns the document metadata.
func (e *Engine) Parse(ctx context.Context, id string) (Metadata, error) {
	return call(e, ctx, "parse", id, -1, KindParse, func(ctx context.Context, d *SafeDocument) (Metadata, error) {
		p, err := e.parsed(ctx, d)
		return p.Metadata, err
	})
}

// ItemCount returns the number of pages or spine items.
func (e *Engine) ItemCount(ctx context.Context, id string) (int, error) {
	return call(e, ctx, "item count", id, -1, KindParse, func(ctx context.Context, d *SafeDocument) (int, error) {
		p, err := e.parsed(ctx, d)
		return p.ItemCount, err
	})
}

func (e *Engine) ExtractTOC(ctx context.Context, id string) ([]TOCEntry, error) {
	return call(e, ctx, "extract toc", id, -1, KindParse, func(ctx context.Context, d *SafeDocument) ([]TOCEntry, error) {
		p, err := e.parsed(ctx, d)
		return p.TOC, err
	})
}

// ExtractText returns the plain text of one item.
func (e *Engine) ExtractText(ctx context.Context, id string, item int) (string, error) {
	return call(e, ctx, "extract text", id, item, KindParse, func(ctx context.Context, d *SafeDocument) (string, error) {
		if err := e.checkItem(ctx, d, item); err != nil {
			return "", err
		}
		return withDocument(ctx, d, func(doc Document) (string, error) {
			return doc.Text(item)
		})
	})
}

// GetStructuredText returns the positioned text of one item, cached.
func (e *Engine) GetStructuredText(ctx context.Context, id string, item int) (StructuredText, error) {
	return call(e, ctx, "structured text", id, item, KindParse, func(ctx context.Context, d *SafeDocument) (StructuredText, error) {
		return e.structuredText(ctx, d, item)
	})
}

func (e *Engine) structuredText(ctx context.Context, d *SafeDocument, item int) (StructuredText, error) {
	if err := e.checkItem(ctx, d, item); err != nil {
		return StructuredText{}, err
	}
	key := textKey{DocumentID: d.identity.ID, Item: item}
	return e.cache.text.GetOrCompute(ctx, key, func(ctx context.Context) (StructuredText, error) {
		return withDocument(ctx, d, func(doc Document) (StructuredText, error) {
			st, err := doc.StructuredText(item)
			st.Item = item
			return st, err
		})
	})
}

// Search finds query across the items selected by opts.
func (e *Engine) Search(ctx context.Context, id, query string, opts SearchOptions) ([]SearchHit, error) {
	return call(e, ctx, "search", id, -1, KindParse, func(ctx context.Context, d *SafeDocument) ([]SearchHit, error) {
		if query == "" {
			return nil, Errorf(KindInvalidContent, "empty search query")
		}
		p, err := e.parsed(ctx, d)
		if err != nil {
			return nil, err
		}
		from, to := opts.FromItem, opts.ToItem
		if to <= 0 || to > p.ItemCount {
			to = p.ItemCount
		}
		if from < 0 || from > to {
			return nil, Errorf(KindNotFound, "search range [%d,%d) out of range [0,%d)", opts.FromItem, opts.ToItem, p.ItemCount)
		}

		var hits []SearchHit
		for item := from; item < to; item++ {
			if err := ctx.Err(); err != nil {
				return nil, newError(KindResourceExhausted, "search", id, item, err)
			}
			st, err := e.structuredText(ctx, d, item)
			if err != nil {
				return nil, annotate(err, KindParse, "search", id, item)
			}
			hits = append(hits, searchText(st, query, opts, e.cfg.SearchSnippetRadius)...)
			if opts.MaxHits > 0 && len(hits) >= opts.MaxHits {
				hits = hits[:opts.MaxHits]
				break
			}
		}
		logger.Debug(fmt.Sprintf("Search completed: document=%s items=%d hits=%d", id, to-from, len(hits)), true)
		return hits, nil
	})
}

// GetItemDimensions returns the size of one item in points.
func (e *Engine) GetItemDimensions(ctx context.Context, id string, item int) (Dimensions, error) {
	return call(e, ctx, "item dimensions", id, item, KindParse, func(ctx context.Context, d *SafeDocument) (Dimensions, error) {
		if err := e.checkItem(ctx, d, item); err != nil {
			return Dimensions{}, err
		}
		return withDocument(ctx, d, func(doc Document) (Dimensions, error) {
			return doc.Dimensions(item)
		})
	})
}

// RenderItem renders one item. Identical requests are served from the render
// cache, and concurrent identical requests share one native render.
func (e *Engine) RenderItem(ctx context.Context, req RenderRequest) (RenderResult, error) {
	key, err := NewRenderKey(req)
	if err != nil {
		return RenderResult{}, err
	}
	req.Format = key.Format
	return call(e, ctx, "render", req.DocumentID, req.Item, KindRender, func(ctx context.Context, d *SafeDocument) (RenderResult, error) {
		if err := e.checkItem(ctx, d, req.Item); err != nil {
			return RenderResult{}, err
		}
		return e.cache.render.GetOrCompute(ctx, key, func(ctx context.Context) (RenderResult, error) {
			logger.Debug(fmt.Sprintf("Render cache miss: key=%s", key), true)
			return withDocument(ctx, d, func(doc Document) (RenderResult, error) {
				return doc.Render(req)
			})
		})
	})
}

// RenderThumbnail renders an item to fit maxSize pixels; 0 uses the configured default.
func (e *Engine) RenderThumbnail(ctx context.Context, id string, item, maxSize int) (RenderResult, error) {
	if maxSize <= 0 {
		maxSize = e.cfg.DefaultThumbnailSize
	}
	key := RenderKey{DocumentID: id, Kind: RenderThumb, Item: item, Format: OutputPNG, Extra: strconv.Itoa(maxSize)}
	return call(e, ctx, "thumbnail", id, item, KindRender, func(ctx context.Context, d *SafeDocument) (RenderResult, error) {
		if err := e.checkItem(ctx, d, item); err != nil {
			return RenderResult{}, err
		}
		return e.cache.render.GetOrCompute(ctx, key, func(ctx context.Context) (RenderResult, error) {
			return withDocument(ctx, d, func(doc Document) (RenderResult, error) {
				return doc.Thumbnail(item, maxSize)
			})
		})
	})
}

// GetResource returns an embedded resource by href.
func (e *Engine) GetResource(ctx context.Context, id, href string) (Resource, error) {
	key := RenderKey{DocumentID: id, Kind: RenderResource, Item: -1, Extra: href}
	return call(e, ctx, "get resource", id, -1, KindNotFound, func(ctx context.Context, d *SafeDocument) (Resource, error) {
		if href == "" {
			return Resource{}, Errorf(KindNotFound, "empty resource href")
		}
		r, err := e.cache.render.GetOrCompute(ctx, key, func(ctx context.Context) (RenderResult, error) {
			res, err := withDocument(ctx, d, func(doc Document) (Resource, error) {
				return doc.Resource(href)
			})
			if err != nil {
				return RenderResult{}, err
			}
			return RenderResult{Data: res.Data, ContentType: res.MediaType}, nil
		})
		if err != nil {
			return Resource{}, err
		}
		return Resource{Href: href, MediaType: r.ContentType, Data: r.Data}, nil
	})
}

// Stats returns a snapshot of the pool, actor and cache.
func (e *Engine) Stats() EngineStats {
	s := EngineStats{Cache: e.cache.Stats()}
	if e.pool != nil {
		ps := e.pool.Stats()
		s.Pool = &ps
	}
	if e.actor != nil {
		as := e.actor.Stats()
		s.Actor = &as
	}
	e.mu.RLock()
	s.Documents = len(e.docs)
	e.mu.RUnlock()
	return s
}

// Shutdown refuses new operations, waits for in-flight ones until ctx ends,
// then drains the actor and closes the pool. Operations still running when
// ctx ends are detached: the actor finishes them before its library closes,
// and pooled contexts are destroyed as they are released. Shutdown may be
// called again to wait for a teardown an earlier call gave up on.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	first := !e.closed
	e.closed = true
	e.mu.Unlock()
	if first {
		logger.Info("document engine shutting down")
	}

	var errs []error
	if err := e.waitIdle(ctx); err != nil {
		logger.Warn("shutdown deadline reached with operations in flight, detaching them", "err", err.Error())
		errs = append(errs, err)
	}
	e.releaseOnce.Do(e.release)
	if e.actor != nil {
		if err := e.actor.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	e.stoppedOnce.Do(func() { logger.Info("document engine stopped") })
	return nil
}

func (e *Engine) waitIdle(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return newError(KindResourceExhausted, "shutdown", "", -1, fmt.Errorf("waiting for in-flight operations: %w", ctx.Err()))
	}
}

// release drops everything the engine owns outside the actor thread.
func (e *Engine) release() {
	if e.pool != nil {
		e.pool.Close()
	}
	e.cache.Purge()

	e.mu.Lock()
	e.docs = make(map[string]*SafeDocument)
	e.mu.Unlock()
}

// documentCapability is the Parser and Renderer of one document id.
type documentCapability struct {
	engine *Engine
	id     string
}

func (c *documentCapability) Parse(ctx context.Context) (Metadata, error) {
	return c.engine.Parse(ctx, c.id)
}

func (c *documentCapability) ItemCount(ctx context.Context) (int, error) {
	return c.engine.ItemCount(ctx, c.id)
}

func (c *documentCapability) ExtractTOC(ctx context.Context) ([]TOCEntry, error) {
	return c.engine.ExtractTOC(ctx, c.id)
}

func (c *documentCapability) ExtractText(ctx context.Context, item int) (string, error) {
	return c.engine.ExtractText(ctx, c.id, item)
}

func (c *documentCapability) GetStructuredText(ctx context.Context, item int) (StructuredText, error) {
	return c.engine.GetStructuredText(ctx, c.id, item)
}

func (c *documentCapability) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchHit, error) {
	return c.engine.Search(ctx, c.id, query, opts)
}

func (c *documentCapability) GetItemDimensions(ctx context.Context, item int) (Dimensions, error) {
	return c.engine.GetItemDimensions(ctx, c.id, item)
}

func (c *documentCapability) RenderItem(ctx context.Context, req RenderRequest) (RenderResult, error) {
	req.DocumentID = c.id
	return c.engine.RenderItem(ctx, req)
}

func (c *documentCapability) RenderThumbnail(ctx context.Context, item, maxSize int) (RenderResult, error) {
	return c.engine.RenderThumbnail(ctx, c.id, item, maxSize)
}

func (c *documentCapability) GetResource(ctx context.Context, href string) (Resource, error) {
	return c.engine.GetResource(ctx, c.id, href)
}
