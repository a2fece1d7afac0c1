// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package docengine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sassoftware/viya-doc-engine/logger"
	"golang.org/x/sync/semaphore"
)

// PoolStats is a point-in-time view of a ContextPool.
type PoolStats struct {
	Capacity int `json:"capacity"`
	Created  int `json:"created"`
	InUse    int `json:"inUse"`
	Waiters  int `json:"waiters"`
}

// PooledContext is a native context checked out of a ContextPool. It keeps
// the documents opened inside it, since native documents belong to the
// context that opened them.
type PooledContext struct {
	id      int
	native  NativeContext
	docs    *lru.Cache[docSlot, Document]
	pending []docSlot
}

// Native returns the underlying library context.
func (pc *PooledContext) Native() NativeContext { return pc.native }

// document returns the native document for slot, opening it in this context on first use.
func (pc *PooledContext) document(id Identity, slot docSlot, data []byte) (Document, error) {
	if d, ok := pc.docs.Get(slot); ok {
		return d, nil
	}
	d, err := pc.native.Open(id, data)
	if err != nil {
		return nil, err
	}
	pc.docs.Add(slot, d)
	logger.Debug(fmt.Sprintf("Document opened in context: context=%d document=%s generation=%d", pc.id, slot.id, slot.generation), true)
	return d, nil
}

// forgetPending closes documents that were released while this context was idle.
func (pc *PooledContext) forgetPending(slots []docSlot) {
	for _, s := range slots {
		pc.docs.Remove(s)
	}
}

func (pc *PooledContext) destroy() {
	pc.docs.Purge()
	if err := pc.native.Close(); err != nil {
		logger.Error("failed to close native context", "context", pc.id, "err", err)
	}
	logger.Debug(fmt.Sprintf("Native context destroyed: context=%d", pc.id), true)
}

// ContextPool hands out at most capacity native contexts at a time. Contexts
// are created lazily and destroyed only when the pool is closed.
type ContextPool struct {
	capacity   int
	docsPerCtx int
	factory    ContextFactory
	sem        *semaphore.Weighted
	waiters    atomic.Int64
	mu         sync.Mutex
	idle       []*PooledContext
	busy       map[*PooledContext]struct{}
	created    int
	nextID     int
	closed     bool
}

// NewContextPool creates a pool of up to capacity contexts, each keeping at
// most docsPerContext open documents.
func NewContextPool(capacity, docsPerContext int, factory ContextFactory) (*ContextPool, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("context pool capacity must be positive, got %d", capacity)
	}
	if docsPerContext < 1 {
		docsPerContext = 1
	}
	if factory == nil {
		return nil, fmt.Errorf("context pool requires a factory")
	}
	logger.Debug(fmt.Sprintf("Context pool initialized: capacity=%d docs_per_context=%d", capacity, docsPerContext), true)
	return &ContextPool{
		capacity:   capacity,
		docsPerCtx: docsPerContext,
		factory:    factory,
		sem:        semaphore.NewWeighted(int64(capacity)),
		busy:       make(map[*PooledContext]struct{}, capacity),
		nextID:     1,
	}, nil
}

// Acquire blocks until a context is free or ctx is done. On timeout it
// returns a KindResourceExhausted error; the caller must Release every
// context it receives.
func (p *ContextPool) Acquire(ctx context.Context) (*PooledContext, error) {
	const op = "acquire context"
	if p.isClosed() {
		return nil, newError(KindStopped, op, "", -1, fmt.Errorf("context pool closed"))
	}

	p.waiters.Add(1)
	err := p.sem.Acquire(ctx, 1)
	p.waiters.Add(-1)
	if err != nil {
		logger.Debug(fmt.Sprintf("Failed to acquire context: err=%v", err), true)
		return nil, newError(KindResourceExhausted, op, "", -1, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, newError(KindStopped, op, "", -1, fmt.Errorf("context pool closed"))
	}
	var pc *PooledContext
	if n := len(p.idle); n > 0 {
		pc = p.idle[n-1]
		p.idle = p.idle[:n-1]
	} else {
		p.created++
		id := p.nextID
		p.nextID++
		p.mu.Unlock()

		created, err := p.newContext(id)
		if err != nil {
			p.mu.Lock()
			p.created--
			p.mu.Unlock()
			p.sem.Release(1)
			return nil, newError(KindRender, op, "", -1, fmt.Errorf("create native context: %w", err))
		}
		pc = created

		p.mu.Lock()
	}
	p.busy[pc] = struct{}{}
	pending := pc.pending
	pc.pending = nil
	p.mu.Unlock()

	pc.forgetPending(pending)
	logger.Debug(fmt.Sprintf("Context acquired: context=%d", pc.id), true)
	return pc, nil
}

func (p *ContextPool) newContext(id int) (*PooledContext, error) {
	native, err := p.factory()
	if err != nil {
		return nil, err
	}
	docs, err := lru.NewWithEvict[docSlot, Document](p.docsPerCtx, func(slot docSlot, d Document) {
		if err := d.Close(); err != nil {
			logger.Error("failed to close native document", "document", slot.id, "err", err)
		}
	})
	if err != nil {
		_ = native.Close()
		return nil, err
	}
	logger.Debug(fmt.Sprintf("Native context created: context=%d", id), true)
	return &PooledContext{id: id, native: native, docs: docs}, nil
}

// Release returns pc to the pool. Releasing a context that is not checked out is a no-op.
func (p *ContextPool) Release(pc *PooledContext) {
	if pc == nil {
		return
	}
	p.mu.Lock()
	if _, ok := p.busy[pc]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.busy, pc)
	closed := p.closed
	if !closed {
		p.idle = append(p.idle, pc)
	}
	p.mu.Unlock()

	if closed {
		pc.destroy()
	}
	p.sem.Release(1)
	logger.Debug(fmt.Sprintf("Context released: context=%d", pc.id), true)
}

// forget schedules every context to close its copy of slot at next checkout.
func (p *ContextPool) forget(slot docSlot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pc := range p.idle {
		pc.pending = append(pc.pending, slot)
	}
	for pc := range p.busy {
		pc.pending = append(pc.pending, slot)
	}
}

// Stats returns capacity, created, in-use and waiter counts.
func (p *ContextPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Capacity: p.capacity,
		Created:  p.created,
		InUse:    len(p.busy),
		Waiters:  int(p.waiters.Load()),
	}
}

// Close destroys idle contexts now and checked-out contexts when they are released.
func (p *ContextPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, pc := range idle {
		pc.destroy()
	}
	logger.Debug(fmt.Sprintf("Context pool closed: destroyed_idle=%d", len(idle)), true)
}

func (p *ContextPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
