// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package docengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sassoftware/viya-doc-engine/logger"
)

// docGate is a FIFO mutex. Waiters are granted the gate in arrival order and
// may give up when their context ends.
type docGate struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

func (g *docGate) Lock(ctx context.Context) error {
	g.mu.Lock()
	if !g.held {
		g.held = true
		g.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	g.waiters = append(g.waiters, w)
	g.mu.Unlock()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		for i, x := range g.waiters {
			if x == w {
				g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
				g.mu.Unlock()
				return ctx.Err()
			}
		}
		g.mu.Unlock()
		// Granted while giving up; hand the gate to the next waiter.
		g.Unlock()
		return ctx.Err()
	}
}

// Unlock passes the gate to the oldest waiter, or frees it.
func (g *docGate) Unlock() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.waiters) > 0 {
		w := g.waiters[0]
		g.waiters = g.waiters[1:]
		close(w)
		return
	}
	g.held = false
}

func (g *docGate) queued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}

// docBackend runs an operation against the native document of a slot under
// the concurrency discipline of its library.
type docBackend interface {
	run(ctx context.Context, d *SafeDocument, op func(Document) error) error
	forget(ctx context.Context, slot docSlot) error
}

// SafeDocument binds one opened document to its native backend and
// serializes every operation on it.
type SafeDocument struct {
	identity Identity
	slot     docSlot
	data     []byte
	gate     docGate
	backend  docBackend
	closed   atomic.Bool
}

// Identity returns the document identity.
func (d *SafeDocument) Identity() Identity { return d.identity }

// With runs op against the native document. Operations on the same document
// run one at a time in submission order.
func (d *SafeDocument) With(ctx context.Context, op func(Document) error) error {
	if err := d.gate.Lock(ctx); err != nil {
		return newError(KindResourceExhausted, "document gate", d.identity.ID, -1, err)
	}
	defer d.gate.Unlock()
	if d.closed.Load() {
		return newError(KindNotFound, "document gate", d.identity.ID, -1, errors.New("document was closed"))
	}
	return d.backend.run(ctx, d, op)
}

// withDocument is With for operations that produce a value. The value travels
// over a channel so an abandoned actor call never races the caller.
func withDocument[T any](ctx context.Context, d *SafeDocument, op func(Document) (T, error)) (T, error) {
	res := make(chan T, 1)
	err := d.With(ctx, func(doc Document) error {
		v, err := op(doc)
		if err != nil {
			return err
		}
		res <- v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return <-res, nil
}

// guard runs fn and converts a panic in native code into a render error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("recovered from panic in document operation", "panic", r)
			err = newError(KindRender, "document operation", "", -1, fmt.Errorf("panic: %v", r))
		}
	}()
	return fn()
}

// pooledBackend serves documents from checked-out pool contexts.
type pooledBackend struct {
	pool *ContextPool
}

func (b *pooledBackend) run(ctx context.Context, d *SafeDocument, op func(Document) error) error {
	pc, err := b.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer b.pool.Release(pc)
	return guard(func() error {
		doc, err := pc.document(d.identity, d.slot, d.data)
		if err != nil {
			return annotate(err, KindParse, "open document", d.identity.ID, -1)
		}
		return op(doc)
	})
}

func (b *pooledBackend) forget(_ context.Context, slot docSlot) error {
	b.pool.forget(slot)
	return nil
}

// actorBackend serves documents through the service actor. docs is only
// touched from the actor thread.
type actorBackend struct {
	actor *ServiceActor
	docs  *lru.Cache[docSlot, Document]
}

func newActorBackend(actor *ServiceActor, maxDocs int) (*actorBackend, error) {
	docs, err := lru.NewWithEvict[docSlot, Document](maxDocs, func(slot docSlot, d Document) {
		if err := d.Close(); err != nil {
			logger.Error("failed to close actor document", "document", slot.id, "err", err)
		}
	})
	if err != nil {
		return nil, err
	}
	b := &actorBackend{actor: actor, docs: docs}
	actor.onTeardown(b.closeAll)
	return b, nil
}

func (b *actorBackend) run(ctx context.Context, d *SafeDocument, op func(Document) error) error {
	return b.actor.Submit(ctx, func(lib ActorLibrary) error {
		doc, ok := b.docs.Get(d.slot)
		if !ok {
			opened, err := lib.Open(d.identity, d.data)
			if err != nil {
				return annotate(err, KindParse, "open document", d.identity.ID, -1)
			}
			b.docs.Add(d.slot, opened)
			logger.Debug(fmt.Sprintf("Document opened on actor: document=%s generation=%d", d.slot.id, d.slot.generation), true)
			doc = opened
		}
		return op(doc)
	})
}

func (b *actorBackend) forget(ctx context.Context, slot docSlot) error {
	return b.actor.Submit(ctx, func(ActorLibrary) error {
		b.docs.Remove(slot)
		return nil
	})
}

// closeAll closes every actor-held document. It runs on the actor thread
// after the last queued message and before the library closes.
func (b *actorBackend) closeAll(ActorLibrary) {
	if n := b.docs.Len(); n > 0 {
		logger.Debug(fmt.Sprintf("Closing actor documents: count=%d", n), true)
	}
	b.docs.Purge()
}
