// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package docengine

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sassoftware/viya-doc-engine/logger"
)

// ActorState is the lifecycle state of a ServiceActor.
type ActorState int32

const (
	ActorStarting ActorState = iota
	ActorReady
	ActorDraining
	ActorStopped
)

func (s ActorState) String() string {
	switch s {
	case ActorStarting:
		return "starting"
	case ActorReady:
		return "ready"
	case ActorDraining:
		return "draining"
	case ActorStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ActorStats is a point-in-time view of a ServiceActor.
type ActorStats struct {
	State     string `json:"state"`
	Queued    int    `json:"queued"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Panics    uint64 `json:"panics"`
}

type actorMessage struct {
	fn   func(ActorLibrary) error
	done chan error
}

// ServiceActor owns a globally-stateful library on one dedicated OS thread.
// All work reaches the library as messages; nothing else may call it.
type ServiceActor struct {
	lib   ActorLibrary
	inbox chan actorMessage

	mu      sync.Mutex
	state   atomic.Int32
	started bool
	sending atomic.Int64

	ready   chan struct{}
	drain   chan struct{}
	done    chan struct{}
	initErr error

	startOnce sync.Once
	drainOnce sync.Once

	// teardown runs on the actor thread after the queue drains and before
	// the library closes.
	teardown []func(ActorLibrary)

	processed atomic.Uint64
	failed    atomic.Uint64
	panics    atomic.Uint64
}

// NewServiceActor creates an actor in the Starting state. Messages may be
// submitted right away; they run once the library is initialized.
func NewServiceActor(lib ActorLibrary, queueSize int) *ServiceActor {
	if queueSize < 1 {
		queueSize = 1
	}
	a := &ServiceActor{
		lib:   lib,
		inbox: make(chan actorMessage, queueSize),
		ready: make(chan struct{}),
		drain: make(chan struct{}),
		done:  make(chan struct{}),
	}
	a.state.Store(int32(ActorStarting))
	return a
}

// onTeardown registers fn to run on the actor thread during shutdown. It must
// be called before Start.
func (a *ServiceActor) onTeardown(fn func(ActorLibrary)) {
	a.teardown = append(a.teardown, fn)
}

// State returns the current lifecycle state.
func (a *ServiceActor) State() ActorState { return ActorState(a.state.Load()) }

// Start launches the actor thread and blocks until library initialization
// finishes. An initialization failure is fatal: it is returned as a
// KindFatalInit error, and the actor stops without serving anything.
func (a *ServiceActor) Start() error {
	a.startOnce.Do(func() {
		a.mu.Lock()
		if a.State() != ActorStarting {
			a.mu.Unlock()
			a.initErr = newError(KindStopped, "actor start", "", -1, fmt.Errorf("actor already shut down"))
			close(a.ready)
			return
		}
		a.started = true
		a.mu.Unlock()
		go a.loop()
	})
	<-a.ready
	return a.initErr
}

func (a *ServiceActor) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(a.done)

	logger.Debug("Service actor initializing library", true)
	if err := a.safeInit(); err != nil {
		a.initErr = newError(KindFatalInit, "actor init", "", -1, err)
		logger.Error("service actor library initialization failed", "err", err)
		a.setState(ActorStopped)
		close(a.ready)
		a.drainQueue(func(m actorMessage) { m.done <- a.initErr })
		return
	}

	a.mu.Lock()
	if a.State() == ActorStarting {
		a.state.Store(int32(ActorReady))
	}
	a.mu.Unlock()
	close(a.ready)
	logger.Debug("Service actor ready", true)

	for {
		select {
		case m := <-a.inbox:
			a.run(m)
		case <-a.drain:
			a.drainQueue(a.run)
			for _, fn := range a.teardown {
				if err := a.call(func(lib ActorLibrary) error { fn(lib); return nil }); err != nil {
					logger.Error("service actor teardown hook failed", "err", err)
				}
			}
			if err := a.lib.Close(); err != nil {
				logger.Error("service actor library teardown failed", "err", err)
			}
			a.setState(ActorStopped)
			logger.Debug(fmt.Sprintf("Service actor stopped: processed=%d failed=%d", a.processed.Load(), a.failed.Load()), true)
			return
		}
	}
}

func (a *ServiceActor) safeInit() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during library init: %v", r)
		}
	}()
	return a.lib.Init()
}

// drainQueue handles every accepted message. Once the state forbids new
// submissions the sender count can only fall, so an empty inbox with no
// senders in flight means nothing else will arrive.
func (a *ServiceActor) drainQueue(handle func(actorMessage)) {
	for {
		select {
		case m := <-a.inbox:
			handle(m)
			continue
		default:
		}
		if a.sending.Load() == 0 {
			select {
			case m := <-a.inbox:
				handle(m)
				continue
			default:
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
}

func (a *ServiceActor) run(m actorMessage) {
	err := a.call(m.fn)
	a.processed.Add(1)
	if err != nil {
		a.failed.Add(1)
	}
	m.done <- err
}

// call runs fn and converts a panic into a render error so the thread survives.
func (a *ServiceActor) call(fn func(ActorLibrary) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a.panics.Add(1)
			logger.Error("service actor recovered from panic", "panic", r)
			err = newError(KindRender, "actor message", "", -1, fmt.Errorf("panic: %v", r))
		}
	}()
	return fn(a.lib)
}

func (a *ServiceActor) setState(s ActorState) {
	a.mu.Lock()
	a.state.Store(int32(s))
	a.mu.Unlock()
}

// Submit runs fn on the actor thread and waits for it. Waiting is bounded by
// ctx; when ctx ends first the caller gets a KindResourceExhausted error and
// the message, if already queued, still runs with its result discarded.
func (a *ServiceActor) Submit(ctx context.Context, fn func(ActorLibrary) error) error {
	const op = "actor dispatch"
	m := actorMessage{fn: fn, done: make(chan error, 1)}

	a.mu.Lock()
	switch a.State() {
	case ActorDraining, ActorStopped:
		a.mu.Unlock()
		if a.initErr != nil && KindOf(a.initErr) == KindFatalInit {
			return a.initErr
		}
		return newError(KindStopped, op, "", -1, fmt.Errorf("service actor is %s", a.State()))
	}
	a.sending.Add(1)
	a.mu.Unlock()

	select {
	case a.inbox <- m:
		a.sending.Add(-1)
	case <-ctx.Done():
		a.sending.Add(-1)
		return newError(KindResourceExhausted, op, "", -1, fmt.Errorf("actor queue full: %w", ctx.Err()))
	}

	select {
	case err := <-m.done:
		return err
	case <-ctx.Done():
		return newError(KindResourceExhausted, op, "", -1, fmt.Errorf("waiting for actor: %w", ctx.Err()))
	}
}

// Shutdown stops accepting messages, lets the actor finish everything it has
// accepted, then tears the library down exactly once. It waits for the
// teardown until ctx ends; the actor keeps draining in the background if the
// wait is abandoned.
func (a *ServiceActor) Shutdown(ctx context.Context) error {
	a.drainOnce.Do(func() {
		a.mu.Lock()
		started := a.started
		if a.State() != ActorStopped {
			a.state.Store(int32(ActorDraining))
		}
		a.mu.Unlock()

		if !started {
			// Never initialized, so there is nothing to tear down.
			a.startOnce.Do(func() {
				a.initErr = newError(KindStopped, "actor start", "", -1, fmt.Errorf("actor shut down before start"))
				close(a.ready)
			})
			a.drainQueue(func(m actorMessage) {
				m.done <- newError(KindStopped, "actor dispatch", "", -1, fmt.Errorf("service actor shut down before start"))
			})
			a.setState(ActorStopped)
			close(a.done)
			return
		}
		logger.Debug("Service actor draining", true)
		close(a.drain)
	})

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return newError(KindResourceExhausted, "actor shutdown", "", -1, ctx.Err())
	}
}

// Stats returns the actor's state and message counters.
func (a *ServiceActor) Stats() ActorStats {
	return ActorStats{
		State:     a.State().String(),
		Queued:    len(a.inbox),
		Processed: a.processed.Load(),
		Failed:    a.failed.Load(),
		Panics:    a.panics.Load(),
	}
}
