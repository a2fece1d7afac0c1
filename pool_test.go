// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package docengine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewContextPool_Invalid(t *testing.T) {
	lib := newFakeLib()
	_, err := NewContextPool(0, 1, lib.contexts(0))
	assert.Error(t, err)
	_, err = NewContextPool(1, 1, nil)
	assert.Error(t, err)
}

func TestContextPool_CreatesLazilyAndReuses(t *testing.T) {
	lib := newFakeLib()
	pool, err := NewContextPool(3, 2, lib.contexts(0))
	require.NoError(t, err)
	defer pool.Close()

	assert.Equal(t, PoolStats{Capacity: 3}, pool.Stats())

	pc, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(pc)

	again, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, pc, again)
	pool.Release(again)

	assert.Equal(t, int64(1), lib.ctxCreated.Load())
	assert.Equal(t, 1, pool.Stats().Created)
}

func TestContextPool_ReusesMostRecentlyReleased(t *testing.T) {
	lib := newFakeLib()
	pool, err := NewContextPool(2, 1, lib.contexts(0))
	require.NoError(t, err)
	defer pool.Close()

	a, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	b, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NotSame(t, a, b)

	pool.Release(a)
	pool.Release(b)

	got, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, b, got)
	pool.Release(got)
}

func TestContextPool_BoundedAndTimesOut(t *testing.T) {
	lib := newFakeLib()
	pool, err := NewContextPool(2, 1, lib.contexts(0))
	require.NoError(t, err)
	defer pool.Close()

	a, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	b, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrResourceExhausted))
	assert.True(t, IsRetryable(err))

	st := pool.Stats()
	assert.Equal(t, 2, st.Created)
	assert.Equal(t, 2, st.InUse)
	assert.Equal(t, 0, st.Waiters)

	pool.Release(a)
	pool.Release(b)
	assert.Equal(t, 0, pool.Stats().InUse)
}

func TestContextPool_NeverExceedsCapacity(t *testing.T) {
	lib := newFakeLib()
	pool, err := NewContextPool(3, 1, lib.contexts(0))
	require.NoError(t, err)
	defer pool.Close()

	var (
		inUse   atomic.Int64
		maxSeen atomic.Int64
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pc, err := pool.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			n := inUse.Add(1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inUse.Add(-1)
			pool.Release(pc)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen.Load(), int64(3))
	assert.LessOrEqual(t, lib.ctxCreated.Load(), int64(3))
}

func TestContextPool_WaiterGetsReleasedContext(t *testing.T) {
	lib := newFakeLib()
	pool, err := NewContextPool(1, 1, lib.contexts(0))
	require.NoError(t, err)
	defer pool.Close()

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	got := make(chan *PooledContext, 1)
	go func() {
		pc, err := pool.Acquire(context.Background())
		if assert.NoError(t, err) {
			got <- pc
		}
	}()
	require.Eventually(t, func() bool { return pool.Stats().Waiters == 1 }, time.Second, time.Millisecond)

	pool.Release(held)
	select {
	case pc := <-got:
		assert.Same(t, held, pc)
		pool.Release(pc)
	case <-time.After(time.Second):
		t.Fatal("waiter never received a context")
	}
}

func TestContextPool_FactoryFailure(t *testing.T) {
	lib := newFakeLib()
	pool, err := NewContextPool(1, 1, lib.contexts(1))
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindRender, KindOf(err))
	assert.Equal(t, 0, pool.Stats().Created)

	// The failed attempt must not leak its slot.
	pc, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(pc)
	assert.Equal(t, 1, pool.Stats().Created)
}

func TestContextPool_ReleaseTwiceIsNoop(t *testing.T) {
	lib := newFakeLib()
	pool, err := NewContextPool(1, 1, lib.contexts(0))
	require.NoError(t, err)
	defer pool.Close()

	pc, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(pc)
	pool.Release(pc)
	pool.Release(nil)

	a, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	assert.True(t, errors.Is(err, ErrResourceExhausted), "double release must not add capacity")
	pool.Release(a)
}

func TestContextPool_DocumentsStayInTheirContext(t *testing.T) {
	lib := newFakeLib()
	pool, err := NewContextPool(1, 2, lib.contexts(0))
	require.NoError(t, err)
	defer pool.Close()

	id := Identity{ID: "doc", Format: FormatEPUB}
	slot := docSlot{id: "doc", generation: 1}
	data := fakeData("one", "two")

	pc, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	d1, err := pc.document(id, slot, data)
	require.NoError(t, err)
	d2, err := pc.document(id, slot, data)
	require.NoError(t, err)
	assert.Same(t, d1, d2)
	assert.Equal(t, int64(1), lib.opens.Load())

	// A newer generation of the same id gets its own native document.
	_, err = pc.document(id, docSlot{id: "doc", generation: 2}, data)
	require.NoError(t, err)
	assert.Equal(t, int64(2), lib.opens.Load())

	// A third document evicts the least recently used one.
	_, err = pc.document(Identity{ID: "other"}, docSlot{id: "other", generation: 1}, data)
	require.NoError(t, err)
	assert.Equal(t, int64(1), lib.docCloses.Load())
	pool.Release(pc)
}

func TestContextPool_ForgetClosesAtNextCheckout(t *testing.T) {
	lib := newFakeLib()
	pool, err := NewContextPool(1, 4, lib.contexts(0))
	require.NoError(t, err)
	defer pool.Close()

	slot := docSlot{id: "doc", generation: 1}
	pc, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	_, err = pc.document(Identity{ID: "doc"}, slot, fakeData("x"))
	require.NoError(t, err)
	pool.Release(pc)

	pool.forget(slot)
	assert.Equal(t, int64(0), lib.docCloses.Load())

	pc, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), lib.docCloses.Load())
	pool.Release(pc)
}

func TestContextPool_Close(t *testing.T) {
	lib := newFakeLib()
	pool, err := NewContextPool(2, 1, lib.contexts(0))
	require.NoError(t, err)

	idle, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	busy, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pool.Release(idle)

	pool.Close()
	assert.Equal(t, int64(1), lib.ctxClosed.Load())

	_, err = pool.Acquire(context.Background())
	assert.True(t, errors.Is(err, ErrServiceStopped))

	pool.Release(busy)
	assert.Equal(t, int64(2), lib.ctxClosed.Load())

	pool.Close()
	assert.Equal(t, int64(2), lib.ctxClosed.Load())
}
