// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package docengine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocGate_FIFO(t *testing.T) {
	var g docGate
	require.NoError(t, g.Lock(context.Background()))

	order := &collector[int]{}
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if !assert.NoError(t, g.Lock(context.Background())) {
				return
			}
			order.add(i)
			g.Unlock()
		}(i)
		// Queue the waiters one at a time so arrival order is known.
		require.Eventually(t, func() bool { return g.queued() == i+1 }, time.Second, time.Millisecond)
	}

	g.Unlock()
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order.values())
}

func TestDocGate_WaiterGivesUp(t *testing.T) {
	var g docGate
	require.NoError(t, g.Lock(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := g.Lock(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 0, g.queued())

	g.Unlock()
	// The gate is free again, not handed to the departed waiter.
	require.NoError(t, g.Lock(context.Background()))
	g.Unlock()
}

func TestSafeDocument_SerializesOperations(t *testing.T) {
	lib := newFakeLib()
	pool, err := NewContextPool(4, 2, lib.contexts(0))
	require.NoError(t, err)
	defer pool.Close()

	d := &SafeDocument{
		identity: Identity{ID: "doc", Format: FormatEPUB},
		slot:     docSlot{id: "doc", generation: 1},
		data:     fakeData("a", "b"),
		backend:  &pooledBackend{pool: pool},
	}

	var (
		mu      sync.Mutex
		running int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := d.With(context.Background(), func(Document) error {
				mu.Lock()
				running++
				maxSeen = max(maxSeen, running)
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestSafeDocument_PanicBecomesRenderError(t *testing.T) {
	lib := newFakeLib()
	pool, err := NewContextPool(1, 1, lib.contexts(0))
	require.NoError(t, err)
	defer pool.Close()

	d := &SafeDocument{
		identity: Identity{ID: "doc"},
		slot:     docSlot{id: "doc", generation: 1},
		data:     fakeData("a"),
		backend:  &pooledBackend{pool: pool},
	}
	err = d.With(context.Background(), func(Document) error { panic("segfault") })
	require.Error(t, err)
	assert.Equal(t, KindRender, KindOf(err))

	// The context went back to the pool.
	assert.Equal(t, 0, pool.Stats().InUse)
	v, err := withDocument(context.Background(), d, func(doc Document) (int, error) { return doc.ItemCount(), nil })
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestSafeDocument_Closed(t *testing.T) {
	d := &SafeDocument{identity: Identity{ID: "doc"}}
	d.closed.Store(true)
	err := d.With(context.Background(), func(Document) error { return nil })
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSafeDocument_OpenFailureIsParseError(t *testing.T) {
	lib := newFakeLib()
	pool, err := NewContextPool(1, 1, lib.contexts(0))
	require.NoError(t, err)
	defer pool.Close()

	d := &SafeDocument{
		identity: Identity{ID: "doc"},
		slot:     docSlot{id: "doc", generation: 1},
		data:     []byte("garbage"),
		backend:  &pooledBackend{pool: pool},
	}
	err = d.With(context.Background(), func(Document) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParse))
}
