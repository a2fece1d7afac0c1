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

func startActor(t *testing.T, lib *fakeLib, queue int) *ServiceActor {
	t.Helper()
	a := NewServiceActor(lib, queue)
	require.NoError(t, a.Start())
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestServiceActor_InitOnce(t *testing.T) {
	lib := newFakeLib()
	a := startActor(t, lib, 4)
	require.NoError(t, a.Start())

	assert.Equal(t, ActorReady, a.State())
	assert.Equal(t, int64(1), lib.inits.Load())

	require.NoError(t, a.Shutdown(context.Background()))
	require.NoError(t, a.Shutdown(context.Background()))
	assert.Equal(t, ActorStopped, a.State())
	assert.Equal(t, int64(1), lib.closes.Load())
}

func TestServiceActor_SerializesCalls(t *testing.T) {
	a := startActor(t, newFakeLib(), 8)

	var (
		running atomic.Int64
		maxSeen atomic.Int64
		wg      sync.WaitGroup
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := a.Submit(context.Background(), func(ActorLibrary) error {
				n := running.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				time.Sleep(100 * time.Microsecond)
				running.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), maxSeen.Load())
	assert.Equal(t, uint64(32), a.Stats().Processed)
}

func TestServiceActor_QueuedBeforeReady(t *testing.T) {
	lib := newFakeLib()
	lib.initBlock = make(chan struct{})
	a := NewServiceActor(lib, 4)
	defer a.Shutdown(context.Background())

	var sawInit atomic.Bool
	result := make(chan error, 1)
	go func() {
		result <- a.Submit(context.Background(), func(ActorLibrary) error {
			sawInit.Store(lib.inits.Load() == 1)
			return nil
		})
	}()
	require.Eventually(t, func() bool { return a.Stats().Queued == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, ActorStarting, a.State())

	started := make(chan error, 1)
	go func() { started <- a.Start() }()
	close(lib.initBlock)

	require.NoError(t, <-started)
	require.NoError(t, <-result)
	assert.True(t, sawInit.Load(), "message ran before the library was initialized")
}

func TestServiceActor_InitFailureIsFatal(t *testing.T) {
	lib := newFakeLib()
	lib.initErr = errors.New("no license")
	a := NewServiceActor(lib, 4)

	err := a.Start()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFatalInit))
	assert.Equal(t, ActorStopped, a.State())

	err = a.Submit(context.Background(), func(ActorLibrary) error { return nil })
	assert.True(t, errors.Is(err, ErrFatalInit))
	assert.False(t, IsRetryable(err))

	require.NoError(t, a.Shutdown(context.Background()))
	assert.Equal(t, int64(0), lib.closes.Load())
}

func TestServiceActor_InitPanicIsFatal(t *testing.T) {
	lib := newFakeLib()
	lib.initPanic = true
	a := NewServiceActor(lib, 1)

	err := a.Start()
	require.Error(t, err)
	assert.Equal(t, KindFatalInit, KindOf(err))
	assert.Contains(t, err.Error(), "init exploded")
}

func TestServiceActor_SurvivesPanic(t *testing.T) {
	a := startActor(t, newFakeLib(), 4)

	err := a.Submit(context.Background(), func(ActorLibrary) error { panic("boom") })
	require.Error(t, err)
	assert.Equal(t, KindRender, KindOf(err))

	ran := false
	require.NoError(t, a.Submit(context.Background(), func(ActorLibrary) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)

	st := a.Stats()
	assert.Equal(t, uint64(1), st.Panics)
	assert.Equal(t, uint64(1), st.Failed)
	assert.Equal(t, uint64(2), st.Processed)
	assert.Equal(t, "ready", st.State)
}

func TestServiceActor_SubmitTimeout(t *testing.T) {
	a := startActor(t, newFakeLib(), 4)

	release := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := a.Submit(ctx, func(ActorLibrary) error {
		<-release
		return nil
	})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	close(release)

	// The abandoned message still ran; the actor is healthy.
	require.NoError(t, a.Submit(context.Background(), func(ActorLibrary) error { return nil }))
}

func TestServiceActor_ShutdownDrainsAcceptedWork(t *testing.T) {
	lib := newFakeLib()
	a := NewServiceActor(lib, 8)
	require.NoError(t, a.Start())

	block := make(chan struct{})
	running := make(chan struct{})
	var ran atomic.Int64
	results := &collector[error]{}
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		results.add(a.Submit(context.Background(), func(ActorLibrary) error {
			close(running)
			<-block
			ran.Add(1)
			return nil
		}))
	}()
	<-running

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results.add(a.Submit(context.Background(), func(ActorLibrary) error {
				ran.Add(1)
				return nil
			}))
		}()
	}
	require.Eventually(t, func() bool { return a.Stats().Queued == 5 }, time.Second, time.Millisecond)

	shutdown := make(chan error, 1)
	go func() { shutdown <- a.Shutdown(context.Background()) }()
	require.Eventually(t, func() bool { return a.State() == ActorDraining }, time.Second, time.Millisecond)

	err := a.Submit(context.Background(), func(ActorLibrary) error { return nil })
	assert.True(t, errors.Is(err, ErrServiceStopped))

	close(block)
	require.NoError(t, <-shutdown)
	wg.Wait()

	assert.Equal(t, int64(6), ran.Load())
	for _, err := range results.values() {
		assert.NoError(t, err)
	}
	assert.Equal(t, ActorStopped, a.State())
	assert.Equal(t, int64(1), lib.closes.Load())
}

func TestServiceActor_ShutdownBeforeStart(t *testing.T) {
	lib := newFakeLib()
	a := NewServiceActor(lib, 2)
	require.NoError(t, a.Shutdown(context.Background()))

	assert.Equal(t, ActorStopped, a.State())
	assert.True(t, errors.Is(a.Start(), ErrServiceStopped))
	assert.True(t, errors.Is(a.Submit(context.Background(), func(ActorLibrary) error { return nil }), ErrServiceStopped))
	assert.Equal(t, int64(0), lib.inits.Load())
	assert.Equal(t, int64(0), lib.closes.Load())
}

func TestServiceActor_TeardownRunsBeforeLibraryClose(t *testing.T) {
	lib := newFakeLib()
	a := NewServiceActor(lib, 4)
	var closesSeen atomic.Int64
	closesSeen.Store(-1)
	a.onTeardown(func(ActorLibrary) { closesSeen.Store(lib.closes.Load()) })
	a.onTeardown(func(ActorLibrary) { panic("teardown hook crashed") })
	require.NoError(t, a.Start())

	require.NoError(t, a.Shutdown(context.Background()))
	assert.Equal(t, int64(0), closesSeen.Load())
	assert.Equal(t, int64(1), lib.closes.Load(), "a failing hook does not skip teardown")
	assert.Equal(t, ActorStopped, a.State())
}
