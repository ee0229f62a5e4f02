package heap

import (
	"context"
	"testing"

	"github.com/reglet-dev/rootscope/domain/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_UnrootedCollectedRootedSurvives(t *testing.T) {
	ctx := context.Background()
	rt, s := newLive(t)

	keepFrame, err := s.Push(1)
	require.NoError(t, err)
	kept, err := rt.Box(ctx, "kept")
	require.NoError(t, err)
	_, err = keepFrame.Root(kept)
	require.NoError(t, err)

	temp, err := s.Push(0)
	require.NoError(t, err)
	dropped, err := rt.Box(ctx, "dropped")
	require.NoError(t, err)
	_, err = temp.Root(dropped)
	require.NoError(t, err)
	require.NoError(t, temp.Pop())

	// first cycle only ages the fresh allocation
	rt.Safepoint(ctx)
	assert.True(t, rt.Contains(dropped))

	rt.Safepoint(ctx)
	assert.False(t, rt.Contains(dropped))
	assert.True(t, rt.Contains(kept))

	var v string
	require.NoError(t, rt.Unbox(ctx, kept, &v))
	assert.Equal(t, "kept", v)

	st := rt.Stats()
	assert.Equal(t, uint64(2), st.Collections)
	assert.GreaterOrEqual(t, st.Freed, uint64(1))
}

func TestCollector_AllocationTriggers(t *testing.T) {
	ctx := context.Background()
	rt, _ := newLive(t, WithThreshold(4))

	var handles []entities.Handle
	for i := 0; i < 12; i++ {
		h, err := rt.Box(ctx, int64(i))
		require.NoError(t, err)
		handles = append(handles, h)
	}

	st := rt.Stats()
	assert.GreaterOrEqual(t, st.Collections, uint64(2))
	assert.False(t, rt.Contains(handles[0]), "unrooted early allocations were swept")
	assert.True(t, rt.Contains(handles[len(handles)-1]), "newest allocation is still young")
}

func TestCollector_ThresholdZeroDisablesAutomatic(t *testing.T) {
	ctx := context.Background()
	rt, _ := newLive(t, WithThreshold(0))

	for i := 0; i < 50; i++ {
		_, err := rt.Box(ctx, int64(i))
		require.NoError(t, err)
	}
	assert.Zero(t, rt.Stats().Collections)
}

func TestCollector_SafepointFromWorker(t *testing.T) {
	ctx := context.Background()
	rt, s := newLive(t)

	f, err := s.Push(0)
	require.NoError(t, err)
	h, err := rt.Box(ctx, uint32(7))
	require.NoError(t, err)
	_, err = f.Root(h)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		rt.Safepoint(ctx)
		rt.Safepoint(ctx)
		close(done)
	}()
	<-done

	assert.True(t, rt.Contains(h))
}

func TestCollector_WorkerSafepointsDoNotAge(t *testing.T) {
	ctx := context.Background()
	rt, _ := newLive(t)

	// boxed by the owner but not rooted yet
	fresh, err := rt.Box(ctx, "fresh")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 4; i++ {
			rt.Safepoint(ctx)
		}
	}()
	<-done
	assert.True(t, rt.Contains(fresh), "worker cycles must not free an allocation the owner has yet to root")
	assert.Equal(t, uint64(4), rt.Stats().Collections)

	rt.Safepoint(ctx)
	assert.True(t, rt.Contains(fresh))
	rt.Safepoint(ctx)
	assert.False(t, rt.Contains(fresh))
}
